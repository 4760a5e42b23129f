package handlers

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	"github.com/scenehub/corehub/internal/http/response"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

const cleanupAgeHours = 24

// RobloxStatus handles GET /api/roblox-status/:uid, polling an asset
// pipeline job by its target uid (the job Manager tracks jobs by job_id,
// so this scans by target_uid -- an asset pipeline job submits with the
// obj/fbx uid as its TargetUID specifically so callers can poll by the
// asset they asked for).
func RobloxStatus(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetUID := c.Param("uid")
		job, ok := findJobByTarget(d, targetUID)
		if !ok {
			response.RespondError(c, apierr.New(apierr.CodeJobNotFound, "no job found for uid: "+targetUID, nil))
			return
		}

		body := gin.H{
			"uid":             targetUID,
			"status":          job.Status,
			"progress":        job.Progress,
			"elapsed_seconds": time.Since(job.CreatedAt).Seconds(),
		}
		if job.Result != nil {
			body["result"] = job.Result
		}
		if job.Error != nil {
			body["error"] = job.Error.Message
		}
		response.RespondOK(c, body)
	}
}

// RobloxCancel handles GET /api/roblox-cancel/:uid.
func RobloxCancel(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetUID := c.Param("uid")
		job, ok := findJobByTarget(d, targetUID)
		if !ok {
			response.RespondError(c, apierr.New(apierr.CodeJobNotFound, "no job found for uid: "+targetUID, nil))
			return
		}
		if err := d.Jobs.Cancel(job.ID); err != nil {
			response.RespondError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"success": true, "uid": targetUID, "status": "cancelled"})
	}
}

// RobloxFile handles GET /api/roblox-file/:uid/:kind, streaming the OBJ
// source mesh or the converted FBX asset a pipeline job produced. kind
// selects which file (obj or fbx) to serve. For kind obj, uid may name the
// OBJ record or an FBX record, whose parent_uid is then followed to its
// source OBJ; for kind fbx, uid must name the FBX record itself.
func RobloxFile(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		uidParam := c.Param("uid")
		kind := strings.ToLower(c.Param("kind"))

		rec, err := d.Registry.Get(uidParam)
		if err != nil {
			response.RespondError(c, err)
			return
		}

		switch kind {
		case "fbx":
			if !strings.HasSuffix(rec.Filename, ".fbx") {
				response.RespondError(c, apierr.New(apierr.CodeAssetNotFound, "uid "+uidParam+" is not an fbx asset", nil))
				return
			}
		case "obj":
			if !strings.HasSuffix(rec.Filename, ".obj") {
				if rec.ParentUID == "" {
					response.RespondError(c, apierr.New(apierr.CodeAssetNotFound, "uid "+uidParam+" has no source obj", nil))
					return
				}
				rec, err = d.Registry.Get(rec.ParentUID)
				if err != nil {
					response.RespondError(c, err)
					return
				}
			}
		default:
			response.RespondError(c, apierr.New(apierr.CodeValidationFailed, "kind must be obj or fbx", nil))
			return
		}

		serveFile(c, filepath.Join(d.Paths.Object3DDir(rec.UID), rec.Filename))
	}
}

// RobloxCleanup handles GET /api/roblox-cleanup.
func RobloxCleanup(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := d.Jobs.CleanupOlderThan(cleanupAgeHours * time.Hour)
		response.RespondOK(c, gin.H{
			"success":          true,
			"message":          "cleaned up terminated jobs",
			"cleanup_age_hours": cleanupAgeHours,
			"removed":          n,
		})
	}
}

func findJobByTarget(d *Deps, targetUID string) (jobmanager.Job, bool) {
	var best jobmanager.Job
	found := false
	for _, j := range d.Jobs.List() {
		if j.TargetUID != targetUID {
			continue
		}
		if !found || j.CreatedAt.After(best.CreatedAt) {
			best, found = j, true
		}
	}
	return best, found
}

package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/scenehub/corehub/internal/corehub/refstore"
	"github.com/scenehub/corehub/internal/http/response"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

const maxConcurrentReferenceUploads = 4

type referenceUpload struct {
	DataBase64 string `json:"data_base64"`
	MimeType   string `json:"mime_type"`
	Purpose    string `json:"purpose"`
}

type uploadReferencesRequest struct {
	References []referenceUpload `json:"references"`
}

// UploadReferences handles POST /api/sessions/:id/references: it decodes and
// stores every supplied reference image, bounding concurrency so a large
// batch cannot stampede disk writes.
func UploadReferences(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		var req uploadReferencesRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.References) == 0 {
			response.RespondError(c, apierr.New(apierr.CodeValidationFailed, "references must be a non-empty array", err))
			return
		}
		if _, err := d.Sessions.Get(c.Request.Context(), sessionID); err != nil {
			response.RespondError(c, err)
			return
		}

		referUIDs := make([]string, len(req.References))
		g, gctx := errgroup.WithContext(c.Request.Context())
		g.SetLimit(maxConcurrentReferenceUploads)
		for i, ref := range req.References {
			i, ref := i, ref
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				data, err := base64.StdEncoding.DecodeString(ref.DataBase64)
				if err != nil {
					return apierr.New(apierr.CodeInvalidUserInput, "reference image data is not valid base64", err)
				}
				purpose := refstore.Purpose(ref.Purpose)
				if purpose == "" {
					purpose = refstore.PurposeStyle
				}
				referUID, err := d.Refs.Store(sessionID, data, purpose, ref.MimeType)
				if err != nil {
					return err
				}
				referUIDs[i] = referUID
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			response.RespondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "session_id": sessionID, "refer_uids": referUIDs})
	}
}

// ListReferences handles GET /api/sessions/:id/references.
func ListReferences(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		records, err := d.Refs.List(sessionID)
		if err != nil {
			response.RespondError(c, err)
			return
		}
		response.RespondOK(c, gin.H{"session_id": sessionID, "references": records})
	}
}

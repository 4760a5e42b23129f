// Package pipeline implements the Asset Pipeline Orchestrator: the
// multi-stage Roblox avatar download -> FBX transcode -> editor import
// flow, composed from the UID allocator, Resource Registry, Path Resolver,
// external transcoder, and editor bridge.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scenehub/corehub/internal/platform/apierr"
)

// robloxClient is the narrow HTTP surface onto the Roblox web API this
// pipeline needs: user resolution, 3D avatar metadata, and blob downloads.
type robloxClient struct {
	httpClient         *http.Client
	metadataMaxAttempt int
}

func newRobloxClient(metadataMaxAttempts int) *robloxClient {
	if metadataMaxAttempts <= 0 {
		metadataMaxAttempts = 10
	}
	return &robloxClient{
		httpClient:         &http.Client{Timeout: 30 * time.Second},
		metadataMaxAttempt: metadataMaxAttempts,
	}
}

const robloxUserAgent = "Mozilla/5.0 (compatible; corehub-asset-pipeline/1.0)"

func (r *robloxClient) doJSON(ctx context.Context, method, rawURL string, body any, out any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", robloxUserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp, fmt.Errorf("decode roblox response: %w", err)
		}
	}
	return resp, nil
}

type robloxUserInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Created     string `json:"created"`
}

// resolveUser accepts either a numeric user ID or a username and returns the
// canonical user info, failing with user_not_found if a username does not
// resolve.
func (r *robloxClient) resolveUser(ctx context.Context, userInput string) (robloxUserInfo, error) {
	s := strings.TrimSpace(userInput)
	if s == "" {
		return robloxUserInfo{}, apierr.New(apierr.CodeInvalidUserInput, "user_input is required", nil)
	}

	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		var info robloxUserInfo
		resp, err := r.doJSON(ctx, http.MethodGet, fmt.Sprintf("https://users.roblox.com/v1/users/%d", id), nil, &info)
		if err != nil {
			return robloxUserInfo{}, apierr.New(apierr.CodeUserNotFound, "fetch roblox user "+s, err)
		}
		if resp.StatusCode == http.StatusNotFound {
			return robloxUserInfo{}, apierr.New(apierr.CodeUserNotFound, "roblox user id not found: "+s, nil)
		}
		return info, nil
	}

	var lookup struct {
		Data []robloxUserInfo `json:"data"`
	}
	payload := map[string]any{"usernames": []string{s}}
	if _, err := r.doJSON(ctx, http.MethodPost, "https://users.roblox.com/v1/usernames/users", payload, &lookup); err != nil {
		return robloxUserInfo{}, apierr.New(apierr.CodeUserNotFound, "resolve roblox username "+s, err)
	}
	if len(lookup.Data) == 0 {
		return robloxUserInfo{}, apierr.New(apierr.CodeUserNotFound, "roblox username not found: "+s, nil)
	}
	return lookup.Data[0], nil
}

type avatar3DMetadata struct {
	ImageURL string         `json:"imageUrl"`
	Camera   map[string]any `json:"camera"`
	AABB     map[string]any `json:"aabb"`
	Obj      string         `json:"obj"`
	Mtl      string         `json:"mtl"`
	Textures map[string]any `json:"textures"`
}

type avatar3DStatus struct {
	State    string `json:"state"`
	ImageURL string `json:"imageUrl"`
}

// fetchAvatar3DMetadata polls the avatar-3d endpoint with bounded attempts
// and per-attempt backoff on rate-limit signals, following the existing
// source's polling contract.
func (r *robloxClient) fetchAvatar3DMetadata(ctx context.Context, userID int64, pollInterval time.Duration) (avatar3DMetadata, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	u := fmt.Sprintf("https://thumbnails.roblox.com/v1/users/avatar-3d?userId=%d", userID)

	for attempt := 1; attempt <= r.metadataMaxAttempt; attempt++ {
		if ctx.Err() != nil {
			return avatar3DMetadata{}, apierr.New(apierr.CodeJobCancelled, "metadata poll cancelled", ctx.Err())
		}

		var status avatar3DStatus
		resp, err := r.doJSON(ctx, http.MethodGet, u, nil, &status)
		if err != nil {
			return avatar3DMetadata{}, apierr.New(apierr.CodeAvatar3DUnavailable, "fetch avatar 3d metadata", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			backoff := pollInterval
			if scaled := pollInterval * time.Duration(attempt); scaled < 5*time.Second {
				backoff = scaled
			} else {
				backoff = 5 * time.Second
			}
			if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
				return avatar3DMetadata{}, sleepErr
			}
			continue
		}

		switch status.State {
		case "Completed":
			if status.ImageURL == "" {
				return avatar3DMetadata{}, apierr.New(apierr.CodeAvatar3DUnavailable, "avatar 3d metadata missing imageUrl", nil)
			}
			var meta avatar3DMetadata
			if _, err := r.doJSON(ctx, http.MethodGet, status.ImageURL, nil, &meta); err != nil {
				return avatar3DMetadata{}, apierr.New(apierr.CodeAvatar3DUnavailable, "fetch avatar 3d metadata document", err)
			}
			return meta, nil
		case "Pending", "InProgress", "":
			if attempt == r.metadataMaxAttempt {
				return avatar3DMetadata{}, apierr.New(apierr.CodeAvatar3DUnavailable, "avatar 3d metadata not ready after max attempts", nil)
			}
			if sleepErr := sleepCtx(ctx, pollInterval); sleepErr != nil {
				return avatar3DMetadata{}, sleepErr
			}
		default:
			return avatar3DMetadata{}, apierr.New(apierr.CodeAvatar3DUnavailable, "avatar 3d metadata in terminal state: "+status.State, nil)
		}
	}
	return avatar3DMetadata{}, apierr.New(apierr.CodeAvatar3DUnavailable, "avatar 3d metadata polling exhausted", nil)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return apierr.New(apierr.CodeJobCancelled, "cancelled during poll backoff", ctx.Err())
	case <-t.C:
		return nil
	}
}

// cdnHosts derives the small set of candidate CDN hosts for a content hash
// using the same XOR-based host selector heuristic as the existing source,
// trying neighboring hosts as a fallback since the exact algorithm is a
// best-effort reconstruction rather than a documented contract.
func cdnHosts(hash string) []int {
	i := 31
	limit := len(hash)
	if limit > 38 {
		limit = 38
	}
	for t := 0; t < limit; t++ {
		i ^= int(hash[t])
	}
	primary := i % 8
	hosts := []int{primary}
	for d := 1; d < 8; d++ {
		hosts = append(hosts, (primary+d)%8)
	}
	return hosts
}

func cdnURL(host int, hash string) string {
	return fmt.Sprintf("https://t%d.rbxcdn.com/%s", host, hash)
}

// downloadHash fetches a content-hash blob, trying each candidate CDN host
// in order and falling through on 4xx/5xx, per-attempt timeout bounded by
// ctx.
func (r *robloxClient) downloadHash(ctx context.Context, hash string) ([]byte, error) {
	var lastErr error
	for _, host := range cdnHosts(hash) {
		u := cdnURL(host, hash)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", robloxUserAgent)
		resp, err := r.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("cdn host t%d returned %d", host, resp.StatusCode)
			continue
		}
		return raw, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no cdn host candidates for hash")
	}
	return nil, lastErr
}

// fetchAvatarConfigType queries the avatar_config endpoint for
// playerAvatarType, the highest-confidence signal for R6 vs R15
// classification. Any failure (network, missing field) yields an empty
// string so the caller falls back to the OBJ-structure heuristic.
func (r *robloxClient) fetchAvatarConfigType(ctx context.Context, userID int64) (string, error) {
	var cfg struct {
		PlayerAvatarType string `json:"playerAvatarType"`
	}
	u := fmt.Sprintf("https://avatar.roblox.com/v1/users/%d/avatar", userID)
	if _, err := r.doJSON(ctx, http.MethodGet, u, nil, &cfg); err != nil {
		return "", err
	}
	return strings.TrimSpace(cfg.PlayerAvatarType), nil
}

// validHash performs a narrow sanity check before a hash is used to build a
// URL, so an unexpected metadata shape fails fast instead of producing a
// malformed request.
func validHash(hash string) bool {
	if hash == "" {
		return false
	}
	if _, err := url.Parse(hash); err != nil {
		return false
	}
	return true
}

// Package response gives every handler one consistent JSON envelope for
// success and error replies, so the HTTP layer is the single place in the
// module that translates an *apierr.Error into a status code.
package response

import (
	"github.com/gin-gonic/gin"

	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/ctxutil"
)

// APIError is the error body embedded in ErrorEnvelope.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ErrorEnvelope is the JSON shape of every non-2xx response.
type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	TraceID   string   `json:"trace_id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// RespondOK writes payload as a 200 JSON body.
func RespondOK(c *gin.Context, payload any) {
	c.JSON(200, payload)
}

// RespondCreated writes payload as a 201 JSON body.
func RespondCreated(c *gin.Context, payload any) {
	c.JSON(201, payload)
}

// RespondError renders err as ErrorEnvelope at the status apierr derives
// for it. A plain (non-*apierr.Error) err is treated as an unclassified
// internal error.
func RespondError(c *gin.Context, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.CodeCommandFailed, errMessage(err), err)
	}
	traceID, requestID := c.GetString("trace_id"), c.GetString("request_id")
	if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
		traceID, requestID = td.TraceID, td.RequestID
	}
	c.JSON(apiErr.Status(), ErrorEnvelope{
		Error: APIError{
			Message: apiErr.Message,
			Code:    string(apiErr.Code),
		},
		TraceID:   traceID,
		RequestID: requestID,
	})
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

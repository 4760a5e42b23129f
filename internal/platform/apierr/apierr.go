// Package apierr defines the single error shape every corehub component
// returns. Components never hand back a bare string code or a naked error;
// they wrap it here so the HTTP layer is the only place that needs to know
// about status codes.
package apierr

import (
	"fmt"
	"time"
)

// Category buckets a Code into a family with a common HTTP status.
type Category string

const (
	CategoryUserInput      Category = "USER_INPUT"
	CategoryNotFound       Category = "RESOURCE_NOT_FOUND"
	CategoryExternalAPI    Category = "EXTERNAL_API"
	CategoryRateLimited    Category = "RATE_LIMITED"
	CategoryPipeline       Category = "PIPELINE"
	CategoryInfrastructure Category = "INFRASTRUCTURE"
	CategoryControl        Category = "CONTROL"
	CategoryInternal       Category = "INTERNAL_SERVER"
)

// Code is the machine-readable discriminant. New codes belong in this list,
// not scattered across packages as string literals.
type Code string

const (
	CodeValidationFailed     Code = "validation_failed"
	CodeInvalidUIDFormat     Code = "invalid_uid_format"
	CodeInvalidUserInput     Code = "invalid_user_input"
	CodeInvalidVideoDuration Code = "invalid_video_duration"
	CodeImageSizeExceeded    Code = "image_size_exceeded"

	CodeUIDNotFound     Code = "uid_not_found"
	CodeSessionNotFound Code = "session_not_found"
	CodeAssetNotFound   Code = "asset_not_found"
	CodeJobNotFound     Code = "job_not_found"
	CodeVideoNotFound   Code = "video_not_found"

	CodeAPIUnavailable      Code = "api_unavailable"
	CodeVideoAPIUnavailable Code = "video_api_unavailable"
	CodeAPIRateLimited      Code = "api_rate_limited"
	CodeNetworkError        Code = "network_error"
	CodeTransformationFail  Code = "transformation_failed"
	CodeVideoGenerationFail Code = "video_generation_failed"
	CodeVideoGenerationTime Code = "VIDEO_GENERATION_TIMEOUT"

	CodeUserNotFound         Code = "user_not_found"
	CodeAvatar3DUnavailable  Code = "avatar_3d_unavailable"
	CodeAvatarProcessingFail Code = "AVATAR_PROCESSING_FAILED"
	CodeDownloadFailed       Code = "download_failed"
	CodeJobTimeout           Code = "JOB_TIMEOUT"

	CodeStorageError        Code = "storage_error"
	CodePermissionDenied    Code = "permission_denied"
	CodeUIDGenerationFailed Code = "uid_generation_failed"
	CodeCommandFailed       Code = "command_failed"
	CodeConnectionFailed    Code = "connection_failed"
	CodeCommandTimeout      Code = "command_timeout"

	CodeJobCancelled Code = "job_cancelled"
	CodeJobQueueFull Code = "job_queue_full"

	CodeUIDAlreadyRegistered Code = "uid_already_registered"
	CodeInvalidParent        Code = "invalid_parent"
)

var categoryByCode = map[Code]Category{
	CodeValidationFailed:     CategoryUserInput,
	CodeInvalidUIDFormat:     CategoryUserInput,
	CodeInvalidUserInput:     CategoryUserInput,
	CodeInvalidVideoDuration: CategoryUserInput,
	CodeImageSizeExceeded:    CategoryUserInput,

	CodeUIDNotFound:     CategoryNotFound,
	CodeSessionNotFound: CategoryNotFound,
	CodeAssetNotFound:   CategoryNotFound,
	CodeJobNotFound:     CategoryNotFound,
	CodeVideoNotFound:   CategoryNotFound,

	CodeAPIUnavailable:      CategoryExternalAPI,
	CodeVideoAPIUnavailable: CategoryExternalAPI,
	CodeNetworkError:        CategoryExternalAPI,
	CodeTransformationFail:  CategoryExternalAPI,
	CodeVideoGenerationFail: CategoryExternalAPI,
	CodeVideoGenerationTime: CategoryExternalAPI,
	CodeAPIRateLimited:      CategoryRateLimited,

	CodeUserNotFound:         CategoryPipeline,
	CodeAvatar3DUnavailable:  CategoryPipeline,
	CodeAvatarProcessingFail: CategoryPipeline,
	CodeDownloadFailed:       CategoryPipeline,
	CodeJobTimeout:           CategoryPipeline,

	CodeStorageError:        CategoryInfrastructure,
	CodePermissionDenied:    CategoryInfrastructure,
	CodeUIDGenerationFailed: CategoryInfrastructure,
	CodeCommandFailed:       CategoryInfrastructure,
	CodeConnectionFailed:    CategoryInfrastructure,
	CodeCommandTimeout:      CategoryInfrastructure,

	CodeJobCancelled: CategoryControl,
	CodeJobQueueFull: CategoryControl,

	CodeUIDAlreadyRegistered: CategoryUserInput,
	CodeInvalidParent:        CategoryUserInput,
}

var statusByCategory = map[Category]int{
	CategoryUserInput:      400,
	CategoryNotFound:       404,
	CategoryExternalAPI:    502,
	CategoryRateLimited:    429,
	CategoryPipeline:       422,
	CategoryInfrastructure: 500,
	CategoryControl:        409,
	CategoryInternal:       500,
}

// Error is the single error type every corehub component returns.
type Error struct {
	Code       Code
	Category   Category
	Message    string
	Suggestion string
	RetryAfter *time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return string(e.Code)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status a transport adapter should use.
func (e *Error) Status() int {
	if e == nil {
		return 200
	}
	if s, ok := statusByCategory[e.Category]; ok {
		return s
	}
	return 500
}

// New builds an Error, inferring Category from the known code table unless
// the code is unrecognized (then CategoryInternal is assumed).
func New(code Code, message string, err error) *Error {
	cat, ok := categoryByCode[code]
	if !ok {
		cat = CategoryInternal
	}
	return &Error{Code: code, Category: cat, Message: message, Err: err}
}

// Newf is New with fmt.Sprintf-style message formatting.
func Newf(code Code, err error, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), err)
}

// WithSuggestion attaches actionable guidance for the caller.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithRetryAfter attaches a retry hint, typically from a provider's
// Retry-After header.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = &d
	return e
}

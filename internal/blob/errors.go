package blob

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrUploadExpired  = errors.New("upload session expired")
	ErrAlreadyClaimed = errors.New("already claimed")
	ErrDuplicate      = errors.New("duplicate record")
)

// Upload validation error codes surfaced verbatim to clients.
const (
	CodeBlobTooLarge      = "blob_too_large"
	CodeQuotaExceeded     = "quota_exceeded"
	CodeInvalidChunkSize  = "invalid_chunk_size"
	CodeInvalidChunkIndex = "invalid_chunk_index"
	CodeIncompleteUpload  = "incomplete_upload"
	CodeSizeMismatch      = "size_mismatch"
	CodeHashMismatch      = "hash_mismatch"
)

// QuotaError is a structured quota rejection carrying which quota tripped
// plus the numbers a client needs to decide whether to wait or shrink.
type QuotaError struct {
	Quota     string `json:"quota"`
	Usage     int64  `json:"usage"`
	Limit     int64  `json:"limit"`
	Requested int64  `json:"requested"`
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota_exceeded: %s usage=%d requested=%d limit=%d", e.Quota, e.Usage, e.Requested, e.Limit)
}

// SizeError rejects a blob exceeding the per-blob size limit before any
// session is created.
type SizeError struct {
	Size  int64 `json:"size"`
	Limit int64 `json:"limit"`
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s: size=%d limit=%d", CodeBlobTooLarge, e.Size, e.Limit)
}

// UploadError covers chunk validation and completion integrity failures.
// Integrity failures always discard the partial upload state.
type UploadError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *UploadError) Error() string {
	return e.Code + ": " + e.Message
}

func uploadErrorf(code, format string, args ...interface{}) *UploadError {
	return &UploadError{Code: code, Message: fmt.Sprintf(format, args...)}
}

package security

import (
	"errors"
	"net/http"

	"github.com/noah-isme/printdesk/internal/common"
)

// CodePayloadTooLarge is returned for bodies above the configured limit.
const CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"

// BodyLimit enforces a maximum request payload size. Declared oversize bodies
// are rejected up front; otherwise the body is capped while it streams, so
// multipart uploads are never buffered whole.
type BodyLimit struct {
	Max int64
}

// Middleware rejects requests exceeding the configured limit with HTTP 413.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			WriteTooLarge(w)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}

// TooLarge reports whether err came from reading past the body limit.
func TooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// WriteTooLarge renders the canonical 413 error.
func WriteTooLarge(w http.ResponseWriter) {
	common.WriteError(w, common.NewAppError(CodePayloadTooLarge, "request entity too large", http.StatusRequestEntityTooLarge, nil))
}

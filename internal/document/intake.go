package document

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
	"github.com/noah-isme/printdesk/internal/obs"
)

// Upload is one file as received from the client.
type Upload struct {
	Name      string
	MediaType string
	Data      []byte
}

// Rejection explains why an upload was skipped.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Warning is a non-fatal notice about an accepted document.
type Warning struct {
	DocumentID string `json:"documentId"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Batch is the result of ingesting a set of uploads.
type Batch struct {
	Documents []Document  `json:"documents"`
	Rejected  []Rejection `json:"rejected,omitempty"`
	Warnings  []Warning   `json:"warnings,omitempty"`
}

// Intake filters and normalises uploads.
type Intake struct {
	Accepted []string
	Counter  PageCounter
	Now      func() time.Time
	NewID    func() string
}

// NewIntake builds an Intake accepting the given media types with the pdfcpu counter.
func NewIntake(accepted []string) Intake {
	return Intake{Accepted: accepted}
}

// Ingest processes files one at a time in the given order. Files whose declared media
// type is not accepted are rejected individually; when nothing is left the whole batch
// fails with NO_VALID_FILES.
func (in Intake) Ingest(ctx context.Context, files []Upload) (Batch, error) {
	logger := zerolog.Ctx(ctx)
	counter := in.Counter
	if counter == nil {
		counter = CountPDFPages
	}
	now := in.Now
	if now == nil {
		now = time.Now
	}
	newID := in.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	var batch Batch
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		name := strings.TrimSpace(f.Name)
		if name == "" {
			name = "document"
		}
		mediaType := normaliseMediaType(f.MediaType)
		if !in.accepts(mediaType) {
			batch.Rejected = append(batch.Rejected, Rejection{Name: name, Reason: fmt.Sprintf("unsupported media type %q", f.MediaType)})
			observe("rejected", 0)
			continue
		}
		if len(f.Data) == 0 {
			batch.Rejected = append(batch.Rejected, Rejection{Name: name, Reason: "file is empty"})
			observe("rejected", 0)
			continue
		}

		pages, ok := counter(f.Data)
		if pages < 1 {
			pages, ok = 1, false
		}
		doc := Document{
			ID:                 newID(),
			Name:               name,
			Size:               int64(len(f.Data)),
			MediaType:          mediaType,
			PageCount:          pages,
			PageCountEstimated: !ok,
			UploadedAt:         now().UTC(),
		}
		if !ok {
			batch.Warnings = append(batch.Warnings, Warning{
				DocumentID: doc.ID,
				Name:       name,
				Message:    "page count could not be read; assuming 1 page",
			})
			logger.Warn().Str("document", name).Msg("page count fallback")
			observe("estimated", pages)
		} else {
			observe("accepted", pages)
		}
		batch.Documents = append(batch.Documents, doc)
	}

	if len(batch.Documents) == 0 {
		return Batch{}, &common.AppError{
			Code:       common.CodeNoValidFiles,
			Message:    "no valid files in upload",
			HTTPStatus: http.StatusUnprocessableEntity,
			Details:    map[string]any{"accepted": in.Accepted, "rejected": batch.Rejected},
		}
	}
	return batch, nil
}

func (in Intake) accepts(mediaType string) bool {
	for _, a := range in.Accepted {
		if normaliseMediaType(a) == mediaType {
			return true
		}
	}
	return false
}

func normaliseMediaType(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(trimmed); err == nil {
		return parsed
	}
	base, _, _ := strings.Cut(trimmed, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func observe(result string, pages int) {
	if obs.IntakeDocumentsTotal != nil {
		obs.IntakeDocumentsTotal.WithLabelValues(result).Inc()
	}
	if pages > 0 && obs.IntakePagesTotal != nil {
		obs.IntakePagesTotal.Add(float64(pages))
	}
}

package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/merchkit/api/internal/platform/requestctx"
)

// Field length caps keep error payloads bounded even when a message is
// built from client-supplied input.
const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Error is the JSON error envelope every endpoint returns on failure.
// Details are flattened into the top level of the payload so clients can
// read machine-readable fields (article_number, index) without another
// level of nesting.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an Error for the given code, human-readable message and
// HTTP status. A zero status is treated as an internal server error.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLen),
		Message: clip(message, maxMessageLen),
		Status:  status,
	}
}

// WithRequestID pins the request identifier instead of reading it from
// the context at write time.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, maxIDLen)
	return e
}

// WithTraceID pins the trace identifier instead of reading it from the
// context at write time.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, maxIDLen)
	return e
}

// WithDetails attaches extra machine-readable fields. The map is copied;
// callers may keep mutating theirs.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	d := make(map[string]any, len(details))
	for k, v := range details {
		d[k] = v
	}
	e.Details = d
	return e
}

// WriteError renders the envelope as JSON. Request and trace identifiers
// fall back to the values carried by ctx when not pinned on the Error.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	for k, v := range err.Details {
		body[k] = v
	}

	if id := firstOf(err.RequestID, middleware.GetReqID(ctx)); id != "" {
		body["request_id"] = clip(id, maxIDLen)
	}
	if id := firstOf(err.TraceID, requestctx.TraceID(ctx)); id != "" {
		body["trace_id"] = clip(id, maxIDLen)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// clip strips newlines and truncates so a single malformed input cannot
// blow up the envelope.
func clip(value string, limit int) string {
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}

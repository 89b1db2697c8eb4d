package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/merchkit/api/internal/platform/auth"
	"github.com/merchkit/api/internal/platform/httpx"
)

const (
	// HeaderName is the request header clients use to mark a retryable
	// submission.
	HeaderName = "Idempotency-Key"
	// ReplayHeader flags a response served from a stored entry.
	ReplayHeader = "X-Idempotent-Replay"

	maxStoredBody = 512 * 1024
)

// Logger receives background persistence failures.
type Logger interface {
	Printf(format string, args ...any)
}

type guard struct {
	store     Store
	header    string
	retention time.Duration
	clock     func() time.Time
	logger    Logger
}

// Option customises the middleware.
type Option func(*guard)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) Option {
	return func(g *guard) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			g.header = trimmed
		}
	}
}

// WithRetention sets how long stored responses are replayable.
func WithRetention(d time.Duration) Option {
	return func(g *guard) {
		if d > 0 {
			g.retention = d
		}
	}
}

// WithLogger injects a logger for store failures.
func WithLogger(logger Logger) Option {
	return func(g *guard) { g.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware guards POST, PATCH and DELETE requests. Requests without an
// Idempotency-Key header pass through unprotected; the header is opt-in
// for clients that retry.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:     store,
		header:    HeaderName,
		retention: DefaultRetention,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodDelete:
	default:
		next.ServeHTTP(w, r)
		return
	}

	rawKey := strings.TrimSpace(r.Header.Get(g.header))
	if rawKey == "" {
		next.ServeHTTP(w, r)
		return
	}

	body, err := swapBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	// Keys are scoped per caller so two users can pick the same key
	// without colliding.
	caller := callerID(r)
	key := hashOf(caller, rawKey)
	requestHash := hashOf(r.Method, r.URL.Path, r.URL.RawQuery, string(body))
	now := g.clock().UTC()

	outcome, entry, err := g.store.Begin(ctx, key, requestHash, now, g.retention)
	if err == ErrKeyReused {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	}
	if err != nil {
		g.printf("idempotency: begin failed for key %s: %v", rawKey, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
		return
	}

	switch outcome {
	case OutcomeReplay:
		replay(w, entry)
		return
	case OutcomeInFlight:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request with this idempotency key is still running", http.StatusConflict))
		return
	}

	capture := &captureWriter{header: make(http.Header)}
	next.ServeHTTP(capture, r)

	stored := Entry{
		StatusCode: capture.statusCode(),
		Header:     storableHeader(capture.header),
		Body:       capture.bodyBytes(),
		FirstSeen:  now,
		StaleAfter: now.Add(g.retention),
	}
	if len(stored.Body) > maxStoredBody {
		// Oversized responses are not replayable; let retries run again.
		stored.Body = nil
		if err := g.store.Forget(ctx, key); err != nil {
			g.printf("idempotency: forget failed for key %s: %v", rawKey, err)
		}
		capture.flush(w)
		return
	}
	if err := g.store.Complete(ctx, key, requestHash, stored); err != nil {
		g.printf("idempotency: completing key %s failed: %v", rawKey, err)
		if err := g.store.Forget(ctx, key); err != nil {
			g.printf("idempotency: forget after failure for key %s: %v", rawKey, err)
		}
	}
	capture.flush(w)
}

func (g *guard) printf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// swapBody drains the request body and replaces it so the handler can
// read it again.
func swapBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func callerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(ReplayHeader, "true")
	code := entry.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(entry.Body) > 0 {
		_, _ = w.Write(entry.Body)
	}
}

// storableHeader drops hop-by-hop and derived headers before persisting.
func storableHeader(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	kept := make(map[string][]string, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Transfer-Encoding", "Keep-Alive", "Upgrade":
			continue
		}
		kept[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// captureWriter buffers the handler's response so it can be stored
// before anything reaches the client.
type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *captureWriter) Header() http.Header { return c.header }

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 && status > 0 {
		c.status = status
	}
}

func (c *captureWriter) Write(data []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(data)
}

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *captureWriter) bodyBytes() []byte {
	if c.body.Len() == 0 {
		return nil
	}
	return c.body.Bytes()
}

func (c *captureWriter) flush(w http.ResponseWriter) {
	for name, values := range c.header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(c.statusCode())
	if c.body.Len() > 0 {
		_, _ = w.Write(c.body.Bytes())
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/merchkit/api/internal/platform/auth"
	"github.com/merchkit/api/internal/services"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// requestBody reads at most limit bytes and rejects blank or oversized
// payloads. Reading one byte past the limit distinguishes "exactly at the
// limit" from "too large".
func requestBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	switch {
	case err != nil:
		return nil, err
	case int64(len(payload)) > limit:
		return nil, errBodyTooLarge
	case len(strings.TrimSpace(string(payload))) == 0:
		return nil, errEmptyBody
	}
	return payload, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// timestamp renders t for response payloads; zero times render empty.
func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func copyStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	dup := *value
	return &dup
}

func copyStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

// csvParams splits repeated query parameters and comma-separated values into
// one lowercased, deduplicated list.
func csvParams(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			candidate := strings.ToLower(strings.TrimSpace(part))
			if candidate == "" || seen[candidate] {
				continue
			}
			seen[candidate] = true
			out = append(out, candidate)
		}
	}
	return out
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

// actorFromIdentity maps the authenticated identity onto the service layer
// actor. When multiple roles are present the most privileged one wins.
func actorFromIdentity(identity *auth.Identity) services.Actor {
	if identity == nil {
		return services.Actor{Role: services.RoleUser}
	}

	role := services.RoleUser
	switch {
	case identity.HasRole(auth.RoleAdmin):
		role = services.RoleAdmin
	case identity.HasRole(auth.RoleCompanyAdmin):
		role = services.RoleCompanyAdministrator
	case identity.HasRole(auth.RoleCampaignManager):
		role = services.RoleCampaignManager
	}

	return services.Actor{
		ID:        strings.TrimSpace(identity.UID),
		Role:      role,
		CompanyID: strings.TrimSpace(identity.CompanyID),
	}
}

// Package pagination parses the page_size and page_token query
// parameters shared by the list endpoints.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits page_size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps page_size so a single request cannot pull
	// an unbounded listing.
	DefaultMaxPageSize = 100
)

// ErrInvalidPageSize is returned when page_size is not a positive integer.
var ErrInvalidPageSize = errors.New("pagination: invalid page_size")

// Params carries the parsed pagination inputs. PageToken is an opaque
// cursor minted by the repository layer and passed through untouched.
type Params struct {
	PageSize  int
	PageToken string
}

// Options adjusts the defaults per endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) bounds() (def, max int) {
	max = o.MaxPageSize
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	if def > max {
		def = max
	}
	return def, max
}

// FromRequest reads page_size and page_token from the request query. An
// oversized page_size is clamped rather than rejected.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	query := r.URL.Query()

	def, max := opts.bounds()
	size := def
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if parsed <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		size = parsed
		if size > max {
			size = max
		}
	}

	return Params{
		PageSize:  size,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, nil
}

package observability

import (
	"strings"
	"unicode"
)

// Length caps for values that originate from the request and end up in
// log fields.
const (
	routeLimit  = 180
	methodLimit = 10
	userIDLimit = 64
	addrLimit   = 64
)

// scrub drops control characters (log injection) and truncates to limit.
func scrub(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	if limit > 0 {
		if runes := []rune(value); len(runes) > limit {
			value = string(runes[:limit])
		}
	}
	return value
}

// SanitizeRoute cleans a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return scrub(route, routeLimit)
}

// SanitizeMethod cleans an HTTP method for logging.
func SanitizeMethod(method string) string {
	return scrub(method, methodLimit)
}

// SanitizeUserID caps user identifiers before they reach log fields.
func SanitizeUserID(uid string) string {
	return scrub(uid, userIDLimit)
}

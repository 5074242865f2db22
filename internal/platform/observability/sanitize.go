package observability

import (
	"strings"
	"unicode"
)

// Log field caps, in runes.
const (
	routeLimit  = 180
	methodLimit = 10
	idLimit     = 64
)

// clean removes control characters so a crafted path cannot forge log lines, then
// keeps at most limit runes.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(value); len(runes) > limit {
		return string(runes[:limit])
	}
	return value
}

func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, routeLimit)
}

func SanitizeMethod(method string) string { return clean(method, methodLimit) }

// SanitizeUserID bounds caller ids written to logs.
func SanitizeUserID(uid string) string { return clean(uid, idLimit) }

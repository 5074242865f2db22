package textutil

import (
	"sort"
	"strings"
)

// Gateway metadata limits, in runes.
const (
	MetadataKeyLimit   = 40
	MetadataValueLimit = 500
	MetadataMaxEntries = 50
)

// Metadata prepares free-form key/value pairs for a payment gateway. Keys are trimmed and
// clipped, values are reduced to plain text, and entries with an empty key or value are
// dropped. Once MetadataMaxEntries keys are kept, later keys in sorted order are ignored.
func Metadata(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make(map[string]string, len(values))
	for _, raw := range keys {
		if len(result) == MetadataMaxEntries {
			break
		}
		key := clip(strings.TrimSpace(raw), MetadataKeyLimit)
		value := PlainText(values[raw], MetadataValueLimit)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func clip(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

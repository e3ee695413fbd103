package extract

import (
	"slices"
	"strings"
	"time"
)

// NormalizeCurrency is the "currency" transform for callers parsing pages
// without a configuration.
func NormalizeCurrency(s string) string { return normalizeCurrency(s) }

// ParseTimestamp tries the extra layouts first, then the layouts understood
// for configuration-driven records. It returns nil when nothing matches.
func ParseTimestamp(s string, layouts ...string) *time.Time {
	s = strings.TrimSpace(foldWidth(s))
	if s == "" {
		return nil
	}
	for _, layout := range slices.Concat(layouts, timestampLayouts) {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

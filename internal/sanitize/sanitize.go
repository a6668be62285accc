// Package sanitize strips markup from untrusted message text before it is
// persisted or replayed as model context.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy = bluemonday.StrictPolicy()

	// Only angle brackets are re-escaped; quotes and ampersands stay readable.
	angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")
)

// Text removes every HTML element from s, dropping the content of script and
// style elements entirely. The result is plain text with any surviving angle
// brackets escaped.
func Text(s string) string {
	if s == "" {
		return ""
	}
	clean := html.UnescapeString(policy.Sanitize(s))
	return angleEscaper.Replace(clean)
}

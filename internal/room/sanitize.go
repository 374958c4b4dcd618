package room

import "strings"

var markupEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// EscapeMarkup escapes the two markup delimiter characters < and >.
//
// This is a partial mitigation, not a full sanitizer: it only blocks
// tag injection in element context. Consumers rendering the text in
// other contexts (attributes, scripts) must apply their own escaping to
// the raw input.
func EscapeMarkup(s string) string {
	return markupEscaper.Replace(s)
}

package inference

import (
	"strings"
	"unicode"
)

// endMarkers are sentinels some templates use to close a turn. A reply that
// reaches one of them without it being the configured stop string would
// otherwise carry it into the next prompt.
var endMarkers = []string{
	"<|im_end|>",
	"<|endoftext|>",
	"<|end_of_text|>",
	"<|eot_id|>",
	"</s>",
}

// SanitizeReply strips turn sentinels and trailing whitespace from generated
// text before it is stored as an assistant turn.
func SanitizeReply(text string) string {
	for _, m := range endMarkers {
		text = strings.ReplaceAll(text, m, "")
	}
	return strings.TrimRightFunc(text, unicode.IsSpace)
}

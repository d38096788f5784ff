package mesh

import (
	"strings"

	"github.com/lewisedginton/mesh_llm_relay/internal/meshtastic"
	"github.com/lewisedginton/mesh_llm_relay/pkg/metrics"
)

// ExtractPrompt decides whether msg should be relayed. On pass it returns the
// trimmed prompt following trigger and an empty reason; otherwise reason is
// one of metrics.ReasonNoText, metrics.ReasonNoTrigger or
// metrics.ReasonEmptyPrompt.
func ExtractPrompt(msg meshtastic.InboundMessage, trigger string) (prompt, reason string) {
	if !msg.HasText {
		return "", metrics.ReasonNoText
	}
	text := msg.Text
	if len(text) < len(trigger) || !strings.EqualFold(text[:len(trigger)], trigger) {
		return "", metrics.ReasonNoTrigger
	}
	prompt = strings.TrimSpace(text[len(trigger):])
	if prompt == "" {
		return "", metrics.ReasonEmptyPrompt
	}
	return prompt, ""
}

// Sanitize keeps printable ASCII (32..126), trims surrounding whitespace and
// cuts the result to maxLen characters. maxLen <= 0 disables the cut.
func Sanitize(text string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimSpace(s[:maxLen])
	}
	return s
}

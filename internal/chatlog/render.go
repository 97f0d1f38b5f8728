package chatlog

import (
	"fmt"
	"strings"
)

// Render formats messages one per line followed by the token total.
func Render(msgs []Message, total int) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "[%s] %s", m.Sender, m.Content)
		if m.TokenCount != nil {
			fmt.Fprintf(&sb, " (%d tokens)", *m.TokenCount)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "total tokens: %d", total)
	return sb.String()
}

package memory

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/recall/pkg/models"
)

// formatContext renders items as a bullet list, one bullet per item in the
// same order, with source and timestamp annotations where present.
func formatContext(items []*models.MemoryItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(item.Content)

		var notes []string
		if item.SourceType != "" {
			note := string(item.SourceType)
			if item.SourceID != "" {
				note += ":" + item.SourceID
			}
			notes = append(notes, note)
		}
		if !item.CreatedAt.IsZero() {
			notes = append(notes, item.CreatedAt.Format("2006-01-02"))
		}
		if len(notes) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
		}
	}
	return b.String()
}

package registry

import (
	"fmt"
	"strings"
)

const maxEmbedBody = 8000

// EmbedText builds the text an item is embedded from. Kept stable across
// publishes of unchanged metadata so re-embedding is cheap to dedupe.
func EmbedText(displayName, slug, summary, body string) string {
	parts := []string{
		fmt.Sprintf("Name: %s", displayName),
		fmt.Sprintf("Slug: %s", slug),
	}
	if summary != "" {
		parts = append(parts, fmt.Sprintf("Summary: %s", summary))
	}
	if body != "" {
		if len(body) > maxEmbedBody {
			body = body[:maxEmbedBody]
		}
		parts = append(parts, fmt.Sprintf("Description: %s", body))
	}
	return strings.Join(parts, "\n")
}

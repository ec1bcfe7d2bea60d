package blueprint

import (
	"bytes"

	"github.com/yuin/goldmark"

	apperrors "github.com/ag3nt-run/ag3nt/pkg/errors"
)

// RenderHTML converts a blueprint's markdown (as produced by ToMarkdown)
// into HTML for the status page.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", apperrors.NewStorageError("render blueprint markdown", err)
	}
	return buf.String(), nil
}

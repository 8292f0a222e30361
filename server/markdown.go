package server

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// FrameMarkdown renders the sanitized frame as markdown, for clients that
// read the replayed page rather than display it.
func (s *Server) FrameMarkdown() (string, error) {
	page, err := s.Frame()
	if err != nil {
		return "", err
	}
	md, err := s.md.ConvertString(page)
	if err != nil {
		return "", fmt.Errorf("server: markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}

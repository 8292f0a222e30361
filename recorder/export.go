package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/timecat/codec"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/store"
)

// ExportOptions configures the replay page produced by Export.
type ExportOptions struct {
	// Scripts are player script URLs appended after the data.
	Scripts  []string
	AutoPlay bool
	Title    string
	// Compressor defaults to codec.Gzip.
	Compressor codec.Compressor
}

// playerOptions is assigned to window.__ReplayOptions__ for the player
// script.
type playerOptions struct {
	AutoPlay bool `json:"autoPlay"`
}

// Export reads the store, groups the records into segments and renders a
// self-contained replay page.
func Export(ctx context.Context, s store.Store, opts ExportOptions) (string, error) {
	recs, err := s.ReadAllRecords(ctx)
	if err != nil {
		return "", fmt.Errorf("recorder: export: %w", err)
	}
	return ExportList(record.Classify(recs), opts)
}

// ExportList renders a replay page embedding list.
func ExportList(list []record.ReplayData, opts ExportOptions) (string, error) {
	if len(list) == 0 {
		return "", fmt.Errorf("recorder: export: no snapshot recorded")
	}
	list, err := codec.EncodeReplayTimes(list)
	if err != nil {
		return "", fmt.Errorf("recorder: export: %w", err)
	}
	data, err := codec.EncodeDataList(list, opts.Compressor)
	if err != nil {
		return "", fmt.Errorf("recorder: export: %w", err)
	}
	po, err := json.Marshal(playerOptions{AutoPlay: opts.AutoPlay})
	if err != nil {
		return "", fmt.Errorf("recorder: export: %w", err)
	}

	title := opts.Title
	if title == "" {
		title = "TimeCat"
	}
	head := element(atom.Head, nil,
		element(atom.Meta, []html.Attribute{{Key: "charset", Val: "utf-8"}}),
		element(atom.Title, nil, text(title)),
	)
	body := element(atom.Body, nil,
		element(atom.Script, nil, text(codec.ScriptText(data))),
		element(atom.Script, nil, text("window.__ReplayOptions__ = "+string(po))),
	)
	for _, src := range opts.Scripts {
		body.AppendChild(element(atom.Script, []html.Attribute{{Key: "src", Val: src}}))
	}

	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})
	doc.AppendChild(element(atom.Html, nil, head, body))

	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return "", fmt.Errorf("recorder: export: render: %w", err)
	}
	return sb.String(), nil
}

func element(a atom.Atom, attrs []html.Attribute, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

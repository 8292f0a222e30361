package watcher

import (
	"golang.org/x/net/html"

	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/record"
)

// DOM converts mutation observer batches into DOM_UPDATE records. One
// observer batch yields at most one record, mutations in observed order.
type DOM struct {
	*base
}

// NewDOM installs a DOM watcher.
func NewDOM(opts Options) (Watcher, error) {
	b, err := newBase(KindDOM, opts)
	if err != nil {
		return nil, err
	}
	w := &DOM{base: b}
	doc := w.opts.Context
	id := doc.Observe(w.onMutations)
	w.onUninstall(func() { doc.Disconnect(id) })
	return w, nil
}

func (w *DOM) onMutations(batch []dom.MutationRecord) {
	var out []record.Mutation
	for _, m := range batch {
		out = append(out, w.convert(m)...)
	}
	if len(out) == 0 {
		return
	}
	w.emit(record.TypeDOMUpdate, record.DOMData{Mutations: out})
}

// convert maps one observer record. Nodes outside the document or never
// assigned an id are skipped: replay has no counterpart for them.
func (w *DOM) convert(m dom.MutationRecord) []record.Mutation {
	nodes := w.opts.Nodes
	switch m.Type {
	case dom.MutationAttributes:
		id, ok := w.known(m.Target)
		if !ok {
			return nil
		}
		value, _ := dom.GetAttribute(m.Target, m.AttributeName)
		return []record.Mutation{record.AttributeMutation(id, m.AttributeName, value)}

	case dom.MutationCharacterData:
		id, ok := w.known(m.Target)
		if !ok {
			return nil
		}
		return []record.Mutation{record.TextMutation(id, m.Target.Data)}

	case dom.MutationChildList:
		parent, ok := w.known(m.Target)
		if !ok {
			return nil
		}
		var out []record.Mutation
		for _, n := range m.RemovedNodes {
			id, _ := nodes.Lookup(n)
			out = append(out, record.RemoveMutation(parent, id))
		}
		for _, n := range m.AddedNodes {
			// Detached again before the batch was delivered.
			if n.Parent != m.Target {
				continue
			}
			vn := dom.Serialize(n, nodes, true)
			out = append(out, record.AddMutation(parent, vn.ID, vn))
		}
		return out
	}
	w.opts.Logger.Debug("watcher: unhandled mutation", "type", m.Type)
	return nil
}

// known returns the id of n when n has one and is attached to the document.
func (w *DOM) known(n *html.Node) (int, bool) {
	id, ok := w.opts.Nodes.Lookup(n)
	if !ok || !w.attached(n) {
		return 0, false
	}
	return id, true
}

func (w *DOM) attached(n *html.Node) bool {
	root := w.opts.Context.Root()
	for ; n != nil; n = n.Parent {
		if n == root {
			return true
		}
	}
	return false
}

package capture

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/timecat/dom"
)

// CDP node types.
const (
	nodeElement  = 1
	nodeText     = 3
	nodeCDATA    = 4
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// mirror keeps a dom.Document in step with the CDP view of a page. Every
// change goes through the Document's mutation methods so watchers observe
// it. Not goroutine-safe; Capture serializes access.
type mirror struct {
	doc    *dom.Document
	byID   map[proto.DOMNodeID]*html.Node
	ids    map[*html.Node]proto.DOMNodeID
	logger *slog.Logger

	// requestChildren asks CDP for the subtree of a node inserted without
	// its children.
	requestChildren func(proto.DOMNodeID)
}

func newMirror(root *proto.DOMNode, logger *slog.Logger) *mirror {
	m := &mirror{
		byID:   make(map[proto.DOMNodeID]*html.Node),
		ids:    make(map[*html.Node]proto.DOMNodeID),
		logger: logger,
	}
	m.reset(root)
	return m
}

// reset rebuilds the document from a DOM.getDocument tree.
func (m *mirror) reset(root *proto.DOMNode) {
	clear(m.byID)
	clear(m.ids)
	n := m.build(root)
	if n == nil || n.Type != html.DocumentNode {
		doc := &html.Node{Type: html.DocumentNode}
		if n != nil {
			doc.AppendChild(n)
		}
		n = doc
	}
	m.doc = dom.FromNode(n)
}

// build converts a CDP subtree, registering every node. Node types with no
// html counterpart (fragments, shadow roots) yield nil.
func (m *mirror) build(p *proto.DOMNode) *html.Node {
	if p == nil {
		return nil
	}
	n := &html.Node{}
	switch p.NodeType {
	case nodeDocument:
		n.Type = html.DocumentNode
	case nodeDoctype:
		n.Type = html.DoctypeNode
		n.Data = strings.ToLower(p.NodeName)
	case nodeElement:
		name := p.LocalName
		if name == "" {
			name = strings.ToLower(p.NodeName)
		}
		n.Type = html.ElementNode
		n.Data = name
		n.DataAtom = atom.Lookup([]byte(name))
		for i := 0; i+1 < len(p.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: p.Attributes[i], Val: p.Attributes[i+1]})
		}
	case nodeText, nodeCDATA:
		n.Type = html.TextNode
		n.Data = p.NodeValue
	case nodeComment:
		n.Type = html.CommentNode
		n.Data = p.NodeValue
	default:
		return nil
	}
	m.byID[p.NodeID] = n
	m.ids[n] = p.NodeID
	for _, c := range p.Children {
		if child := m.build(c); child != nil {
			n.AppendChild(child)
		}
	}
	if p.ChildNodeCount != nil && *p.ChildNodeCount > 0 && len(p.Children) == 0 && m.requestChildren != nil {
		m.requestChildren(p.NodeID)
	}
	return n
}

func (m *mirror) forget(n *html.Node) {
	if id, ok := m.ids[n]; ok {
		delete(m.byID, id)
		delete(m.ids, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		m.forget(c)
	}
}

func (m *mirror) node(id proto.DOMNodeID, event string) *html.Node {
	n := m.byID[id]
	if n == nil {
		m.logger.Debug("capture: unknown node", "event", event, "node_id", id)
	}
	return n
}

func (m *mirror) inserted(e *proto.DOMChildNodeInserted) {
	parent := m.node(e.ParentNodeID, "inserted")
	if parent == nil {
		return
	}
	n := m.build(e.Node)
	if n == nil {
		return
	}
	ref := parent.FirstChild
	if e.PreviousNodeID != 0 {
		ref = nil
		if prev := m.byID[e.PreviousNodeID]; prev != nil && prev.Parent == parent {
			ref = prev.NextSibling
		}
	}
	m.doc.InsertBefore(parent, n, ref)
}

func (m *mirror) removed(e *proto.DOMChildNodeRemoved) {
	parent := m.node(e.ParentNodeID, "removed")
	n := m.node(e.NodeID, "removed")
	if parent == nil || n == nil {
		return
	}
	m.doc.RemoveChild(parent, n)
	m.forget(n)
}

// setChildNodes fills in children CDP sent lazily.
func (m *mirror) setChildNodes(e *proto.DOMSetChildNodes) {
	parent := m.node(e.ParentID, "setChildNodes")
	if parent == nil {
		return
	}
	for _, c := range e.Nodes {
		if _, known := m.byID[c.NodeID]; known {
			continue
		}
		if n := m.build(c); n != nil {
			m.doc.AppendChild(parent, n)
		}
	}
}

func (m *mirror) attributeModified(e *proto.DOMAttributeModified) {
	if n := m.node(e.NodeID, "attributeModified"); n != nil {
		m.doc.SetAttribute(n, e.Name, e.Value)
	}
}

func (m *mirror) attributeRemoved(e *proto.DOMAttributeRemoved) {
	if n := m.node(e.NodeID, "attributeRemoved"); n != nil {
		m.doc.RemoveAttribute(n, e.Name)
	}
}

func (m *mirror) characterDataModified(e *proto.DOMCharacterDataModified) {
	if n := m.node(e.NodeID, "characterDataModified"); n != nil {
		m.doc.SetText(n, e.CharacterData)
	}
}

// resolve follows child indices from the document node, the path the
// injected script reports for event targets.
func (m *mirror) resolve(path []int) *html.Node {
	if path == nil {
		return nil
	}
	n := m.doc.Root()
	for _, idx := range path {
		c := n.FirstChild
		for i := 0; c != nil && i < idx; i++ {
			c = c.NextSibling
		}
		if c == nil {
			return nil
		}
		n = c
	}
	return n
}

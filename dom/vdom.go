package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/timecat/nodestore"
	"github.com/hazyhaar/timecat/record"
)

// Serialize walks n depth-first, pre-order, assigning ids through ids in
// that order, and returns the serialised subtree. With withIDs the ids are
// written into the nodes: inserted subtrees need them, snapshot trees do
// not (walk order implies them).
func Serialize(n *html.Node, ids *nodestore.Store, withIDs bool) *record.VNode {
	if n == nil {
		return nil
	}
	id := ids.GetID(n)
	vn := &record.VNode{}
	if withIDs {
		vn.ID = id
	}
	switch n.Type {
	case html.DocumentNode:
		vn.Kind = record.KindDocument
	case html.DoctypeNode:
		vn.Kind = record.KindDoctype
		vn.Tag = n.Data
	case html.ElementNode:
		vn.Kind = record.KindElement
		vn.Tag = n.Data
		for _, a := range n.Attr {
			name := a.Key
			if a.Namespace != "" {
				name = a.Namespace + ":" + a.Key
			}
			vn.Attrs = append(vn.Attrs, record.Attr{Name: name, Value: a.Val})
		}
	case html.TextNode:
		vn.Kind = record.KindText
		vn.Text = n.Data
	case html.CommentNode:
		vn.Kind = record.KindComment
		vn.Text = n.Data
	default:
		vn.Kind = record.KindText
		vn.Text = n.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		vn.Children = append(vn.Children, Serialize(c, ids, withIDs))
	}
	return vn
}

// Materialize builds a detached node tree from vn. Nodes carrying an id are
// bound to it; the others get the next id in depth-first order, which is
// the order Serialize assigned them on the recording side.
func Materialize(vn *record.VNode, ids *nodestore.Store) *html.Node {
	if vn == nil {
		return nil
	}
	n := &html.Node{}
	switch vn.Kind {
	case record.KindDocument:
		n.Type = html.DocumentNode
	case record.KindDoctype:
		n.Type = html.DoctypeNode
		n.Data = vn.Tag
	case record.KindElement:
		n.Type = html.ElementNode
		n.Data = vn.Tag
		n.DataAtom = atom.Lookup([]byte(vn.Tag))
		for _, a := range vn.Attrs {
			attr := html.Attribute{Key: a.Name, Val: a.Value}
			if ns, key, ok := strings.Cut(a.Name, ":"); ok && (ns == "xlink" || ns == "xml" || ns == "xmlns") {
				attr.Namespace, attr.Key = ns, key
			}
			n.Attr = append(n.Attr, attr)
		}
	case record.KindComment:
		n.Type = html.CommentNode
		n.Data = vn.Text
	default:
		n.Type = html.TextNode
		n.Data = vn.Text
	}
	if vn.ID > 0 {
		ids.Bind(vn.ID, n)
	} else {
		ids.GetID(n)
	}
	for _, c := range vn.Children {
		if child := Materialize(c, ids); child != nil {
			n.AppendChild(child)
		}
	}
	return n
}

// FromSnapshot materialises a snapshot tree into a new Document. A tree
// whose root is not a document node is wrapped in one, which then takes
// no id.
func FromSnapshot(tree *record.VNode, ids *nodestore.Store) *Document {
	if tree == nil {
		return New()
	}
	root := Materialize(tree, ids)
	if root.Type != html.DocumentNode {
		doc := &html.Node{Type: html.DocumentNode}
		doc.AppendChild(root)
		root = doc
	}
	return FromNode(root)
}

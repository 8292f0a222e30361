// Package dom is the live document that watchers observe while recording
// and that the player mutates while replaying.
//
// A Document wraps a golang.org/x/net/html node tree with the two host
// facilities the recorder relies on: an event bus (pointer, form and
// lifecycle events) and a mutation observer queue. Mutations made through
// Document methods are queued as MutationRecords and delivered to observers
// on Flush, the way a browser delivers them at a microtask checkpoint.
//
// A Document is single-threaded: all calls must come from the goroutine
// that owns it.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a live node tree plus its event and observer registries.
type Document struct {
	root *html.Node

	listeners    map[EventType][]listenerEntry
	nextListener ListenerID

	observers    []observerEntry
	nextObserver ObserverID
	pending      []MutationRecord

	focused *html.Node
	values  map[*html.Node]string
}

// New creates a document holding only an empty document node.
func New() *Document {
	return FromNode(&html.Node{Type: html.DocumentNode})
}

// FromNode wraps an existing tree. root should be a DocumentNode.
func FromNode(root *html.Node) *Document {
	return &Document{
		root:      root,
		listeners: make(map[EventType][]listenerEntry),
		values:    make(map[*html.Node]string),
	}
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return FromNode(root), nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// CreateTextNode returns a detached text node.
func (d *Document) CreateTextNode(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// CreateComment returns a detached comment node.
func (d *Document) CreateComment(text string) *html.Node {
	return &html.Node{Type: html.CommentNode, Data: text}
}

// GetAttribute returns the value of attribute name on n.
func GetAttribute(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttribute sets attribute name on element n and queues an attributes
// record.
func (d *Document) SetAttribute(n *html.Node, name, value string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	setAttr(n, name, value)
	d.queue(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name})
}

// RemoveAttribute deletes attribute name from n and queues an attributes
// record if it was present.
func (d *Document) RemoveAttribute(n *html.Node, name string) {
	if n == nil {
		return
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr = append(n.Attr[:i:i], n.Attr[i+1:]...)
			d.queue(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name})
			return
		}
	}
}

// SetText replaces the character data of a text or comment node and queues
// a characterData record.
func (d *Document) SetText(n *html.Node, text string) {
	if n == nil || (n.Type != html.TextNode && n.Type != html.CommentNode) {
		return
	}
	n.Data = text
	d.queue(MutationRecord{Type: MutationCharacterData, Target: n})
}

// AppendChild appends child as the last child of parent. A child attached
// elsewhere is detached first, which queues its removal.
func (d *Document) AppendChild(parent, child *html.Node) bool {
	return d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref under parent; a nil ref appends.
// It reports false, and changes nothing, when ref is not a child of parent
// or when child is parent or one of its ancestors.
func (d *Document) InsertBefore(parent, child, ref *html.Node) bool {
	if parent == nil || child == nil || contains(child, parent) {
		return false
	}
	if ref != nil && ref.Parent != parent {
		return false
	}
	if ref == child {
		ref = child.NextSibling
	}
	if child.Parent != nil {
		d.RemoveChild(child.Parent, child)
	}
	parent.InsertBefore(child, ref)
	d.queue(MutationRecord{Type: MutationChildList, Target: parent, AddedNodes: []*html.Node{child}})
	return true
}

// RemoveChild detaches child from parent. It reports false, and changes
// nothing, when child is not a child of parent.
func (d *Document) RemoveChild(parent, child *html.Node) bool {
	if parent == nil || child == nil || child.Parent != parent {
		return false
	}
	parent.RemoveChild(child)
	if d.focused != nil && contains(child, d.focused) {
		d.focused = nil
	}
	d.queue(MutationRecord{Type: MutationChildList, Target: parent, RemovedNodes: []*html.Node{child}})
	return true
}

// Value returns the live value of a form control: the last value set
// through SetValue or Input, else the value attribute, else (textarea) its
// text content.
func (d *Document) Value(n *html.Node) string {
	if v, ok := d.values[n]; ok {
		return v
	}
	if v, ok := GetAttribute(n, "value"); ok {
		return v
	}
	if n != nil && n.Type == html.ElementNode && n.Data == "textarea" {
		return TextContent(n)
	}
	return ""
}

// SetValue changes the live value of a form control. Like a DOM property
// write it does not produce a mutation record.
func (d *Document) SetValue(n *html.Node, value string) {
	if n == nil {
		return
	}
	d.values[n] = value
}

// Focused returns the element holding focus, or nil.
func (d *Document) Focused() *html.Node { return d.focused }

// Focus moves focus to n, blurring the previous holder.
func (d *Document) Focus(n *html.Node) {
	if n == nil || n == d.focused {
		return
	}
	if prev := d.focused; prev != nil {
		d.focused = nil
		d.Dispatch(Event{Type: EventBlur, Target: prev})
	}
	d.focused = n
	d.Dispatch(Event{Type: EventFocus, Target: n})
}

// Blur removes focus from n if it holds it.
func (d *Document) Blur(n *html.Node) {
	if n == nil || n != d.focused {
		return
	}
	d.focused = nil
	d.Dispatch(Event{Type: EventBlur, Target: n})
}

// HTML renders the document.
func (d *Document) HTML() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return buf.String(), nil
}

// Find returns the first node, in document order, matching fn.
func (d *Document) Find(fn func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if fn(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// ElementByID returns the element whose id attribute equals id.
func (d *Document) ElementByID(id string) *html.Node {
	return d.Find(func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		v, ok := GetAttribute(n, "id")
		return ok && v == id
	})
}

// TextContent concatenates the text nodes under n.
func TextContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

// IsFormControl reports whether n is an input, textarea or select element.
func IsFormControl(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "input", "textarea", "select":
		return true
	}
	return false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// walk visits n and its descendants depth-first, pre-order, until fn
// returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func contains(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// Package player rebuilds a recorded document: it materializes a snapshot
// and applies records to it, forward only.
package player

import (
	"fmt"
	"log/slog"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/nodestore"
	"github.com/hazyhaar/timecat/record"
)

// Options configures a Player.
type Options struct {
	// Pointer receives mouse records. Default: a *Cursor.
	Pointer Pointer
	// StrictRemoval removes the recorded node on childList delete instead
	// of the parent's first child.
	StrictRemoval bool
	// Policy sanitizes SafeHTML output. Default: bluemonday.UGCPolicy().
	Policy *bluemonday.Policy
	Logger *slog.Logger
}

// Player applies records to a replayed document. Not safe for concurrent
// use; the timeline serializes access.
type Player struct {
	opts  Options
	nodes *nodestore.Store
	doc   *dom.Document
}

// New returns a Player with an empty document.
func New(opts Options) *Player {
	if opts.Pointer == nil {
		opts.Pointer = &Cursor{}
	}
	if opts.Policy == nil {
		opts.Policy = bluemonday.UGCPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Player{opts: opts, nodes: nodestore.New(), doc: dom.New()}
}

// Reset discards the current document and materializes snap, rebuilding
// the identity store in walk order.
func (p *Player) Reset(snap record.Snapshot) error {
	if snap.NodeTree == nil {
		return fmt.Errorf("player: reset: snapshot has no node tree")
	}
	p.nodes.Clear()
	p.doc = dom.FromSnapshot(snap.NodeTree, p.nodes)
	if c, ok := p.opts.Pointer.(*Cursor); ok {
		c.Reset()
	}
	p.opts.Logger.Debug("player: reset", "nodes", p.nodes.Len())
	return nil
}

// ExecFrame applies one record. Records that fail to decode, and mutations
// naming unknown nodes, are skipped.
func (p *Player) ExecFrame(r record.Record) {
	switch r.Type {
	case record.TypeMouse:
		d, err := r.Mouse()
		if err != nil {
			p.skip(r, err)
			return
		}
		switch d.Type {
		case record.MouseMove:
			p.opts.Pointer.Move(d.X, d.Y)
		case record.MouseClick:
			p.opts.Pointer.Click(d.X, d.Y)
		}

	case record.TypeDOMUpdate:
		d, err := r.DOM()
		if err != nil {
			p.skip(r, err)
			return
		}
		for _, m := range d.Mutations {
			p.mutate(m)
		}

	case record.TypeFormElUpdate:
		d, err := r.Form()
		if err != nil {
			p.skip(r, err)
			return
		}
		n := p.nodes.GetNode(d.ID)
		if n == nil {
			p.opts.Logger.Debug("player: unknown form node", "id", d.ID)
			return
		}
		switch d.Type {
		case record.FormInput:
			p.doc.SetValue(n, d.Value)
		case record.FormFocus:
			p.doc.Focus(n)
		case record.FormBlur:
			p.doc.Blur(n)
		}

	case record.TypeSnapshot:
		snap, err := r.Snapshot()
		if err != nil {
			p.skip(r, err)
			return
		}
		if err := p.Reset(snap); err != nil {
			p.skip(r, err)
		}

	case record.TypeTerminate:
	default:
		p.opts.Logger.Debug("player: unknown record type", "type", r.Type)
	}
}

func (p *Player) mutate(m record.Mutation) {
	d := m.Data
	switch m.MType {
	case record.MutationAttributes:
		n := p.nodes.GetNode(d.NodeID)
		if n == nil || n.Type != html.ElementNode {
			p.unknown(m, d.NodeID)
			return
		}
		p.doc.SetAttribute(n, d.Attr, d.Value)

	case record.MutationCharacterData:
		n := p.nodes.GetNode(d.NodeID)
		if n == nil || (n.Type != html.TextNode && n.Type != html.CommentNode) {
			p.unknown(m, d.NodeID)
			return
		}
		p.doc.SetText(n, d.Value)

	case record.MutationChildList:
		parent := p.nodes.GetNode(d.ParentID)
		if parent == nil {
			p.unknown(m, d.ParentID)
			return
		}
		switch d.Type {
		case record.ChildDelete:
			child := parent.FirstChild
			if p.opts.StrictRemoval {
				child = p.nodes.GetNode(d.NodeID)
			}
			if !p.doc.RemoveChild(parent, child) {
				p.unknown(m, d.NodeID)
			}
		case record.ChildAdd:
			var n *html.Node
			if d.Node != nil {
				n = dom.Materialize(d.Node, p.nodes)
			} else {
				n = p.nodes.GetNode(d.NodeID)
			}
			if n == nil {
				p.unknown(m, d.NodeID)
				return
			}
			if !p.doc.AppendChild(parent, n) {
				// Appending an ancestor would build a cycle.
				p.unknown(m, d.NodeID)
			}
		}
	}
}

func (p *Player) unknown(m record.Mutation, id int) {
	p.opts.Logger.Debug("player: mutation skipped", "mType", m.MType, "id", id)
}

func (p *Player) skip(r record.Record, err error) {
	p.opts.Logger.Debug("player: record skipped", "type", r.Type, "error", err)
}

// Document returns the replayed document.
func (p *Player) Document() *dom.Document { return p.doc }

// Nodes returns the replay-side identity store.
func (p *Player) Nodes() *nodestore.Store { return p.nodes }

// Pointer returns the pointer receiving mouse records.
func (p *Player) Pointer() Pointer { return p.opts.Pointer }

// HTML renders the replayed document.
func (p *Player) HTML() (string, error) {
	return p.doc.HTML()
}

// SafeHTML renders the replayed document through the sanitizing policy,
// so a frame served to a viewer carries no script or handler.
func (p *Player) SafeHTML() (string, error) {
	s, err := p.doc.HTML()
	if err != nil {
		return "", err
	}
	return p.opts.Policy.Sanitize(s), nil
}

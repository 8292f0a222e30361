package watcher

import (
	"time"

	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/record"
)

// Mouse records pointer moves and clicks.
type Mouse struct {
	*base
	lastMove time.Time
}

// NewMouse installs a mouse watcher.
func NewMouse(opts Options) (Watcher, error) {
	b, err := newBase(KindMouse, opts)
	if err != nil {
		return nil, err
	}
	m := &Mouse{base: b}
	m.listen(dom.EventMouseMove, m.onMove)
	m.listen(dom.EventClick, m.onClick)
	return m, nil
}

func (m *Mouse) onMove(e dom.Event) {
	if t := m.opts.MouseThrottle; t > 0 {
		now := m.opts.Clock()
		if !m.lastMove.IsZero() && now.Sub(m.lastMove) < t {
			return
		}
		m.lastMove = now
	}
	m.emit(record.TypeMouse, record.MouseData{Type: record.MouseMove, X: e.X, Y: e.Y})
}

func (m *Mouse) onClick(e dom.Event) {
	data := record.MouseData{Type: record.MouseClick, X: e.X, Y: e.Y}
	if e.Target != nil {
		if id, ok := m.opts.Nodes.Lookup(e.Target); ok {
			data.ID = id
		}
	}
	m.emit(record.TypeMouse, data)
}

package dom

import "golang.org/x/net/html"

// EventType names a document event.
type EventType string

const (
	EventMouseMove    EventType = "mousemove"
	EventClick        EventType = "click"
	EventInput        EventType = "input"
	EventChange       EventType = "change"
	EventFocus        EventType = "focus"
	EventBlur         EventType = "blur"
	EventBeforeUnload EventType = "beforeunload"
)

// Event is delivered synchronously to listeners by Dispatch.
type Event struct {
	Type   EventType
	Target *html.Node // nil for window-level events
	X, Y   int        // pointer position for mouse events
	Value  string     // control value for input/change
}

// Listener handles one event.
type Listener func(Event)

// ListenerID identifies a registration. Func values are not comparable, so
// removal is by id.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// AddEventListener registers fn for events of type t.
func (d *Document) AddEventListener(t EventType, fn Listener) ListenerID {
	d.nextListener++
	id := d.nextListener
	d.listeners[t] = append(d.listeners[t], listenerEntry{id: id, fn: fn})
	return id
}

// RemoveEventListener unregisters id. It reports whether a listener was
// removed, so a second call for the same id is a harmless false.
func (d *Document) RemoveEventListener(t EventType, id ListenerID) bool {
	entries := d.listeners[t]
	for i, e := range entries {
		if e.id == id {
			d.listeners[t] = append(entries[:i:i], entries[i+1:]...)
			if len(d.listeners[t]) == 0 {
				delete(d.listeners, t)
			}
			return true
		}
	}
	return false
}

// ListenerCount returns the number of registered listeners for all types.
func (d *Document) ListenerCount() int {
	n := 0
	for _, entries := range d.listeners {
		n += len(entries)
	}
	return n
}

// Dispatch delivers e to the listeners registered for its type, in
// registration order. Listeners added or removed during dispatch take
// effect on the next event.
func (d *Document) Dispatch(e Event) {
	entries := append([]listenerEntry(nil), d.listeners[e.Type]...)
	for _, entry := range entries {
		entry.fn(e)
	}
}

// MoveMouse dispatches a mousemove at (x, y).
func (d *Document) MoveMouse(x, y int) {
	d.Dispatch(Event{Type: EventMouseMove, X: x, Y: y})
}

// Click dispatches a click at (x, y) on target (which may be nil).
func (d *Document) Click(target *html.Node, x, y int) {
	d.Dispatch(Event{Type: EventClick, Target: target, X: x, Y: y})
}

// Input sets the live value of a form control and dispatches an input event.
func (d *Document) Input(n *html.Node, value string) {
	d.SetValue(n, value)
	d.Dispatch(Event{Type: EventInput, Target: n, Value: value})
}

// Unload dispatches beforeunload. Listeners must finish synchronously.
func (d *Document) Unload() {
	d.Dispatch(Event{Type: EventBeforeUnload})
}

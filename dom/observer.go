package dom

import "golang.org/x/net/html"

// MutationType is the kind of a MutationRecord.
type MutationType string

const (
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
	MutationChildList     MutationType = "childList"
)

// MutationRecord describes one change, like the browser's record of the same
// name. Target is the changed node for attributes and characterData and the
// parent for childList.
type MutationRecord struct {
	Type          MutationType
	Target        *html.Node
	AttributeName string
	AddedNodes    []*html.Node
	RemovedNodes  []*html.Node
}

// ObserverFunc receives the records queued since the previous Flush.
type ObserverFunc func([]MutationRecord)

// ObserverID identifies an observer registration.
type ObserverID uint64

type observerEntry struct {
	id ObserverID
	fn ObserverFunc
}

// Observe registers fn to receive every mutation of the document.
func (d *Document) Observe(fn ObserverFunc) ObserverID {
	d.nextObserver++
	id := d.nextObserver
	d.observers = append(d.observers, observerEntry{id: id, fn: fn})
	return id
}

// Disconnect unregisters an observer. It reports whether one was removed.
// Records still pending for it are dropped.
func (d *Document) Disconnect(id ObserverID) bool {
	for i, o := range d.observers {
		if o.id == id {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			if len(d.observers) == 0 {
				d.pending = nil
			}
			return true
		}
	}
	return false
}

// ObserverCount returns the number of registered observers.
func (d *Document) ObserverCount() int { return len(d.observers) }

// Pending returns the number of queued, undelivered records.
func (d *Document) Pending() int { return len(d.pending) }

// Flush delivers queued records to every observer in registration order.
// Each observer gets the full batch.
func (d *Document) Flush() {
	if len(d.pending) == 0 {
		return
	}
	batch := d.pending
	d.pending = nil
	observers := append([]observerEntry(nil), d.observers...)
	for _, o := range observers {
		o.fn(batch)
	}
}

func (d *Document) queue(rec MutationRecord) {
	if len(d.observers) == 0 {
		return
	}
	d.pending = append(d.pending, rec)
}

package watcher

import (
	"sync"

	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/record"
)

// Terminate emits a single TERMINATE record when the page is about to
// unload. The record carries no data.
type Terminate struct {
	*base
	once sync.Once
}

// NewTerminate installs a terminate watcher.
func NewTerminate(opts Options) (Watcher, error) {
	b, err := newBase(KindTerminate, opts)
	if err != nil {
		return nil, err
	}
	t := &Terminate{base: b}
	t.listen(dom.EventBeforeUnload, t.onUnload)
	return t, nil
}

func (t *Terminate) onUnload(dom.Event) {
	t.once.Do(func() {
		t.emit(record.TypeTerminate, nil)
	})
}

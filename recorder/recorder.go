// Package recorder drives a recording: it snapshots the document, installs
// the watchers and forwards their records to one emitter until the session
// terminates.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/timecat/codec"
	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/nodestore"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/watcher"
)

// ErrNotRecording is returned by Session helpers that need an active
// recording.
var ErrNotRecording = errors.New("recorder: not recording")

// Options configures a recording.
type Options struct {
	// Emitter receives the snapshot record first, then every watcher
	// record. Required.
	Emitter func(record.Record)
	// Kinds selects the watchers. Default: every kind in Registry.
	Kinds []watcher.Kind
	// Registry supplies watcher constructors. Default: watcher.DefaultRegistry().
	Registry *watcher.Registry
	// Nodes is the identity store. Default: a fresh store.
	Nodes         *nodestore.Store
	Clock         func() time.Time
	MouseThrottle time.Duration
	Logger        *slog.Logger

	// Page metadata carried by the snapshot.
	Href          string
	Width, Height int
}

func (o *Options) defaults() {
	if o.Registry == nil {
		o.Registry = watcher.DefaultRegistry()
	}
	if o.Nodes == nil {
		o.Nodes = nodestore.New()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Recorder is one active recording.
type Recorder struct {
	opts     Options
	watchers []watcher.Watcher

	mu          sync.Mutex
	terminated  bool
	uninstalled bool
	emitted     int
}

// Record snapshots doc, emits the snapshot and installs the watchers.
func Record(doc *dom.Document, opts Options) (*Recorder, error) {
	if doc == nil {
		return nil, fmt.Errorf("recorder: nil document")
	}
	if opts.Emitter == nil {
		return nil, fmt.Errorf("recorder: nil emitter")
	}
	opts.defaults()
	r := &Recorder{opts: opts}

	snap := record.Snapshot{
		Time:     codec.EncodeTime(opts.Clock().UnixMilli()),
		NodeTree: dom.Serialize(doc.Root(), opts.Nodes, false),
		Href:     opts.Href,
		Width:    opts.Width,
		Height:   opts.Height,
	}
	sr, err := snap.Record()
	if err != nil {
		return nil, fmt.Errorf("recorder: snapshot: %w", err)
	}
	r.emit(sr)

	ws, err := opts.Registry.Install(opts.Kinds, watcher.Options{
		Context:       doc,
		Nodes:         opts.Nodes,
		EmitterHook:   r.emit,
		Clock:         opts.Clock,
		MouseThrottle: opts.MouseThrottle,
		Logger:        opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("recorder: install watchers: %w", err)
	}
	r.watchers = ws
	opts.Logger.Info("recorder: started", "watchers", len(ws), "nodes", opts.Nodes.Len())
	return r, nil
}

func (r *Recorder) emit(rec record.Record) {
	r.mu.Lock()
	if r.terminated || r.uninstalled {
		r.mu.Unlock()
		return
	}
	if rec.Type == record.TypeTerminate {
		r.terminated = true
	}
	r.emitted++
	r.mu.Unlock()
	r.opts.Emitter(rec)
}

// Uninstall removes every watcher. Safe to call more than once.
func (r *Recorder) Uninstall() {
	r.mu.Lock()
	if r.uninstalled {
		r.mu.Unlock()
		return
	}
	r.uninstalled = true
	emitted := r.emitted
	r.mu.Unlock()

	for _, w := range r.watchers {
		w.Uninstall()
	}
	r.opts.Logger.Info("recorder: stopped", "records", emitted)
}

// Terminated reports whether a TERMINATE record went through.
func (r *Recorder) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// Emitted returns the number of records forwarded, snapshot included.
func (r *Recorder) Emitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitted
}

// Nodes returns the identity store of the recording.
func (r *Recorder) Nodes() *nodestore.Store { return r.opts.Nodes }

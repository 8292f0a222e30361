// Package watcher implements the capture components. Each watcher observes
// one category of change on a document and emits typed records through a
// single hook. Watchers are independent producers: none consumes another's
// output.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/timecat/codec"
	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/nodestore"
	"github.com/hazyhaar/timecat/record"
)

// Kind names a watcher category.
type Kind string

const (
	KindMouse     Kind = "mouse"
	KindDOM       Kind = "dom"
	KindForm      Kind = "form"
	KindTerminate Kind = "terminate"
)

// ErrUnknownKind is returned for a Kind the registry has no constructor for.
var ErrUnknownKind = errors.New("watcher: unknown kind")

// Watcher is the capability every capture component provides. Install
// happens in the constructor; Uninstall reverses every registration and is
// safe to call more than once.
type Watcher interface {
	Kind() Kind
	Uninstall()
}

// Options configures a watcher.
type Options struct {
	// Context is the document observed. Required.
	Context *dom.Document
	// Nodes maps nodes to ids. Required for every watcher that references
	// nodes.
	Nodes *nodestore.Store
	// EmitterHook receives every record. Required.
	EmitterHook func(record.Record)
	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
	// MouseThrottle drops mousemove records closer than this to the previous
	// one. 0 records every move.
	MouseThrottle time.Duration
	Logger        *slog.Logger
}

func (o *Options) defaults() error {
	if o.Context == nil {
		return fmt.Errorf("watcher: options: nil context")
	}
	if o.EmitterHook == nil {
		return fmt.Errorf("watcher: options: nil emitter hook")
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
	return nil
}

// base carries what every watcher shares: the emit path and the uninstall
// closures registered by install.
type base struct {
	kind        Kind
	opts        Options
	mu          sync.Mutex
	uninstalls  []func()
	uninstalled bool
}

func newBase(kind Kind, opts Options) (*base, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	return &base{kind: kind, opts: opts}, nil
}

func (b *base) Kind() Kind { return b.kind }

// listen adds an event listener and registers its removal.
func (b *base) listen(t dom.EventType, fn dom.Listener) {
	doc := b.opts.Context
	id := doc.AddEventListener(t, fn)
	b.onUninstall(func() { doc.RemoveEventListener(t, id) })
}

func (b *base) onUninstall(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uninstalls = append(b.uninstalls, fn)
}

// Uninstall runs the registered closures once, newest first.
func (b *base) Uninstall() {
	b.mu.Lock()
	if b.uninstalled {
		b.mu.Unlock()
		return
	}
	b.uninstalled = true
	fns := b.uninstalls
	b.uninstalls = nil
	b.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
	b.opts.Logger.Debug("watcher: uninstalled", "kind", b.kind)
}

func (b *base) active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.uninstalled
}

// now returns the current time encoded for transport.
func (b *base) now() string {
	return codec.EncodeTime(b.opts.Clock().UnixMilli())
}

func (b *base) emit(typ record.Type, data any) {
	if !b.active() {
		return
	}
	r, err := record.New(typ, data, b.now())
	if err != nil {
		b.opts.Logger.Error("watcher: build record", "kind", b.kind, "error", err)
		return
	}
	b.opts.EmitterHook(r)
}

// Constructor builds and installs a watcher.
type Constructor func(Options) (Watcher, error)

// Registry associates kinds with constructors.
type Registry struct {
	ctors map[Kind]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[Kind]Constructor)}
}

// DefaultRegistry returns a registry holding the four built-in watchers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindMouse, NewMouse)
	r.Register(KindDOM, NewDOM)
	r.Register(KindForm, NewFormElement)
	r.Register(KindTerminate, NewTerminate)
	return r
}

// Register adds or replaces the constructor for kind.
func (r *Registry) Register(kind Kind, ctor Constructor) {
	r.ctors[kind] = ctor
}

// Kinds returns the registered kinds in a stable order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.ctors))
	for k := range r.ctors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// New builds one watcher.
func (r *Registry) New(kind Kind, opts Options) (Watcher, error) {
	ctor, ok := r.ctors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ctor(opts)
}

// Install builds every watcher in kinds (all registered kinds when empty).
// On failure the watchers already installed are uninstalled.
func (r *Registry) Install(kinds []Kind, opts Options) ([]Watcher, error) {
	if len(kinds) == 0 {
		kinds = r.Kinds()
	}
	var installed []Watcher
	for _, k := range kinds {
		w, err := r.New(k, opts)
		if err != nil {
			for _, iw := range installed {
				iw.Uninstall()
			}
			return nil, err
		}
		installed = append(installed, w)
	}
	return installed, nil
}

// Package capture mirrors a live Chrome page into a dom.Document. DOM
// changes arrive as CDP DOM events; pointer, form and unload events come
// from an injected script through a Runtime binding. Recording then runs on
// the mirrored document like on any other.
package capture

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/timecat/capture/internal/browser"
	"github.com/hazyhaar/timecat/dom"
)

//go:embed input.js
var inputJS string

const bindingName = "__timecat_binding"

// Options configures a capture.
type Options struct {
	// URL is the page to open. Required.
	URL string
	// RemoteURL is the DevTools WebSocket of a running Chrome; empty
	// launches one.
	RemoteURL        string
	Headless         bool
	Stealth          bool
	ResourceBlocking []string
	// FlushWindow batches DOM events into one observer delivery. 0 flushes
	// after every event. Default: 50ms.
	FlushWindow time.Duration
	// MouseThrottle is applied in the page before events cross the binding.
	MouseThrottle time.Duration
	// OnReset is called, with the lock held, after the page replaced its
	// document. The previous Document is dead from then on.
	OnReset func(doc *dom.Document)
	Logger  *slog.Logger
}

func (o *Options) defaults() {
	if o.FlushWindow < 0 {
		o.FlushWindow = 0
	} else if o.FlushWindow == 0 {
		o.FlushWindow = 50 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Capture is an open, mirrored page.
type Capture struct {
	opts Options
	mgr  *browser.Manager
	tab  *browser.Tab

	mu     sync.Mutex
	mirror *mirror
	flush  *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// Open starts the browser, opens the page and begins mirroring.
func Open(ctx context.Context, opts Options) (*Capture, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("capture: empty url")
	}
	opts.defaults()
	log := opts.Logger

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        opts.RemoteURL,
		Headless:         opts.Headless,
		Stealth:          opts.Stealth,
		ResourceBlocking: opts.ResourceBlocking,
		Logger:           log,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	tab, err := browser.OpenTab(ctx, mgr, opts.URL)
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("capture: %w", err)
	}

	c := &Capture{opts: opts, mgr: mgr, tab: tab, done: make(chan struct{})}
	if err := c.start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Capture) start(ctx context.Context) error {
	page := c.tab.Page
	log := c.opts.Logger

	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return fmt.Errorf("capture: DOM.enable: %w", err)
	}
	root, err := c.document()
	if err != nil {
		return err
	}
	c.mirror = newMirror(root, log)
	c.mirror.requestChildren = c.requestChildren

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return fmt.Errorf("capture: add binding: %w", err)
	}

	evCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	wait := page.Context(evCtx).EachEvent(
		func(e *proto.DOMChildNodeInserted) { c.domEvent(func(m *mirror) { m.inserted(e) }) },
		func(e *proto.DOMChildNodeRemoved) { c.domEvent(func(m *mirror) { m.removed(e) }) },
		func(e *proto.DOMSetChildNodes) { c.domEvent(func(m *mirror) { m.setChildNodes(e) }) },
		func(e *proto.DOMAttributeModified) { c.domEvent(func(m *mirror) { m.attributeModified(e) }) },
		func(e *proto.DOMAttributeRemoved) { c.domEvent(func(m *mirror) { m.attributeRemoved(e) }) },
		func(e *proto.DOMCharacterDataModified) { c.domEvent(func(m *mirror) { m.characterDataModified(e) }) },
		func(e *proto.DOMDocumentUpdated) { go c.documentUpdated() },
		func(e *proto.RuntimeBindingCalled) {
			if e.Name == bindingName {
				c.inputEvent(e.Payload)
			}
		},
	)
	go func() {
		defer close(c.done)
		wait()
	}()

	js := strings.Replace(inputJS, "__THROTTLE__", strconv.FormatInt(c.opts.MouseThrottle.Milliseconds(), 10), 1)
	// Documents loaded later get the script before their own scripts run.
	if _, err := page.EvalOnNewDocument("(" + js + ")()"); err != nil {
		return fmt.Errorf("capture: register input script: %w", err)
	}
	if _, err := page.Eval(js); err != nil {
		return fmt.Errorf("capture: inject input script: %w", err)
	}
	log.Info("capture: mirroring", "url", c.tab.URL)
	return nil
}

func (c *Capture) document() (*proto.DOMNode, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(c.tab.Page)
	if err != nil {
		return nil, fmt.Errorf("capture: DOM.getDocument: %w", err)
	}
	return res.Root, nil
}

func (c *Capture) requestChildren(id proto.DOMNodeID) {
	go func() {
		depth := -1
		if err := (proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}).Call(c.tab.Page); err != nil {
			c.opts.Logger.Debug("capture: request child nodes", "node_id", id, "error", err)
		}
	}()
}

// domEvent applies one CDP change and schedules the observer flush.
func (c *Capture) domEvent(fn func(*mirror)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.mirror)
	if c.opts.FlushWindow == 0 {
		c.mirror.doc.Flush()
		return
	}
	if c.flush == nil {
		c.flush = time.AfterFunc(c.opts.FlushWindow, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.flush = nil
			c.mirror.doc.Flush()
		})
	}
}

// flushLocked delivers pending mutations now, so they are recorded before
// the input event that follows them.
func (c *Capture) flushLocked() {
	if c.flush != nil {
		c.flush.Stop()
		c.flush = nil
	}
	c.mirror.doc.Flush()
}

func (c *Capture) documentUpdated() {
	root, err := c.document()
	if err != nil {
		c.opts.Logger.Error("capture: document reload failed", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
	c.mirror.reset(root)
	c.opts.Logger.Info("capture: document replaced", "nodes", len(c.mirror.byID))
	if c.opts.OnReset != nil {
		c.opts.OnReset(c.mirror.doc)
	}
}

// pageEvent is what the injected script sends.
type pageEvent struct {
	Type  string `json:"type"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Path  []int  `json:"path"`
	Value string `json:"value"`
}

func (c *Capture) inputEvent(payload string) {
	var ev pageEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		c.opts.Logger.Warn("capture: parse binding payload", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
	dispatch(c.mirror, ev)
}

// dispatch replays a page event on the mirrored document.
func dispatch(m *mirror, ev pageEvent) {
	doc := m.doc
	target := m.resolve(ev.Path)
	switch dom.EventType(ev.Type) {
	case dom.EventMouseMove:
		doc.MoveMouse(ev.X, ev.Y)
	case dom.EventClick:
		doc.Click(target, ev.X, ev.Y)
	case dom.EventInput, dom.EventChange:
		if target == nil {
			return
		}
		doc.SetValue(target, ev.Value)
		doc.Dispatch(dom.Event{Type: dom.EventType(ev.Type), Target: target, Value: ev.Value})
	case dom.EventFocus:
		doc.Focus(target)
	case dom.EventBlur:
		doc.Blur(target)
	case dom.EventBeforeUnload:
		doc.Unload()
	default:
		m.logger.Debug("capture: unknown page event", "type", ev.Type)
	}
}

// Do runs fn on the mirrored document with the capture lock held. Start
// and stop recordings through it.
func (c *Capture) Do(fn func(doc *dom.Document)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
	fn(c.mirror.doc)
}

// Page returns the page URL and viewport size.
func (c *Capture) Page(ctx context.Context) (href string, width, height int) {
	w, h, err := c.tab.Viewport(ctx)
	if err != nil {
		c.opts.Logger.Debug("capture: viewport", "error", err)
	}
	return c.tab.URL, w, h
}

// Close stops mirroring and shuts the browser down.
func (c *Capture) Close() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.mu.Lock()
	if c.flush != nil {
		c.flush.Stop()
		c.flush = nil
	}
	c.mu.Unlock()
	if c.tab != nil {
		c.tab.Close()
	}
	return c.mgr.Close()
}

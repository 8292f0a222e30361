package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/idgen"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/store"
)

// SessionOptions configures a host session.
type SessionOptions struct {
	// Record is the template for each recording. Its Emitter is replaced by
	// the store writer, and every segment gets a fresh Nodes store since
	// replay renumbers from 1 at each snapshot.
	Record Options
	Export ExportOptions
	Logger *slog.Logger
	// NewID generates session ids. Default: idgen.Session.
	NewID idgen.Generator
}

// Session reacts to the host's start and finish signals: start clears the
// store and records into it, finish exports the replay page and stops
// recording. It is safe for concurrent use.
type Session struct {
	store store.Store
	opts  SessionOptions

	mu      sync.Mutex
	id      string
	rec     *Recorder
	recOpts Options
}

// NewSession returns an idle session writing to s.
func NewSession(s store.Store, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = idgen.Session
	}
	if opts.Record.Logger == nil {
		opts.Record.Logger = opts.Logger
	}
	return &Session{store: s, opts: opts}
}

// Start begins recording doc and returns the session id. Starting while a
// recording is active is a no-op that returns the current id.
func (s *Session) Start(ctx context.Context, doc *dom.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		s.opts.Logger.Warn("recorder: start ignored, already recording", "session", s.id)
		return s.id, nil
	}
	if err := s.store.Clear(ctx); err != nil {
		return "", fmt.Errorf("recorder: start: %w", err)
	}

	id := s.opts.NewID()
	log := s.opts.Logger.With("session", id)
	// Records arrive after the start request returns.
	writeCtx := context.WithoutCancel(ctx)
	opts := s.opts.Record
	opts.Logger = opts.Logger.With("session", id)
	opts.Nodes = nil
	opts.Emitter = func(r record.Record) {
		if err := s.store.Add(writeCtx, r); err != nil {
			log.Error("recorder: store add failed", "type", r.Type, "error", err)
		}
	}
	rec, err := Record(doc, opts)
	if err != nil {
		return "", fmt.Errorf("recorder: start: %w", err)
	}
	s.id, s.rec, s.recOpts = id, rec, opts
	return id, nil
}

// Rebind moves an active recording to doc, which replaced the recorded
// document. The new snapshot opens a new segment in the same store.
// Without an active recording it does nothing.
func (s *Session) Rebind(doc *dom.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil
	}
	s.rec.Uninstall()
	opts := s.recOpts
	opts.Nodes = nil
	rec, err := Record(doc, opts)
	if err != nil {
		s.rec = nil
		return fmt.Errorf("recorder: rebind: %w", err)
	}
	s.rec = rec
	s.opts.Logger.Info("recorder: rebound to new document", "session", s.id)
	return nil
}

// Finish exports the replay page and stops recording. Without an active
// recording it does nothing and returns "".
func (s *Session) Finish(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		s.opts.Logger.Info("recorder: finish ignored, not recording")
		return "", nil
	}
	page, err := Export(ctx, s.store, s.opts.Export)
	s.rec.Uninstall()
	s.opts.Logger.Info("recorder: finished", "session", s.id, "records", s.rec.Emitted())
	s.rec = nil
	if err != nil {
		return "", err
	}
	return page, nil
}

// Current returns the active recorder and its session id.
func (s *Session) Current() (*Recorder, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, "", ErrNotRecording
	}
	return s.rec, s.id, nil
}

// Recording reports whether a recording is active.
func (s *Session) Recording() bool {
	_, _, err := s.Current()
	return err == nil
}

// Package server exposes recording, storage and replay control over HTTP
// (chi) and as MCP tools.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/player"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/recorder"
	"github.com/hazyhaar/timecat/store"
	"github.com/hazyhaar/timecat/timeline"
)

var (
	// ErrNoSource means recording was requested without a document source.
	ErrNoSource = errors.New("server: no document to record")
	// ErrNoReplay means a replay operation ran before any replay was loaded.
	ErrNoReplay = errors.New("server: no replay loaded")
	// ErrNotFollowable means a live replay was requested from a store that
	// cannot be tailed.
	ErrNotFollowable = errors.New("server: record store cannot be followed")
)

// Source gives serialized access to the document being recorded.
// *capture.Capture satisfies it.
type Source interface {
	Do(fn func(doc *dom.Document))
}

type static struct {
	mu  sync.Mutex
	doc *dom.Document
}

func (s *static) Do(fn func(*dom.Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// Static wraps an in-process document as a Source.
func Static(doc *dom.Document) Source { return &static{doc: doc} }

// Config wires the server's collaborators.
type Config struct {
	Store   store.Store
	Session *recorder.Session
	// Source is the document recorded on start. Nil disables the start
	// operation; records can still be ingested.
	Source Source
	Export recorder.ExportOptions

	Player       player.Options
	Timeline     timeline.Options
	TickInterval time.Duration
	// FollowInterval is the store polling period of a followed replay.
	FollowInterval time.Duration

	MaxBody int64
	Headers *HeaderConfig
	Logger  *slog.Logger
}

func (c *Config) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("server: nil store")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Session == nil {
		c.Session = recorder.NewSession(c.Store, recorder.SessionOptions{Export: c.Export, Logger: c.Logger})
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 32 << 20
	}
	if c.Headers == nil {
		h := DefaultHeaders()
		c.Headers = &h
	}
	return nil
}

// replay couples a player with the controller driving it.
type replay struct {
	player *player.Player
	ctrl   *timeline.Controller
	cancel context.CancelFunc
}

// Server holds the recording session and at most one loaded replay.
type Server struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	md     *converter.Converter

	mu     sync.Mutex
	replay *replay
}

// New returns a Server. Close stops any running replay.
func New(cfg Config) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{cfg: cfg, ctx: ctx, cancel: cancel, md: newMarkdownConverter()}, nil
}

// Close stops the replay clock.
func (s *Server) Close() error {
	s.cancel()
	return nil
}

// StartRecording records the source document into the store.
func (s *Server) StartRecording(ctx context.Context) (string, error) {
	if s.cfg.Source == nil {
		return "", ErrNoSource
	}
	var (
		id  string
		err error
	)
	s.cfg.Source.Do(func(doc *dom.Document) {
		id, err = s.cfg.Session.Start(ctx, doc)
	})
	return id, err
}

// FinishRecording stops recording and returns the exported page, or ""
// when nothing was recording.
func (s *Server) FinishRecording(ctx context.Context) (string, error) {
	var (
		page string
		err  error
	)
	finish := func(*dom.Document) { page, err = s.cfg.Session.Finish(ctx) }
	if s.cfg.Source != nil {
		// Watchers uninstall from the document, so hold its lock.
		s.cfg.Source.Do(finish)
	} else {
		finish(nil)
	}
	return page, err
}

// Ingest appends externally recorded records to the store.
func (s *Server) Ingest(ctx context.Context, recs []record.Record) error {
	for i, r := range recs {
		if err := validateType(r.Type); err != nil {
			return fmt.Errorf("server: ingest record %d: %w", i, err)
		}
	}
	for _, r := range recs {
		if err := s.cfg.Store.Add(ctx, r); err != nil {
			return fmt.Errorf("server: ingest: %w", err)
		}
	}
	return nil
}

func validateType(t record.Type) error {
	switch t {
	case record.TypeSnapshot, record.TypeMouse, record.TypeDOMUpdate, record.TypeFormElUpdate, record.TypeTerminate:
		return nil
	}
	return fmt.Errorf("unknown record type %q", t)
}

// Export renders the stored records as a replay page.
func (s *Server) Export(ctx context.Context) (string, error) {
	return recorder.Export(ctx, s.cfg.Store, s.cfg.Export)
}

// LoadReplay resolves replay data through the player's source chain and
// replaces the current replay. Store is used when opts names no source.
func (s *Server) LoadReplay(ctx context.Context, opts player.LoadOptions) (timeline.Info, error) {
	return s.load(ctx, opts, nil)
}

// FollowReplay replays the record store live: it waits, bounded by ctx,
// for the first stored snapshot and then appends every record written
// afterwards until the replay is replaced or the server closes.
func (s *Server) FollowReplay(ctx context.Context) (timeline.Info, error) {
	f, ok := s.cfg.Store.(store.Follower)
	if !ok {
		return timeline.Info{}, ErrNotFollowable
	}
	return s.load(ctx, player.LoadOptions{}, f)
}

func (s *Server) load(ctx context.Context, opts player.LoadOptions, follow store.Follower) (timeline.Info, error) {
	if opts.Logger == nil {
		opts.Logger = s.cfg.Logger
	}
	rctx, cancel := context.WithCancel(s.ctx)
	if follow != nil {
		opts.Receiver = store.Stream(rctx, follow, store.FollowOptions{Interval: s.cfg.FollowInterval, Logger: s.cfg.Logger})
	}
	if len(opts.ReplayDataList) == 0 && opts.Receiver == nil && opts.InlineData == "" && opts.Store == nil && len(opts.Global) == 0 {
		opts.Store = s.cfg.Store
	}

	var live chan record.Record
	if opts.Receiver != nil {
		// Live records queue until the controller exists.
		live = make(chan record.Record, 64)
		opts.OnRecord = func(r record.Record) {
			select {
			case live <- r:
			case <-rctx.Done():
			}
		}
	}

	list, err := player.Load(ctx, opts)
	if err != nil {
		cancel()
		return timeline.Info{}, err
	}
	p := player.New(s.cfg.Player)
	ctrl, err := timeline.New(p, list, s.cfg.Timeline)
	if err != nil {
		cancel()
		return timeline.Info{}, fmt.Errorf("server: load replay: %w", err)
	}
	ctrl.Begin()
	if err := ctrl.FrameReady(); err != nil {
		cancel()
		return timeline.Info{}, fmt.Errorf("server: load replay: %w", err)
	}
	go ctrl.Run(rctx, s.cfg.TickInterval)
	if live != nil {
		go appendLive(rctx, ctrl, live)
	}

	s.mu.Lock()
	if s.replay != nil {
		s.replay.cancel()
	}
	s.replay = &replay{player: p, ctrl: ctrl, cancel: cancel}
	s.mu.Unlock()

	info := ctrl.Info()
	s.cfg.Logger.Info("server: replay loaded", "segments", len(list), "frames", info.Length, "state", info.State, "follow", follow != nil)
	return info, nil
}

func appendLive(ctx context.Context, ctrl *timeline.Controller, live <-chan record.Record) {
	for {
		select {
		case r := <-live:
			ctrl.Append(r)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) current() (*replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replay == nil {
		return nil, ErrNoReplay
	}
	return s.replay, nil
}

// ReplayInfo returns the loaded replay's timeline state.
func (s *Server) ReplayInfo() (timeline.Info, error) {
	r, err := s.current()
	if err != nil {
		return timeline.Info{}, err
	}
	return r.ctrl.Info(), nil
}

// Seek moves the loaded replay to global time t.
func (s *Server) Seek(t int64) (timeline.Info, error) {
	r, err := s.current()
	if err != nil {
		return timeline.Info{}, err
	}
	if err := r.ctrl.Seek(t); err != nil {
		return timeline.Info{}, err
	}
	return r.ctrl.Info(), nil
}

// SetSpeed changes the playing speed; 0 pauses.
func (s *Server) SetSpeed(speed float64) (timeline.Info, error) {
	r, err := s.current()
	if err != nil {
		return timeline.Info{}, err
	}
	if err := r.ctrl.SetSpeed(speed); err != nil {
		return timeline.Info{}, err
	}
	return r.ctrl.Info(), nil
}

// Play gives the explicit start signal.
func (s *Server) Play() (timeline.Info, error) {
	r, err := s.current()
	if err != nil {
		return timeline.Info{}, err
	}
	r.ctrl.Start()
	return r.ctrl.Info(), nil
}

// Frame renders the replayed document at the current time, sanitized.
func (s *Server) Frame() (string, error) {
	r, err := s.current()
	if err != nil {
		return "", err
	}
	var page string
	r.ctrl.Do(func() { page, err = r.player.SafeHTML() })
	return page, err
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(TraceID(s.cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(*s.cfg.Headers))
	r.Use(MaxBody(s.cfg.MaxBody))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	export := ExportHeaders(*s.cfg.Headers)
	r.Route("/record", func(r chi.Router) {
		r.Get("/", s.handleRecordStatus)
		r.Post("/start", s.handleRecordStart)
		r.With(export).Post("/finish", s.handleRecordFinish)
	})

	r.Route("/records", func(r chi.Router) {
		r.Get("/", s.handleRecordsList)
		r.Post("/", s.handleRecordsIngest)
	})
	r.With(export).Get("/export", s.handleExport)

	r.Route("/replay", func(r chi.Router) {
		r.Get("/", s.handleReplayInfo)
		r.Post("/", s.handleReplayLoad)
		r.Post("/seek", s.handleReplaySeek)
		r.Post("/speed", s.handleReplaySpeed)
		r.Post("/play", s.handleReplayPlay)
		r.Get("/frame", s.handleReplayFrame)
	})
	return r
}

func (s *Server) handleRecordStatus(w http.ResponseWriter, _ *http.Request) {
	_, id, err := s.cfg.Session.Current()
	writeJSON(w, http.StatusOK, map[string]any{"recording": err == nil, "session": id})
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	id, err := s.StartRecording(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrNoSource) {
			code = http.StatusConflict
		}
		GetLogger(r.Context()).Error("server: record start", "error", err)
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session": id})
}

func (s *Server) handleRecordFinish(w http.ResponseWriter, r *http.Request) {
	page, err := s.FinishRecording(r.Context())
	if err != nil {
		GetLogger(r.Context()).Error("server: record finish", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if page == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writePage(w, page)
}

func (s *Server) handleRecordsList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cfg.Store.ReadAllRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []record.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleRecordsIngest accepts one record or an array of records.
func (s *Server) handleRecordsIngest(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode: %w", err))
		return
	}
	var recs []record.Record
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &recs); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode: %w", err))
			return
		}
	} else {
		rec, err := record.UnmarshalRecord(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		recs = []record.Record{rec}
	}
	if err := s.Ingest(r.Context(), recs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(recs)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	page, err := s.Export(r.Context())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writePage(w, page)
}

func (s *Server) handleReplayInfo(w http.ResponseWriter, _ *http.Request) {
	info, err := s.ReplayInfo()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleReplayLoad loads from the body's inline data (an encoded data list
// or an exported page) or, with an empty body, from the store. With
// "follow" it replays the store live.
func (s *Server) handleReplayLoad(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Inline string `json:"inline"`
		Follow bool   `json:"follow"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode: %w", err))
			return
		}
	}
	var (
		info timeline.Info
		err  error
	)
	if req.Follow {
		info, err = s.FollowReplay(r.Context())
	} else {
		opts := player.LoadOptions{InlineData: req.Inline, Compressor: s.cfg.Export.Compressor}
		if req.Inline != "" {
			opts.Store = s.cfg.Store
		}
		info, err = s.LoadReplay(r.Context(), opts)
	}
	if err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, player.ErrNoReplayData):
			code = http.StatusNotFound
		case errors.Is(err, ErrNotFollowable):
			code = http.StatusConflict
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			code = http.StatusGatewayTimeout
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleReplaySeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time *int64 `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Time == nil {
		writeError(w, http.StatusBadRequest, errors.New("time is required"))
		return
	}
	s.replayResult(w, func() (timeline.Info, error) { return s.Seek(*req.Time) })
}

func (s *Server) handleReplaySpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed == nil {
		writeError(w, http.StatusBadRequest, errors.New("speed is required"))
		return
	}
	s.replayResult(w, func() (timeline.Info, error) { return s.SetSpeed(*req.Speed) })
}

func (s *Server) handleReplayPlay(w http.ResponseWriter, _ *http.Request) {
	s.replayResult(w, s.Play)
}

func (s *Server) replayResult(w http.ResponseWriter, fn func() (timeline.Info, error)) {
	info, err := fn()
	switch {
	case errors.Is(err, ErrNoReplay):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeJSON(w, http.StatusOK, info)
	}
}

func (s *Server) handleReplayFrame(w http.ResponseWriter, r *http.Request) {
	if t := r.URL.Query().Get("t"); t != "" {
		at, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("t: %w", err))
			return
		}
		if _, err := s.Seek(at); err != nil {
			s.replayResult(w, func() (timeline.Info, error) { return timeline.Info{}, err })
			return
		}
	}
	render, contentType := s.Frame, "text/html; charset=utf-8"
	if r.URL.Query().Get("format") == "markdown" {
		render, contentType = s.FrameMarkdown, "text/markdown; charset=utf-8"
	}
	page, err := render()
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrNoReplay) {
			code = http.StatusNotFound
		}
		writeError(w, code, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write([]byte(page))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writePage(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(page))
}

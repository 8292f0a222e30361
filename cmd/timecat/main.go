// Command timecat records page sessions and replays them.
//
// Usage:
//
//	timecat serve  [-url https://example.com]      # HTTP control API, optional live capture source
//	timecat capture -url https://example.com -out replay.html
//	timecat replay -in replay.html                 # serve frames of an exported replay
//	timecat replay -follow                         # replay the record store live
//
// Every mode accepts -config timecat.yaml and -log-level. serve and replay
// accept -mcp to expose the tools over stdio instead of HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/timecat/capture"
	"github.com/hazyhaar/timecat/config"
	"github.com/hazyhaar/timecat/dbopen"
	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/player"
	"github.com/hazyhaar/timecat/recorder"
	"github.com/hazyhaar/timecat/server"
	"github.com/hazyhaar/timecat/store"
	"github.com/hazyhaar/timecat/timeline"
	"github.com/hazyhaar/timecat/watcher"
)

const version = "0.1.0"

type flags struct {
	config   string
	logLevel string
	url      string
	out      string
	in       string
	mcp      bool
	follow   bool
	session  string
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	mode := os.Args[1]

	var f flags
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	fs.StringVar(&f.config, "config", "", "path to timecat.yaml config file")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&f.url, "url", "", "page to capture")
	fs.StringVar(&f.out, "out", "replay.html", "exported replay page (capture)")
	fs.StringVar(&f.in, "in", "", "exported replay page or encoded data file (replay)")
	fs.BoolVar(&f.mcp, "mcp", false, "serve MCP tools over stdio instead of HTTP")
	fs.BoolVar(&f.follow, "follow", false, "replay the record store live as records arrive (replay)")
	fs.StringVar(&f.session, "store-session", "default", "record store namespace")
	fs.Parse(os.Args[2:])

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, mode, f); err != nil {
		logger.Error("timecat: fatal", "mode", mode, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: timecat serve|capture|replay [-config file] [-url url] [-out file] [-in file] [-follow] [-mcp]")
	os.Exit(2)
}

func run(ctx context.Context, logger *slog.Logger, mode string, f flags) error {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.LoadFile(f.config); err != nil {
			return err
		}
	}

	switch mode {
	case "serve":
		return runServe(ctx, logger, cfg, f)
	case "capture":
		return runCapture(ctx, logger, cfg, f)
	case "replay":
		return runReplay(ctx, logger, cfg, f)
	}
	usage()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, session string) (*store.SQLite, func(), error) {
	opts := []dbopen.Option{dbopen.WithMkdirAll()}
	if mode := cfg.Recording.Store.Synchronous; mode != "" {
		opts = append(opts, dbopen.WithSynchronous(strings.ToUpper(mode)))
	}
	db, err := dbopen.Open(cfg.Recording.Store.Path, opts...)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewSQLite(ctx, db, session)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return st, func() { db.Close() }, nil
}

func recordOptions(cfg *config.Config, logger *slog.Logger) recorder.Options {
	kinds := make([]watcher.Kind, 0, len(cfg.Recording.Watchers))
	for _, k := range cfg.Recording.Watchers {
		kinds = append(kinds, watcher.Kind(k))
	}
	if len(kinds) == 0 {
		kinds = nil
	}
	return recorder.Options{
		Kinds:         kinds,
		MouseThrottle: cfg.Recording.MouseThrottle,
		Logger:        logger,
	}
}

func exportOptions(cfg *config.Config) recorder.ExportOptions {
	return recorder.ExportOptions{
		Scripts:  cfg.Recording.Scripts,
		AutoPlay: cfg.Replay.AutoplayEnabled(),
	}
}

func captureOptions(cfg *config.Config, url string, logger *slog.Logger) capture.Options {
	return capture.Options{
		URL:              url,
		RemoteURL:        cfg.Browser.Remote,
		Headless:         cfg.Browser.HeadlessEnabled(),
		Stealth:          cfg.Browser.Stealth,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		FlushWindow:      cfg.Recording.FlushWindow,
		MouseThrottle:    cfg.Recording.MouseThrottle,
		Logger:           logger,
	}
}

// openCapture opens url and returns a session recording it. The session
// follows the page across document replacements.
func openCapture(ctx context.Context, logger *slog.Logger, cfg *config.Config, url string, st store.Store) (*capture.Capture, *recorder.Session, error) {
	var sess *recorder.Session
	opts := captureOptions(cfg, url, logger)
	opts.OnReset = func(doc *dom.Document) {
		if sess == nil {
			return
		}
		if err := sess.Rebind(doc); err != nil {
			logger.Error("timecat: rebind after navigation", "error", err)
		}
	}
	c, err := capture.Open(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	rec := recordOptions(cfg, logger)
	rec.Href, rec.Width, rec.Height = c.Page(ctx)
	s := recorder.NewSession(st, recorder.SessionOptions{
		Record: rec,
		Export: exportOptions(cfg),
		Logger: logger,
	})
	// OnReset runs under the capture lock.
	c.Do(func(*dom.Document) { sess = s })
	return c, s, nil
}

func newServer(logger *slog.Logger, cfg *config.Config, st store.Store, sess *recorder.Session, src server.Source) (*server.Server, error) {
	return server.New(server.Config{
		Store:   st,
		Session: sess,
		Source:  src,
		Export:  exportOptions(cfg),
		Player:  player.Options{StrictRemoval: cfg.Replay.StrictRemoval, Logger: logger},
		Timeline: timeline.Options{
			Autoplay: cfg.Replay.AutoplayEnabled(),
			Speed:    cfg.Replay.Speed,
			Logger:   logger,
		},
		TickInterval:   cfg.Replay.TickInterval,
		FollowInterval: cfg.Replay.FollowInterval,
		MaxBody:        cfg.Server.MaxBody,
		Logger:         logger,
	})
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *config.Config, f flags) error {
	st, closeDB, err := openStore(ctx, cfg, f.session)
	if err != nil {
		return err
	}
	defer closeDB()

	var (
		sess *recorder.Session
		src  server.Source
	)
	if f.url != "" {
		c, s, err := openCapture(ctx, logger, cfg, f.url, st)
		if err != nil {
			return err
		}
		defer c.Close()
		sess, src = s, c
	} else {
		sess = recorder.NewSession(st, recorder.SessionOptions{
			Record: recordOptions(cfg, logger),
			Export: exportOptions(cfg),
			Logger: logger,
		})
	}

	srv, err := newServer(logger, cfg, st, sess, src)
	if err != nil {
		return err
	}
	defer srv.Close()
	return serve(ctx, logger, cfg, srv, f.mcp)
}

func runCapture(ctx context.Context, logger *slog.Logger, cfg *config.Config, f flags) error {
	if f.url == "" {
		return errors.New("capture: -url is required")
	}
	st, closeDB, err := openStore(ctx, cfg, f.session)
	if err != nil {
		return err
	}
	defer closeDB()

	c, sess, err := openCapture(ctx, logger, cfg, f.url, st)
	if err != nil {
		return err
	}
	defer c.Close()

	var id string
	c.Do(func(doc *dom.Document) { id, err = sess.Start(ctx, doc) })
	if err != nil {
		return err
	}
	logger.Info("timecat: recording", "session", id, "url", f.url)

	<-ctx.Done()

	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var page string
	c.Do(func(*dom.Document) { page, err = sess.Finish(finishCtx) })
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.out, []byte(page), 0o644); err != nil {
		return fmt.Errorf("capture: write: %w", err)
	}
	logger.Info("timecat: replay written", "session", id, "path", f.out, "bytes", len(page))
	return nil
}

func runReplay(ctx context.Context, logger *slog.Logger, cfg *config.Config, f flags) error {
	st, closeDB, err := openStore(ctx, cfg, f.session)
	if err != nil {
		return err
	}
	defer closeDB()

	srv, err := newServer(logger, cfg, st, nil, nil)
	if err != nil {
		return err
	}
	defer srv.Close()

	var info timeline.Info
	switch {
	case f.follow && f.in != "":
		return errors.New("replay: -follow and -in are exclusive")
	case f.follow:
		logger.Info("timecat: waiting for a snapshot", "store-session", f.session)
		if info, err = srv.FollowReplay(ctx); err != nil {
			return err
		}
	default:
		opts := player.LoadOptions{Store: st}
		if f.in != "" {
			data, err := os.ReadFile(f.in)
			if err != nil {
				return fmt.Errorf("replay: read: %w", err)
			}
			opts.InlineData = string(data)
		}
		if info, err = srv.LoadReplay(ctx, opts); err != nil {
			return err
		}
	}
	logger.Info("timecat: replay ready", "follow", f.follow, "frames", info.Length, "start", info.StartTime, "end", info.EndTime)
	return serve(ctx, logger, cfg, srv, f.mcp)
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config, srv *server.Server, stdio bool) error {
	if stdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "timecat", Version: version}, nil)
		srv.RegisterMCP(mcpSrv)
		logger.Info("timecat: MCP on stdio")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("timecat: listening", "addr", cfg.Server.Addr)
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Error("timecat: shutdown", "error", err)
	}
	logger.Info("timecat: stopped")
	return nil
}

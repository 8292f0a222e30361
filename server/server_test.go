package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/recorder"
	"github.com/hazyhaar/timecat/store"
	"github.com/hazyhaar/timecat/timeline"
)

const page = `<!DOCTYPE html><html><head></head><body><div id="app"><p id="msg">hello</p></div></body></html>`

type fixture struct {
	srv   *Server
	ts    *httptest.Server
	doc   *dom.Document
	store *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	ms := int64(1_700_000_000_000)
	clock := func() time.Time {
		ms += 10
		return time.UnixMilli(ms)
	}
	st := store.NewMemory()
	sess := recorder.NewSession(st, recorder.SessionOptions{
		Record: recorder.Options{Clock: clock},
		Export: recorder.ExportOptions{Scripts: []string{"/replay.js"}},
	})
	srv, err := New(Config{Store: st, Session: sess, Source: Static(doc)})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &fixture{srv: srv, ts: ts, doc: doc, store: st}
}

// edit changes the paragraph text and ends the page.
func (f *fixture) edit() {
	f.doc.SetText(f.doc.ElementByID("msg").FirstChild, "bye")
	f.doc.Flush()
	f.doc.Unload()
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func decodeInfo(t *testing.T, resp *http.Response) timeline.Info {
	t.Helper()
	var info timeline.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	return info
}

func TestNew_NilStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("want error for nil store")
	}
}

func TestHTTP_RecordAndReplay(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/record/finish", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("finish before start: got %d, want 204", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/record/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: got %d", resp.StatusCode)
	}
	var started struct {
		Session string `json:"session"`
	}
	json.NewDecoder(resp.Body).Decode(&started)
	if !strings.HasPrefix(started.Session, "ses_") {
		t.Errorf("session: got %q", started.Session)
	}

	f.edit()

	resp = f.do(t, http.MethodGet, "/records", "")
	var recs []record.Record
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 || recs[1].Type != record.TypeDOMUpdate {
		t.Fatalf("records: got %+v", recs)
	}

	resp = f.do(t, http.MethodPost, "/record/finish", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish: got %d", resp.StatusCode)
	}
	if csp := resp.Header.Get("Content-Security-Policy"); !strings.Contains(csp, "'unsafe-inline'") {
		t.Errorf("export CSP: got %q", csp)
	}
	if body := readBody(t, resp); !strings.Contains(body, `<script src="/replay.js"></script>`) {
		t.Errorf("finish page: %s", body)
	}

	resp = f.do(t, http.MethodPost, "/replay", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay load: got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	info := decodeInfo(t, resp)
	if info.Length != 2 || info.State != timeline.Paused {
		t.Fatalf("info: got %+v", info)
	}
	if info.StartTime != 1_700_000_000_020 || info.EndTime != 1_700_000_000_030 {
		t.Errorf("times: got %d..%d", info.StartTime, info.EndTime)
	}

	resp = f.do(t, http.MethodGet, "/replay/frame", "")
	if body := readBody(t, resp); !strings.Contains(body, "hello") {
		t.Errorf("initial frame: %s", body)
	}

	resp = f.do(t, http.MethodPost, "/replay/seek", `{"time": 9999999999999}`)
	info = decodeInfo(t, resp)
	if info.State != timeline.Finished || info.Frame != 2 {
		t.Errorf("after seek: got %+v", info)
	}

	resp = f.do(t, http.MethodGet, "/replay/frame", "")
	if body := readBody(t, resp); !strings.Contains(body, "bye") || strings.Contains(body, "hello") {
		t.Errorf("final frame: %s", body)
	}

	resp = f.do(t, http.MethodGet, "/replay/frame?format=markdown", "")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("markdown content type: got %q", ct)
	}
	if body := readBody(t, resp); body != "bye" {
		t.Errorf("markdown frame: got %q, want %q", body, "bye")
	}

	resp = f.do(t, http.MethodGet, "/replay/frame?t=1700000000020", "")
	if body := readBody(t, resp); !strings.Contains(body, "bye") {
		t.Errorf("frame at first record: %s", body)
	}
	info, err := f.srv.ReplayInfo()
	if err != nil || info.State != timeline.Paused {
		t.Errorf("seek back state: got %+v, %v", info, err)
	}
}

func TestHTTP_ReplayNotLoaded(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/replay", ""},
		{http.MethodGet, "/replay/frame", ""},
		{http.MethodPost, "/replay/seek", `{"time": 1}`},
		{http.MethodPost, "/replay/speed", `{"speed": 2}`},
		{http.MethodPost, "/replay/play", ""},
	} {
		resp := f.do(t, tc.method, tc.path, tc.body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s: got %d, want 404", tc.method, tc.path, resp.StatusCode)
		}
	}
	resp := f.do(t, http.MethodPost, "/replay", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("load from empty store: got %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_Ingest(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/records", `{"type":"BOGUS","data":null,"time":"1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus type: got %d, want 400", resp.StatusCode)
	}
	if f.store.Len() != 0 {
		t.Fatalf("stored after reject: %d", f.store.Len())
	}

	resp = f.do(t, http.MethodPost, "/records", `[{"type":"MOUSE","data":{"type":"MOVE","x":1,"y":2},"time":"5"},{"type":"TERMINATE","data":null,"time":"6"}]`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("batch: got %d", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/records", `{"type":"TERMINATE","data":null,"time":"7"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("single: got %d", resp.StatusCode)
	}
	if f.store.Len() != 3 {
		t.Errorf("stored: got %d, want 3", f.store.Len())
	}

	resp = f.do(t, http.MethodGet, "/export", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("export without snapshot: got %d, want 404", resp.StatusCode)
	}
}

func TestHTTP_NoSource(t *testing.T) {
	srv, err := New(Config{Store: store.NewMemory()})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/record/start", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("start without source: got %d, want 409", rec.Code)
	}
}

func TestMiddleware(t *testing.T) {
	srv, err := New(Config{Store: store.NewMemory(), MaxBody: 16})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("missing X-Trace-ID")
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options: got %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: got %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != DefaultHeaders().CSP {
		t.Errorf("API CSP: got %q", got)
	}

	rec = httptest.NewRecorder()
	body := bytes.NewBufferString(`{"type":"TERMINATE","data":null,"time":"123456789"}`)
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/records", body))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized body: got %d, want 400", rec.Code)
	}
}

func TestExportHeaders(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
	cfg := DefaultHeaders()

	rec := httptest.NewRecorder()
	ExportHeaders(cfg)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export", nil))
	if got := rec.Header().Get("Content-Security-Policy"); got != cfg.ExportCSP {
		t.Errorf("export CSP: got %q, want %q", got, cfg.ExportCSP)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options: got %q", got)
	}

	cfg.ExportCSP = ""
	rec = httptest.NewRecorder()
	ExportHeaders(cfg)(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export", nil))
	if got := rec.Header().Get("Content-Security-Policy"); got != cfg.CSP {
		t.Errorf("empty ExportCSP: got %q, want %q", got, cfg.CSP)
	}
}

func TestGetLogger_Default(t *testing.T) {
	if GetLogger(context.Background()) == nil {
		t.Fatal("GetLogger: got nil")
	}
}

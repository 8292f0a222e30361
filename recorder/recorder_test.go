package recorder

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/timecat/codec"
	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/nodestore"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/store"
)

const page = `<!DOCTYPE html><html><head></head><body><div id="app"><input id="name"></div></body></html>`

func mustDoc(t *testing.T) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func fixedClock() func() time.Time {
	ms := int64(1_700_000_000_000)
	return func() time.Time {
		ms += 10
		return time.UnixMilli(ms)
	}
}

func TestRecord_SnapshotFirst(t *testing.T) {
	doc := mustDoc(t)
	var recs []record.Record
	r, err := Record(doc, Options{
		Emitter: func(rec record.Record) { recs = append(recs, rec) },
		Clock:   fixedClock(),
		Href:    "https://example.test/",
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Uninstall()

	doc.MoveMouse(3, 4)
	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	if !record.IsSnapshot(recs[0]) {
		t.Fatalf("first record: got %s, want SNAPSHOT", recs[0].Type)
	}
	snap, err := recs[0].Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Href != "https://example.test/" || snap.NodeTree == nil {
		t.Errorf("snapshot: got %+v", snap)
	}
	if recs[1].Type != record.TypeMouse {
		t.Errorf("second record: got %s, want MOUSE", recs[1].Type)
	}
}

func TestRecord_DropsAfterTerminate(t *testing.T) {
	doc := mustDoc(t)
	var recs []record.Record
	r, err := Record(doc, Options{Emitter: func(rec record.Record) { recs = append(recs, rec) }})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Uninstall()

	doc.Unload()
	doc.MoveMouse(1, 1)
	doc.Input(doc.ElementByID("name"), "late")

	if len(recs) != 2 || recs[1].Type != record.TypeTerminate {
		t.Fatalf("records: got %v", recs)
	}
	if !r.Terminated() {
		t.Error("Terminated: want true")
	}
}

func TestRecord_Uninstall(t *testing.T) {
	doc := mustDoc(t)
	n := 0
	r, err := Record(doc, Options{Emitter: func(record.Record) { n++ }})
	if err != nil {
		t.Fatal(err)
	}
	r.Uninstall()
	r.Uninstall()
	if doc.ListenerCount() != 0 || doc.ObserverCount() != 0 {
		t.Errorf("registrations left: listeners=%d observers=%d", doc.ListenerCount(), doc.ObserverCount())
	}
	doc.MoveMouse(1, 1)
	if n != 1 {
		t.Errorf("records: got %d, want 1 (snapshot only)", n)
	}
}

func TestRecord_Validation(t *testing.T) {
	if _, err := Record(nil, Options{Emitter: func(record.Record) {}}); err == nil {
		t.Error("nil doc: want error")
	}
	if _, err := Record(mustDoc(t), Options{}); err == nil {
		t.Error("nil emitter: want error")
	}
}

func TestSession_StartFinish(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	// Left over from an earlier recording; Start clears it.
	st.Add(ctx, record.Record{Type: record.TypeTerminate, Data: []byte("null"), Time: "1"})

	s := NewSession(st, SessionOptions{
		Record: Options{Clock: fixedClock()},
		Export: ExportOptions{Scripts: []string{"/replay.min.js"}, AutoPlay: true},
	})

	page, err := s.Finish(ctx)
	if err != nil || page != "" {
		t.Fatalf("Finish before Start: got %q, %v", page, err)
	}
	if _, _, err := s.Current(); err != ErrNotRecording {
		t.Fatalf("Current: got %v, want ErrNotRecording", err)
	}

	doc := mustDoc(t)
	id, err := s.Start(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(id, "ses_") {
		t.Errorf("id: got %q", id)
	}
	if again, _ := s.Start(ctx, doc); again != id {
		t.Errorf("second Start: got %q, want %q", again, id)
	}

	input := doc.ElementByID("name")
	doc.Focus(input)
	doc.Input(input, "hi")
	doc.Unload()

	if st.Len() != 4 {
		t.Fatalf("stored: got %d, want 4", st.Len())
	}

	page, err = s.Finish(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.Recording() {
		t.Error("Recording after Finish: want false")
	}
	if doc.ListenerCount() != 0 {
		t.Errorf("ListenerCount after Finish: got %d", doc.ListenerCount())
	}
	if !strings.Contains(page, `<script src="/replay.min.js"></script>`) {
		t.Errorf("page lacks player script: %s", page)
	}
	if !strings.Contains(page, `window.__ReplayOptions__ = {"autoPlay":true}`) {
		t.Errorf("page lacks options: %s", page)
	}

	data, err := codec.ExtractInline(strings.NewReader(page))
	if err != nil {
		t.Fatal(err)
	}
	list, err := codec.DecodeDataList(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || len(list[0].Records) != 3 {
		t.Fatalf("exported list: got %+v", list)
	}
	if list[0].Records[2].Type != record.TypeTerminate {
		t.Errorf("last record: got %s, want TERMINATE", list[0].Records[2].Type)
	}
	tm, err := codec.DecodeTime(list[0].Snapshot.Time)
	if err != nil || tm != 1_700_000_000_010 {
		t.Errorf("snapshot time: got %d, %v", tm, err)
	}
}

func TestExportList_Empty(t *testing.T) {
	if _, err := ExportList(nil, ExportOptions{}); err == nil {
		t.Fatal("want error")
	}
}

func TestSession_Rebind(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	s := NewSession(st, SessionOptions{Record: Options{Clock: fixedClock()}})

	if err := s.Rebind(mustDoc(t)); err != nil {
		t.Fatalf("Rebind while idle: %v", err)
	}

	first := mustDoc(t)
	if _, err := s.Start(ctx, first); err != nil {
		t.Fatal(err)
	}
	first.MoveMouse(1, 1)

	second := mustDoc(t)
	if err := s.Rebind(second); err != nil {
		t.Fatal(err)
	}
	if first.ListenerCount() != 0 {
		t.Errorf("old document listeners: got %d", first.ListenerCount())
	}
	first.MoveMouse(2, 2)
	second.MoveMouse(3, 3)

	recs, err := st.ReadAllRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	list := record.Classify(recs)
	if len(list) != 2 {
		t.Fatalf("segments: got %d, want 2", len(list))
	}
	for i, seg := range list {
		if len(seg.Records) != 1 || seg.Records[0].Type != record.TypeMouse {
			t.Errorf("segment %d: got %+v", i, seg.Records)
		}
	}
}

func TestSession_FreshNodesPerSegment(t *testing.T) {
	ctx := context.Background()
	shared := nodestore.New()
	shared.GetID(&html.Node{Type: html.ElementNode, Data: "stale"})
	s := NewSession(store.NewMemory(), SessionOptions{Record: Options{Clock: fixedClock(), Nodes: shared}})

	first := mustDoc(t)
	if _, err := s.Start(ctx, first); err != nil {
		t.Fatal(err)
	}
	rec, _, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := rec.Nodes().Lookup(first.Root()); id != 1 {
		t.Errorf("first segment root id: got %d, want 1", id)
	}

	second := mustDoc(t)
	if err := s.Rebind(second); err != nil {
		t.Fatal(err)
	}
	rec, _, _ = s.Current()
	if id, _ := rec.Nodes().Lookup(second.Root()); id != 1 {
		t.Errorf("second segment root id: got %d, want 1", id)
	}
	if _, ok := rec.Nodes().Lookup(first.Root()); ok {
		t.Error("second segment still knows the first document")
	}
}

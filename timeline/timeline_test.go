package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/timecat/codec"
	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/player"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/recorder"
)

const page = `<!DOCTYPE html><html><head></head><body><div id="app" class="a"><p>hello</p></div></body></html>`

// recordSession records one mutation per second from 1000 to 5000 ms.
func recordSession(t *testing.T) []record.ReplayData {
	t.Helper()
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	now := int64(500)
	var recs []record.Record
	r, err := recorder.Record(doc, recorder.Options{
		Emitter: func(rec record.Record) { recs = append(recs, rec) },
		Clock:   func() time.Time { return time.UnixMilli(now) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Uninstall()

	app := doc.ElementByID("app")
	p := app.FirstChild
	span := doc.CreateElement("span")
	steps := []func(){
		func() { doc.SetAttribute(app, "class", "b") },
		func() { doc.AppendChild(app, span) },
		func() { doc.SetText(p.FirstChild, "bye") },
		func() { doc.SetAttribute(span, "title", "s") },
		func() { doc.RemoveChild(app, p) },
	}
	for i, step := range steps {
		now = int64(1000 * (i + 1))
		step()
		doc.Flush()
	}
	list := record.Classify(recs)
	if len(list) != 1 || len(list[0].Records) != 5 {
		t.Fatalf("recorded: got %+v", list)
	}
	return list
}

// linear replays every record with time <= at on a fresh player.
func linear(t *testing.T, list []record.ReplayData, at int64) string {
	t.Helper()
	p := player.New(player.Options{})
	if err := p.Reset(list[0].Snapshot); err != nil {
		t.Fatal(err)
	}
	for _, r := range list[0].Records {
		if mustTime(t, r.Time) <= at {
			p.ExecFrame(r)
		}
	}
	s, err := p.HTML()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mustTime(t *testing.T, s string) int64 {
	t.Helper()
	tm, err := codec.DecodeTime(s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}

func ready(t *testing.T, app Applier, list []record.ReplayData, opts Options) *Controller {
	t.Helper()
	c, err := New(app, list, opts)
	if err != nil {
		t.Fatal(err)
	}
	c.Begin()
	if err := c.FrameReady(); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSeek_BackwardEqualsLinear(t *testing.T) {
	list := recordSession(t)
	p := player.New(player.Options{})
	c := ready(t, p, list, Options{})

	for _, step := range []struct{ seek, want int64 }{
		{5000, 5000},
		{1000, 1000},
		{3500, 3500},
		{2000, 2000},
		{99999, 5000},
		{0, 1000},
	} {
		if err := c.Seek(step.seek); err != nil {
			t.Fatal(err)
		}
		got, err := p.HTML()
		if err != nil {
			t.Fatal(err)
		}
		if want := linear(t, list, step.want); got != want {
			t.Errorf("seek %d:\n got %s\nwant %s", step.seek, got, want)
		}
		if info := c.Info(); info.CurTime != step.want {
			t.Errorf("seek %d: curTime got %d, want %d", step.seek, info.CurTime, step.want)
		}
	}
}

func TestStateMachine(t *testing.T) {
	list := recordSession(t)
	c, err := New(player.New(player.Options{}), list, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s := c.Info().State; s != Idle {
		t.Fatalf("initial: got %s, want %s", s, Idle)
	}
	if err := c.SetSpeed(1); err != nil || c.Info().State != Idle {
		t.Fatalf("SetSpeed while idle: state %s, err %v", c.Info().State, err)
	}
	if err := c.FrameReady(); err == nil {
		t.Fatal("FrameReady before Begin: want error")
	}
	c.Begin()
	if s := c.Info().State; s != WaitingForStart {
		t.Fatalf("after Begin: got %s", s)
	}
	if err := c.FrameReady(); err != nil {
		t.Fatal(err)
	}
	if s := c.Info().State; s != Paused {
		t.Fatalf("no autoplay: got %s, want %s", s, Paused)
	}

	info := c.Info()
	if info.StartTime != 1000 || info.EndTime != 5000 || info.Length != 5 {
		t.Errorf("info: got %+v", info)
	}

	if err := c.SetSpeed(-1); !errors.Is(err, ErrNegativeSpeed) {
		t.Errorf("SetSpeed(-1): got %v", err)
	}
	if err := c.SetSpeed(2); err != nil || c.Info().State != Playing {
		t.Fatalf("SetSpeed(2): state %s, err %v", c.Info().State, err)
	}
	if err := c.SetSpeed(0); err != nil || c.Info().State != Paused {
		t.Fatalf("SetSpeed(0): state %s, err %v", c.Info().State, err)
	}
}

func TestTick(t *testing.T) {
	list := recordSession(t)
	c := ready(t, player.New(player.Options{}), list, Options{Autoplay: true})
	if s := c.Info().State; s != Playing {
		t.Fatalf("autoplay: got %s, want %s", s, Playing)
	}

	base := time.Unix(0, 0)
	c.Tick(base) // sets the base
	if f := c.Info().Frame; f != 0 {
		t.Fatalf("frame after base tick: got %d, want 0", f)
	}
	c.Tick(base.Add(1500 * time.Millisecond))
	if info := c.Info(); info.CurTime != 2500 || info.Frame != 2 {
		t.Fatalf("after 1.5s: got %+v", info)
	}

	if err := c.SetSpeed(2); err != nil {
		t.Fatal(err)
	}
	c.Tick(base.Add(2000 * time.Millisecond))
	if info := c.Info(); info.CurTime != 3500 || info.Frame != 3 {
		t.Fatalf("after 0.5s at 2x: got %+v", info)
	}

	c.Tick(base.Add(time.Minute))
	if info := c.Info(); info.State != Finished || info.CurTime != 5000 || info.Frame != 5 {
		t.Fatalf("end: got %+v", info)
	}

	// A finished timeline rewinds to Paused on seek.
	if err := c.Seek(1000); err != nil {
		t.Fatal(err)
	}
	if s := c.Info().State; s != Paused {
		t.Errorf("after seek: got %s, want %s", s, Paused)
	}
}

func TestAudioWaitsForStart(t *testing.T) {
	list := recordSession(t)
	list[0].Audio = &record.Audio{Src: "voice.mp3"}
	c := ready(t, player.New(player.Options{}), list, Options{})
	if s := c.Info().State; s != WaitingForStart {
		t.Fatalf("before Start: got %s, want %s", s, WaitingForStart)
	}
	c.Start()
	if info := c.Info(); info.State != Playing || info.Speed != 1 {
		t.Fatalf("after Start: got %+v", info)
	}
}

// spy records Applier calls.
type spy struct {
	resets []string
	execs  []string
}

func (s *spy) Reset(snap record.Snapshot) error {
	s.resets = append(s.resets, snap.Href)
	return nil
}

func (s *spy) ExecFrame(r record.Record) { s.execs = append(s.execs, r.Time) }

func rec(tm string) record.Record {
	return record.Record{Type: record.TypeMouse, Data: []byte(`{"type":"MOVE","x":0,"y":0}`), Time: tm}
}

func TestSegments_GlobalTime(t *testing.T) {
	list := []record.ReplayData{
		{Snapshot: record.Snapshot{Href: "one", Time: "900"}, Records: []record.Record{rec("1000"), rec("3000")}},
		{Snapshot: record.Snapshot{Href: "empty", Time: "5000"}},
		{Snapshot: record.Snapshot{Href: "two", Time: "9000"}, Records: []record.Record{rec("10000"), rec("10500")}},
	}
	s := &spy{}
	c := ready(t, s, list, Options{})

	info := c.Info()
	// (3000-1000) + (10500-10000) + 1000
	if info.StartTime != 1000 || info.EndTime != 3500 || info.Length != 4 {
		t.Fatalf("info: got %+v", info)
	}

	if err := c.Seek(3500); err != nil {
		t.Fatal(err)
	}
	wantResets := []string{"one", "two"}
	if len(s.resets) != 2 || s.resets[0] != wantResets[0] || s.resets[1] != wantResets[1] {
		t.Errorf("resets: got %v, want %v", s.resets, wantResets)
	}
	if len(s.execs) != 2 || s.execs[0] != "10000" || s.execs[1] != "10500" {
		t.Errorf("execs: got %v", s.execs)
	}

	// Linear playback across the boundary applies the first segment, then
	// switches snapshots.
	s.resets, s.execs = nil, nil
	if err := c.Seek(1000); err != nil {
		t.Fatal(err)
	}
	if err := c.SetSpeed(1); err != nil {
		t.Fatal(err)
	}
	base := time.Unix(0, 0)
	c.Tick(base)
	c.Tick(base.Add(time.Hour))
	want := []string{"1000", "3000", "10000", "10500"}
	if len(s.execs) != len(want) {
		t.Fatalf("execs: got %v, want %v", s.execs, want)
	}
	for i := range want {
		if s.execs[i] != want[i] {
			t.Errorf("exec %d: got %s, want %s", i, s.execs[i], want[i])
		}
	}
	if len(s.resets) != 2 || s.resets[1] != "two" {
		t.Errorf("resets: got %v", s.resets)
	}
}

func TestAppend_Live(t *testing.T) {
	list := []record.ReplayData{{Snapshot: record.Snapshot{Href: "live", Time: "100"}}}
	s := &spy{}
	c := ready(t, s, list, Options{Autoplay: true})

	c.Append(rec("200"))
	c.Append(rec("700"))
	info := c.Info()
	if info.Length != 2 || info.StartTime != 200 || info.EndTime != 700 {
		t.Fatalf("info: got %+v", info)
	}

	base := time.Unix(0, 0)
	c.Tick(base)
	c.Tick(base.Add(time.Second))
	if len(s.execs) != 2 {
		t.Errorf("execs: got %v", s.execs)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, []record.ReplayData{{}}, Options{}); err == nil {
		t.Error("nil applier: want error")
	}
	if _, err := New(&spy{}, nil, Options{}); err == nil {
		t.Error("empty list: want error")
	}
}

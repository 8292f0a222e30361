package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/timecat/dbopen"
	"github.com/hazyhaar/timecat/dom"
	"github.com/hazyhaar/timecat/recorder"
	"github.com/hazyhaar/timecat/store"
)

func TestFollowReplay_NotFollowable(t *testing.T) {
	f := newFixture(t)
	if _, err := f.srv.FollowReplay(context.Background()); !errors.Is(err, ErrNotFollowable) {
		t.Fatalf("FollowReplay on memory store: got %v, want ErrNotFollowable", err)
	}
	resp := f.do(t, http.MethodPost, "/replay", `{"follow": true}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("POST /replay follow: got %d, want 409", resp.StatusCode)
	}
}

func TestFollowReplay_AppendsStoredRecords(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := store.NewSQLite(ctx, dbopen.OpenMemory(t), "ses_live")
	if err != nil {
		t.Fatal(err)
	}
	doc, err := dom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	ms := int64(1_700_000_000_000)
	clock := func() time.Time {
		ms += 10
		return time.UnixMilli(ms)
	}
	src := Static(doc)
	srv, err := New(Config{
		Store:          st,
		Session:        recorder.NewSession(st, recorder.SessionOptions{Record: recorder.Options{Clock: clock}}),
		Source:         src,
		FollowInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	if _, err := srv.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}

	// The live replay outlives the call that loaded it.
	loadCtx, stop := context.WithCancel(ctx)
	info, err := srv.FollowReplay(loadCtx)
	stop()
	if err != nil {
		t.Fatal(err)
	}
	if info.Length != 0 {
		t.Fatalf("frames before any edit: got %d, want 0", info.Length)
	}

	src.Do(func(d *dom.Document) {
		d.SetText(d.ElementByID("msg").FirstChild, "bye")
		d.Flush()
	})

	for {
		info, err = srv.ReplayInfo()
		if err != nil {
			t.Fatal(err)
		}
		if info.Length == 1 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("stored record never reached the replay: %+v", info)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, err := srv.Seek(info.EndTime); err != nil {
		t.Fatal(err)
	}
	frame, err := srv.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(frame, "bye") {
		t.Errorf("followed frame: %s", frame)
	}
}

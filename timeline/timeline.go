// Package timeline schedules replay: it maps recorded times onto one
// continuous timeline across segments, advances it with wall time and
// speed, and seeks by re-materializing the covering snapshot.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/timecat/codec"
	"github.com/hazyhaar/timecat/record"
)

// ErrNegativeSpeed is returned by SetSpeed for a speed below zero.
var ErrNegativeSpeed = errors.New("timeline: negative speed")

// State is the playback state.
type State string

const (
	Idle            State = "idle"
	WaitingForStart State = "waiting"
	Playing         State = "playing"
	Paused          State = "paused"
	Finished        State = "finished"
)

// Applier is the replay engine the controller drives. *player.Player
// implements it.
type Applier interface {
	Reset(record.Snapshot) error
	ExecFrame(record.Record)
}

// Options configures a Controller.
type Options struct {
	// Autoplay enters Playing once the first frame is ready. Without it the
	// controller waits Paused.
	Autoplay bool
	// Speed is the initial playing speed. Default: 1.
	Speed  float64
	Logger *slog.Logger
}

// Info is a point-in-time view of the timeline.
type Info struct {
	Frame     int     `json:"frame"`
	CurTime   int64   `json:"curTime"`
	StartTime int64   `json:"startTime"`
	EndTime   int64   `json:"endTime"`
	Length    int     `json:"length"`
	Speed     float64 `json:"speed"`
	State     State   `json:"state"`
	Segment   int     `json:"segment"`
}

type frame struct {
	seg int
	at  int64 // global time
	rec record.Record
}

type segment struct {
	snap   record.Snapshot
	first  int64 // recorded time of the first record
	offset int64 // global time of the first record
	start  int   // index of the first frame
	hasRec bool
}

// Controller owns the replay state. Every method is safe for concurrent
// use; the Applier is only called with the controller's lock held.
type Controller struct {
	mu   sync.Mutex
	app  Applier
	opts Options

	segs   []segment
	frames []frame

	state    State
	speed    float64
	cur      float64
	start    int64
	end      int64
	next     int // next frame to apply
	seg      int // materialized segment, -1 before the first reset
	ready    bool
	started  bool
	hasAudio bool
	lastTick time.Time
}

// New builds a Controller over list. Records whose time does not decode are
// dropped.
func New(app Applier, list []record.ReplayData, opts Options) (*Controller, error) {
	if app == nil {
		return nil, fmt.Errorf("timeline: nil applier")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("timeline: empty replay data")
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Controller{app: app, opts: opts, state: Idle, seg: -1}
	c.hasAudio = list[0].Audio.Present()

	for _, d := range list {
		c.addSegment(d.Snapshot)
		for _, r := range d.Records {
			c.addRecord(r)
		}
	}
	if len(c.frames) == 0 {
		if t, err := codec.DecodeTime(list[0].Snapshot.Time); err == nil {
			c.start, c.end = t, t
		}
	}
	c.cur = float64(c.start)
	return c, nil
}

func (c *Controller) addSegment(snap record.Snapshot) {
	c.segs = append(c.segs, segment{snap: snap, offset: c.end, start: len(c.frames)})
}

func (c *Controller) addRecord(r record.Record) {
	t, err := codec.DecodeTime(r.Time)
	if err != nil {
		c.opts.Logger.Warn("timeline: record dropped", "type", r.Type, "time", r.Time, "error", err)
		return
	}
	i := len(c.segs) - 1
	s := &c.segs[i]
	if !s.hasRec {
		s.hasRec, s.first = true, t
		if len(c.frames) == 0 {
			// The first recorded time anchors the global timeline.
			c.start, c.end = t, t
		}
		s.offset = c.end
	}
	at := s.offset + (t - s.first)
	c.frames = append(c.frames, frame{seg: i, at: at, rec: r})
	if at > c.end {
		c.end = at
	}
}

// Begin moves an idle controller to WaitingForStart.
func (c *Controller) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		c.state = WaitingForStart
	}
}

// FrameReady materializes the first segment and marks the first frame
// ready.
func (c *Controller) FrameReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != WaitingForStart {
		return fmt.Errorf("timeline: frame ready in state %s", c.state)
	}
	seg := 0
	if len(c.frames) > 0 {
		seg = c.frames[0].seg
	}
	if err := c.reset(seg); err != nil {
		return err
	}
	c.ready = true
	c.maybeStart()
	return nil
}

// Start is the explicit start signal. It is required before playback only
// when the data carries audio.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.maybeStart()
}

func (c *Controller) maybeStart() {
	if c.state != WaitingForStart || !c.ready || (c.hasAudio && !c.started) {
		return
	}
	if c.opts.Autoplay || c.hasAudio {
		c.speed = c.opts.Speed
		c.state = Playing
	} else {
		c.state = Paused
	}
	c.opts.Logger.Info("timeline: ready", "state", c.state, "frames", len(c.frames), "start", c.start, "end", c.end)
}

// SetSpeed sets the playing speed: 0 pauses, above 0 plays. It is ignored
// before the first frame is ready and after the end.
func (c *Controller) SetSpeed(s float64) error {
	if s < 0 {
		return ErrNegativeSpeed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Idle, WaitingForStart, Finished:
		return nil
	}
	if s > 0 && c.state != Playing {
		c.lastTick = time.Time{}
	}
	c.speed = s
	if s == 0 {
		c.state = Paused
	} else {
		c.state = Playing
	}
	return nil
}

// Tick advances playback by the wall time elapsed since the previous tick,
// scaled by speed. The first tick after entering Playing only sets the base.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Playing {
		c.lastTick = time.Time{}
		return
	}
	if c.lastTick.IsZero() {
		c.lastTick = now
		return
	}
	elapsed := now.Sub(c.lastTick)
	c.lastTick = now
	if elapsed <= 0 {
		return
	}
	c.cur += float64(elapsed) / float64(time.Millisecond) * c.speed
	c.advance(int64(c.cur))
	if int64(c.cur) >= c.end {
		c.cur = float64(c.end)
		c.state = Finished
		c.opts.Logger.Info("timeline: finished", "frames", c.next)
	}
}

// Seek moves playback to global time t, clamped to the timeline. The
// resulting document equals a linear replay up to t.
func (c *Controller) Seek(t int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return fmt.Errorf("timeline: seek before first frame")
	}
	t = min(max(t, c.start), c.end)

	target := c.segmentAt(t)
	if target != c.seg || float64(t) < c.cur {
		if err := c.reset(target); err != nil {
			return err
		}
	}
	c.advance(t)
	c.cur = float64(t)
	c.lastTick = time.Time{}
	switch {
	case t >= c.end && len(c.frames) > 0:
		c.state = Finished
	case c.state == Finished:
		c.state = Paused
	}
	return nil
}

// segmentAt returns the segment holding the last frame at or before t, or
// the first frame's segment.
func (c *Controller) segmentAt(t int64) int {
	seg := 0
	if len(c.frames) > 0 {
		seg = c.frames[0].seg
	}
	for _, f := range c.frames {
		if f.at > t {
			break
		}
		seg = f.seg
	}
	return seg
}

// reset materializes segment i and rewinds to its first frame.
func (c *Controller) reset(i int) error {
	if err := c.app.Reset(c.segs[i].snap); err != nil {
		return fmt.Errorf("timeline: reset segment %d: %w", i, err)
	}
	c.seg = i
	c.next = c.segs[i].start
	return nil
}

// advance applies every pending frame with time <= t, switching snapshots
// at segment boundaries.
func (c *Controller) advance(t int64) {
	for c.next < len(c.frames) && c.frames[c.next].at <= t {
		f := c.frames[c.next]
		if f.seg != c.seg {
			if err := c.reset(f.seg); err != nil {
				c.opts.Logger.Error("timeline: segment switch failed", "segment", f.seg, "error", err)
				return
			}
		}
		c.app.ExecFrame(f.rec)
		c.next++
	}
}

// Append extends the timeline with a live record. A snapshot opens a new
// segment.
func (c *Controller) Append(r record.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if record.IsSnapshot(r) {
		snap, err := r.Snapshot()
		if err != nil {
			c.opts.Logger.Warn("timeline: live snapshot dropped", "error", err)
			return
		}
		c.addSegment(snap)
		return
	}
	c.addRecord(r)
	if c.state == Finished && int64(c.cur) < c.end {
		c.state = Playing
		c.lastTick = time.Time{}
	}
}

// Run drives Tick every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// Do runs fn with the controller's lock held, so fn may read the Applier's
// document without racing playback.
func (c *Controller) Do(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Info returns the current timeline state.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Frame:     c.next,
		CurTime:   int64(c.cur),
		StartTime: c.start,
		EndTime:   c.end,
		Length:    len(c.frames),
		Speed:     c.speed,
		State:     c.state,
		Segment:   c.seg,
	}
}

package player

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hazyhaar/timecat/codec"
	"github.com/hazyhaar/timecat/record"
	"github.com/hazyhaar/timecat/store"
)

// ErrNoReplayData means every data source came up empty.
var ErrNoReplayData = errors.New("player: no replay data found; supply a data list, a receiver, inline data, a store or a global list")

// LoadOptions lists the replay data sources, tried in field order. The
// first source producing at least one segment wins.
type LoadOptions struct {
	ReplayDataList []record.ReplayData

	// Receiver streams live records. Load waits for the first snapshot on
	// it, giving up when ctx ends; every later record goes to OnRecord until
	// the sender closes the channel. Records before the first snapshot are
	// dropped.
	Receiver <-chan record.Record
	OnRecord func(record.Record)

	// InlineData is an encoded data list, or an exported replay page
	// embedding one.
	InlineData string
	Compressor codec.Compressor

	Store  store.Store
	Global []record.ReplayData

	Logger *slog.Logger
}

// Load resolves the replay data. Codec and store failures make that source
// count as empty; only the absence of data from every source is an error.
func Load(ctx context.Context, opts LoadOptions) ([]record.ReplayData, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if len(opts.ReplayDataList) > 0 {
		log.Debug("player: data from list", "segments", len(opts.ReplayDataList))
		return opts.ReplayDataList, nil
	}

	if opts.Receiver != nil {
		list, err := receive(ctx, opts.Receiver, opts.OnRecord)
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			log.Debug("player: data from receiver")
			return list, nil
		}
	}

	if opts.InlineData != "" {
		list, err := inline(opts.InlineData, opts.Compressor)
		switch {
		case err != nil:
			log.Warn("player: inline data unreadable", "error", err)
		case len(list) > 0:
			log.Debug("player: data from inline", "segments", len(list))
			return list, nil
		}
	}

	if opts.Store != nil {
		recs, err := opts.Store.ReadAllRecords(ctx)
		if err != nil {
			log.Warn("player: store unreadable", "error", err)
		} else if list := record.Classify(recs); len(list) > 0 {
			log.Debug("player: data from store", "segments", len(list))
			return list, nil
		}
	}

	if len(opts.Global) > 0 {
		log.Debug("player: data from global list", "segments", len(opts.Global))
		return opts.Global, nil
	}
	return nil, ErrNoReplayData
}

func inline(s string, c codec.Compressor) ([]record.ReplayData, error) {
	if strings.ContainsRune(s, '<') {
		data, err := codec.ExtractInline(strings.NewReader(s))
		if err != nil {
			return nil, err
		}
		s = data
	}
	return codec.DecodeDataList(s, c)
}

// receive blocks until the first snapshot, then forwards the rest of the
// stream from a goroutine. A closed channel without snapshot yields no data.
func receive(ctx context.Context, ch <-chan record.Record, onRecord func(record.Record)) ([]record.ReplayData, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r, ok := <-ch:
			if !ok {
				return nil, nil
			}
			if !record.IsSnapshot(r) {
				continue
			}
			snap, err := r.Snapshot()
			if err != nil {
				continue
			}
			go forward(ch, onRecord)
			return []record.ReplayData{{Snapshot: snap}}, nil
		}
	}
}

func forward(ch <-chan record.Record, onRecord func(record.Record)) {
	for r := range ch {
		if onRecord != nil {
			onRecord(r)
		}
	}
}

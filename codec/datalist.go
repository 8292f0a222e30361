package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/timecat/record"
)

// shift moves bytes that would be unsafe inside a quoted string or an HTML
// script body out of the byte range. Decoding subtracts it from any code
// point at or above it.
const shift = 300

// EncodeReplayTimes returns a copy of list with every snapshot and record
// time written by EncodeTime. Times are read with DecodeTime first, so the
// call is idempotent; consumers decode each time once, with DecodeTime,
// before ordering or seeking.
func EncodeReplayTimes(list []record.ReplayData) ([]record.ReplayData, error) {
	return mapTimes(list, NormalizeTime)
}

func mapTimes(list []record.ReplayData, fn func(string) (string, error)) ([]record.ReplayData, error) {
	out := make([]record.ReplayData, len(list))
	for i, d := range list {
		t, err := fn(d.Snapshot.Time)
		if err != nil {
			return nil, fmt.Errorf("codec: segment %d snapshot: %w", i, err)
		}
		d.Snapshot.Time = t
		recs := make([]record.Record, len(d.Records))
		for j, r := range d.Records {
			if r.Time, err = fn(r.Time); err != nil {
				return nil, fmt.Errorf("codec: segment %d record %d: %w", i, j, err)
			}
			recs[j] = r
		}
		d.Records = recs
		out[i] = d
	}
	return out, nil
}

// EncodeDataList serialises list to a transportable string: JSON,
// compressed by c, each byte written as one code point with unsafe bytes
// shifted by 300.
func EncodeDataList(list []record.ReplayData, c Compressor) (string, error) {
	if c == nil {
		c = Gzip{}
	}
	raw, err := record.MarshalDataList(list)
	if err != nil {
		return "", fmt.Errorf("codec: marshal data list: %w", err)
	}
	packed, err := c.Compress(raw)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(len(packed) * 2)
	for _, b := range packed {
		if unsafeByte(b) {
			sb.WriteRune(rune(b) + shift)
		} else {
			sb.WriteByte(b)
		}
	}
	return sb.String(), nil
}

// DecodeDataList is the inverse of EncodeDataList. An empty string means
// "no data here" and returns (nil, nil).
func DecodeDataList(s string, c Compressor) ([]record.ReplayData, error) {
	if s == "" {
		return nil, nil
	}
	if c == nil {
		c = Gzip{}
	}
	packed := make([]byte, 0, len(s))
	for i, w := 0, 0; i < len(s); i += w {
		r, width := utf8.DecodeRuneInString(s[i:])
		w = width
		if r == utf8.RuneError && width == 1 {
			return nil, fmt.Errorf("%w: invalid UTF-8 at %d", ErrMalformed, i)
		}
		if r >= shift {
			r -= shift
		}
		if r < 0 || r > 0xff {
			return nil, fmt.Errorf("%w: code point out of range at %d", ErrMalformed, i)
		}
		packed = append(packed, byte(r))
	}
	raw, err := c.Decompress(packed)
	if err != nil {
		return nil, err
	}
	list, err := record.UnmarshalDataList(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: data list JSON: %v", ErrMalformed, err)
	}
	return list, nil
}

// unsafeByte reports bytes kept out of the transport string: control
// characters, DEL and the high half (which would not be valid UTF-8 on
// their own), and the characters that end or escape a quoted string or a
// script element.
func unsafeByte(b byte) bool {
	switch {
	case b < 0x20, b >= 0x7f:
		return true
	case b == '"', b == '\'', b == '\\', b == '<', b == '>', b == '&', b == '`':
		return true
	}
	return false
}

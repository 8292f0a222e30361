// Package codec encodes recording timestamps compactly and turns replay data
// lists into transportable strings and back.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Alphabet is the radix64 digit set, least significant value first.
const Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz+/"

// ShortLen is the length threshold of the time heuristic: encoded strings
// shorter than this are decimal, longer ones radix64.
const ShortLen = 8

// ErrMalformed reports input the codec cannot decode. Data-source chains
// treat it as "source empty".
var ErrMalformed = errors.New("codec: malformed input")

var digitValue = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		t[Alphabet[i]] = int8(i)
	}
	return t
}()

// EncodeTime encodes a millisecond timestamp. A decimal form shorter than
// ShortLen is kept as is; otherwise the value is written in radix64,
// left-padded with the zero digit to ShortLen so DecodeTime can tell the
// forms apart by length alone. Negative values stay decimal.
func EncodeTime(n int64) string {
	dec := strconv.FormatInt(n, 10)
	if n < 0 || len(dec) < ShortLen {
		return dec
	}
	s := toRadix64(uint64(n))
	if len(s) < ShortLen {
		s = strings.Repeat(Alphabet[:1], ShortLen-len(s)) + s
	}
	return s
}

// DecodeTime is the inverse of EncodeTime. Strings shorter than ShortLen, or
// with a leading minus, are decimal; anything else is radix64.
func DecodeTime(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty time", ErrMalformed)
	}
	if len(s) < ShortLen || s[0] == '-' {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: time %q: %v", ErrMalformed, s, err)
		}
		return n, nil
	}
	return fromRadix64(s)
}

// NormalizeTime re-encodes any accepted time string into canonical form.
func NormalizeTime(s string) (string, error) {
	n, err := DecodeTime(s)
	if err != nil {
		return "", err
	}
	return EncodeTime(n), nil
}

func toRadix64(n uint64) string {
	if n == 0 {
		return Alphabet[:1]
	}
	var buf [11]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = Alphabet[n&63]
		n >>= 6
	}
	return string(buf[i:])
}

func fromRadix64(s string) (int64, error) {
	var n uint64
	for i := 0; i < len(s); i++ {
		v := digitValue[s[i]]
		if v < 0 {
			return 0, fmt.Errorf("%w: time %q: bad digit %q", ErrMalformed, s, s[i])
		}
		if n > (1<<63-1)>>6 {
			return 0, fmt.Errorf("%w: time %q overflows", ErrMalformed, s)
		}
		n = n<<6 | uint64(v)
	}
	if n > 1<<63-1 {
		return 0, fmt.Errorf("%w: time %q overflows", ErrMalformed, s)
	}
	return int64(n), nil
}

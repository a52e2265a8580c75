// Package asset names captured frames and audio segments in object storage
// and allocates their sequence numbers.
package asset

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Kind is the storage folder for one class of asset.
type Kind string

const (
	KindFrames Kind = "frames"
	KindAudio  Kind = "audio"
	KindPhotos Kind = "photos"
)

// Prefix returns "{stream_id}/{kind}/".
func Prefix(streamID int64, k Kind) string {
	return fmt.Sprintf("%d/%s/", streamID, k)
}

// ObjectName returns "{stream_id}/{kind}/{base}".
func ObjectName(streamID int64, k Kind, base string) string {
	return Prefix(streamID, k) + path.Base(base)
}

// Sequence parses the trailing "_<digits>" before the extension of name's
// base, e.g. "1/frames/frame_0007.webp" -> 7.
func Sequence(name string) (int, bool) {
	base := path.Base(name)
	dot := strings.LastIndexByte(base, '.')
	if dot <= 0 || dot == len(base)-1 {
		return 0, false
	}
	stem := base[:dot]
	us := strings.LastIndexByte(stem, '_')
	if us < 0 || us == len(stem)-1 {
		return 0, false
	}
	digits := stem[us+1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextIndex returns one more than the highest sequence among names, or 0 when
// none parse. Names without a sequence are ignored.
func NextIndex(names []string) int {
	next := 0
	for _, n := range names {
		if seq, ok := Sequence(n); ok && seq+1 > next {
			next = seq + 1
		}
	}
	return next
}

// SortBySequence orders names by parsed sequence; names without one sort
// after, by name.
func SortBySequence(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		a, aok := Sequence(names[i])
		b, bok := Sequence(names[j])
		switch {
		case aok && bok && a != b:
			return a < b
		case aok != bok:
			return aok
		}
		return names[i] < names[j]
	})
}

package storage

import (
	"fmt"
	"math"
	"strings"
)

// PlaylistEntry is one media segment in an M3U8 playlist.
type PlaylistEntry struct {
	Sequence int
	Duration float64
	URI      string
}

// BuildPlaylist renders entries (ascending sequence) as an HLS-style media
// playlist. ended appends #EXT-X-ENDLIST. No entries yield a minimal playlist
// with media sequence 0.
func BuildPlaylist(entries []PlaylistEntry, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(entries) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	} else {
		fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(entries))
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", entries[0].Sequence)
		for _, e := range entries {
			fmt.Fprintf(&b, "#EXTINF:%.1f,\n%s\n", e.Duration, e.URI)
		}
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// targetDuration is the ceiling of the longest entry, at least 1.
func targetDuration(entries []PlaylistEntry) int {
	longest := 0.0
	for _, e := range entries {
		longest = math.Max(longest, e.Duration)
	}
	if longest <= 0 {
		return 1
	}
	return int(math.Ceil(longest))
}

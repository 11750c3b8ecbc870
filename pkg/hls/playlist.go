// Package hls implements reading and writing of HLS media playlists as
// persisted by the recording core. The output is a standard media playlist
// (#EXTM3U, #EXTINF, #EXT-X-MAP, #EXT-X-DISCONTINUITY, #EXT-X-ENDLIST) that
// HLS players consume in place; sequence numbers round-trip through the
// segment file names and offsets through cumulative durations.
package hls

import (
	"fmt"
	"math"
	"strings"
)

// Entry describes one committed media segment in a playlist.
type Entry struct {
	// Sequence is the HLS media sequence of the segment, strictly
	// increasing within a session.
	Sequence uint64
	// URI is the segment file name relative to the playlist.
	URI string
	// Duration in seconds.
	Duration float64
	// Offset is seconds from session start at which this segment begins.
	Offset float64
	// Discontinuity marks non-contiguous decode state before this segment.
	Discontinuity bool
}

// End returns the offset at which the segment ends.
func (e Entry) End() float64 {
	return e.Offset + e.Duration
}

// Playlist is an ordered media playlist.
type Playlist struct {
	// MapURI references the init segment; empty for TS sessions.
	MapURI string
	// Entries in commit order.
	Entries []Entry
	// Closed appends #EXT-X-ENDLIST when set.
	Closed bool
}

// TargetDuration returns the smallest valid #EXT-X-TARGETDURATION value:
// the ceiling of the maximum entry duration, at least 1.
func (p *Playlist) TargetDuration() int {
	maxDur := 0.0
	for _, e := range p.Entries {
		if e.Duration > maxDur {
			maxDur = e.Duration
		}
	}
	td := int(math.Ceil(maxDur))
	if td < 1 {
		td = 1
	}
	return td
}

// TotalDuration returns the sum of entry durations.
func (p *Playlist) TotalDuration() float64 {
	total := 0.0
	for _, e := range p.Entries {
		total += e.Duration
	}
	return total
}

// MediaSequence returns the sequence of the first entry, or 0 when empty.
func (p *Playlist) MediaSequence() uint64 {
	if len(p.Entries) == 0 {
		return 0
	}
	return p.Entries[0].Sequence
}

// Slice returns the entries whose [offset, offset+duration) intersects
// [x, y). Segment boundaries are never split: the result may cover up to
// one extra segment duration at each end.
func (p *Playlist) Slice(x, y float64) []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if e.End() > x && e.Offset < y {
			out = append(out, e)
		}
	}
	return out
}

// Marshal renders the playlist as HLS media playlist text.
func (p *Playlist) Marshal() []byte {
	var b strings.Builder

	version := 3
	if p.MapURI != "" {
		// #EXT-X-MAP requires protocol version 6+.
		version = 7
	}

	fmt.Fprintf(&b, "#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.TargetDuration())
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence())
	if p.MapURI != "" {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", p.MapURI)
	}

	for _, e := range p.Entries {
		if e.Discontinuity {
			fmt.Fprintf(&b, "#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", e.Duration)
		fmt.Fprintf(&b, "%s\n", e.URI)
	}

	if p.Closed {
		fmt.Fprintf(&b, "#EXT-X-ENDLIST\n")
	}

	return []byte(b.String())
}

// Package platform contains the per-platform live-stream adapters. Each
// adapter is a pure protocol client: it reports room status, resolves stream
// descriptors, fetches playlists and segment bytes, and opens the danmaku
// side-channel. Adapters never retry and never touch disk; retry and state
// transitions belong to the recorder.
package platform

import (
	"context"
	"fmt"
	"io"

	"github.com/Xinrea/shadowreplay/internal/models"
)

// StreamKind distinguishes the two supported session formats.
type StreamKind int

const (
	// KindTSHLS is an HLS stream with MPEG-TS segments and no header.
	KindTSHLS StreamKind = iota
	// KindFMP4 is an fMP4 stream with a distinct init segment that must be
	// downloaded exactly once per session before any media segment is usable.
	KindFMP4
)

// String returns the string representation of the kind.
func (k StreamKind) String() string {
	switch k {
	case KindFMP4:
		return "fmp4"
	case KindTSHLS:
		return "ts"
	default:
		return "unknown"
	}
}

// SegmentExt returns the on-disk file extension for media segments.
func (k StreamKind) SegmentExt() string {
	if k == KindFMP4 {
		return ".m4s"
	}
	return ".ts"
}

// Room identifies a live room plus its opaque per-room credential/config
// string (cookies for bilibili, device ids for douyin, ...).
type Room struct {
	Key   models.RoomKey
	Extra string
}

// UserInfo is the streamer's public identity at probe time.
type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// StreamDescriptor describes how to ingest a live stream.
type StreamDescriptor struct {
	Kind        StreamKind
	PlaylistURL string
	// InitURL is set only when Kind is KindFMP4.
	InitURL string
	// CodecHint carries the platform's advertised codec, when known.
	// A change of this value mid-session is treated as a fatal stream change.
	CodecHint string
}

// RoomSnapshot is the result of one status probe.
type RoomSnapshot struct {
	Live     bool
	Title    string
	CoverURL string
	User     UserInfo
	// Stream is set only when Live is true.
	Stream *StreamDescriptor
}

// PlaylistEntry is one upstream segment announcement.
type PlaylistEntry struct {
	// Sequence is the upstream HLS media sequence, or a synthesized
	// monotone counter for platforms that do not number segments.
	Sequence uint64
	// URL is absolute at capture time.
	URL      string
	Duration float64
	// Discontinuity marks a decode break announced by the upstream.
	Discontinuity bool
}

// Playlist is one poll of the upstream media playlist.
type Playlist struct {
	Entries []PlaylistEntry
	// InitURL is the absolute EXT-X-MAP URI, when present.
	InitURL string
	// Closed is set when the upstream announced ENDLIST.
	Closed bool
}

// ByteRange restricts a byte fetch.
type ByteRange struct {
	Start  int64
	Length int64
}

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.Start+r.Length-1)
}

// DanmuEvent is one chat message from the side-channel.
type DanmuEvent struct {
	// TS is the wall clock of the event in milliseconds.
	TS int64 `json:"ts"`
	// Text is the message content, opaque UTF-8.
	Text string `json:"text"`
	// UserID identifies the sender when the platform exposes it.
	UserID string `json:"user_id,omitempty"`
}

// DanmuConn is a lazy, infinite, single-consumer event sequence. It is not
// restartable: once closed the underlying connection is gone and a new
// stream must be opened.
type DanmuConn interface {
	// Next blocks until the next event, ctx cancellation, or stream end.
	Next(ctx context.Context) (DanmuEvent, error)
	// Close tears down the underlying connection.
	Close() error
}

// Fetcher is the capability set implemented once per platform.
type Fetcher interface {
	// Platform returns the platform identifier.
	Platform() string
	// Probe returns live status, metadata and a stream descriptor.
	Probe(ctx context.Context, room Room) (*RoomSnapshot, error)
	// FetchPlaylist polls the upstream media playlist.
	FetchPlaylist(ctx context.Context, stream *StreamDescriptor) (*Playlist, error)
	// FetchBytes streams the body at url into w, honoring rng when non-nil.
	FetchBytes(ctx context.Context, url string, rng *ByteRange, w io.Writer) (int64, error)
	// DanmuStream opens the chat side-channel for a room.
	DanmuStream(ctx context.Context, room Room) (DanmuConn, error)
}

// New returns the adapter for a platform identifier.
func New(platform string, opts Options) (Fetcher, error) {
	switch platform {
	case models.PlatformBilibili:
		return NewBilibili(opts), nil
	case models.PlatformDouyin:
		return NewDouyin(opts), nil
	case models.PlatformHuya:
		return NewHuya(opts), nil
	case models.PlatformKuaishou:
		return NewKuaishou(opts), nil
	case models.PlatformTikTok:
		return NewTikTok(opts), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}

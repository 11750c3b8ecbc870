package platform

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
)

// Douyin API origins.
const (
	douyinAPIBase   = "https://live.douyin.com"
	douyinDanmuBase = "wss://webcast5-ws-web-lf.douyin.com/webcast/im/push/v2"
)

// douyinSeenWindow bounds the per-stream seen-URL window used for sequence
// synthesis. Beyond the window a re-announced segment is treated as new,
// trading a rare duplicate for bounded memory.
const douyinSeenWindow = 64

// Douyin is the douyin live adapter. Douyin playlists carry no usable media
// sequence, so the adapter synthesizes a monotone sequence from arrival
// order and exposes it to the recorder like any other platform.
type Douyin struct {
	*client
	apiBase   string
	danmuBase string

	mu   sync.Mutex
	seqs map[string]*douyinSeqState // keyed by playlist URL
}

// douyinSeqState assigns synthesized sequences for one stream.
type douyinSeqState struct {
	next     uint64
	assigned map[string]uint64
	order    []string
}

// NewDouyin creates the douyin adapter.
func NewDouyin(opts Options) *Douyin {
	opts = opts.withDefaults()
	d := &Douyin{
		client:    newClient(opts),
		apiBase:   douyinAPIBase,
		danmuBase: douyinDanmuBase,
		seqs:      make(map[string]*douyinSeqState),
	}
	if opts.APIBase != "" {
		d.apiBase = opts.APIBase
	}
	if opts.DanmuBase != "" {
		d.danmuBase = opts.DanmuBase
	}
	return d
}

// Platform returns the platform identifier.
func (d *Douyin) Platform() string { return "douyin" }

// douyinRoomEnter mirrors /webcast/room/web/enter/.
type douyinRoomEnter struct {
	StatusCode int `json:"status_code"`
	Data       struct {
		Data []struct {
			Status int    `json:"status"` // 2 = live
			Title  string `json:"title"`
			Cover  struct {
				URLList []string `json:"url_list"`
			} `json:"cover"`
			StreamURL struct {
				HLSPullURL string `json:"hls_pull_url"`
			} `json:"stream_url"`
			Owner struct {
				IDStr    string `json:"id_str"`
				Nickname string `json:"nickname"`
			} `json:"owner"`
		} `json:"data"`
	} `json:"data"`
}

// Probe returns live status, metadata and a stream descriptor.
func (d *Douyin) Probe(ctx context.Context, room Room) (*RoomSnapshot, error) {
	const op = "douyin_probe"

	enterURL := fmt.Sprintf("%s/webcast/room/web/enter/?aid=6383&web_rid=%s", d.apiBase, url.QueryEscape(room.Key.RoomID))
	var enter douyinRoomEnter
	if err := d.getJSON(ctx, op, enterURL, room.Extra, &enter); err != nil {
		return nil, err
	}
	if len(enter.Data.Data) == 0 {
		return nil, NewError(KindParse, op, fmt.Errorf("empty room data"))
	}

	info := enter.Data.Data[0]
	snap := &RoomSnapshot{
		Live:  info.Status == 2,
		Title: info.Title,
		User:  UserInfo{ID: info.Owner.IDStr, Name: info.Owner.Nickname},
	}
	if len(info.Cover.URLList) > 0 {
		snap.CoverURL = info.Cover.URLList[0]
	}
	if !snap.Live {
		return snap, nil
	}
	if info.StreamURL.HLSPullURL == "" {
		return nil, NewError(KindParse, op, fmt.Errorf("live room without hls_pull_url"))
	}

	snap.Stream = &StreamDescriptor{
		Kind:        KindTSHLS,
		PlaylistURL: info.StreamURL.HLSPullURL,
	}
	return snap, nil
}

// FetchPlaylist polls the upstream media playlist and rewrites its sequence
// numbers: a segment is new iff its URL has not been seen within the
// per-stream window, and new segments get the next synthesized sequence in
// arrival order.
func (d *Douyin) FetchPlaylist(ctx context.Context, stream *StreamDescriptor) (*Playlist, error) {
	pl, err := d.fetchPlaylist(ctx, stream)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.seqs[stream.PlaylistURL]
	if !ok {
		state = &douyinSeqState{assigned: make(map[string]uint64)}
		d.seqs[stream.PlaylistURL] = state
	}

	for i := range pl.Entries {
		e := &pl.Entries[i]
		if seq, seen := state.assigned[e.URL]; seen {
			e.Sequence = seq
			continue
		}
		e.Sequence = state.next
		state.assigned[e.URL] = state.next
		state.order = append(state.order, e.URL)
		state.next++

		if len(state.order) > douyinSeenWindow {
			evict := state.order[0]
			state.order = state.order[1:]
			delete(state.assigned, evict)
		}
	}
	return pl, nil
}

// FetchBytes streams the body at url into w.
func (d *Douyin) FetchBytes(ctx context.Context, rawURL string, rng *ByteRange, w io.Writer) (int64, error) {
	return d.fetchBytes(ctx, rawURL, rng, w)
}

// DanmuStream opens the chat side-channel for a room.
func (d *Douyin) DanmuStream(ctx context.Context, room Room) (DanmuConn, error) {
	wsURL := fmt.Sprintf("%s?room_id=%s&aid=6383", d.danmuBase, url.QueryEscape(room.Key.RoomID))
	return dialDanmu(ctx, wsURL, d.ua, room.Extra)
}

// Ensure Douyin implements Fetcher at compile time.
var _ Fetcher = (*Douyin)(nil)

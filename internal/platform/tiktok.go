package platform

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

// TikTok API origins.
const (
	tiktokAPIBase   = "https://webcast.tiktok.com"
	tiktokDanmuBase = "wss://webcast16-ws-useast1a.tiktok.com/webcast/im/ws"
)

// TikTok is the tiktok live adapter. Rooms are addressed by @handle and
// streams are TS-HLS only.
type TikTok struct {
	*client
	apiBase   string
	danmuBase string
}

// NewTikTok creates the tiktok adapter.
func NewTikTok(opts Options) *TikTok {
	opts = opts.withDefaults()
	t := &TikTok{
		client:    newClient(opts),
		apiBase:   tiktokAPIBase,
		danmuBase: tiktokDanmuBase,
	}
	if opts.APIBase != "" {
		t.apiBase = opts.APIBase
	}
	if opts.DanmuBase != "" {
		t.danmuBase = opts.DanmuBase
	}
	return t
}

// Platform returns the platform identifier.
func (t *TikTok) Platform() string { return "tiktok" }

// tiktokRoomInfo mirrors /webcast/room/info_by_user/.
type tiktokRoomInfo struct {
	StatusCode int `json:"status_code"`
	Data       struct {
		Status int    `json:"status"` // 2 = live
		Title  string `json:"title"`
		Cover  struct {
			URLList []string `json:"url_list"`
		} `json:"cover"`
		Owner struct {
			IDStr     string `json:"id_str"`
			DisplayID string `json:"display_id"`
			Nickname  string `json:"nickname"`
		} `json:"owner"`
		StreamURL struct {
			HLSPullURL string `json:"hls_pull_url"`
		} `json:"stream_url"`
	} `json:"data"`
}

// Probe returns live status, metadata and a stream descriptor.
func (t *TikTok) Probe(ctx context.Context, room Room) (*RoomSnapshot, error) {
	const op = "tiktok_probe"

	infoURL := fmt.Sprintf("%s/webcast/room/info_by_user/?unique_id=%s&aid=1988", t.apiBase, url.QueryEscape(room.Key.RoomID))
	var info tiktokRoomInfo
	if err := t.getJSON(ctx, op, infoURL, room.Extra, &info); err != nil {
		return nil, err
	}
	if info.StatusCode != 0 {
		return nil, NewError(KindParse, op, fmt.Errorf("api status_code %d", info.StatusCode))
	}

	snap := &RoomSnapshot{
		Live:  info.Data.Status == 2,
		Title: info.Data.Title,
		User: UserInfo{
			ID:   info.Data.Owner.IDStr,
			Name: info.Data.Owner.Nickname,
		},
	}
	if len(info.Data.Cover.URLList) > 0 {
		snap.CoverURL = info.Data.Cover.URLList[0]
	}
	if !snap.Live {
		return snap, nil
	}
	if info.Data.StreamURL.HLSPullURL == "" {
		return nil, NewError(KindParse, op, fmt.Errorf("live room without hls_pull_url"))
	}

	snap.Stream = &StreamDescriptor{
		Kind:        KindTSHLS,
		PlaylistURL: info.Data.StreamURL.HLSPullURL,
	}
	return snap, nil
}

// FetchPlaylist polls the upstream media playlist.
func (t *TikTok) FetchPlaylist(ctx context.Context, stream *StreamDescriptor) (*Playlist, error) {
	return t.fetchPlaylist(ctx, stream)
}

// FetchBytes streams the body at url into w.
func (t *TikTok) FetchBytes(ctx context.Context, rawURL string, rng *ByteRange, w io.Writer) (int64, error) {
	return t.fetchBytes(ctx, rawURL, rng, w)
}

// DanmuStream opens the chat side-channel for a room.
func (t *TikTok) DanmuStream(ctx context.Context, room Room) (DanmuConn, error) {
	wsURL := fmt.Sprintf("%s?unique_id=%s&aid=1988", t.danmuBase, url.QueryEscape(room.Key.RoomID))
	return dialDanmu(ctx, wsURL, t.ua, room.Extra)
}

// Ensure TikTok implements Fetcher at compile time.
var _ Fetcher = (*TikTok)(nil)

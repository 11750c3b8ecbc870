package platform

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

// Kuaishou API origins.
const (
	kuaishouAPIBase   = "https://live.kuaishou.com"
	kuaishouDanmuBase = "wss://livejs-ws-group.gifshow.com/websocket"
)

// Kuaishou is the kuaishou live adapter. TS-HLS only.
type Kuaishou struct {
	*client
	apiBase   string
	danmuBase string
}

// NewKuaishou creates the kuaishou adapter.
func NewKuaishou(opts Options) *Kuaishou {
	opts = opts.withDefaults()
	k := &Kuaishou{
		client:    newClient(opts),
		apiBase:   kuaishouAPIBase,
		danmuBase: kuaishouDanmuBase,
	}
	if opts.APIBase != "" {
		k.apiBase = opts.APIBase
	}
	if opts.DanmuBase != "" {
		k.danmuBase = opts.DanmuBase
	}
	return k
}

// Platform returns the platform identifier.
func (k *Kuaishou) Platform() string { return "kuaishou" }

// kuaishouLiveDetail mirrors /live_api/liveroom/livedetail.
type kuaishouLiveDetail struct {
	Result int `json:"result"`
	Data   struct {
		IsLiving bool `json:"isLiving"`
		Caption  struct {
			Content string `json:"content"`
		} `json:"caption"`
		CoverURL string `json:"coverUrl"`
		Author   struct {
			PrincipalID string `json:"principalId"`
			UserName    string `json:"userName"`
		} `json:"author"`
		PlayURLs struct {
			HLS []struct {
				URL string `json:"url"`
			} `json:"hls"`
		} `json:"playUrls"`
	} `json:"data"`
}

// Probe returns live status, metadata and a stream descriptor.
func (k *Kuaishou) Probe(ctx context.Context, room Room) (*RoomSnapshot, error) {
	const op = "kuaishou_probe"

	detailURL := fmt.Sprintf("%s/live_api/liveroom/livedetail?principalId=%s", k.apiBase, url.QueryEscape(room.Key.RoomID))
	var detail kuaishouLiveDetail
	if err := k.getJSON(ctx, op, detailURL, room.Extra, &detail); err != nil {
		return nil, err
	}
	if detail.Result != 1 {
		return nil, NewError(KindParse, op, fmt.Errorf("api result %d", detail.Result))
	}

	snap := &RoomSnapshot{
		Live:     detail.Data.IsLiving,
		Title:    detail.Data.Caption.Content,
		CoverURL: detail.Data.CoverURL,
		User: UserInfo{
			ID:   detail.Data.Author.PrincipalID,
			Name: detail.Data.Author.UserName,
		},
	}
	if !snap.Live {
		return snap, nil
	}
	if len(detail.Data.PlayURLs.HLS) == 0 {
		return nil, NewError(KindParse, op, fmt.Errorf("live room without hls urls"))
	}

	snap.Stream = &StreamDescriptor{
		Kind:        KindTSHLS,
		PlaylistURL: detail.Data.PlayURLs.HLS[0].URL,
	}
	return snap, nil
}

// FetchPlaylist polls the upstream media playlist.
func (k *Kuaishou) FetchPlaylist(ctx context.Context, stream *StreamDescriptor) (*Playlist, error) {
	return k.fetchPlaylist(ctx, stream)
}

// FetchBytes streams the body at url into w.
func (k *Kuaishou) FetchBytes(ctx context.Context, rawURL string, rng *ByteRange, w io.Writer) (int64, error) {
	return k.fetchBytes(ctx, rawURL, rng, w)
}

// DanmuStream opens the chat side-channel for a room.
func (k *Kuaishou) DanmuStream(ctx context.Context, room Room) (DanmuConn, error) {
	wsURL := fmt.Sprintf("%s?principalId=%s", k.danmuBase, url.QueryEscape(room.Key.RoomID))
	return dialDanmu(ctx, wsURL, k.ua, room.Extra)
}

// Ensure Kuaishou implements Fetcher at compile time.
var _ Fetcher = (*Kuaishou)(nil)

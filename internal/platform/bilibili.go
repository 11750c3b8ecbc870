package platform

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
)

// Bilibili API origins.
const (
	bilibiliAPIBase   = "https://api.live.bilibili.com"
	bilibiliDanmuBase = "wss://broadcastlv.chat.bilibili.com/sub"
)

// Bilibili is the bilibili live adapter. It is the only platform that
// serves fMP4 streams with a distinct init segment.
type Bilibili struct {
	*client
	apiBase   string
	danmuBase string
}

// NewBilibili creates the bilibili adapter.
func NewBilibili(opts Options) *Bilibili {
	opts = opts.withDefaults()
	b := &Bilibili{
		client:    newClient(opts),
		apiBase:   bilibiliAPIBase,
		danmuBase: bilibiliDanmuBase,
	}
	if opts.APIBase != "" {
		b.apiBase = opts.APIBase
	}
	if opts.DanmuBase != "" {
		b.danmuBase = opts.DanmuBase
	}
	return b
}

// Platform returns the platform identifier.
func (b *Bilibili) Platform() string { return "bilibili" }

// bilibiliRoomInfo mirrors /room/v1/Room/get_info.
type bilibiliRoomInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		RoomID     int64  `json:"room_id"`
		UID        int64  `json:"uid"`
		LiveStatus int    `json:"live_status"`
		Title      string `json:"title"`
		UserCover  string `json:"user_cover"`
	} `json:"data"`
}

// bilibiliPlayInfo mirrors /xlive/web-room/v2/index/getRoomPlayInfo.
type bilibiliPlayInfo struct {
	Code int `json:"code"`
	Data struct {
		PlayurlInfo struct {
			Playurl struct {
				Stream []struct {
					ProtocolName string `json:"protocol_name"`
					Format       []struct {
						FormatName string `json:"format_name"`
						Codec      []struct {
							CodecName string `json:"codec_name"`
							BaseURL   string `json:"base_url"`
							URLInfo   []struct {
								Host  string `json:"host"`
								Extra string `json:"extra"`
							} `json:"url_info"`
						} `json:"codec"`
					} `json:"format"`
				} `json:"stream"`
			} `json:"playurl"`
		} `json:"playurl_info"`
	} `json:"data"`
}

// Probe returns live status, metadata and a stream descriptor. For live
// fMP4 rooms the descriptor's init URL is resolved from the playlist's
// EXT-X-MAP so the recorder can fetch the header before any media segment.
func (b *Bilibili) Probe(ctx context.Context, room Room) (*RoomSnapshot, error) {
	const op = "bilibili_probe"

	infoURL := fmt.Sprintf("%s/room/v1/Room/get_info?room_id=%s", b.apiBase, url.QueryEscape(room.Key.RoomID))
	var info bilibiliRoomInfo
	if err := b.getJSON(ctx, op, infoURL, room.Extra, &info); err != nil {
		return nil, err
	}
	if info.Code != 0 {
		return nil, NewError(KindParse, op, fmt.Errorf("api code %d: %s", info.Code, info.Message))
	}

	snap := &RoomSnapshot{
		Live:     info.Data.LiveStatus == 1,
		Title:    info.Data.Title,
		CoverURL: info.Data.UserCover,
		User:     UserInfo{ID: strconv.FormatInt(info.Data.UID, 10)},
	}
	if !snap.Live {
		return snap, nil
	}

	playURL := fmt.Sprintf(
		"%s/xlive/web-room/v2/index/getRoomPlayInfo?room_id=%s&protocol=1&format=1&codec=0&qn=10000&platform=web",
		b.apiBase, url.QueryEscape(room.Key.RoomID))
	var play bilibiliPlayInfo
	if err := b.getJSON(ctx, op, playURL, room.Extra, &play); err != nil {
		return nil, err
	}

	desc, err := b.pickStream(&play)
	if err != nil {
		return nil, err
	}

	// fMP4 carries its header in EXT-X-MAP; resolve it now so the session
	// can fetch the init segment before the first media segment.
	pl, err := b.fetchPlaylist(ctx, desc)
	if err != nil {
		return nil, err
	}
	if pl.InitURL != "" {
		desc.Kind = KindFMP4
		desc.InitURL = pl.InitURL
	}

	snap.Stream = desc
	return snap, nil
}

// pickStream selects the first HLS stream variant from play info.
func (b *Bilibili) pickStream(play *bilibiliPlayInfo) (*StreamDescriptor, error) {
	const op = "bilibili_probe"
	for _, stream := range play.Data.PlayurlInfo.Playurl.Stream {
		for _, format := range stream.Format {
			for _, codec := range format.Codec {
				if len(codec.URLInfo) == 0 {
					continue
				}
				u := codec.URLInfo[0]
				desc := &StreamDescriptor{
					Kind:        KindTSHLS,
					PlaylistURL: u.Host + codec.BaseURL + u.Extra,
					CodecHint:   codec.CodecName,
				}
				if format.FormatName == "fmp4" {
					desc.Kind = KindFMP4
				}
				return desc, nil
			}
		}
	}
	return nil, NewError(KindParse, op, fmt.Errorf("no playable stream in play info"))
}

// FetchPlaylist polls the upstream media playlist.
func (b *Bilibili) FetchPlaylist(ctx context.Context, stream *StreamDescriptor) (*Playlist, error) {
	return b.fetchPlaylist(ctx, stream)
}

// FetchBytes streams the body at url into w.
func (b *Bilibili) FetchBytes(ctx context.Context, rawURL string, rng *ByteRange, w io.Writer) (int64, error) {
	return b.fetchBytes(ctx, rawURL, rng, w)
}

// DanmuStream opens the chat side-channel for a room.
func (b *Bilibili) DanmuStream(ctx context.Context, room Room) (DanmuConn, error) {
	wsURL := fmt.Sprintf("%s?room_id=%s", b.danmuBase, url.QueryEscape(room.Key.RoomID))
	return dialDanmu(ctx, wsURL, b.ua, room.Extra)
}

// Ensure Bilibili implements Fetcher at compile time.
var _ Fetcher = (*Bilibili)(nil)

package platform

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

// Huya API origins.
const (
	huyaAPIBase   = "https://mp.huya.com"
	huyaDanmuBase = "wss://cdnws.api.huya.com"
)

// Huya is the huya live adapter. Rooms are addressed by URL handle and
// streams are TS-HLS only.
type Huya struct {
	*client
	apiBase   string
	danmuBase string
}

// NewHuya creates the huya adapter.
func NewHuya(opts Options) *Huya {
	opts = opts.withDefaults()
	h := &Huya{
		client:    newClient(opts),
		apiBase:   huyaAPIBase,
		danmuBase: huyaDanmuBase,
	}
	if opts.APIBase != "" {
		h.apiBase = opts.APIBase
	}
	if opts.DanmuBase != "" {
		h.danmuBase = opts.DanmuBase
	}
	return h
}

// Platform returns the platform identifier.
func (h *Huya) Platform() string { return "huya" }

// huyaLiveInfo mirrors /cache.php?m=Live&do=profileInfo.
type huyaLiveInfo struct {
	Status int `json:"status"`
	Data   struct {
		RealLiveStatus string `json:"realLiveStatus"` // "ON" when live
		LiveData       struct {
			Introduction string `json:"introduction"`
			Screenshot   string `json:"screenshot"`
			Nick         string `json:"nick"`
			UID          int64  `json:"uid"`
		} `json:"liveData"`
		Stream struct {
			BaseSteamInfoList []struct {
				SHlsURL       string `json:"sHlsUrl"`
				SStreamName   string `json:"sStreamName"`
				SHlsURLSuffix string `json:"sHlsUrlSuffix"`
				SHlsAntiCode  string `json:"sHlsAntiCode"`
			} `json:"baseSteamInfoList"`
		} `json:"stream"`
	} `json:"data"`
}

// Probe returns live status, metadata and a stream descriptor.
func (h *Huya) Probe(ctx context.Context, room Room) (*RoomSnapshot, error) {
	const op = "huya_probe"

	infoURL := fmt.Sprintf("%s/cache.php?m=Live&do=profileInfo&lp=%s", h.apiBase, url.QueryEscape(room.Key.RoomID))
	var info huyaLiveInfo
	if err := h.getJSON(ctx, op, infoURL, room.Extra, &info); err != nil {
		return nil, err
	}
	if info.Status != 200 {
		return nil, NewError(KindParse, op, fmt.Errorf("api status %d", info.Status))
	}

	snap := &RoomSnapshot{
		Live:     info.Data.RealLiveStatus == "ON",
		Title:    info.Data.LiveData.Introduction,
		CoverURL: info.Data.LiveData.Screenshot,
		User: UserInfo{
			ID:   fmt.Sprintf("%d", info.Data.LiveData.UID),
			Name: info.Data.LiveData.Nick,
		},
	}
	if !snap.Live {
		return snap, nil
	}

	list := info.Data.Stream.BaseSteamInfoList
	if len(list) == 0 {
		return nil, NewError(KindParse, op, fmt.Errorf("live room without stream list"))
	}
	s := list[0]
	playlistURL := fmt.Sprintf("%s/%s.%s", s.SHlsURL, s.SStreamName, s.SHlsURLSuffix)
	if s.SHlsAntiCode != "" {
		playlistURL += "?" + s.SHlsAntiCode
	}

	snap.Stream = &StreamDescriptor{Kind: KindTSHLS, PlaylistURL: playlistURL}
	return snap, nil
}

// FetchPlaylist polls the upstream media playlist.
func (h *Huya) FetchPlaylist(ctx context.Context, stream *StreamDescriptor) (*Playlist, error) {
	return h.fetchPlaylist(ctx, stream)
}

// FetchBytes streams the body at url into w.
func (h *Huya) FetchBytes(ctx context.Context, rawURL string, rng *ByteRange, w io.Writer) (int64, error) {
	return h.fetchBytes(ctx, rawURL, rng, w)
}

// DanmuStream opens the chat side-channel for a room.
func (h *Huya) DanmuStream(ctx context.Context, room Room) (DanmuConn, error) {
	wsURL := fmt.Sprintf("%s/?room=%s", h.danmuBase, url.QueryEscape(room.Key.RoomID))
	return dialDanmu(ctx, wsURL, h.ua, room.Extra)
}

// Ensure Huya implements Fetcher at compile time.
var _ Fetcher = (*Huya)(nil)

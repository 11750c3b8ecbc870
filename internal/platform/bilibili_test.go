package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBilibiliStub serves the room info, play info and playlist endpoints.
// withMap controls whether the playlist advertises an fMP4 init segment.
func newBilibiliStub(t *testing.T, live bool, withMap bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/room/v1/Room/get_info", func(w http.ResponseWriter, r *http.Request) {
		status := 0
		if live {
			status = 1
		}
		fmt.Fprintf(w, `{"code":0,"data":{"room_id":1234,"uid":77,"live_status":%d,"title":"t","user_cover":"http://c/cover.jpg"}}`, status)
	})
	mux.HandleFunc("/xlive/web-room/v2/index/getRoomPlayInfo", func(w http.ResponseWriter, r *http.Request) {
		format := "ts"
		if withMap {
			format = "fmp4"
		}
		fmt.Fprintf(w, `{"code":0,"data":{"playurl_info":{"playurl":{"stream":[{"protocol_name":"http_hls","format":[{"format_name":%q,"codec":[{"codec_name":"avc","base_url":"/live/room.m3u8","url_info":[{"host":%q,"extra":""}]}]}]}]}}}}`, format, srv.URL)
	})
	mux.HandleFunc("/live/room.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:100\n")
		if withMap {
			fmt.Fprint(w, "#EXT-X-MAP:URI=\"h100.m4s\"\n")
		}
		fmt.Fprint(w, "#EXTINF:6.000,\n100.m4s\n")
	})

	srv = httptest.NewServer(mux)
	return srv
}

func TestBilibiliProbeOffline(t *testing.T) {
	srv := newBilibiliStub(t, false, false)
	defer srv.Close()

	b := NewBilibili(Options{APIBase: srv.URL})
	snap, err := b.Probe(context.Background(), testRoom("bilibili", "1234"))
	require.NoError(t, err)
	assert.False(t, snap.Live)
	assert.Nil(t, snap.Stream)
	assert.Equal(t, "t", snap.Title)
}

func TestBilibiliProbeLiveFMP4(t *testing.T) {
	srv := newBilibiliStub(t, true, true)
	defer srv.Close()

	b := NewBilibili(Options{APIBase: srv.URL})
	snap, err := b.Probe(context.Background(), testRoom("bilibili", "1234"))
	require.NoError(t, err)
	require.True(t, snap.Live)
	require.NotNil(t, snap.Stream)

	assert.Equal(t, KindFMP4, snap.Stream.Kind)
	assert.Equal(t, srv.URL+"/live/room.m3u8", snap.Stream.PlaylistURL)
	assert.Equal(t, srv.URL+"/live/h100.m4s", snap.Stream.InitURL)
	assert.Equal(t, "avc", snap.Stream.CodecHint)
	assert.Equal(t, "77", snap.User.ID)
}

func TestBilibiliProbeLiveTS(t *testing.T) {
	srv := newBilibiliStub(t, true, false)
	defer srv.Close()

	b := NewBilibili(Options{APIBase: srv.URL})
	snap, err := b.Probe(context.Background(), testRoom("bilibili", "1234"))
	require.NoError(t, err)
	require.NotNil(t, snap.Stream)
	assert.Equal(t, KindTSHLS, snap.Stream.Kind)
	assert.Empty(t, snap.Stream.InitURL)
}

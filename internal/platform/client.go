package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// defaultUserAgent mimics a desktop browser; several platforms deny the Go
// default agent outright.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Options configures a platform adapter.
type Options struct {
	// HTTPClient for API, playlist and segment requests. A pooled default
	// is created when nil.
	HTTPClient *http.Client
	// Logger for structured logging.
	Logger *slog.Logger
	// UserAgent overrides the default browser agent.
	UserAgent string
	// APIBase overrides the platform API origin; used by tests.
	APIBase string
	// DanmuBase overrides the danmaku websocket origin; used by tests.
	DanmuBase string
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
			},
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

// client is the HTTP plumbing shared by all adapters.
type client struct {
	http   *http.Client
	logger *slog.Logger
	ua     string
}

func newClient(o Options) *client {
	return &client{http: o.HTTPClient, logger: o.Logger, ua: o.UserAgent}
}

// get issues a GET with the adapter's headers. cookie is attached when
// non-empty (the per-room Extra credential).
func (c *client) get(ctx context.Context, op, rawURL, cookie string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewError(KindNetwork, op, err)
	}
	req.Header.Set("User-Agent", c.ua)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewError(KindNetwork, op, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		code := resp.StatusCode
		resp.Body.Close()
		return nil, NewError(kindForStatus(code), op, fmt.Errorf("unexpected status %d", code))
	}
	return resp, nil
}

// getJSON decodes a JSON API response into out.
func (c *client) getJSON(ctx context.Context, op, rawURL, cookie string, out any) error {
	resp, err := c.get(ctx, op, rawURL, cookie)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(KindParse, op, err)
	}
	return nil
}

// fetchPlaylist downloads and parses a media playlist. Sequence numbers come
// from EXT-X-MEDIA-SEQUENCE plus position; relative URIs are absolutized
// against the playlist URL.
func (c *client) fetchPlaylist(ctx context.Context, stream *StreamDescriptor) (*Playlist, error) {
	const op = "fetch_playlist"

	resp, err := c.get(ctx, op, stream.PlaylistURL, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(KindNetwork, op, err)
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, NewError(KindParse, op, err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, NewError(KindParse, op, fmt.Errorf("expected media playlist, got multivariant"))
	}

	out := &Playlist{Closed: media.Endlist}
	if media.Map != nil && media.Map.URI != "" {
		out.InitURL = absolutizeURL(stream.PlaylistURL, media.Map.URI)
	}
	for i, seg := range media.Segments {
		out.Entries = append(out.Entries, PlaylistEntry{
			Sequence: uint64(media.MediaSequence) + uint64(i), //nolint:gosec // sequence fits
			URL:      absolutizeURL(stream.PlaylistURL, seg.URI),
			Duration: seg.Duration.Seconds(),
		})
	}
	return out, nil
}

// fetchBytes streams the body at rawURL into w.
func (c *client) fetchBytes(ctx context.Context, rawURL string, rng *ByteRange, w io.Writer) (int64, error) {
	const op = "fetch_bytes"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, NewError(KindNetwork, op, err)
	}
	req.Header.Set("User-Agent", c.ua)
	if rng != nil {
		req.Header.Set("Range", rng.Header())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, NewError(KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, NewError(kindForStatus(resp.StatusCode), op, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, NewError(KindNetwork, op, err)
	}
	return n, nil
}

// absolutizeURL converts a relative URL to absolute based on the playlist URL.
func absolutizeURL(playlistURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		if idx := strings.LastIndex(playlistURL, "/"); idx >= 0 {
			return playlistURL[:idx+1] + ref
		}
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

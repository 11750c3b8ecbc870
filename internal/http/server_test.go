package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xinrea/shadowreplay/internal/config"
	"github.com/Xinrea/shadowreplay/internal/database"
	"github.com/Xinrea/shadowreplay/internal/models"
	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/internal/recorder"
	"github.com/Xinrea/shadowreplay/internal/repository"
	"github.com/Xinrea/shadowreplay/internal/service/progress"
)

// stubClipper satisfies recorder.ClipAssembler without ffmpeg.
type stubClipper struct {
	item *models.VideoItem
	err  error
}

func (c *stubClipper) Assemble(ctx context.Context, req recorder.ClipRequest) (*models.VideoItem, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.item, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *recorder.Manager) {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	}, slog.Default())
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	// Platform probes land on a refusing stub.
	apiStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(apiStub.Close)

	events := progress.NewService(slog.Default())
	manager := recorder.NewManager(
		config.RecordingConfig{
			CachePath:           t.TempDir(),
			StatusCheckInterval: config.MinStatusCheckInterval,
			SegmentPollInterval: time.Second,
			StaleThreshold:      30 * time.Second,
			MaxSegmentRetries:   1,
			RetryBackoffBase:    time.Millisecond,
			RetryBackoffCap:     time.Millisecond,
		},
		platform.Options{APIBase: apiStub.URL},
		repository.NewRecorderRepository(db.DB),
		repository.NewArchiveRepository(db.DB),
		repository.NewVideoRepository(db.DB),
		events,
		&stubClipper{item: &models.VideoItem{File: "/out/clip.mp4"}},
		slog.Default(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, manager.Start(ctx))
	t.Cleanup(func() {
		manager.Stop()
		cancel()
	})

	s := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, manager, slog.Default())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, manager
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/rooms", map[string]string{
		"platform": "bilibili", "room_id": "1234", "extra": "cookie=x",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var listing struct {
		Rooms []recorder.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Rooms, 1)
	assert.Equal(t, "1234", listing.Rooms[0].Key.RoomID)

	resp = postJSON(t, srv.URL+"/api/rooms/bilibili/1234/enable", map[string]bool{"enabled": false})
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/rooms/bilibili/1234?cascade=true", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAddRoomRejectsUnknownPlatform(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/rooms", map[string]string{
		"platform": "youtube", "room_id": "x",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClipEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/clip", recorder.ClipRequest{
		Key:     models.RoomKey{Platform: "bilibili", RoomID: "1234"},
		LiveID:  "1700000000000",
		Start:   5,
		End:     13,
		EventID: "clip-http",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var item models.VideoItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&item))
	assert.Equal(t, "/out/clip.mp4", item.File)
}

func TestCancelUnknownOperation(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/cancel/nope", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

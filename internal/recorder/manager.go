package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/Xinrea/shadowreplay/internal/config"
	"github.com/Xinrea/shadowreplay/internal/models"
	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/internal/repository"
	"github.com/Xinrea/shadowreplay/internal/service/progress"
)

// ClipRequest asks for a [Start, End) sub-range of a session.
type ClipRequest struct {
	Key    models.RoomKey `json:"room"`
	LiveID string         `json:"live_id"`
	Start  float64        `json:"x"`
	End    float64        `json:"y"`
	// EncodeDanmu burns the danmaku overlay into the clip.
	EncodeDanmu bool `json:"encode_danmu"`
	// EncodeSubtitle burns the session's pre-generated subtitle file into
	// the clip instead of the danmaku track.
	EncodeSubtitle bool `json:"encode_subtitle"`
	// EventID keys progress events and in-band cancellation. Generated when
	// empty.
	EventID string `json:"event_id"`
}

// ClipAssembler produces a playable artifact from stored segments.
type ClipAssembler interface {
	Assemble(ctx context.Context, req ClipRequest) (*models.VideoItem, error)
}

// RoomSummary is one row of the fleet listing.
type RoomSummary struct {
	Status
	// DiskUsage is the cumulative archive size for the room.
	DiskUsage int64 `json:"disk_usage"`
}

// CacheStats reports the cache volume.
type CacheStats struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// managedRecorder pairs a recorder task with its cancellation token.
type managedRecorder struct {
	rec    *Recorder
	cancel context.CancelFunc
}

// Manager owns the recorder fleet: it schedules per-room tasks, enforces
// the global status-check interval, publishes progress events and exposes
// query and clip operations. The manager owns no media data; everything is
// addressed via session directories and the archive table.
type Manager struct {
	cfg      config.RecordingConfig
	popts    platform.Options
	recRepo  repository.RecorderRepository
	archives repository.ArchiveRepository
	videos   repository.VideoRepository
	events   *progress.Service
	clipper  ClipAssembler
	logger   *slog.Logger

	mu      sync.RWMutex
	rooms   map[models.RoomKey]*managedRecorder
	running bool
	runCtx  context.Context

	cron       *cron.Cron
	statsMu    sync.RWMutex
	cacheStats CacheStats
}

// NewManager creates the fleet owner.
func NewManager(
	cfg config.RecordingConfig,
	popts platform.Options,
	recRepo repository.RecorderRepository,
	archives repository.ArchiveRepository,
	videos repository.VideoRepository,
	events *progress.Service,
	clipper ClipAssembler,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		popts:    popts,
		recRepo:  recRepo,
		archives: archives,
		videos:   videos,
		events:   events,
		clipper:  clipper,
		logger:   logger.With(slog.String("component", "recorder_manager")),
		rooms:    make(map[models.RoomKey]*managedRecorder),
		cron:     cron.New(),
	}
}

// Start loads the persisted fleet and spawns a recorder task per room.
// ctx bounds the lifetime of every spawned task.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.runCtx = ctx
	m.mu.Unlock()

	rows, err := m.recRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading recorders: %w", err)
	}
	for _, row := range rows {
		if err := m.spawn(row.Key(), row.Extra, row.IsEnabled()); err != nil {
			m.logger.Error("spawning recorder failed",
				slog.String("room", row.Key().String()),
				slog.String("error", err.Error()),
			)
		}
	}

	m.events.Start()
	m.refreshCacheStats()
	if _, err := m.cron.AddFunc("@every 5m", m.refreshCacheStats); err != nil {
		return fmt.Errorf("scheduling cache stats refresh: %w", err)
	}
	m.cron.Start()

	m.logger.Info("recorder fleet started", slog.Int("rooms", len(rows)))
	return nil
}

// Stop cancels all recorder tasks and awaits their teardown.
func (m *Manager) Stop() {
	m.mu.Lock()
	recs := make([]*managedRecorder, 0, len(m.rooms))
	for _, mr := range m.rooms {
		recs = append(recs, mr)
	}
	m.rooms = make(map[models.RoomKey]*managedRecorder)
	m.running = false
	m.mu.Unlock()

	for _, mr := range recs {
		mr.cancel()
	}
	for _, mr := range recs {
		select {
		case <-mr.rec.Done():
		case <-time.After(10 * time.Second):
			m.logger.Warn("recorder teardown timed out",
				slog.String("room", mr.rec.room.Key.String()))
		}
	}

	ctx := m.cron.Stop()
	<-ctx.Done()
	m.events.Stop()
	m.logger.Info("recorder fleet stopped")
}

// recorderConfig resolves the per-room recorder configuration, honoring
// per-platform stale-threshold overrides.
func (m *Manager) recorderConfig(platformName string) Config {
	interval := m.cfg.StatusCheckInterval
	if interval < config.MinStatusCheckInterval {
		interval = config.MinStatusCheckInterval
	}
	return Config{
		CachePath:           m.cfg.CachePath,
		StatusCheckInterval: interval,
		SegmentPollInterval: m.cfg.SegmentPollInterval,
		StaleThreshold:      m.cfg.StaleThresholdFor(platformName),
		Retry: RetryPolicy{
			MaxAttempts: m.cfg.MaxSegmentRetries,
			BaseDelay:   m.cfg.RetryBackoffBase,
			CapDelay:    m.cfg.RetryBackoffCap,
		},
		ProbeTimeout:    m.cfg.ProbeTimeout,
		PlaylistTimeout: m.cfg.PlaylistTimeout,
		SegmentTimeout:  m.cfg.SegmentTimeout,
		DanmuBuffer:     m.cfg.DanmuBuffer,
	}
}

// spawn creates and runs a recorder task for a room. Caller must hold no
// locks.
func (m *Manager) spawn(key models.RoomKey, extra string, enabled bool) error {
	fetcher, err := platform.New(key.Platform, m.popts)
	if err != nil {
		return err
	}

	room := platform.Room{Key: key, Extra: extra}
	rec := NewRecorder(room, fetcher, m.recorderConfig(key.Platform), m.archives, Hooks{
		OnSessionEnd: m.onSessionEnd,
	}, m.logger)
	rec.SetEnabled(enabled)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[key]; exists {
		return nil
	}
	taskCtx, cancel := context.WithCancel(m.runCtx)
	m.rooms[key] = &managedRecorder{rec: rec, cancel: cancel}
	go rec.Run(taskCtx)
	return nil
}

// onSessionEnd publishes the finished event for a session and schedules
// the auto-generated whole-session clip when configured. The clip runs
// asynchronously; the recorder never blocks on it.
func (m *Manager) onSessionEnd(info SessionInfo, length float64, size int64, reason string) {
	eventID := fmt.Sprintf("record:%s:%s:%s", info.Key.Platform, info.Key.RoomID, info.LiveID)
	m.events.EmitFinished(eventID, true,
		fmt.Sprintf("session ended (%s): %.1fs, %d bytes", reason, length, size))

	if !m.cfg.AutoGenerate.Enabled {
		return
	}
	go func() {
		req := ClipRequest{
			Key:         info.Key,
			LiveID:      info.LiveID,
			Start:       0,
			End:         length,
			EncodeDanmu: m.cfg.AutoGenerate.EncodeDanmu,
			EventID:     "auto:" + info.LiveID,
		}
		if _, err := m.Clip(context.Background(), req); err != nil {
			m.logger.Warn("auto-generated clip failed",
				slog.String("live_id", info.LiveID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// AddRecorder registers a room. Idempotent: re-adding an existing room
// overwrites its persisted extra data and sets its persisted enabled flag
// to true; a recorder task already running for the room is left as it is.
// Otherwise the recorder task starts immediately when the fleet is running.
func (m *Manager) AddRecorder(ctx context.Context, key models.RoomKey, extra string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	enabled := true
	if err := m.recRepo.Upsert(ctx, &models.Recorder{
		Platform: key.Platform,
		RoomID:   key.RoomID,
		Enabled:  &enabled,
		Extra:    extra,
	}); err != nil {
		return err
	}

	m.mu.RLock()
	running := m.running
	_, exists := m.rooms[key]
	m.mu.RUnlock()

	if !running || exists {
		return nil
	}
	return m.spawn(key, extra, true)
}

// RemoveRecorder cancels the room's task, awaits teardown and removes the
// persisted rows. With cascade set, all on-disk sessions and archive rows
// for the room are deleted too.
func (m *Manager) RemoveRecorder(ctx context.Context, key models.RoomKey, cascade bool) error {
	m.mu.Lock()
	mr, ok := m.rooms[key]
	delete(m.rooms, key)
	m.mu.Unlock()

	if ok {
		mr.cancel()
		select {
		case <-mr.rec.Done():
		case <-time.After(10 * time.Second):
			m.logger.Warn("recorder teardown timed out", slog.String("room", key.String()))
		}
	}

	if err := m.recRepo.Delete(ctx, key); err != nil {
		return err
	}
	if cascade {
		if err := m.archives.DeleteByRoom(ctx, key); err != nil {
			return err
		}
		roomDir := filepath.Join(m.cfg.CachePath, key.Platform, key.RoomID)
		if err := os.RemoveAll(roomDir); err != nil {
			return fmt.Errorf("removing room cache: %w", err)
		}
	}
	return nil
}

// SetEnabled toggles per-room auto-recording. A disabled recorder stays in
// Idle and does not probe.
func (m *Manager) SetEnabled(ctx context.Context, key models.RoomKey, enabled bool) error {
	if err := m.recRepo.SetEnabled(ctx, key, enabled); err != nil {
		return err
	}

	m.mu.RLock()
	mr, ok := m.rooms[key]
	m.mu.RUnlock()
	if ok {
		mr.rec.SetEnabled(enabled)
	}
	return nil
}

// List returns a snapshot of every room: current state, last title/cover,
// live id if recording, and cumulative disk usage.
func (m *Manager) List(ctx context.Context) ([]RoomSummary, error) {
	m.mu.RLock()
	recs := make([]*Recorder, 0, len(m.rooms))
	for _, mr := range m.rooms {
		recs = append(recs, mr.rec)
	}
	m.mu.RUnlock()

	out := make([]RoomSummary, 0, len(recs))
	for _, rec := range recs {
		st := rec.Status()
		usage, err := m.archives.TotalSizeByRoom(ctx, st.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, RoomSummary{Status: st, DiskUsage: usage})
	}
	return out, nil
}

// GetArchives pages the archive table for a room.
func (m *Manager) GetArchives(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.Archive, int64, error) {
	return m.archives.GetByRoom(ctx, key, offset, limit)
}

// GetVideos pages the clip outputs for a room.
func (m *Manager) GetVideos(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.VideoItem, int64, error) {
	return m.videos.GetByRoom(ctx, key, offset, limit)
}

// DeleteArchive removes one archive row and its session directory.
func (m *Manager) DeleteArchive(ctx context.Context, key models.RoomKey, liveID string) error {
	if cur, ok := m.currentLiveID(key); ok && cur == liveID {
		return fmt.Errorf("session %s is still recording", liveID)
	}

	if err := m.archives.Delete(ctx, key, liveID); err != nil {
		return err
	}
	dir := filepath.Join(m.cfg.CachePath, key.Platform, key.RoomID, liveID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing session directory: %w", err)
	}
	return nil
}

// currentLiveID reports the in-flight live id of a room's recorder.
func (m *Manager) currentLiveID(key models.RoomKey) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mr, ok := m.rooms[key]
	if !ok {
		return "", false
	}
	return mr.rec.CurrentLiveID()
}

// Clip produces a playable artifact for a [x, y) sub-range of a session,
// emitting progress under the request's event id. Cancellation is in-band:
// Cancel(event_id) aborts the assembly.
func (m *Manager) Clip(ctx context.Context, req ClipRequest) (*models.VideoItem, error) {
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}
	if req.End <= req.Start {
		return nil, fmt.Errorf("empty clip range [%f, %f)", req.Start, req.End)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := m.events.Register(req.EventID, cancel); err != nil {
		return nil, err
	}

	item, err := m.clipper.Assemble(cctx, req)
	if err != nil {
		m.events.EmitFinished(req.EventID, false, err.Error())
		return nil, err
	}
	m.events.EmitFinished(req.EventID, true, item.File)
	return item, nil
}

// Cancel trips the cancellation token for an event id.
func (m *Manager) Cancel(eventID string) bool {
	return m.events.Cancel(eventID)
}

// EmitProgress publishes a progress event for a long-running operation.
func (m *Manager) EmitProgress(eventID, content string) {
	m.events.EmitProgress(eventID, content)
}

// EmitFinished publishes the terminal event for a long-running operation.
// At most one finished event is delivered per id.
func (m *Manager) EmitFinished(eventID string, success bool, message string) {
	m.events.EmitFinished(eventID, success, message)
}

// Events exposes the progress service for subscribers.
func (m *Manager) Events() *progress.Service {
	return m.events
}

// CacheStats returns the last sampled cache-volume statistics.
func (m *Manager) CacheStats() CacheStats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.cacheStats
}

// refreshCacheStats samples the cache volume.
func (m *Manager) refreshCacheStats() {
	usage, err := disk.Usage(m.cfg.CachePath)
	if err != nil {
		// The cache root may not exist until the first session commits.
		m.logger.Debug("cache stats unavailable", slog.String("error", err.Error()))
		return
	}

	m.statsMu.Lock()
	m.cacheStats = CacheStats{
		Path:        m.cfg.CachePath,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}
	m.statsMu.Unlock()
}

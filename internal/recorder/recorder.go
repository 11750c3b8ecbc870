package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Xinrea/shadowreplay/internal/models"
	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/internal/repository"
)

// State names the recorder state machine states.
type State string

const (
	StateIdle                 State = "idle"
	StateProbing              State = "probing"
	StateWaiting              State = "waiting"
	StateStarting             State = "starting"
	StateFetchingInit         State = "fetching_init"
	StateFetchingFirstSegment State = "fetching_first_segment"
	StateRecording            State = "recording"
	StateEndingSession        State = "ending_session"
	StateDegraded             State = "degraded"
)

// Session end reasons.
const (
	endReasonOffline   = "stream offline"
	endReasonStale     = "stale stream"
	endReasonClosed    = "upstream playlist ended"
	endReasonChanged   = "stream parameters changed"
	endReasonDisabled  = "recording disabled"
	endReasonCancelled = "cancelled"
)

// errDisk wraps store failures that are fatal for the session.
var errDisk = errors.New("disk failure")

// errUpstreamClosed signals an upstream ENDLIST during recording.
var errUpstreamClosed = errors.New("upstream playlist ended")

// Config is the per-room recorder configuration.
type Config struct {
	CachePath           string
	StatusCheckInterval time.Duration
	SegmentPollInterval time.Duration
	StaleThreshold      time.Duration
	Retry               RetryPolicy
	ProbeTimeout        time.Duration
	PlaylistTimeout     time.Duration
	SegmentTimeout      time.Duration
	DanmuBuffer         int
	// BurstLimit caps how many new entries one poll may enqueue. Earlier
	// entries are skipped with a discontinuity so the recorder never falls
	// behind live.
	BurstLimit int
}

func (c Config) withDefaults() Config {
	if c.StatusCheckInterval <= 0 {
		c.StatusCheckInterval = 30 * time.Second
	}
	if c.SegmentPollInterval <= 0 {
		c.SegmentPollInterval = time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 30 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.PlaylistTimeout <= 0 {
		c.PlaylistTimeout = 10 * time.Second
	}
	if c.SegmentTimeout <= 0 {
		c.SegmentTimeout = 30 * time.Second
	}
	if c.DanmuBuffer <= 0 {
		c.DanmuBuffer = 256
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = 3
	}
	return c
}

// SessionInfo describes a session to hooks and callers.
type SessionInfo struct {
	Key    models.RoomKey
	LiveID string
	Dir    string
	Title  string
	Kind   platform.StreamKind
}

// Hooks are the recorder's callbacks into the fleet owner.
type Hooks struct {
	// OnSessionEnd fires after teardown completes: danmu flushed, manifest
	// closed with ENDLIST, file handles released.
	OnSessionEnd func(info SessionInfo, length float64, size int64, reason string)
}

// Status is a point-in-time snapshot of a recorder.
type Status struct {
	Key       models.RoomKey `json:"room"`
	State     State          `json:"state"`
	Enabled   bool           `json:"enabled"`
	Title     string         `json:"title,omitempty"`
	CoverURL  string         `json:"cover,omitempty"`
	LiveID    string         `json:"live_id,omitempty"`
	Duration  float64        `json:"duration,omitempty"`
	Size      int64          `json:"size,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// session is the state owned exclusively while recording.
type session struct {
	liveID    string
	dir       string
	stream    *platform.StreamDescriptor
	store     *EntryStore
	danmu     *DanmuStorage
	title     string
	startedAt time.Time

	danmuCancel context.CancelFunc
	danmuDone   chan struct{}
}

// Recorder is one long-running task per registered room. It owns the
// session lifecycle and drives segment ingestion.
type Recorder struct {
	room     platform.Room
	fetcher  platform.Fetcher
	cfg      Config
	archives repository.ArchiveRepository
	hooks    Hooks
	logger   *slog.Logger

	mu        sync.RWMutex
	state     State
	enabled   bool
	lastTitle string
	lastCover string
	lastError string
	sess      *session

	wake chan struct{}
	done chan struct{}
}

// NewRecorder creates a recorder for one room. Run must be called to start
// the state machine.
func NewRecorder(room platform.Room, fetcher platform.Fetcher, cfg Config, archives repository.ArchiveRepository, hooks Hooks, logger *slog.Logger) *Recorder {
	return &Recorder{
		room:     room,
		fetcher:  fetcher,
		cfg:      cfg.withDefaults(),
		archives: archives,
		hooks:    hooks,
		enabled:  true,
		state:    StateIdle,
		logger: logger.With(
			slog.String("component", "recorder"),
			slog.String("platform", room.Key.Platform),
			slog.String("room_id", room.Key.RoomID),
		),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (r *Recorder) Done() <-chan struct{} { return r.done }

// Enabled reports the per-room auto-recording toggle.
func (r *Recorder) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled toggles per-room auto-recording. Enabling wakes an Idle or
// Degraded recorder; disabling ends an in-flight session on the next poll.
func (r *Recorder) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	if enabled {
		r.lastError = ""
	}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Status returns a point-in-time snapshot.
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		Key:       r.room.Key,
		State:     r.state,
		Enabled:   r.enabled,
		Title:     r.lastTitle,
		CoverURL:  r.lastCover,
		LastError: r.lastError,
	}
	if r.sess != nil {
		st.LiveID = r.sess.liveID
		st.Duration = r.sess.store.TotalDuration()
		st.Size = r.sess.store.Size()
	}
	return st
}

// CurrentLiveID returns the live id of the in-flight session, if any.
func (r *Recorder) CurrentLiveID() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sess == nil {
		return "", false
	}
	return r.sess.liveID, true
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run drives the state machine until ctx is cancelled. On cancellation any
// in-flight session is torn down: polling stops within one interval, the
// danmu log is flushed, ENDLIST is written and file handles are released
// before Run returns.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if r.hasSession() {
			r.endSession(endReasonCancelled)
		}
	}()

	for ctx.Err() == nil {
		if !r.Enabled() {
			r.setState(StateIdle)
			if !r.waitWake(ctx) {
				return
			}
			continue
		}

		r.setState(StateProbing)
		snap, err := r.probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if platform.IsAuth(err) {
				r.setDegraded(err)
				r.logger.Error("probe auth failure, recorder degraded", slog.String("error", err.Error()))
				if !r.waitWake(ctx) {
					return
				}
				continue
			}
			r.logger.Warn("probe failed", slog.String("error", err.Error()))
			if !r.waitIdle(ctx) {
				return
			}
			continue
		}

		r.noteRoomMeta(snap)
		if !snap.Live || snap.Stream == nil {
			if !r.waitIdle(ctx) {
				return
			}
			continue
		}

		if err := r.startSession(ctx, snap); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("session start failed",
				slog.String("error", err.Error()),
				slog.String("kind", snap.Stream.Kind.String()),
			)
			if !r.waitIdle(ctx) {
				return
			}
			continue
		}

		reason := r.record(ctx)
		r.endSession(reason)
		if ctx.Err() != nil {
			return
		}
		if !r.waitIdle(ctx) {
			return
		}
	}
}

// hasSession reports whether a session is in flight.
func (r *Recorder) hasSession() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sess != nil
}

// waitIdle sleeps the status-check interval plus per-room jitter so N
// recorders sharing a global interval do not synchronize their probes.
// Returns false on cancellation.
func (r *Recorder) waitIdle(ctx context.Context) bool {
	r.setState(StateWaiting)
	jitter := 2*time.Second + time.Duration(rand.Int63n(int64(3*time.Second)))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.cfg.StatusCheckInterval + jitter):
		return true
	case <-r.wake:
		return true
	}
}

// waitWake blocks until SetEnabled wakes the recorder or ctx is cancelled.
func (r *Recorder) waitWake(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.wake:
		return true
	}
}

func (r *Recorder) setDegraded(err error) {
	r.mu.Lock()
	r.state = StateDegraded
	r.lastError = err.Error()
	r.mu.Unlock()
}

func (r *Recorder) noteRoomMeta(snap *platform.RoomSnapshot) {
	r.mu.Lock()
	if snap.Title != "" {
		r.lastTitle = snap.Title
	}
	if snap.CoverURL != "" {
		r.lastCover = snap.CoverURL
	}
	r.mu.Unlock()
}

// probe asks the platform for room status under the probe timeout.
func (r *Recorder) probe(ctx context.Context) (*platform.RoomSnapshot, error) {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()
	return r.fetcher.Probe(pctx, r.room)
}

// startSession mints a live id and performs at-most-once initialization:
// the session directory, EntryStore, archive row, DanmuStorage and danmu
// task are all created exactly when the first successful write lands.
// A failure before that point leaves the filesystem untouched; a failure
// after directory creation but before the first write removes the empty
// directory.
func (r *Recorder) startSession(ctx context.Context, snap *platform.RoomSnapshot) error {
	r.setState(StateStarting)

	stream := snap.Stream
	liveID := mintLiveID()
	dir := filepath.Join(r.cfg.CachePath, r.room.Key.Platform, r.room.Key.RoomID, liveID)

	if stream.Kind == platform.KindFMP4 && stream.InitURL != "" {
		return r.startFMP4Session(ctx, snap, liveID, dir)
	}
	return r.startHLSSession(ctx, snap, liveID, dir)
}

// startFMP4Session downloads the header first; the directory exists only
// once the header bytes are safely written.
func (r *Recorder) startFMP4Session(ctx context.Context, snap *platform.RoomSnapshot, liveID, dir string) error {
	r.setState(StateFetchingInit)

	var buf bytes.Buffer
	err := r.cfg.Retry.Do(ctx, func() error {
		buf.Reset()
		return r.fetchBytes(ctx, snap.Stream.InitURL, &buf)
	})
	if err != nil {
		return fmt.Errorf("fetching init segment: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	store, err := OpenEntryStore(dir, platform.KindFMP4)
	if err != nil {
		r.rollbackEmptyDir(dir)
		return err
	}
	if err := store.SetInit(buf.Bytes()); err != nil {
		r.rollbackEmptyDir(dir)
		return fmt.Errorf("storing init segment: %w", err)
	}

	return r.initializeSession(ctx, snap, liveID, dir, store)
}

// startHLSSession fetches the playlist and commits the first media segment;
// the directory exists only once those bytes are safely written.
func (r *Recorder) startHLSSession(ctx context.Context, snap *platform.RoomSnapshot, liveID, dir string) error {
	r.setState(StateFetchingFirstSegment)

	var pl *platform.Playlist
	err := r.cfg.Retry.Do(ctx, func() error {
		var ferr error
		pl, ferr = r.fetchPlaylist(ctx, snap.Stream)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetching playlist: %w", err)
	}
	if len(pl.Entries) == 0 {
		return fmt.Errorf("playlist has no media segments")
	}
	first := pl.Entries[0]

	var buf bytes.Buffer
	err = r.cfg.Retry.Do(ctx, func() error {
		buf.Reset()
		return r.fetchBytes(ctx, first.URL, &buf)
	})
	if err != nil {
		return fmt.Errorf("fetching first segment: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	store, err := OpenEntryStore(dir, snap.Stream.Kind)
	if err != nil {
		r.rollbackEmptyDir(dir)
		return err
	}
	ref := SegmentRef{
		Sequence: first.Sequence,
		URL:      first.URL,
		Duration: first.Duration,
		Status:   StatusDownloaded,
	}
	if err := store.Commit(ref, buf.Bytes()); err != nil {
		r.rollbackEmptyDir(dir)
		return fmt.Errorf("committing first segment: %w", err)
	}

	return r.initializeSession(ctx, snap, liveID, dir, store)
}

// rollbackEmptyDir removes a session directory left behind by a failed
// start - but only if it is empty. A directory holding committed bytes is
// never deleted here.
func (r *Recorder) rollbackEmptyDir(dir string) {
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("could not remove session directory",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}

// initializeSession creates the archive row, captures the cover, opens the
// danmu log and starts the danmu task. Called exactly once per session,
// right after the first successful write.
func (r *Recorder) initializeSession(ctx context.Context, snap *platform.RoomSnapshot, liveID, dir string, store *EntryStore) error {
	coverPath := r.saveCover(ctx, snap.CoverURL, dir)

	archive := &models.Archive{
		Platform: r.room.Key.Platform,
		RoomID:   r.room.Key.RoomID,
		LiveID:   liveID,
		Title:    snap.Title,
		Cover:    coverPath,
		Size:     store.Size(),
		Length:   store.TotalDuration(),
	}
	if err := r.archives.Create(ctx, archive); err != nil {
		return fmt.Errorf("creating archive row: %w", err)
	}

	danmu, err := OpenDanmuStorage(filepath.Join(dir, DanmuName))
	if err != nil {
		return err
	}

	sess := &session{
		liveID:    liveID,
		dir:       dir,
		stream:    snap.Stream,
		store:     store,
		danmu:     danmu,
		title:     snap.Title,
		startedAt: time.Now(),
	}
	r.startDanmuTask(sess)

	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	r.logger.Info("session started",
		slog.String("live_id", liveID),
		slog.String("kind", snap.Stream.Kind.String()),
		slog.String("dir", dir),
	)
	return nil
}

// saveCover captures the room cover into the session directory. Best
// effort: a missing cover never blocks a session.
func (r *Recorder) saveCover(ctx context.Context, coverURL, dir string) string {
	if coverURL == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.fetchBytes(ctx, coverURL, &buf); err != nil {
		r.logger.Debug("cover capture failed", slog.String("error", err.Error()))
		return ""
	}
	path := filepath.Join(dir, CoverName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		r.logger.Debug("cover write failed", slog.String("error", err.Error()))
		return ""
	}
	return path
}

// startDanmuTask runs the reader and writer pair: the reader drains the
// platform connection into a bounded channel (overflow drops oldest), the
// writer appends to the log. No backpressure flows to the recorder.
func (r *Recorder) startDanmuTask(sess *session) {
	dctx, cancel := context.WithCancel(context.Background())
	sess.danmuCancel = cancel
	sess.danmuDone = make(chan struct{})

	ch := make(chan platform.DanmuEvent, r.cfg.DanmuBuffer)

	go func() {
		defer close(ch)
		conn, err := r.fetcher.DanmuStream(dctx, r.room)
		if err != nil {
			r.logger.Warn("danmu stream unavailable", slog.String("error", err.Error()))
			return
		}
		defer conn.Close()

		for {
			ev, err := conn.Next(dctx)
			if err != nil {
				if dctx.Err() == nil {
					r.logger.Warn("danmu stream ended", slog.String("error", err.Error()))
				}
				return
			}
			select {
			case ch <- ev:
			default:
				// Overflow drops oldest; chat is best-effort.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
		}
	}()

	go func() {
		defer close(sess.danmuDone)
		for ev := range ch {
			if err := sess.danmu.Write(ev); err != nil {
				r.logger.Warn("danmu write failed", slog.String("error", err.Error()))
				return
			}
		}
	}()
}

// record polls the playlist until the session ends, returning the reason.
func (r *Recorder) record(ctx context.Context) string {
	r.setState(StateRecording)

	r.mu.RLock()
	sess := r.sess
	r.mu.RUnlock()

	ticker := time.NewTicker(r.cfg.SegmentPollInterval)
	defer ticker.Stop()
	nextProbe := time.Now().Add(r.cfg.StatusCheckInterval)

	for {
		select {
		case <-ctx.Done():
			return endReasonCancelled
		case <-ticker.C:
		}

		if !r.Enabled() {
			return endReasonDisabled
		}

		if time.Now().After(nextProbe) {
			nextProbe = time.Now().Add(r.cfg.StatusCheckInterval)
			if snap, err := r.probe(ctx); err == nil {
				r.noteRoomMeta(snap)
				if !snap.Live {
					return endReasonOffline
				}
				if streamChanged(sess.stream, snap.Stream) {
					r.logger.Warn("fatal stream change detected")
					return endReasonChanged
				}
			}
			// Probe errors during recording are tolerated; the stale check
			// still guards against a dead upstream.
		}

		if err := r.ingestOnce(ctx, sess); err != nil {
			switch {
			case errors.Is(err, errUpstreamClosed):
				return endReasonClosed
			case errors.Is(err, errDisk):
				r.mu.Lock()
				r.lastError = err.Error()
				r.mu.Unlock()
				r.logger.Error("disk failure, ending session", slog.String("error", err.Error()))
				return "disk failure"
			case ctx.Err() != nil:
				return endReasonCancelled
			default:
				r.logger.Warn("poll failed", slog.String("error", err.Error()))
			}
		}

		if last, ok := sess.store.LastTS(); ok && time.Since(last) > r.cfg.StaleThreshold {
			return endReasonStale
		}
	}
}

// streamChanged reports a fatal parameter change between probes.
func streamChanged(old, cur *platform.StreamDescriptor) bool {
	if cur == nil {
		return false
	}
	if old.CodecHint != "" && cur.CodecHint != "" && old.CodecHint != cur.CodecHint {
		return true
	}
	return old.Kind != cur.Kind
}

// ingestOnce performs one playlist poll and downloads new segments in
// sequence order. Downloads are strictly sequential per session: ordering
// matters and the upstream rate-limits.
func (r *Recorder) ingestOnce(ctx context.Context, sess *session) error {
	pl, err := r.fetchPlaylist(ctx, sess.stream)
	if err != nil {
		if platform.IsParse(err) {
			// One retry for a malformed playlist; a second failure commits a
			// discontinuity so the manifest stays valid across the hole.
			pl, err = r.fetchPlaylist(ctx, sess.stream)
			if err != nil {
				r.logger.Warn("playlist unparsable after retry", slog.String("error", err.Error()))
				sess.store.MarkGap()
				return nil
			}
		} else {
			// Network and throttling recover on later polls.
			return err
		}
	}

	last, hasLast := sess.store.LastSequence()
	var fresh []platform.PlaylistEntry
	for _, e := range pl.Entries {
		if !hasLast || e.Sequence > last {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		if pl.Closed {
			return errUpstreamClosed
		}
		return nil
	}

	// Backpressure: keep only the latest BurstLimit entries, mark the rest
	// unavailable with a discontinuity, so the recorder never falls behind
	// live.
	if len(fresh) > r.cfg.BurstLimit {
		skipped := len(fresh) - r.cfg.BurstLimit
		fresh = fresh[skipped:]
		sess.store.MarkGap()
		r.logger.Warn("poll burst, skipping to live edge", slog.Int("skipped", skipped))
	}

	if hasLast && fresh[0].Sequence > last+1 {
		sess.store.MarkGap()
	}

	for _, e := range fresh {
		if err := r.downloadAndCommit(ctx, sess, e); err != nil {
			if errors.Is(err, errDisk) || ctx.Err() != nil {
				return err
			}
			// Retries exhausted: mark unavailable, leave a discontinuity in
			// its place and continue. The session does not end.
			sess.store.MarkGap()
			r.logger.Warn("segment unavailable after retries",
				slog.Uint64("sequence", e.Sequence),
				slog.String("error", err.Error()),
			)
		}
	}

	r.updateArchiveStats(ctx, sess)

	if pl.Closed {
		return errUpstreamClosed
	}
	return nil
}

// downloadAndCommit fetches one segment with the retry policy and commits
// it. Download failures are retryable per policy; commit failures are disk
// failures, fatal for the session.
func (r *Recorder) downloadAndCommit(ctx context.Context, sess *session, e platform.PlaylistEntry) error {
	var buf bytes.Buffer
	err := r.cfg.Retry.Do(ctx, func() error {
		buf.Reset()
		return r.fetchBytes(ctx, e.URL, &buf)
	})
	if err != nil {
		return err
	}

	ref := SegmentRef{
		Sequence:      e.Sequence,
		URL:           e.URL,
		Duration:      e.Duration,
		Discontinuity: e.Discontinuity,
		Status:        StatusDownloaded,
	}
	if err := sess.store.Commit(ref, buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", errDisk, err)
	}
	return nil
}

// fetchPlaylist polls the upstream playlist under the playlist timeout.
func (r *Recorder) fetchPlaylist(ctx context.Context, stream *platform.StreamDescriptor) (*platform.Playlist, error) {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.PlaylistTimeout)
	defer cancel()
	return r.fetcher.FetchPlaylist(pctx, stream)
}

// fetchBytes downloads a URL under the segment timeout.
func (r *Recorder) fetchBytes(ctx context.Context, url string, buf *bytes.Buffer) error {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SegmentTimeout)
	defer cancel()
	_, err := r.fetcher.FetchBytes(sctx, url, nil, buf)
	return err
}

// updateArchiveStats persists the session's running size and length.
func (r *Recorder) updateArchiveStats(ctx context.Context, sess *session) {
	err := r.archives.UpdateStats(ctx, r.room.Key, sess.liveID, sess.store.Size(), sess.store.TotalDuration())
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("archive stats update failed", slog.String("error", err.Error()))
	}
}

// endSession tears the session down: stop the danmu task, flush and close
// the danmu log, close the manifest with ENDLIST, persist final stats and
// fire the session-end hook. Always transitions toward Waiting.
func (r *Recorder) endSession(reason string) {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.state = StateEndingSession
	r.mu.Unlock()

	if sess == nil {
		return
	}

	sess.danmuCancel()
	select {
	case <-sess.danmuDone:
	case <-time.After(5 * time.Second):
		r.logger.Warn("danmu task did not stop in time")
	}
	if err := sess.danmu.Close(); err != nil {
		r.logger.Warn("danmu close failed", slog.String("error", err.Error()))
	}

	if err := sess.store.Close(); err != nil {
		r.logger.Error("manifest close failed", slog.String("error", err.Error()))
	}

	// Final stats, detached from any cancelled caller context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.updateArchiveStats(ctx, sess)

	length := sess.store.TotalDuration()
	size := sess.store.Size()
	r.logger.Info("session ended",
		slog.String("live_id", sess.liveID),
		slog.String("reason", reason),
		slog.Float64("length", length),
		slog.Int64("size", size),
	)

	if r.hooks.OnSessionEnd != nil {
		r.hooks.OnSessionEnd(SessionInfo{
			Key:    r.room.Key,
			LiveID: sess.liveID,
			Dir:    sess.dir,
			Title:  sess.title,
			Kind:   sess.stream.Kind,
		}, length, size, reason)
	}
}

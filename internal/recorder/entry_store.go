// Package recorder implements the recording core: the per-session segment
// store, the danmaku log, the per-room recorder state machine and the fleet
// manager.
package recorder

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/google/renameio/v2"

	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/pkg/hls"
)

// Session directory file names.
const (
	ManifestName = "manifest.m3u8"
	InitName     = "init.mp4"
	DanmuName    = "danmu.log"
	CoverName    = "cover.jpg"
	// SubtitleName is the pre-generated subtitle file the subtitle pipeline
	// leaves next to the session; the clip assembler only consumes it.
	SubtitleName = "subtitle.srt"
)

// EntryStore errors.
var (
	// ErrSequenceRegression reports a commit at or below the last committed
	// sequence. This is a programmer error: the recorder's playlist diffing
	// must never hand the store an old segment.
	ErrSequenceRegression = errors.New("segment sequence not increasing")
	// ErrInitMissing reports an FMP4 commit before the init segment is set.
	ErrInitMissing = errors.New("init segment not set")
	// ErrInitMismatch reports a SetInit with different bytes than before.
	ErrInitMismatch = errors.New("init segment already set with different bytes")
)

// SegmentStatus tracks a segment reference through download.
type SegmentStatus int

const (
	// StatusPending - announced, not yet downloaded.
	StatusPending SegmentStatus = iota
	// StatusDownloaded - bytes on disk, committed to the store.
	StatusDownloaded
	// StatusFailed - a download attempt failed; may be retried.
	StatusFailed
	// StatusUnavailable - retries exhausted or skipped by backpressure;
	// never committed.
	StatusUnavailable
)

// SegmentRef describes one media segment handed to the store.
type SegmentRef struct {
	Sequence uint64
	URL      string
	Duration float64
	// Discontinuity marks a decode break before this segment.
	Discontinuity bool
	Status        SegmentStatus
}

// Range bounds a manifest to entries intersecting [Start, End) seconds.
type Range struct {
	Start float64
	End   float64
}

// EntryStore is the canonical append-only log of committed segments for one
// session. A single writer (the owning recorder) commits; any number of
// readers (clip, query) observe a snapshot consistent up to the latest
// commit.
type EntryStore struct {
	mu   sync.RWMutex
	dir  string
	kind platform.StreamKind

	entries  []hls.Entry
	size     int64
	lastTS   time.Time
	hasTS    bool
	initHash [sha256.Size]byte
	hasInit  bool
	// pendingDiscont marks the next commit as discontinuous (a skipped or
	// unavailable segment preceded it).
	pendingDiscont bool
}

// DetectKind infers a persisted session's stream kind from the presence of
// its init segment.
func DetectKind(dir string) platform.StreamKind {
	if _, err := os.Stat(filepath.Join(dir, InitName)); err == nil {
		return platform.KindFMP4
	}
	return platform.KindTSHLS
}

// OpenEntryStore opens the store rooted at dir, rebuilding the index from
// the persisted manifest when present. Orphan segment files without a
// manifest row (a crash between byte write and index append) are reclaimed
// by a directory scan. The directory must already exist.
func OpenEntryStore(dir string, kind platform.StreamKind) (*EntryStore, error) {
	s := &EntryStore{dir: dir, kind: kind}

	if initData, err := os.ReadFile(filepath.Join(dir, InitName)); err == nil {
		s.initHash = sha256.Sum256(initData)
		s.hasInit = true
		s.size += int64(len(initData))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading init segment: %w", err)
	}

	manifestPath := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(manifestPath)
	switch {
	case err == nil:
		pl, err := hls.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("parsing persisted manifest: %w", err)
		}
		for _, e := range pl.Entries {
			fi, err := os.Stat(filepath.Join(dir, e.URI))
			if err != nil {
				// A manifest row without bytes cannot be served; drop it and
				// everything after it to keep offsets contiguous.
				break
			}
			s.entries = append(s.entries, e)
			s.size += fi.Size()
			s.lastTS = fi.ModTime()
			s.hasTS = true
		}
	case os.IsNotExist(err):
		// Fresh store.
	default:
		return nil, fmt.Errorf("reading persisted manifest: %w", err)
	}

	if err := s.reclaimOrphans(); err != nil {
		return nil, err
	}
	return s, nil
}

// reclaimOrphans deletes segment files present on disk but absent from the
// committed index.
func (s *EntryStore) reclaimOrphans() error {
	committed := make(map[string]struct{}, len(s.entries))
	for _, e := range s.entries {
		committed[e.URI] = struct{}{}
	}

	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scanning session directory: %w", err)
	}
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !isSegmentFile(name) {
			continue
		}
		if _, ok := committed[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("reclaiming orphan segment %s: %w", name, err)
		}
	}
	return nil
}

// isSegmentFile matches <sequence>.ts / <sequence>.m4s names.
func isSegmentFile(name string) bool {
	ext := filepath.Ext(name)
	if ext != ".ts" && ext != ".m4s" {
		return false
	}
	_, err := strconv.ParseUint(strings.TrimSuffix(name, ext), 10, 64)
	return err == nil
}

// Dir returns the session directory.
func (s *EntryStore) Dir() string { return s.dir }

// Kind returns the session stream kind.
func (s *EntryStore) Kind() platform.StreamKind { return s.kind }

// SetInit stores the FMP4 init segment. Idempotent for identical bytes;
// fails if already set with different bytes. The bytes must contain a moov
// box, otherwise no media segment referencing them would decode.
func (s *EntryStore) SetInit(data []byte) error {
	if s.kind != platform.KindFMP4 {
		return fmt.Errorf("init segment on %s store", s.kind)
	}
	if err := validateInitSegment(data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sum := sha256.Sum256(data)
	if s.hasInit {
		if sum != s.initHash {
			return ErrInitMismatch
		}
		return nil
	}

	if err := renameio.WriteFile(filepath.Join(s.dir, InitName), data, 0o644); err != nil {
		return fmt.Errorf("writing init segment: %w", err)
	}
	s.initHash = sum
	s.hasInit = true
	s.size += int64(len(data))
	return nil
}

// validateInitSegment checks that data parses as MP4 and carries a moov box.
func validateInitSegment(data []byte) error {
	foundMoov := false
	_, err := gomp4.ReadBoxStructure(bytes.NewReader(data), func(h *gomp4.ReadHandle) (interface{}, error) {
		if h.BoxInfo.Type == gomp4.BoxTypeMoov() {
			foundMoov = true
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("parsing init segment: %w", err)
	}
	if !foundMoov {
		return fmt.Errorf("init segment without moov box")
	}
	return nil
}

// HasInit reports whether the init segment is present.
func (s *EntryStore) HasInit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasInit
}

// MarkGap flags the next commit as discontinuous. Used when a segment is
// skipped (retries exhausted or backpressure) so the manifest stays valid.
func (s *EntryStore) MarkGap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDiscont = true
}

// Commit atomically persists a segment's bytes and appends its reference.
// The bytes are written to a temporary file and renamed before the index
// and manifest are updated; a crash in between leaves only an orphan file
// that the next open reclaims.
func (s *EntryStore) Commit(ref SegmentRef, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) > 0 && ref.Sequence <= s.entries[len(s.entries)-1].Sequence {
		return fmt.Errorf("%w: sequence %d after %d",
			ErrSequenceRegression, ref.Sequence, s.entries[len(s.entries)-1].Sequence)
	}
	if s.kind == platform.KindFMP4 && !s.hasInit {
		return ErrInitMissing
	}
	if ref.Duration < 0 {
		return fmt.Errorf("negative segment duration %f", ref.Duration)
	}

	uri := strconv.FormatUint(ref.Sequence, 10) + s.kind.SegmentExt()
	if err := renameio.WriteFile(filepath.Join(s.dir, uri), data, 0o644); err != nil {
		return fmt.Errorf("writing segment %d: %w", ref.Sequence, err)
	}

	entry := hls.Entry{
		Sequence:      ref.Sequence,
		URI:           uri,
		Duration:      ref.Duration,
		Offset:        s.totalDurationLocked(),
		Discontinuity: ref.Discontinuity || s.pendingDiscont,
	}
	s.entries = append(s.entries, entry)
	s.pendingDiscont = false
	s.size += int64(len(data))
	s.lastTS = time.Now()
	s.hasTS = true

	if err := s.persistManifestLocked(false); err != nil {
		return err
	}
	return nil
}

// persistManifestLocked writes the manifest atomically. Callers hold mu.
func (s *EntryStore) persistManifestLocked(closed bool) error {
	pl := s.playlistLocked(nil, closed)
	if err := renameio.WriteFile(filepath.Join(s.dir, ManifestName), pl.Marshal(), 0o644); err != nil {
		return fmt.Errorf("persisting manifest: %w", err)
	}
	return nil
}

// playlistLocked assembles the playlist for rng. Callers hold mu.
func (s *EntryStore) playlistLocked(rng *Range, closed bool) *hls.Playlist {
	pl := &hls.Playlist{Closed: closed}
	if s.kind == platform.KindFMP4 && s.hasInit {
		pl.MapURI = InitName
	}
	if rng == nil {
		pl.Entries = append(pl.Entries, s.entries...)
	} else {
		full := &hls.Playlist{Entries: s.entries}
		pl.Entries = full.Slice(rng.Start, rng.End)
	}
	return pl
}

// Manifest produces HLS playlist text covering the committed entries whose
// [offset, offset+duration) intersects rng (nil = all). closed appends
// #EXT-X-ENDLIST.
func (s *EntryStore) Manifest(rng *Range, closed bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playlistLocked(rng, closed).Marshal()
}

// Entries returns a copy of the committed entries intersecting rng (nil =
// all).
func (s *EntryStore) Entries(rng *Range) []hls.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playlistLocked(rng, false).Entries
}

// LastSequence returns the highest committed sequence, if any.
func (s *EntryStore) LastSequence() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0, false
	}
	return s.entries[len(s.entries)-1].Sequence, true
}

// LastTS returns the wall clock of the last commit, if any. The recorder's
// stale-stream heuristic keys off this.
func (s *EntryStore) LastTS() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTS, s.hasTS
}

// TotalDuration returns the sum of committed segment durations. This is the
// recorded length the rest of the system exposes, not wall clock.
func (s *EntryStore) TotalDuration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalDurationLocked()
}

func (s *EntryStore) totalDurationLocked() float64 {
	total := 0.0
	for _, e := range s.entries {
		total += e.Duration
	}
	return total
}

// Count returns the number of committed segments.
func (s *EntryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Size returns the bytes on disk accounted to committed segments and the
// init segment.
func (s *EntryStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close persists the final manifest with #EXT-X-ENDLIST.
func (s *EntryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistManifestLocked(true)
}

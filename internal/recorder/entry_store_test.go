package recorder

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/pkg/hls"
)

// makeInitSegment builds a minimal valid init segment: an ftyp box followed
// by an empty moov box.
func makeInitSegment(brand string) []byte {
	var out []byte

	ftyp := make([]byte, 16)
	binary.BigEndian.PutUint32(ftyp[0:], 16)
	copy(ftyp[4:], "ftyp")
	copy(ftyp[8:], brand)
	binary.BigEndian.PutUint32(ftyp[12:], 1)
	out = append(out, ftyp...)

	moov := make([]byte, 8)
	binary.BigEndian.PutUint32(moov[0:], 8)
	copy(moov[4:], "moov")
	return append(out, moov...)
}

func newStore(t *testing.T, kind platform.StreamKind) *EntryStore {
	t.Helper()
	s, err := OpenEntryStore(t.TempDir(), kind)
	require.NoError(t, err)
	return s
}

func TestCommitAppendsAndPersists(t *testing.T) {
	s := newStore(t, platform.KindTSHLS)

	require.NoError(t, s.Commit(SegmentRef{Sequence: 100, Duration: 6}, []byte("aaa")))
	require.NoError(t, s.Commit(SegmentRef{Sequence: 101, Duration: 6}, []byte("bbbb")))

	last, ok := s.LastSequence()
	require.True(t, ok)
	assert.Equal(t, uint64(101), last)
	assert.InDelta(t, 12.0, s.TotalDuration(), 1e-9)
	assert.Equal(t, int64(7), s.Size())
	assert.Equal(t, 2, s.Count())

	// Bytes and manifest are on disk.
	assert.FileExists(t, filepath.Join(s.Dir(), "100.ts"))
	assert.FileExists(t, filepath.Join(s.Dir(), "101.ts"))
	assert.FileExists(t, filepath.Join(s.Dir(), ManifestName))
}

func TestCommitRejectsSequenceRegression(t *testing.T) {
	s := newStore(t, platform.KindTSHLS)
	require.NoError(t, s.Commit(SegmentRef{Sequence: 5, Duration: 2}, []byte("x")))

	err := s.Commit(SegmentRef{Sequence: 5, Duration: 2}, []byte("x"))
	assert.ErrorIs(t, err, ErrSequenceRegression)
	err = s.Commit(SegmentRef{Sequence: 4, Duration: 2}, []byte("x"))
	assert.ErrorIs(t, err, ErrSequenceRegression)
}

func TestFMP4CommitRequiresInit(t *testing.T) {
	s := newStore(t, platform.KindFMP4)

	err := s.Commit(SegmentRef{Sequence: 1, Duration: 2}, []byte("x"))
	assert.ErrorIs(t, err, ErrInitMissing)

	require.NoError(t, s.SetInit(makeInitSegment("isom")))
	assert.NoError(t, s.Commit(SegmentRef{Sequence: 1, Duration: 2}, []byte("x")))
}

func TestSetInitIdempotentAndConflicting(t *testing.T) {
	s := newStore(t, platform.KindFMP4)
	init := makeInitSegment("isom")

	require.NoError(t, s.SetInit(init))
	assert.NoError(t, s.SetInit(init), "identical bytes are fine")
	assert.ErrorIs(t, s.SetInit(makeInitSegment("avc1")), ErrInitMismatch)
}

func TestSetInitRejectsGarbage(t *testing.T) {
	s := newStore(t, platform.KindFMP4)
	assert.Error(t, s.SetInit([]byte("definitely not mp4")))

	// An mp4 without moov is useless as a header.
	ftypOnly := makeInitSegment("isom")[:16]
	assert.Error(t, s.SetInit(ftypOnly))
}

func TestMarkGapEmitsDiscontinuityOnNextCommit(t *testing.T) {
	s := newStore(t, platform.KindTSHLS)
	require.NoError(t, s.Commit(SegmentRef{Sequence: 205, Duration: 6}, []byte("a")))

	// 206 exhausted its retries; 207 arrives next.
	s.MarkGap()
	require.NoError(t, s.Commit(SegmentRef{Sequence: 207, Duration: 6}, []byte("b")))

	entries := s.Entries(nil)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Discontinuity)
	assert.True(t, entries[1].Discontinuity)
	assert.InDelta(t, 6.0, entries[1].Offset, 1e-9, "offset continues at end of 205")

	text := string(s.Manifest(nil, false))
	assert.Contains(t, text, "#EXT-X-DISCONTINUITY\n#EXTINF:6.000,\n207.ts")
}

func TestManifestValidity(t *testing.T) {
	s := newStore(t, platform.KindFMP4)
	require.NoError(t, s.SetInit(makeInitSegment("isom")))
	durations := []float64{6.006, 5.994, 4.2}
	for i, d := range durations {
		require.NoError(t, s.Commit(SegmentRef{Sequence: uint64(100 + i), Duration: d}, []byte("x")))
	}

	pl, err := hls.Unmarshal(s.Manifest(nil, true))
	require.NoError(t, err)

	sum := 0.0
	maxDur := 0.0
	for _, e := range pl.Entries {
		sum += e.Duration
		if e.Duration > maxDur {
			maxDur = e.Duration
		}
	}
	assert.InDelta(t, s.TotalDuration(), sum, 1e-3)
	assert.GreaterOrEqual(t, float64(pl.TargetDuration()), math.Ceil(maxDur)-1e-9)
	assert.Equal(t, InitName, pl.MapURI)
	assert.True(t, pl.Closed)
}

func TestRoundTripReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenEntryStore(dir, platform.KindFMP4)
	require.NoError(t, err)
	init := makeInitSegment("isom")
	require.NoError(t, s.SetInit(init))
	require.NoError(t, s.Commit(SegmentRef{Sequence: 10, Duration: 6.006}, []byte("aa")))
	s.MarkGap()
	require.NoError(t, s.Commit(SegmentRef{Sequence: 12, Duration: 5.994}, []byte("bb")))
	before := s.Entries(nil)

	reopened, err := OpenEntryStore(dir, platform.KindFMP4)
	require.NoError(t, err)
	after := reopened.Entries(nil)

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Sequence, after[i].Sequence)
		assert.InDelta(t, before[i].Duration, after[i].Duration, 1e-3)
		assert.InDelta(t, before[i].Offset, after[i].Offset, 1e-3)
		assert.Equal(t, before[i].Discontinuity, after[i].Discontinuity)
	}
	assert.True(t, reopened.HasInit())
	// The same init bytes are accepted after reopen.
	assert.NoError(t, reopened.SetInit(init))
}

func TestOpenReclaimsOrphanSegments(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenEntryStore(dir, platform.KindTSHLS)
	require.NoError(t, err)
	require.NoError(t, s.Commit(SegmentRef{Sequence: 1, Duration: 2}, []byte("committed")))

	// Simulate a crash between byte write and index append.
	orphan := filepath.Join(dir, "2.ts")
	require.NoError(t, os.WriteFile(orphan, []byte("orphan"), 0o644))
	// Unrelated files are untouched.
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o644))

	reopened, err := OpenEntryStore(dir, platform.KindTSHLS)
	require.NoError(t, err)

	assert.NoFileExists(t, orphan)
	assert.FileExists(t, other)
	last, ok := reopened.LastSequence()
	require.True(t, ok)
	assert.Equal(t, uint64(1), last)
}

func TestManifestRange(t *testing.T) {
	s := newStore(t, platform.KindTSHLS)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Commit(SegmentRef{Sequence: uint64(i), Duration: 6}, []byte("x")))
	}

	text := string(s.Manifest(&Range{Start: 5, End: 13}, true))
	assert.Contains(t, text, "0.ts")
	assert.Contains(t, text, "1.ts")
	assert.Contains(t, text, "2.ts")
	assert.NotContains(t, text, "3.ts")
	assert.True(t, strings.HasSuffix(text, "#EXT-X-ENDLIST\n"))
}

func TestDetectKind(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, platform.KindTSHLS, DetectKind(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, InitName), makeInitSegment("isom"), 0o644))
	assert.Equal(t, platform.KindFMP4, DetectKind(dir))
}

package clip

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xinrea/shadowreplay/internal/models"
	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/internal/recorder"
	"github.com/Xinrea/shadowreplay/internal/repository"
)

// stubArchiveRepo returns one fixed archive row.
type stubArchiveRepo struct {
	row *models.Archive
}

func (r *stubArchiveRepo) Create(ctx context.Context, a *models.Archive) error { return nil }

func (r *stubArchiveRepo) Get(ctx context.Context, key models.RoomKey, liveID string) (*models.Archive, error) {
	return r.row, nil
}

func (r *stubArchiveRepo) GetByRoom(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.Archive, int64, error) {
	return nil, 0, nil
}

func (r *stubArchiveRepo) UpdateStats(ctx context.Context, key models.RoomKey, liveID string, size int64, length float64) error {
	return nil
}

func (r *stubArchiveRepo) Delete(ctx context.Context, key models.RoomKey, liveID string) error {
	return nil
}

func (r *stubArchiveRepo) DeleteByRoom(ctx context.Context, key models.RoomKey) error { return nil }

func (r *stubArchiveRepo) TotalSizeByRoom(ctx context.Context, key models.RoomKey) (int64, error) {
	return 0, nil
}

var _ repository.ArchiveRepository = (*stubArchiveRepo)(nil)

func TestClipNameTemplate(t *testing.T) {
	a := New(Options{NameFormat: "{title}_{platform}_{room_id}_{live_id}_{x}_{y}_{length}"})

	archive := &models.Archive{Title: "晚间直播"}
	req := recorder.ClipRequest{
		Key:    models.RoomKey{Platform: "bilibili", RoomID: "1234"},
		LiveID: "1700000000000",
		Start:  5, End: 13,
	}
	name := a.clipName(archive, req, 18)
	assert.Equal(t, "晚间直播_bilibili_1234_1700000000000_5_13_18", name)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeFilename("a/b:c"))
	assert.Equal(t, "clip", sanitizeFilename("   "))
	assert.NotContains(t, sanitizeFilename(`x\y*z?"<>|`), `\`)
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `/tmp/a\:b`, escapeFilterPath("/tmp/a:b"))
	assert.Equal(t, `C\:\\x`, escapeFilterPath(`C:\x`))
}

func TestWriteDanmuASSFiltersAndShifts(t *testing.T) {
	dir := t.TempDir()
	danmuPath := filepath.Join(dir, recorder.DanmuName)
	d, err := recorder.OpenDanmuStorage(danmuPath)
	require.NoError(t, err)
	// Session timeline anchors at the first event's wall clock.
	base := int64(1_700_000_000_000)
	events := []platform.DanmuEvent{
		{TS: base, Text: "at 0s"},
		{TS: base + 6_000, Text: "at 6s {with markup}"},
		{TS: base + 20_000, Text: "at 20s, out of range"},
	}
	for _, ev := range events {
		require.NoError(t, d.Write(ev))
	}
	require.NoError(t, d.Close())

	assPath := filepath.Join(dir, "out.ass")
	require.NoError(t, writeDanmuASS(danmuPath, assPath, "title", 5, 13))

	data, err := os.ReadFile(assPath)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "[Script Info]")
	assert.Contains(t, text, "[Events]")
	// Only the 6s event falls in [5, 13); shifted to 1s clip time.
	assert.Equal(t, 1, strings.Count(text, "Dialogue:"))
	assert.Contains(t, text, "0:00:01.00")
	// Markup braces are neutralized.
	assert.Contains(t, text, "(with markup)")
	assert.NotContains(t, text, "{with markup}")
}

func TestAssembleRequiresPreGeneratedSubtitle(t *testing.T) {
	cache := t.TempDir()
	key := models.RoomKey{Platform: "bilibili", RoomID: "1234"}
	liveID := "1700000000000"

	dir := filepath.Join(cache, key.Platform, key.RoomID, liveID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	store, err := recorder.OpenEntryStore(dir, platform.KindTSHLS)
	require.NoError(t, err)
	require.NoError(t, store.Commit(recorder.SegmentRef{Sequence: 1, Duration: 6}, []byte("ts")))

	a := New(Options{
		CachePath:  cache,
		OutputPath: filepath.Join(cache, "out"),
		Archives:   &stubArchiveRepo{row: &models.Archive{Platform: key.Platform, RoomID: key.RoomID, LiveID: liveID}},
	})

	req := recorder.ClipRequest{
		Key: key, LiveID: liveID,
		Start: 0, End: 6,
		EncodeSubtitle: true,
		EventID:        "clip-sub",
	}
	_, err = a.Assemble(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subtitle")
	// Failure happens before ffmpeg: no output artifact appears.
	assert.NoDirExists(t, filepath.Join(cache, "out"))
}

func TestWriteDanmuASSMissingLog(t *testing.T) {
	dir := t.TempDir()
	assPath := filepath.Join(dir, "out.ass")
	require.NoError(t, writeDanmuASS(filepath.Join(dir, "absent.log"), assPath, "t", 0, 10))

	data, err := os.ReadFile(assPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Events]")
	assert.NotContains(t, string(data), "Dialogue:")
}

func TestAssTime(t *testing.T) {
	assert.Equal(t, "0:00:00.00", assTime(-3))
	assert.Equal(t, "0:01:01.50", assTime(61.5))
	assert.Equal(t, "1:00:00.00", assTime(3600))
}

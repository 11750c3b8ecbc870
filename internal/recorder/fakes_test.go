package recorder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Xinrea/shadowreplay/internal/models"
	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/internal/repository"
)

// fakeFetcher is a scripted platform adapter.
type fakeFetcher struct {
	mu          sync.Mutex
	name        string
	snap        *platform.RoomSnapshot
	probeErr    error
	playlist    *platform.Playlist
	playlistErr error
	segments    map[string][]byte
	// failures counts remaining forced failures per URL; negative means
	// fail forever.
	failures    map[string]int
	fetchedURLs []string
	danmuEvents []platform.DanmuEvent
}

func newFakeFetcher(name string) *fakeFetcher {
	return &fakeFetcher{
		name:     name,
		segments: make(map[string][]byte),
		failures: make(map[string]int),
	}
}

func (f *fakeFetcher) Platform() string { return f.name }

func (f *fakeFetcher) setSnapshot(snap *platform.RoomSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
}

func (f *fakeFetcher) setPlaylist(pl *platform.Playlist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlist = pl
}

func (f *fakeFetcher) setProbeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
}

func (f *fakeFetcher) Probe(ctx context.Context, room platform.Room) (*platform.RoomSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	snap := *f.snap
	return &snap, nil
}

func (f *fakeFetcher) FetchPlaylist(ctx context.Context, stream *platform.StreamDescriptor) (*platform.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playlistErr != nil {
		return nil, f.playlistErr
	}
	pl := *f.playlist
	pl.Entries = append([]platform.PlaylistEntry(nil), f.playlist.Entries...)
	return &pl, nil
}

func (f *fakeFetcher) FetchBytes(ctx context.Context, url string, rng *platform.ByteRange, w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchedURLs = append(f.fetchedURLs, url)
	if n, ok := f.failures[url]; ok && n != 0 {
		if n > 0 {
			f.failures[url] = n - 1
		}
		return 0, platform.NewError(platform.KindNetwork, "fetch_bytes", fmt.Errorf("scripted failure for %s", url))
	}
	data, ok := f.segments[url]
	if !ok {
		return 0, platform.NewError(platform.KindNetwork, "fetch_bytes", fmt.Errorf("no bytes for %s", url))
	}
	n, err := io.Copy(w, bytes.NewReader(data))
	return n, err
}

func (f *fakeFetcher) fetchCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, u := range f.fetchedURLs {
		if u == url {
			count++
		}
	}
	return count
}

func (f *fakeFetcher) DanmuStream(ctx context.Context, room platform.Room) (platform.DanmuConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fakeDanmuConn{events: append([]platform.DanmuEvent(nil), f.danmuEvents...)}, nil
}

type fakeDanmuConn struct {
	events []platform.DanmuEvent
	i      int
	closed bool
}

func (c *fakeDanmuConn) Next(ctx context.Context) (platform.DanmuEvent, error) {
	if c.i < len(c.events) {
		ev := c.events[c.i]
		c.i++
		return ev, nil
	}
	<-ctx.Done()
	return platform.DanmuEvent{}, ctx.Err()
}

func (c *fakeDanmuConn) Close() error {
	c.closed = true
	return nil
}

// fakeArchiveRepo is an in-memory ArchiveRepository.
type fakeArchiveRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.Archive
	creates int
}

func newFakeArchiveRepo() *fakeArchiveRepo {
	return &fakeArchiveRepo{rows: make(map[string]*models.Archive)}
}

func archiveKey(key models.RoomKey, liveID string) string {
	return key.String() + ":" + liveID
}

func (r *fakeArchiveRepo) Create(ctx context.Context, a *models.Archive) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := archiveKey(a.Key(), a.LiveID)
	if _, exists := r.rows[k]; exists {
		return fmt.Errorf("duplicate archive %s", k)
	}
	cp := *a
	r.rows[k] = &cp
	r.creates++
	return nil
}

func (r *fakeArchiveRepo) Get(ctx context.Context, key models.RoomKey, liveID string) (*models.Archive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[archiveKey(key, liveID)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeArchiveRepo) GetByRoom(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.Archive, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Archive
	for _, a := range r.rows {
		if a.Key() == key {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeArchiveRepo) UpdateStats(ctx context.Context, key models.RoomKey, liveID string, size int64, length float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[archiveKey(key, liveID)]; ok {
		a.Size = size
		a.Length = length
	}
	return nil
}

func (r *fakeArchiveRepo) Delete(ctx context.Context, key models.RoomKey, liveID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, archiveKey(key, liveID))
	return nil
}

func (r *fakeArchiveRepo) DeleteByRoom(ctx context.Context, key models.RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, a := range r.rows {
		if a.Key() == key {
			delete(r.rows, k)
		}
	}
	return nil
}

func (r *fakeArchiveRepo) TotalSizeByRoom(ctx context.Context, key models.RoomKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, a := range r.rows {
		if a.Key() == key {
			total += a.Size
		}
	}
	return total, nil
}

func (r *fakeArchiveRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// fakeRecorderRepo is an in-memory RecorderRepository.
type fakeRecorderRepo struct {
	mu   sync.Mutex
	rows map[models.RoomKey]*models.Recorder
}

func newFakeRecorderRepo() *fakeRecorderRepo {
	return &fakeRecorderRepo{rows: make(map[models.RoomKey]*models.Recorder)}
}

func (r *fakeRecorderRepo) Upsert(ctx context.Context, rec *models.Recorder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.rows[rec.Key()] = &cp
	return nil
}

func (r *fakeRecorderRepo) Get(ctx context.Context, key models.RoomKey) (*models.Recorder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRecorderRepo) GetAll(ctx context.Context) ([]*models.Recorder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Recorder
	for _, rec := range r.rows {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRecorderRepo) SetEnabled(ctx context.Context, key models.RoomKey, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.rows[key]; ok {
		rec.Enabled = &enabled
	}
	return nil
}

func (r *fakeRecorderRepo) Delete(ctx context.Context, key models.RoomKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, key)
	return nil
}

// fakeVideoRepo is an in-memory VideoRepository.
type fakeVideoRepo struct {
	mu   sync.Mutex
	rows []*models.VideoItem
}

func (r *fakeVideoRepo) Create(ctx context.Context, v *models.VideoItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *fakeVideoRepo) GetByID(ctx context.Context, id models.ULID) (*models.VideoItem, error) {
	return nil, nil
}

func (r *fakeVideoRepo) GetByRoom(ctx context.Context, key models.RoomKey, offset, limit int) ([]*models.VideoItem, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.VideoItem(nil), r.rows...), int64(len(r.rows)), nil
}

func (r *fakeVideoRepo) Delete(ctx context.Context, id models.ULID) error { return nil }

// Compile-time interface checks for the fakes.
var (
	_ platform.Fetcher              = (*fakeFetcher)(nil)
	_ repository.ArchiveRepository  = (*fakeArchiveRepo)(nil)
	_ repository.RecorderRepository = (*fakeRecorderRepo)(nil)
	_ repository.VideoRepository    = (*fakeVideoRepo)(nil)
)

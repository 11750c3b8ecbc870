// Package clip assembles playable artifacts from recorded sessions: it
// replays the stored segments of a [x, y) range as a bounded HLS manifest
// and remuxes them with an external ffmpeg process, optionally burning the
// danmaku overlay.
package clip

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Xinrea/shadowreplay/internal/models"
	"github.com/Xinrea/shadowreplay/internal/recorder"
	"github.com/Xinrea/shadowreplay/internal/repository"
	"github.com/Xinrea/shadowreplay/internal/service/progress"
)

// Options configures the assembler.
type Options struct {
	CachePath  string
	OutputPath string
	// FFmpegPath is the encoder binary; "ffmpeg" is looked up on PATH when
	// empty.
	FFmpegPath string
	// NameFormat is the clip filename template ({title} {platform}
	// {room_id} {live_id} {x} {y} {created_at} {length}).
	NameFormat string
	Archives   repository.ArchiveRepository
	Videos     repository.VideoRepository
	Events     *progress.Service
	Logger     *slog.Logger
}

// Assembler implements recorder.ClipAssembler over the on-disk archive.
type Assembler struct {
	opts Options
}

// New creates an assembler.
func New(opts Options) *Assembler {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.NameFormat == "" {
		opts.NameFormat = "{title}_{platform}_{room_id}_{live_id}_{x}_{y}"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With(slog.String("component", "clip_assembler"))
	return &Assembler{opts: opts}
}

// Assemble produces the clip. Segment boundaries are never split: the
// artifact covers whole segments and may exceed [x, y) by up to one
// segment duration at each end. On any failure the partial output file is
// removed and no video row is inserted.
func (a *Assembler) Assemble(ctx context.Context, req recorder.ClipRequest) (*models.VideoItem, error) {
	archive, err := a.opts.Archives.Get(ctx, req.Key, req.LiveID)
	if err != nil {
		return nil, err
	}
	if archive == nil {
		return nil, fmt.Errorf("no archive for %s/%s", req.Key, req.LiveID)
	}

	dir := filepath.Join(a.opts.CachePath, req.Key.Platform, req.Key.RoomID, req.LiveID)
	store, err := recorder.OpenEntryStore(dir, recorder.DetectKind(dir))
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	rng := &recorder.Range{Start: req.Start, End: req.End}
	entries := store.Entries(rng)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no segments in range [%.1f, %.1f)", req.Start, req.End)
	}
	clipLength := 0.0
	for _, e := range entries {
		clipLength += e.Duration
	}

	a.emit(req.EventID, fmt.Sprintf("assembling %d segments (%.1fs)", len(entries), clipLength))

	// The bounded manifest lives next to the segments so relative URIs
	// resolve; it is removed once ffmpeg is done with it.
	manifestPath := filepath.Join(dir, fmt.Sprintf(".clip-%s.m3u8", req.EventID))
	if err := os.WriteFile(manifestPath, store.Manifest(rng, true), 0o644); err != nil {
		return nil, fmt.Errorf("writing clip manifest: %w", err)
	}
	defer os.Remove(manifestPath)

	// The pre-generated subtitle takes precedence over the danmaku track.
	var subtitleFilter string
	switch {
	case req.EncodeSubtitle:
		subPath := filepath.Join(dir, recorder.SubtitleName)
		if _, err := os.Stat(subPath); err != nil {
			return nil, fmt.Errorf("no pre-generated subtitle for session %s: %w", req.LiveID, err)
		}
		subtitleFilter = "subtitles=" + escapeFilterPath(subPath)
	case req.EncodeDanmu:
		assPath := filepath.Join(dir, fmt.Sprintf(".clip-%s.ass", req.EventID))
		if err := writeDanmuASS(filepath.Join(dir, recorder.DanmuName), assPath, archive.Title, req.Start, req.End); err != nil {
			return nil, fmt.Errorf("rendering danmaku subtitles: %w", err)
		}
		defer os.Remove(assPath)
		subtitleFilter = "ass=" + escapeFilterPath(assPath)
	}

	if err := os.MkdirAll(a.opts.OutputPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	outPath := filepath.Join(a.opts.OutputPath, a.clipName(archive, req, clipLength)+".mp4")

	if err := a.runFFmpeg(ctx, req.EventID, manifestPath, subtitleFilter, outPath); err != nil {
		// Partial output is never left behind.
		os.Remove(outPath)
		return nil, err
	}

	fi, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("stating clip output: %w", err)
	}

	item := &models.VideoItem{
		Platform: req.Key.Platform,
		RoomID:   req.Key.RoomID,
		LiveID:   req.LiveID,
		File:     outPath,
		Cover:    archive.Cover,
		Length:   clipLength,
		Size:     fi.Size(),
		Status:   models.VideoStatusReady,
	}
	if err := a.opts.Videos.Create(ctx, item); err != nil {
		os.Remove(outPath)
		return nil, err
	}

	a.opts.Logger.Info("clip assembled",
		slog.String("live_id", req.LiveID),
		slog.String("file", outPath),
		slog.Float64("length", clipLength),
	)
	return item, nil
}

// runFFmpeg remuxes the manifest into outPath. With a subtitle filter the
// overlay is burned in, which requires a video encode; otherwise streams
// are copied.
func (a *Assembler) runFFmpeg(ctx context.Context, eventID, manifestPath, subtitleFilter, outPath string) error {
	args := []string{
		"-hide_banner", "-y",
		"-protocol_whitelist", "file,crypto,data",
		"-i", manifestPath,
	}
	if subtitleFilter != "" {
		args = append(args,
			"-vf", subtitleFilter,
			"-c:v", "libx264",
			"-c:a", "copy",
		)
	} else {
		args = append(args, "-c", "copy")
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, a.opts.FFmpegPath, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	// ffmpeg reports progress on stderr; relay the time= lines.
	var lastLine string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lastLine = line
		if strings.Contains(line, "time=") {
			a.emit(eventID, strings.TrimSpace(line))
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w (%s)", err, strings.TrimSpace(lastLine))
	}
	return nil
}

// emit publishes a progress line under the clip's event id.
func (a *Assembler) emit(eventID, content string) {
	if a.opts.Events != nil && eventID != "" {
		a.opts.Events.EmitProgress(eventID, content)
	}
}

// clipName renders the configured filename template.
func (a *Assembler) clipName(archive *models.Archive, req recorder.ClipRequest, length float64) string {
	replacer := strings.NewReplacer(
		"{title}", archive.Title,
		"{platform}", req.Key.Platform,
		"{room_id}", req.Key.RoomID,
		"{live_id}", req.LiveID,
		"{x}", fmt.Sprintf("%.0f", req.Start),
		"{y}", fmt.Sprintf("%.0f", req.End),
		"{created_at}", time.Now().Format("20060102-150405"),
		"{length}", fmt.Sprintf("%.0f", length),
	)
	return sanitizeFilename(replacer.Replace(a.opts.NameFormat))
}

// sanitizeFilename strips path separators and other characters that are
// unsafe in file names.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	out := strings.TrimSpace(replacer.Replace(name))
	if out == "" {
		out = "clip"
	}
	return out
}

// escapeFilterPath escapes a path for use inside an ffmpeg filter argument.
func escapeFilterPath(path string) string {
	out := strings.ReplaceAll(path, `\`, `\\`)
	out = strings.ReplaceAll(out, `:`, `\:`)
	return strings.ReplaceAll(out, `'`, `\'`)
}

// Ensure Assembler implements recorder.ClipAssembler at compile time.
var _ recorder.ClipAssembler = (*Assembler)(nil)

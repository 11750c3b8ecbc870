package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Xinrea/shadowreplay/internal/platform"
)

// ErrDanmuClosed reports a write after Close.
var ErrDanmuClosed = errors.New("danmu storage closed")

// DanmuStorage is the per-session append-only chat log: one JSON record per
// line, flushed on each write, never reordered. Readers consume the file
// end-to-end.
type DanmuStorage struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *bufio.Writer
	closed bool
}

// OpenDanmuStorage opens (or creates) the log at path for appending.
func OpenDanmuStorage(path string) (*DanmuStorage, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening danmu log: %w", err)
	}
	return &DanmuStorage{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the log file path.
func (d *DanmuStorage) Path() string { return d.path }

// Write appends one event and flushes.
func (d *DanmuStorage) Write(ev platform.DanmuEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDanmuClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding danmu event: %w", err)
	}
	if _, err := d.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing danmu event: %w", err)
	}
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("flushing danmu log: %w", err)
	}
	return nil
}

// Close flushes and releases the file handle.
func (d *DanmuStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.w.Flush(); err != nil {
		d.f.Close()
		return fmt.Errorf("flushing danmu log: %w", err)
	}
	return d.f.Close()
}

// StreamDanmu reads a danmu log end-to-end, calling fn for each event in
// write order. Lines that do not parse are skipped.
func StreamDanmu(path string, fn func(platform.DanmuEvent) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening danmu log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev platform.DanmuEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning danmu log: %w", err)
	}
	return nil
}

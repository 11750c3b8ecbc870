package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xinrea/shadowreplay/internal/platform"
)

func TestDanmuWriteStreamOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), DanmuName)
	d, err := OpenDanmuStorage(path)
	require.NoError(t, err)

	events := []platform.DanmuEvent{
		{TS: 1000, Text: "first", UserID: "u1"},
		{TS: 1000, Text: "same millisecond", UserID: "u2"},
		{TS: 2500, Text: "第三条弹幕"},
	}
	for _, ev := range events {
		require.NoError(t, d.Write(ev))
	}
	require.NoError(t, d.Close())

	var got []platform.DanmuEvent
	require.NoError(t, StreamDanmu(path, func(ev platform.DanmuEvent) error {
		got = append(got, ev)
		return nil
	}))
	assert.Equal(t, events, got, "events replay in write order")
}

func TestDanmuWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), DanmuName)
	d, err := OpenDanmuStorage(path)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.NoError(t, d.Close(), "double close is fine")

	assert.ErrorIs(t, d.Write(platform.DanmuEvent{TS: 1, Text: "late"}), ErrDanmuClosed)
}

func TestDanmuStreamSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), DanmuName)
	d, err := OpenDanmuStorage(path)
	require.NoError(t, err)
	require.NoError(t, d.Write(platform.DanmuEvent{TS: 1, Text: "good"}))
	require.NoError(t, d.Close())

	// A torn write at the tail must not break replay.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":2,"text":"torn`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	count := 0
	require.NoError(t, StreamDanmu(path, func(ev platform.DanmuEvent) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

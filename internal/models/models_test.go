package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomKeyValidate(t *testing.T) {
	assert.NoError(t, RoomKey{Platform: PlatformBilibili, RoomID: "1234"}.Validate())
	assert.NoError(t, RoomKey{Platform: PlatformTikTok, RoomID: "@handle"}.Validate())
	assert.Error(t, RoomKey{Platform: "youtube", RoomID: "1"}.Validate())
	assert.Error(t, RoomKey{Platform: PlatformHuya, RoomID: ""}.Validate())
}

func TestRoomKeyString(t *testing.T) {
	key := RoomKey{Platform: PlatformDouyin, RoomID: "abc"}
	assert.Equal(t, "douyin:abc", key.String())
}

func TestULIDRoundTrip(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())

	data, err := json.Marshal(id)
	require.NoError(t, err)

	var back ULID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back)

	val, err := id.Value()
	require.NoError(t, err)
	var scanned ULID
	require.NoError(t, scanned.Scan(val))
	assert.Equal(t, id, scanned)
}

func TestULIDZeroHandling(t *testing.T) {
	var id ULID
	val, err := id.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var back ULID
	require.NoError(t, json.Unmarshal([]byte("null"), &back))
	assert.True(t, back.IsZero())
}

func TestRecorderIsEnabledDefaultsTrue(t *testing.T) {
	rec := Recorder{Platform: PlatformBilibili, RoomID: "1"}
	assert.True(t, rec.IsEnabled())

	f := false
	rec.Enabled = &f
	assert.False(t, rec.IsEnabled())
}

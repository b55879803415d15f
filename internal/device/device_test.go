package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateLongDeviceID_CreatesOnFirstCall(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreateLongDeviceID(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := LoadOrCreateLongDeviceID(dir)
	require.NoError(t, err)
	assert.Equal(t, id, again, "second call must return the same persisted UUID")
}

func TestLoadOrCreateLongDeviceID_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateLongDeviceID(dir)
	require.NoError(t, err)

	// Simulate a restart: fresh call against the same directory, no
	// in-memory state carried over.
	second, err := LoadOrCreateLongDeviceID(dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestLoadOrCreateLongDeviceID_RejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "device_uuid.txt"), []byte("not-a-uuid"), 0o600))

	_, err := LoadOrCreateLongDeviceID(dir)
	assert.Error(t, err)
}

func TestParseTreeType(t *testing.T) {
	tests := []struct {
		raw     string
		want    TreeType
		wantErr bool
	}{
		{"LOCAL", TreeTypeLocal, false},
		{"GDRIVE", TreeTypeCloud, false},
		{"BOGUS", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTreeType(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_RegisterAssignsIncreasingUIDs(t *testing.T) {
	reg := NewRegistry()

	d1 := &Device{LongDeviceID: "aaa", TreeType: TreeTypeLocal, FriendlyName: "laptop"}
	d2 := &Device{LongDeviceID: "bbb", TreeType: TreeTypeCloud, FriendlyName: "drive"}

	uid1, err := reg.Register(d1)
	require.NoError(t, err)

	uid2, err := reg.Register(d2)
	require.NoError(t, err)

	assert.Less(t, uint32(uid1), uint32(uid2))
}

func TestRegistry_RejectsDuplicateLongID(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Register(&Device{LongDeviceID: "dup"})
	require.NoError(t, err)

	_, err = reg.Register(&Device{LongDeviceID: "dup"})
	assert.Error(t, err)
}

func TestRegistry_GetAndGetByLongID(t *testing.T) {
	reg := NewRegistry()

	d := &Device{LongDeviceID: "abc-123", TreeType: TreeTypeLocal}
	uid, err := reg.Register(d)
	require.NoError(t, err)

	byUID, ok := reg.Get(uid)
	require.True(t, ok)
	assert.Same(t, d, byUID)

	byLong, ok := reg.GetByLongID("abc-123")
	require.True(t, ok)
	assert.Same(t, d, byLong)

	_, ok = reg.Get(uid + 1)
	assert.False(t, ok)
}

func TestRegistry_AllOrderedByUID(t *testing.T) {
	reg := NewRegistry()

	a := &Device{LongDeviceID: "a"}
	b := &Device{LongDeviceID: "b"}
	c := &Device{LongDeviceID: "c"}

	_, _ = reg.Register(a)
	_, _ = reg.Register(b)
	_, _ = reg.Register(c)

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].LongDeviceID)
	assert.Equal(t, "b", all[1].LongDeviceID)
	assert.Equal(t, "c", all[2].LongDeviceID)
}

package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/w1ctl/internal/protocol/w1"
	"github.com/danmuck/w1ctl/internal/testutil/testlog"
)

var sensor = w1.SlaveID([8]byte{0x28, 0x2b, 0x1c, 0x6a, 0x05, 0x00, 0x00, 0x9f})

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestApplyEventTracksPresence(t *testing.T) {
	testlog.Start(t)
	s := openStore(t)
	t0 := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.ApplyEvent(w1.MsgMasterAdd, w1.MasterID(1), t0))
	require.NoError(t, s.ApplyEvent(w1.MsgSlaveAdd, sensor, t0.Add(time.Second)))
	require.NoError(t, s.ApplyEvent(w1.MsgSlaveRemove, sensor, t0.Add(2*time.Second)))

	m, err := s.Master(1)
	require.NoError(t, err)
	assert.True(t, m.Present)

	d, err := s.Device(sensor)
	require.NoError(t, err)
	assert.False(t, d.Present)
	assert.Equal(t, "28-0000056a1c2b", d.Sysfs)
	assert.Equal(t, uint8(0x28), d.Family)
	assert.True(t, d.FirstSeen.Equal(t0.Add(time.Second)))
	assert.True(t, d.LastSeen.Equal(t0.Add(2*time.Second)))
}

func TestApplyEventRejectsCommandKinds(t *testing.T) {
	testlog.Start(t)
	s := openStore(t)
	assert.Error(t, s.ApplyEvent(w1.MsgMasterCmd, w1.MasterID(1), time.Now()))
}

func TestEventsNewestFirst(t *testing.T) {
	testlog.Start(t)
	s := openStore(t)
	t0 := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.ApplyEvent(w1.MsgMasterAdd, w1.MasterID(uint32(i+1)), t0.Add(time.Duration(i)*time.Millisecond)))
	}
	events, err := s.Events(3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "5", events[0].Target)
	assert.Equal(t, "4", events[1].Target)
	assert.Equal(t, "master_add", events[2].Kind)

	all, err := s.Events(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestRecordMastersAndSlaves(t *testing.T) {
	testlog.Start(t)
	s := openStore(t)
	now := time.Unix(1700000000, 0)
	other := w1.SlaveID([8]byte{0x10, 1, 2, 3, 4, 5, 6, 0x77})

	require.NoError(t, s.RecordMasters([]uint32{2, 1}, now))
	require.NoError(t, s.RecordSlaves(1, []w1.TargetID{other, sensor}, now))

	masters, err := s.Masters()
	require.NoError(t, err)
	require.Len(t, masters, 2)
	assert.Equal(t, uint32(1), masters[0].ID)
	assert.Equal(t, uint32(2), masters[1].ID)

	devices, err := s.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "1001020304050677", devices[0].ID)
	assert.Equal(t, uint32(1), devices[1].Master)

	// A later add event keeps the master learned from search.
	require.NoError(t, s.ApplyEvent(w1.MsgSlaveAdd, sensor, now.Add(time.Second)))
	d, err := s.Device(sensor)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), d.Master)
}

func TestDeviceNotFound(t *testing.T) {
	testlog.Start(t)
	s := openStore(t)
	_, err := s.Device(sensor)
	assert.ErrorIs(t, err, ErrNotFound)
	masters, err := s.Masters()
	require.NoError(t, err)
	assert.Empty(t, masters)
}

func TestReopenPersists(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.RecordMasters([]uint32{7}, time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	m, err := s.Master(7)
	require.NoError(t, err)
	assert.True(t, m.Present)
}

func TestLookupDeviceBySysfsNameKeepsLastByte(t *testing.T) {
	testlog.Start(t)
	s := openStore(t)
	// 0x9f is not the crc of the first seven bytes.
	require.NoError(t, s.ApplyEvent(w1.MsgSlaveAdd, sensor, time.Now()))

	d, err := s.LookupDevice(sensor.SysfsName())
	require.NoError(t, err)
	assert.Equal(t, "282b1c6a0500009f", d.ID)

	d, err = s.LookupDevice("282b1c6a0500009f")
	require.NoError(t, err)
	assert.Equal(t, "28-0000056a1c2b", d.Sysfs)

	_, err = s.LookupDevice("282b1c6a050000b3")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LookupDevice("28-0000056a1c2c")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.LookupDevice("zz")
	assert.Error(t, err)
}

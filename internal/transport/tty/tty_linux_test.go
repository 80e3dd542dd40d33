//go:build linux

package tty

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/monitoring"
)

func openPair(t *testing.T) (*os.File, string) {
	t.Helper()
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })
	return master, slave.Name()
}

func TestChannel_ReadWrite(t *testing.T) {
	master, path := openPair(t)

	ch, err := Open(path, 115200)
	require.NoError(t, err)
	defer ch.Close()

	n, err := ch.Read(make([]byte, 16))
	require.NoError(t, err, "empty queue is not an error")
	assert.Zero(t, n)

	_, err = master.Write([]byte("[ping]"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := ch.Available()
		return err == nil && n == 6
	}, 2*time.Second, time.Millisecond)

	buf := make([]byte, 16)
	n, err = ch.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "[ping]", string(buf[:n]))

	_, err = ch.Write([]byte("pong\n"))
	require.NoError(t, err)
	require.NoError(t, ch.Flush())

	got := make([]byte, 16)
	n, err = master.Read(got)
	require.NoError(t, err)
	assert.Equal(t, "pong\n", string(got[:n]))
}

func TestChannel_Close(t *testing.T) {
	_, path := openPair(t)

	ch, err := Open(path, 9600)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err = ch.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ch.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ch.Available()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ch.Flush(), ErrClosed)
}

func TestOpen_Errors(t *testing.T) {
	_, path := openPair(t)
	_, err := Open(path, 12345)
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing"), 9600)
	assert.Error(t, err)

	// a regular file is not a terminal
	f := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	_, err = Open(f, 9600)
	assert.Error(t, err)
}

func TestManager_Open(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	master, path := openPair(t)
	pool := device.NewPool()
	mgr := NewManager()
	assert.Equal(t, "tty", mgr.Sort())

	raw, _ := json.Marshal(Config{DeviceName: path})
	ref, err := mgr.Open(pool, raw)
	require.NoError(t, err)

	_, err = master.Write([]byte("[a b]"))
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		_, err := ref.Use(func(d *device.Device) error {
			b, err := d.ReadAvailable()
			got = append(got, b...)
			return err
		})
		return err == nil && string(got) == "[a b]"
	}, 2*time.Second, time.Millisecond)

	var cfg json.RawMessage
	ref.Use(func(d *device.Device) error {
		var err error
		cfg, err = d.Config().Serialize()
		return err
	})
	assert.JSONEq(t, string(mustJSON(t, Config{DeviceName: path, BaudRate: DefaultBaudRate})), string(cfg))

	require.NoError(t, ref.Release())
	assert.Zero(t, pool.Len())
}

func TestManager_OpenFailures(t *testing.T) {
	pool := device.NewPool()
	mgr := NewManager()

	for _, raw := range []string{`{}`, `{"name":"/dev/null","baud_rate":7}`} {
		_, err := mgr.Open(pool, json.RawMessage(raw))
		assert.True(t, fault.IsKind(err, fault.Config), "%s: %v", raw, err)
	}

	_, err := mgr.Open(pool, json.RawMessage(`{"name":"/definitely/not/here"}`))
	assert.True(t, fault.IsKind(err, fault.IO))
}

func TestManager_Available(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ttyUSB1", "ttyACM0", "ttyUSB0", "console"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	mgr := &Manager{patterns: []string{filepath.Join(dir, "ttyUSB*"), filepath.Join(dir, "ttyACM*")}}

	assert.Equal(t, []string{
		filepath.Join(dir, "ttyACM0"),
		filepath.Join(dir, "ttyUSB0"),
		filepath.Join(dir, "ttyUSB1"),
	}, mgr.Available())

	empty := &Manager{patterns: []string{filepath.Join(dir, "nothing*")}}
	assert.Equal(t, []string{}, empty.Available())
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

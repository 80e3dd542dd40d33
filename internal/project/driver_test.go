package project

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialdebug/internal/command"
	"github.com/banshee-data/serialdebug/internal/device"
	"github.com/banshee-data/serialdebug/internal/fault"
	"github.com/banshee-data/serialdebug/internal/monitoring"
	"github.com/banshee-data/serialdebug/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) Send(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func muteLogs(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

type fixture struct {
	pool   *device.Pool
	ch     *testutil.FakeChannel
	holder *device.Ref
	driver *Driver
	out    *recorder
}

// newFixture registers a fake device and hands a clone to a driver, so the
// entry starts with two holders.
func newFixture(t *testing.T, input string) *fixture {
	t.Helper()
	muteLogs(t)

	pool := device.NewPool()
	ch := testutil.NewFakeChannel(input)
	holder := pool.Register(device.New("bench", ch, testutil.FakeConfig{DeviceName: "bench"}))
	out := &recorder{}
	return &fixture{
		pool:   pool,
		ch:     ch,
		holder: holder,
		driver: NewDriver(holder.Clone(), out),
		out:    out,
	}
}

func TestDriver_WaitsForSecondHolder(t *testing.T) {
	muteLogs(t)
	pool := device.NewPool()
	ch := testutil.NewFakeChannel("[a]")
	out := &recorder{}
	driver := NewDriver(pool.Register(device.New("bench", ch, testutil.FakeConfig{})), out)

	for range 3 {
		keep, err := driver.Drive()
		require.NoError(t, err)
		assert.True(t, keep)
	}
	assert.False(t, driver.Driving())
	assert.Empty(t, out.Events())
	assert.Zero(t, ch.Reads())
	assert.Zero(t, ch.CloseCalls())
	assert.Equal(t, 1, pool.Count(driver.Handle()))
}

func TestDriver_EmitsRawThenCommands(t *testing.T) {
	f := newFixture(t, "noise[led on][reset]")
	defer f.holder.Release()

	keep, err := f.driver.Drive()
	require.NoError(t, err)
	assert.True(t, keep)
	assert.True(t, f.driver.Driving())

	want := []Event{
		RawEvent([]byte("noise[led on][reset]")),
		CommandEvent(command.Command{Action: "led", Arguments: []string{"on"}}),
		CommandEvent(command.Command{Action: "reset", Arguments: []string{}}),
	}
	if diff := cmp.Diff(want, f.out.Events()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDriver_EmptyTickEmitsEmptyRaw(t *testing.T) {
	f := newFixture(t, "")
	defer f.holder.Release()

	keep, err := f.driver.Drive()
	require.NoError(t, err)
	assert.True(t, keep)

	events := f.out.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventRecRaw, events[0].Type)
	assert.Empty(t, events[0].Raw)
	assert.Zero(t, f.ch.Reads(), "no read when nothing is available")
}

func TestDriver_CommandSpansTicks(t *testing.T) {
	f := newFixture(t, "[mo")
	defer f.holder.Release()

	_, err := f.driver.Drive()
	require.NoError(t, err)
	f.ch.Feed([]byte("ve 1 2]"))
	_, err = f.driver.Drive()
	require.NoError(t, err)

	var commands []command.Command
	for _, e := range f.out.Events() {
		if e.Type == EventRecCommand {
			commands = append(commands, e.Command)
		}
	}
	want := []command.Command{{Action: "move", Arguments: []string{"1", "2"}}}
	if diff := cmp.Diff(want, commands); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestDriver_OverReportedAvailableIsTruncated(t *testing.T) {
	f := newFixture(t, "abc")
	defer f.holder.Release()
	f.ch.OverReport = 16

	_, err := f.driver.Drive()
	require.NoError(t, err)

	events := f.out.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, []byte("abc"), events[0].Raw)
}

func TestDriver_LastHolderDetachCloses(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.driver.Drive()
	require.NoError(t, err)
	f.out.Reset()

	require.NoError(t, f.holder.Release())
	keep, err := f.driver.Drive()
	require.NoError(t, err)
	assert.False(t, keep)

	assert.Equal(t, []Event{CloseEvent()}, f.out.Events())
	assert.Equal(t, 1, f.ch.CloseCalls())
	assert.Zero(t, f.pool.Len())

	// a finished driver never polls or emits again
	reads := f.ch.Reads()
	keep, err = f.driver.Drive()
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Len(t, f.out.Events(), 1)
	assert.Equal(t, reads, f.ch.Reads())
}

func TestDriver_IOFailureCloses(t *testing.T) {
	f := newFixture(t, "data")
	defer f.holder.Release()
	f.ch.AvailableErr = errors.New("cable pulled")

	keep, err := f.driver.Drive()
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Equal(t, []Event{CloseEvent()}, f.out.Events())
	assert.True(t, f.driver.ref.Released())
	assert.Equal(t, 1, f.holder.RC())
}

func TestDriver_VanishedEntryCloses(t *testing.T) {
	f := newFixture(t, "")
	// drop both counts behind the references' backs
	f.pool.Release(f.holder.ID())
	f.pool.Release(f.holder.ID())

	keep, err := f.driver.Drive()
	require.NoError(t, err)
	assert.False(t, keep)
	assert.Equal(t, []Event{CloseEvent()}, f.out.Events())
}

func TestDriver_SendFailureReleases(t *testing.T) {
	f := newFixture(t, "[a]")
	defer f.holder.Release()
	f.out.err = errors.New("consumer gone")

	keep, err := f.driver.Drive()
	assert.False(t, keep)
	assert.True(t, fault.IsKind(err, fault.Delivery), "err = %v", err)
	assert.True(t, f.driver.ref.Released())
	assert.Equal(t, 1, f.holder.RC())
	assert.Zero(t, f.ch.CloseCalls())

	// the remaining holder still owns a working device
	require.NoError(t, f.holder.Release())
	assert.Equal(t, 1, f.ch.CloseCalls())
}

func TestDriver_CloseSendFailure(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, func() error { _, err := f.driver.Drive(); return err }())
	require.NoError(t, f.holder.Release())

	f.out.err = errors.New("consumer gone")
	keep, err := f.driver.Drive()
	assert.False(t, keep)
	assert.True(t, fault.IsKind(err, fault.Delivery))
	assert.Equal(t, 1, f.ch.CloseCalls(), "device closed even though Close was not delivered")
	assert.Zero(t, f.pool.Len())
}

func TestDriver_Close(t *testing.T) {
	f := newFixture(t, "data")
	defer f.holder.Release()

	_, err := f.driver.Drive()
	require.NoError(t, err)
	f.out.Reset()

	require.NoError(t, f.driver.Close())
	assert.Equal(t, []Event{CloseEvent()}, f.out.Events())
	assert.Equal(t, 1, f.holder.RC())

	require.NoError(t, f.driver.Close())
	assert.Len(t, f.out.Events(), 1, "closing twice emits once")
	keep, err := f.driver.Drive()
	require.NoError(t, err)
	assert.False(t, keep)
}

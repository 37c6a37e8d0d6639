package persistence

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJSONFileSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	sink, err := NewJSONFileSink(path)
	require.NoError(t, err)

	sink.SaveDevice(context.Background(), DeviceRecord{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.10"})
	sink.SaveDevice(context.Background(), DeviceRecord{MAC: "aa:bb:cc:dd:ee:02", IP: "192.168.1.11"})

	reopened, err := NewJSONFileSink(path)
	require.NoError(t, err)
	devices, err := reopened.LoadDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
}

func TestJSONFileSinkDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	sink, err := NewJSONFileSink(path)
	require.NoError(t, err)

	sink.SaveDevice(context.Background(), DeviceRecord{MAC: "aa:bb:cc:dd:ee:01"})
	sink.DeleteDevice(context.Background(), DeviceRecord{MAC: "aa:bb:cc:dd:ee:01"})

	devices, err := sink.LoadDevices(context.Background())
	require.NoError(t, err)
	require.Empty(t, devices)
}

type countingSink struct {
	mu      sync.Mutex
	saved   int
	deleted int
}

func (c *countingSink) SaveDevice(context.Context, DeviceRecord) {
	c.mu.Lock()
	c.saved++
	c.mu.Unlock()
}
func (c *countingSink) DeleteDevice(context.Context, DeviceRecord) {
	c.mu.Lock()
	c.deleted++
	c.mu.Unlock()
}
func (c *countingSink) SaveConnection(context.Context, ConnectionRecord) {}
func (c *countingSink) LoadDevices(context.Context) ([]DeviceRecord, error) {
	return nil, nil
}
func (c *countingSink) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved, c.deleted
}

func TestAsyncSinkNeverBlocksCaller(t *testing.T) {
	underlying := &countingSink{}
	async := NewAsyncSink(underlying, 4, nil)
	defer async.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			async.SaveDevice(context.Background(), DeviceRecord{MAC: "aa:bb:cc:dd:ee:01"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AsyncSink.SaveDevice blocked the caller")
	}
}

func TestAsyncSinkEventuallyDelivers(t *testing.T) {
	underlying := &countingSink{}
	async := NewAsyncSink(underlying, 16, nil)

	async.SaveDevice(context.Background(), DeviceRecord{MAC: "aa:bb:cc:dd:ee:01"})
	async.Close()

	saved, _ := underlying.counts()
	require.Equal(t, 1, saved)
}

func TestNoopSinkDiscardsEverything(t *testing.T) {
	var sink NoopSink
	sink.SaveDevice(context.Background(), DeviceRecord{})
	sink.DeleteDevice(context.Background(), DeviceRecord{})
	sink.SaveConnection(context.Background(), ConnectionRecord{})
	devices, err := sink.LoadDevices(context.Background())
	require.NoError(t, err)
	require.Nil(t, devices)
}

func TestJSONFileSinkCreatesMissingDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")
	_, err := NewJSONFileSink(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
}

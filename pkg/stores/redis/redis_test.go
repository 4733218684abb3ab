package redis_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nais/hostops/pkg/runtime"
	"github.com/nais/hostops/pkg/stores/redis"
)

type fakeClient struct {
	lastSave int64
	bgSave   error
}

func (f *fakeClient) BgSave(ctx context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("Background saving started", f.bgSave)
}

func (f *fakeClient) LastSave(ctx context.Context) *goredis.IntCmd {
	return goredis.NewIntResult(f.lastSave, nil)
}

func TestLastSave(t *testing.T) {
	store := &redis.Store{Client: &fakeClient{lastSave: 1792288800}}
	ts, err := store.LastSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1792288800, 0), ts)
}

func TestBgSave(t *testing.T) {
	client := &fakeClient{}
	store := &redis.Store{Client: client}
	assert.NoError(t, store.BgSave(context.Background()))

	client.bgSave = errors.New("ERR Background save already in progress")
	assert.NoError(t, store.BgSave(context.Background()))

	client.bgSave = errors.New("MISCONF Errors writing to the AOF file")
	assert.Error(t, store.BgSave(context.Background()))
}

func TestCopyPersistenceFile(t *testing.T) {
	services := &runtime.MockServices{}
	store := &redis.Store{Services: services, Name: "cache"}
	w := &strings.Builder{}

	services.On("CopyFrom", mock.Anything, "cache", "/data/dump.rdb", w).Return(nil).Once()

	require.NoError(t, store.CopyPersistenceFile(context.Background(), w))
	services.AssertExpectations(t)
}

func TestReplace(t *testing.T) {
	mountpoint := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mountpoint, "dump.rdb"), []byte("old"), 0o600))

	services := &runtime.MockServices{}
	store := &redis.Store{Services: services, UID: os.Getuid(), GID: os.Getgid()}

	services.On("VolumeMountpoint", mock.Anything, "redis-data").Return(mountpoint, nil).Once()
	stop := services.On("StopService", mock.Anything, "redis").Return(nil).Once()
	services.On("StartService", mock.Anything, "redis").Return(nil).Once().NotBefore(stop)

	err := store.Replace(context.Background(), strings.NewReader("REDIS0011"))

	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(mountpoint, "dump.rdb"))
	require.NoError(t, err)
	assert.Equal(t, "REDIS0011", string(data))
	services.AssertExpectations(t)
}

func TestReplaceStartsServiceAfterFailedSwap(t *testing.T) {
	services := &runtime.MockServices{}
	store := &redis.Store{Services: services}

	services.On("VolumeMountpoint", mock.Anything, "redis-data").Return(filepath.Join(t.TempDir(), "missing"), nil).Once()
	services.On("StopService", mock.Anything, "redis").Return(nil).Once()
	services.On("StartService", mock.Anything, "redis").Return(nil).Once()

	err := store.Replace(context.Background(), strings.NewReader("REDIS0011"))

	assert.Error(t, err)
	services.AssertExpectations(t)
}

func TestReplaceKeepsServiceWhenVolumeIsUnknown(t *testing.T) {
	services := &runtime.MockServices{}
	store := &redis.Store{Services: services}

	services.On("VolumeMountpoint", mock.Anything, "redis-data").Return("", errors.New("no such volume")).Once()

	assert.Error(t, store.Replace(context.Background(), strings.NewReader("")))
	services.AssertNotCalled(t, "StopService", mock.Anything, mock.Anything)
}

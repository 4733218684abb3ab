// Package redis adapts the key-value store running as a compose service.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/nais/hostops/pkg/runtime"
)

const (
	DefaultService  = "redis"
	DefaultVolume   = "redis-data"
	DefaultDataDir  = "/data"
	PersistenceFile = "dump.rdb"

	// Owner of the data directory in the official image.
	DefaultUID = 999
	DefaultGID = 999
)

// Client is the subset of redis.Cmdable the store needs.
type Client interface {
	BgSave(ctx context.Context) *redis.StatusCmd
	LastSave(ctx context.Context) *redis.IntCmd
}

func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   2,
	})
}

type Store struct {
	Services runtime.Services
	Client   Client

	Name    string
	Volume  string
	DataDir string
	UID     int
	GID     int
}

func (s *Store) Service() string {
	if len(s.Name) == 0 {
		return DefaultService
	}
	return s.Name
}

func (s *Store) volume() string {
	if len(s.Volume) == 0 {
		return DefaultVolume
	}
	return s.Volume
}

func (s *Store) dataDir() string {
	if len(s.DataDir) == 0 {
		return DefaultDataDir
	}
	return s.DataDir
}

func (s *Store) owner() (int, int) {
	if s.UID == 0 && s.GID == 0 {
		return DefaultUID, DefaultGID
	}
	return s.UID, s.GID
}

func (s *Store) Running(ctx context.Context) (bool, error) {
	return s.Services.Running(ctx, s.Service())
}

func (s *Store) LastSave(ctx context.Context) (time.Time, error) {
	ts, err := s.Client.LastSave(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("LASTSAVE: %w", err)
	}
	return time.Unix(ts, 0), nil
}

// BgSave asks the server to persist its dataset in the background.
// A save that is already running counts as triggered.
func (s *Store) BgSave(ctx context.Context) error {
	err := s.Client.BgSave(ctx).Err()
	if err != nil && strings.Contains(err.Error(), "already in progress") {
		log.Debugf("%s: background save already in progress", s.Service())
		return nil
	}
	if err != nil {
		return fmt.Errorf("BGSAVE: %w", err)
	}
	return nil
}

// CopyPersistenceFile writes the persisted dataset into w.
func (s *Store) CopyPersistenceFile(ctx context.Context, w io.Writer) error {
	return s.Services.CopyFrom(ctx, s.Service(), filepath.Join(s.dataDir(), PersistenceFile), w)
}

// Replace stops the service, swaps the persistence file on its volume, fixes ownership
// and starts the service again. The service is started again even when the swap fails.
func (s *Store) Replace(ctx context.Context, rdb io.Reader) error {
	mountpoint, err := s.Services.VolumeMountpoint(ctx, s.volume())
	if err != nil {
		return fmt.Errorf("locate volume %s: %w", s.volume(), err)
	}

	err = s.Services.StopService(ctx, s.Service())
	if err != nil {
		return fmt.Errorf("stop %s: %w", s.Service(), err)
	}

	replaceErr := s.replaceFile(filepath.Join(mountpoint, PersistenceFile), rdb)

	startErr := s.Services.StartService(ctx, s.Service())
	if startErr != nil {
		startErr = fmt.Errorf("start %s: %w", s.Service(), startErr)
	}
	return errors.Join(replaceErr, startErr)
}

func (s *Store) replaceFile(path string, rdb io.Reader) error {
	tmp := path + ".hostops"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, rdb)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}

	uid, gid := s.owner()
	if err := os.Chown(tmp, uid, gid); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chown %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

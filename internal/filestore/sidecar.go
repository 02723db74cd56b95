package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/model"
)

var sidecarRetryBackoff = retry.WithMaxRetries(3, retry.WithJitter(20*time.Millisecond, retry.NewFibonacci(50*time.Millisecond)))

// sidecar is the lazily-loaded, debounce-written descriptor map for one
// object id's files (§4.C).
type sidecar struct {
	mu       sync.Mutex
	entries  map[string]model.FileDescriptor
	timer    *time.Timer
	path     string
	debounce time.Duration
}

func loadSidecar(dir string, debounce time.Duration) *sidecar {
	s := &sidecar{
		entries:  make(map[string]model.FileDescriptor),
		path:     filepath.Join(dir, constants.SidecarFile),
		debounce: debounce,
	}
	if b, err := os.ReadFile(s.path); err == nil {
		_ = json.Unmarshal(b, &s.entries)
	}
	return s
}

func (s *sidecar) get(name string) (model.FileDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.entries[name]
	return d, ok
}

func (s *sidecar) set(name string, d model.FileDescriptor) {
	s.mu.Lock()
	s.entries[name] = d
	s.mu.Unlock()
	s.scheduleFlush()
}

func (s *sidecar) delete(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
	s.scheduleFlush()
}

func (s *sidecar) snapshot() map[string]model.FileDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.FileDescriptor, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

func (s *sidecar) scheduleFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.flush(); err != nil {
			log.Println("filestore: sidecar flush failed:", err)
		}
	})
}

// forceFlush cancels any pending debounced write and flushes the
// sidecar synchronously (§4.C destroy, §9 saveFileSettings(force)).
func (s *sidecar) forceFlush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.flush()
}

func (s *sidecar) flush() error {
	s.mu.Lock()
	b, err := json.Marshal(s.entries)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return retry.Do(context.Background(), sidecarRetryBackoff, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return retry.RetryableError(err)
		}
		tmp := s.path + ".tmp"
		if err := os.WriteFile(tmp, b, 0o644); err != nil {
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				return retry.RetryableError(err)
			}
			return err
		}
		if err := os.Rename(tmp, s.path); err != nil {
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

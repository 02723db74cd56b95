// Copyright 2024 Kelvin Clement Mwinuka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filestore implements the content-addressed-by-path file
// store (§4.C): one lazily-loaded, debounce-written sidecar document
// per object id, backed by plain files on disk underneath
// <dataDir>/files/<id>/. Blob writes are wrapped in the teacher's own
// retry/backoff shape (internal/utils.go's RetryBackoff over
// github.com/sethvargo/go-retry, there guarding memberlist cluster
// joins, here guarding transient filesystem errors on blob writes).
package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/match"
	"github.com/fleetdb/fleetdb/internal/model"
)

// ErrNotExist is returned when a named file/directory does not exist.
var ErrNotExist = errors.New(constants.ErrNotExists)

// ErrYetExists is returned by mkdir when the directory already exists.
var ErrYetExists = errors.New(constants.ErrYetExists)

// PublishFunc is called once per committed file mutation; descriptor is
// nil for a deletion, mirroring the object store's publish contract.
type PublishFunc func(id, name string, descriptor *model.FileDescriptor)

// Store is the file store for one data directory.
type Store struct {
	rootDir  string
	globs    *match.Cache
	debounce time.Duration
	publish  PublishFunc

	mu        sync.Mutex
	sidecars  map[string]*sidecar
	cacheMu   sync.RWMutex
	noCache   bool
	textCache map[string]string
}

// New constructs a file store rooted at <dataDir>/files.
func New(dataDir string, debounce time.Duration, noFileCache bool, publish PublishFunc) *Store {
	return &Store{
		rootDir:   filepath.Join(dataDir, constants.FilesDir),
		globs:     match.NewCache(),
		debounce:  debounce,
		publish:   publish,
		sidecars:  make(map[string]*sidecar),
		noCache:   noFileCache,
		textCache: make(map[string]string),
	}
}

// Lookup satisfies acl.DescriptorLookup.
func (s *Store) Lookup(objectID, name string) (model.FileDescriptor, bool) {
	return s.sidecarFor(objectID).get(name)
}

func (s *Store) objectDir(id string) string {
	return filepath.Join(s.rootDir, id)
}

func (s *Store) sidecarFor(id string) *sidecar {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.sidecars[id]; ok {
		return sc
	}
	sc := loadSidecar(s.objectDir(id), s.debounce)
	s.sidecars[id] = sc
	return sc
}

// Flush forces a synchronous flush of every sidecar with a pending
// debounced write, cancelling the pending timer in favour of an
// immediate one (§4.C destroy, §9 saveFileSettings(force)).
func (s *Store) Flush() error {
	s.mu.Lock()
	sidecars := make([]*sidecar, 0, len(s.sidecars))
	for _, sc := range s.sidecars {
		sidecars = append(sidecars, sc)
	}
	s.mu.Unlock()

	var errs []error
	for _, sc := range sidecars {
		if err := sc.forceFlush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var blobRetryBackoff = retry.WithMaxRetries(3, retry.WithJitter(20*time.Millisecond, retry.NewFibonacci(50*time.Millisecond)))

// writeBlobWithRetry writes data to path, retrying on transient
// filesystem errors the way the teacher retries memberlist joins.
func writeBlobWithRetry(path string, data []byte) error {
	return retry.Do(context.Background(), blobRetryBackoff, func(ctx context.Context) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return retry.RetryableError(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

// WriteFile implements writeFile (§4.C).
func (s *Store) WriteFile(id, name string, data []byte, mimeType string, owner, ownerGroup string, mode model.Perm) (model.FileDescriptor, error) {
	id, err := sanitizeID(id)
	if err != nil {
		return model.FileDescriptor{}, err
	}
	name = sanitizeName(name)

	blobPath := filepath.Join(s.objectDir(id), filepath.FromSlash(name))
	detectedMime, binary := classify(name)
	if mimeType == "" {
		mimeType = detectedMime
	}

	if err := writeBlobWithRetry(blobPath, data); err != nil {
		return model.FileDescriptor{}, err
	}

	now := time.Now().UnixMilli()
	sc := s.sidecarFor(id)
	desc, existed := sc.get(name)
	if !existed {
		desc.CreatedAt = now
		desc.ACL = model.FileACL{Owner: owner, OwnerGroup: ownerGroup, Permissions: mode}
	}
	desc.MimeType = mimeType
	desc.Binary = binary
	desc.ModifiedAt = now
	sc.set(name, desc)

	s.invalidateText(id, name)
	s.notifyPublish(id, name, &desc)
	return desc, nil
}

// ReadFile implements readFile (§4.C).
func (s *Store) ReadFile(id, name string) ([]byte, string, error) {
	id, err := sanitizeID(id)
	if err != nil {
		return nil, "", err
	}
	name = sanitizeName(name)

	desc, ok := s.sidecarFor(id).get(name)
	if !ok {
		return nil, "", ErrNotExist
	}

	cacheKey := id + "\x00" + name
	if !desc.Binary && !s.cacheDisabled() {
		s.cacheMu.RLock()
		if text, ok := s.textCache[cacheKey]; ok {
			s.cacheMu.RUnlock()
			return []byte(text), desc.MimeType, nil
		}
		s.cacheMu.RUnlock()
	}

	blobPath := filepath.Join(s.objectDir(id), filepath.FromSlash(name))
	data, err := os.ReadFile(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotExist
		}
		return nil, "", err
	}

	if !desc.Binary && !s.cacheDisabled() {
		s.cacheMu.Lock()
		s.textCache[cacheKey] = string(data)
		s.cacheMu.Unlock()
	}

	return data, desc.MimeType, nil
}

// Unlink implements unlink (§4.C): recursively removes a file or, if
// name resolves to a directory, its entries first.
func (s *Store) Unlink(id, name string) error {
	id, err := sanitizeID(id)
	if err != nil {
		return err
	}
	name = sanitizeName(name)

	sc := s.sidecarFor(id)
	blobPath := filepath.Join(s.objectDir(id), filepath.FromSlash(name))

	info, statErr := os.Stat(blobPath)
	if statErr == nil && info.IsDir() {
		prefix := name + "/"
		for key := range sc.snapshot() {
			if strings.HasPrefix(key, prefix) {
				if err := s.Unlink(id, key); err != nil {
					return err
				}
			}
		}
		if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		sc.delete(name)
		s.notifyPublish(id, name, nil)
		return nil
	}

	if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if _, existed := sc.get(name); !existed {
		return ErrNotExist
	}
	sc.delete(name)
	s.invalidateText(id, name)
	s.notifyPublish(id, name, nil)
	return nil
}

// DirEntry is one row of ReadDir's result.
type DirEntry struct {
	Name       string
	IsDir      bool
	Size       int64
	ACL        model.FileACL
	ModifiedAt int64
	CreatedAt  int64
}

// ReadDir implements readDir (§4.C): the union of sidecar keys
// prefixed by name/ (collapsed to their first remaining segment) and
// filesystem directory entries.
func (s *Store) ReadDir(id, name string) ([]DirEntry, error) {
	id, err := sanitizeID(id)
	if err != nil {
		return nil, err
	}
	name = sanitizeName(name)

	sc := s.sidecarFor(id)
	entries := sc.snapshot()

	seen := make(map[string]DirEntry)
	prefix := ""
	if name != "" {
		prefix = name + "/"
	}
	for key, desc := range entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if rest == "" {
			continue
		}
		segment := rest
		isDir := false
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			segment = rest[:idx]
			isDir = true
		}
		if _, ok := seen[segment]; ok && !isDir {
			continue
		}
		seen[segment] = DirEntry{
			Name:       segment,
			IsDir:      isDir,
			ACL:        desc.ACL,
			ModifiedAt: desc.ModifiedAt,
			CreatedAt:  desc.CreatedAt,
		}
	}

	dirPath := filepath.Join(s.objectDir(id), filepath.FromSlash(name))
	if fsEntries, err := os.ReadDir(dirPath); err == nil {
		for _, ent := range fsEntries {
			if ent.Name() == constants.SidecarFile || ent.Name() == "." || ent.Name() == ".." {
				continue
			}
			if prev, ok := seen[ent.Name()]; ok {
				if info, err := ent.Info(); err == nil && !prev.IsDir {
					prev.Size = info.Size()
					seen[ent.Name()] = prev
				}
				continue
			}
			info, _ := ent.Info()
			var size int64
			if info != nil {
				size = info.Size()
			}
			seen[ent.Name()] = DirEntry{Name: ent.Name(), IsDir: ent.IsDir(), Size: size}
		}
	}

	out := make([]DirEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Rename implements rename (§4.C).
func (s *Store) Rename(id, oldName, newName string) error {
	id, err := sanitizeID(id)
	if err != nil {
		return err
	}
	oldName, newName = sanitizeName(oldName), sanitizeName(newName)

	sc := s.sidecarFor(id)
	desc, ok := sc.get(oldName)
	if !ok {
		return ErrNotExist
	}

	oldPath := filepath.Join(s.objectDir(id), filepath.FromSlash(oldName))
	newPath := filepath.Join(s.objectDir(id), filepath.FromSlash(newName))
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return err
	}

	sc.delete(oldName)
	desc.ModifiedAt = time.Now().UnixMilli()
	sc.set(newName, desc)

	s.invalidateText(id, oldName)
	s.notifyPublish(id, oldName, nil)
	s.notifyPublish(id, newName, &desc)
	return nil
}

// Touch implements touch (§4.C): updates modifiedAt and synthesizes
// defaults for every sidecar entry matching pattern.
func (s *Store) Touch(id, pattern string, defaultACL func(bool) model.FileACL) []string {
	sc := s.sidecarFor(id)
	var touched []string
	now := time.Now().UnixMilli()
	for name, desc := range sc.snapshot() {
		if !s.globs.Match(pattern, name) {
			continue
		}
		if desc.MimeType == "" {
			mt, binary := classify(name)
			desc.MimeType = mt
			desc.Binary = binary
		}
		if desc.ACL == (model.FileACL{}) && defaultACL != nil {
			desc.ACL = defaultACL(false)
		}
		desc.ModifiedAt = now
		sc.set(name, desc)
		touched = append(touched, name)
		d := desc
		s.notifyPublish(id, name, &d)
	}
	return touched
}

// Rm implements rm (§4.C): removes matching sidecar entries and blobs,
// then prunes now-empty parent directories.
func (s *Store) Rm(id, pattern string) ([]string, error) {
	sc := s.sidecarFor(id)
	var removed []string
	for name := range sc.snapshot() {
		if !s.globs.Match(pattern, name) {
			continue
		}
		blobPath := filepath.Join(s.objectDir(id), filepath.FromSlash(name))
		if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		sc.delete(name)
		s.invalidateText(id, name)
		s.notifyPublish(id, name, nil)
		removed = append(removed, name)

		dir := filepath.Dir(blobPath)
		for dir != s.objectDir(id) && dir != "." {
			if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
				_ = os.Remove(dir)
				dir = filepath.Dir(dir)
				continue
			}
			break
		}
	}
	return removed, nil
}

// Mkdir implements mkdir (§4.C).
func (s *Store) Mkdir(id, dirname string) error {
	id, err := sanitizeID(id)
	if err != nil {
		return err
	}
	dirname = sanitizeName(dirname)
	dirPath := filepath.Join(s.objectDir(id), filepath.FromSlash(dirname))

	if _, err := os.Stat(dirPath); err == nil {
		return ErrYetExists
	}
	return os.MkdirAll(dirPath, 0o755)
}

// ChownFile implements chownFile (§4.C).
func (s *Store) ChownFile(id, pattern, owner, ownerGroup string) []string {
	sc := s.sidecarFor(id)
	var changed []string
	for name, desc := range sc.snapshot() {
		if !s.globs.Match(pattern, name) {
			continue
		}
		if owner != "" {
			desc.ACL.Owner = owner
		}
		if ownerGroup != "" {
			desc.ACL.OwnerGroup = ownerGroup
		}
		sc.set(name, desc)
		changed = append(changed, name)
	}
	return changed
}

// ChmodFile implements chmodFile (§4.C).
func (s *Store) ChmodFile(id, pattern string, mode model.Perm) []string {
	sc := s.sidecarFor(id)
	var changed []string
	for name, desc := range sc.snapshot() {
		if !s.globs.Match(pattern, name) {
			continue
		}
		desc.ACL.Permissions = mode
		sc.set(name, desc)
		changed = append(changed, name)
	}
	return changed
}

// EnableFileCache implements enableFileCache (§4.C).
func (s *Store) EnableFileCache(enabled bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.noCache = !enabled
	if !enabled {
		s.textCache = make(map[string]string)
	}
}

func (s *Store) cacheDisabled() bool {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.noCache
}

func (s *Store) invalidateText(id, name string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.textCache, id+"\x00"+name)
}

func (s *Store) notifyPublish(id, name string, desc *model.FileDescriptor) {
	if s.publish != nil {
		s.publish(id, name, desc)
	}
}

// InsertSink buffers a streamed upload's bytes until Close, bounded by
// maxBytes, then commits via WriteFile (§4.C "insert() streaming sink").
type InsertSink struct {
	store      *Store
	id, name   string
	mimeType   string
	owner      string
	ownerGroup string
	mode       model.Perm
	max        int64

	buf []byte
}

// Insert returns a streaming sink for id/name, bounded by maxBytes.
func (s *Store) Insert(id, name, mimeType, owner, ownerGroup string, mode model.Perm, maxBytes int64) *InsertSink {
	return &InsertSink{store: s, id: id, name: name, mimeType: mimeType, owner: owner, ownerGroup: ownerGroup, mode: mode, max: maxBytes}
}

// Write implements io.Writer, erroring once the cumulative size would
// exceed the configured MaxStreamedUpload bound.
func (sink *InsertSink) Write(p []byte) (int, error) {
	if sink.max > 0 && int64(len(sink.buf)+len(p)) > sink.max {
		return 0, errors.New("insert: stream exceeds MaxStreamedUpload")
	}
	sink.buf = append(sink.buf, p...)
	return len(p), nil
}

// Close commits the buffered bytes as a single writeFile call.
func (sink *InsertSink) Close() (model.FileDescriptor, error) {
	return sink.store.WriteFile(sink.id, sink.name, sink.buf, sink.mimeType, sink.owner, sink.ownerGroup, sink.mode)
}

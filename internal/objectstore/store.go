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

// Package objectstore implements the in-memory keyspace of JSON
// documents (§4.B): a single mutex-guarded map plus a maintained sorted
// id index for range scans. It is grounded on the teacher's own
// keyspace -- a `map[string]...` behind one `storeLock *sync.RWMutex`
// in sugardb/sugardb.go -- generalised from Redis-style typed values to
// the generic JSON object documents this store holds.
package objectstore

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/fleetdb/fleetdb/internal/acl"
	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/match"
	"github.com/fleetdb/fleetdb/internal/merge"
	"github.com/fleetdb/fleetdb/internal/model"
)

// ErrInvalidID carries the bare "Invalid ID: " message. SetObject does
// not return this value: it builds its own error with the rejected id
// appended. ExtendObject does not validate ids.
var ErrInvalidID = errors.New(constants.ErrInvalidID(""))

// ErrNotExist is returned by operations that require an existing object.
var ErrNotExist = errors.New(constants.ErrNotExists)

// ErrDontDelete is returned by delObject when common.dontDelete is set.
var ErrDontDelete = errors.New(constants.ErrDontDelete)

// NonEditChecker validates a would-be extendObject result against the
// object it would replace. It is supplied by the façade layer so this
// package stays free of any domain-specific password/token scheme
// (§3 "handled by an external predicate").
type NonEditChecker func(old, new model.Object) bool

// PublishFunc is called once per committed mutation; obj is nil for a
// deletion. Wired to the pub/sub dispatcher by the façade.
type PublishFunc func(id string, obj model.Object)

// ScheduleFunc is called once per committed mutation to arm the
// debounced snapshot timer. Wired to the persistence engine.
type ScheduleFunc func()

// Store is the object keyspace.
type Store struct {
	mu      sync.RWMutex
	objects map[string]model.Object
	index   []string // maintained sorted ids, mirrors objects' keys

	aclMu      sync.RWMutex
	defaultACL model.DefaultACL

	engine  *acl.Engine
	globs   *match.Cache
	publish PublishFunc
	notify  ScheduleFunc
}

// New constructs an empty store. engine resolves subjects for
// ownerGroup inference; publish and notify may be nil during tests.
func New(engine *acl.Engine, publish PublishFunc, notify ScheduleFunc) *Store {
	s := &Store{
		objects: make(map[string]model.Object),
		engine:  engine,
		globs:   match.NewCache(),
		publish: publish,
		notify:  notify,
	}
	if engine != nil {
		engine.SetReader(s)
	}
	return s
}

// DefaultACL returns the current default-ACL template.
func (s *Store) DefaultACL() model.DefaultACL {
	s.aclMu.RLock()
	defer s.aclMu.RUnlock()
	return s.defaultACL
}

// SetDefaultACL assigns the default-ACL template directly, used on
// startup to seed it from system.config without running the full
// back-propagation path.
func (s *Store) SetDefaultACL(d model.DefaultACL) {
	s.aclMu.Lock()
	defer s.aclMu.Unlock()
	s.defaultACL = d
}

// Get returns a deep clone of id's stored object, satisfying the
// acl.ObjectReader interface.
func (s *Store) Get(id string) (model.Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// RangeByPrefix returns clones of every object whose id starts with
// prefix, satisfying the acl.ObjectReader interface.
func (s *Store) RangeByPrefix(prefix string) []model.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.SearchStrings(s.index, prefix)
	var out []model.Object
	for ; i < len(s.index) && strings.HasPrefix(s.index[i], prefix); i++ {
		out = append(out, s.objects[s.index[i]].Clone())
	}
	return out
}

// GetObject returns a deep clone of id's stored object, or nil.
func (s *Store) GetObject(id string) model.Object {
	o, _ := s.Get(id)
	return o
}

// GetKeys returns the sorted ids matching pattern for which subject has
// list rights.
func (s *Store) GetKeys(pattern string, subject *model.Subject) []string {
	s.mu.RLock()
	ids := append([]string(nil), s.index...)
	objs := make(map[string]model.Object, len(ids))
	for _, id := range ids {
		objs[id] = s.objects[id]
	}
	s.mu.RUnlock()

	var out []string
	for _, id := range ids {
		if !s.globs.Match(pattern, id) {
			continue
		}
		if s.engine != nil && s.engine.CheckObject(id, subject, model.OpList, objs[id]) != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ObjectResult is one element of GetObjects' parallel result array.
type ObjectResult struct {
	Object model.Object
	Err    error
}

// GetObjects resolves each key to a clone, a permission error, or
// ErrNotExist for a missing key, preserving input order.
func (s *Store) GetObjects(keys []string, subject *model.Subject) []ObjectResult {
	out := make([]ObjectResult, len(keys))
	for i, id := range keys {
		s.mu.RLock()
		obj, ok := s.objects[id]
		s.mu.RUnlock()
		if !ok {
			out[i] = ObjectResult{Err: ErrNotExist}
			continue
		}
		if s.engine != nil {
			if err := s.engine.CheckObject(id, subject, model.OpRead, obj); err != nil {
				out[i] = ObjectResult{Err: err}
				continue
			}
		}
		out[i] = ObjectResult{Object: obj.Clone()}
	}
	return out
}

// GetObjectsByPattern returns clones of every id matching pattern for
// which subject has read rights.
func (s *Store) GetObjectsByPattern(pattern string, subject *model.Subject) []model.Object {
	s.mu.RLock()
	ids := append([]string(nil), s.index...)
	s.mu.RUnlock()

	var out []model.Object
	for _, id := range ids {
		if !s.globs.Match(pattern, id) {
			continue
		}
		s.mu.RLock()
		obj := s.objects[id]
		s.mu.RUnlock()
		if s.engine != nil && s.engine.CheckObject(id, subject, model.OpRead, obj) != nil {
			continue
		}
		out = append(out, obj.Clone())
	}
	return out
}

// ListRow is one row of a GetObjectList result.
type ListRow struct {
	ID    string
	Value model.Object
	Doc   model.Object
}

// ListOptions parametrizes GetObjectList.
type ListOptions struct {
	StartKey    string
	EndKey      string
	IncludeDocs bool
	Sorted      bool
}

// GetObjectList returns rows for ids in [startkey, endkey] (§4.B).
func (s *Store) GetObjectList(opts ListOptions, subject *model.Subject) []ListRow {
	s.mu.RLock()
	ids := append([]string(nil), s.index...)
	s.mu.RUnlock()

	var rows []ListRow
	for _, id := range ids {
		if opts.StartKey != "" && id < opts.StartKey {
			continue
		}
		if opts.EndKey != "" && id > opts.EndKey {
			continue
		}
		if !opts.IncludeDocs && strings.HasPrefix(id, "_") {
			continue
		}

		s.mu.RLock()
		obj := s.objects[id]
		s.mu.RUnlock()

		if s.engine != nil && s.engine.CheckObject(id, subject, model.OpRead, obj) != nil {
			continue
		}

		row := ListRow{ID: id, Value: obj.Clone()}
		if opts.IncludeDocs {
			row.Doc = obj.Clone()
		}
		rows = append(rows, row)
	}

	if opts.Sorted {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	}
	return rows
}

// SetOptions parametrizes SetObject/ExtendObject.
type SetOptions struct {
	PreserveSettings []string
	Owner            string
	OwnerGroup       string
}

// SetObject validates, ACL-assigns, stores and publishes obj under id,
// replacing any prior value (§4.B).
func (s *Store) SetObject(id string, obj model.Object, opts SetOptions) (model.Object, error) {
	if !model.ValidID(id) {
		return nil, errors.New(constants.ErrInvalidID(id))
	}

	if id == constants.ConfigObjectID {
		s.maybeAdoptDefaultACL(obj)
	}

	s.mu.Lock()
	old, existed := s.objects[id]
	s.mu.Unlock()

	merged := obj
	if existed {
		merged = applyPreserveSettings(old, merged, opts.PreserveSettings)
	}

	s.assignACL(merged, old, existed)
	s.assignOwner(merged, opts)
	merged.SetID(id)

	s.mu.Lock()
	s.objects[id] = merged
	if !existed {
		s.insertIndex(id)
	}
	s.mu.Unlock()

	s.afterCommit(id, merged)
	return merged.Clone(), nil
}

// ExtendObject deep-merges partial into the existing object under id
// (§4.B). checkNonEditable, if non-nil, gates nonEdit objects.
func (s *Store) ExtendObject(id string, partial map[string]interface{}, opts SetOptions, checkNonEditable NonEditChecker) (model.Object, error) {
	s.mu.RLock()
	old, existed := s.objects[id]
	s.mu.RUnlock()
	if !existed {
		return nil, ErrNotExist
	}

	mergedRaw := merge.Deep(old, partial, opts.PreserveSettings)
	merged := model.Object(mergedRaw)

	if id == constants.ConfigObjectID {
		s.maybeAdoptDefaultACL(merged)
	}

	if old.NonEdit() && checkNonEditable != nil {
		if !checkNonEditable(old, merged) {
			// Roll back: in-memory state never changed since we merged
			// into a fresh map, but report the failure explicitly.
			return nil, errors.New(constants.ErrBadNonEditPwd)
		}
	}

	s.assignACL(merged, old, true)
	s.assignOwner(merged, opts)
	merged.SetID(id)

	s.mu.Lock()
	s.objects[id] = merged
	s.mu.Unlock()

	s.afterCommit(id, merged)
	return merged.Clone(), nil
}

// DelObject removes id, refusing objects marked common.dontDelete.
func (s *Store) DelObject(id string) error {
	s.mu.Lock()
	obj, ok := s.objects[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotExist
	}
	if obj.DontDelete() {
		s.mu.Unlock()
		return ErrDontDelete
	}
	delete(s.objects, id)
	s.removeIndex(id)
	s.mu.Unlock()

	s.afterCommit(id, nil)
	return nil
}

// ChownObject reassigns owner/ownerGroup on every key matching pattern
// that subject may write, materializing a default ACL first if absent.
func (s *Store) ChownObject(pattern string, owner, ownerGroup string, subject *model.Subject) []string {
	var changed []string
	for _, id := range s.GetKeys(pattern, subject) {
		s.mu.Lock()
		obj, ok := s.objects[id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		if s.engine != nil && s.engine.CheckObject(id, subject, model.OpWrite, obj) != nil {
			s.mu.Unlock()
			continue
		}
		a, ok := obj.ACL()
		if !ok {
			a = s.DefaultACL().ForObject(obj.IsState())
		}
		if owner != "" {
			a.Owner = owner
		}
		if ownerGroup != "" {
			a.OwnerGroup = ownerGroup
		}
		obj.SetACL(a)
		s.objects[id] = obj
		s.mu.Unlock()

		s.afterCommit(id, obj)
		changed = append(changed, id)
	}
	return changed
}

// ChmodObject reassigns the object/state permission bits on every key
// matching pattern that subject may write.
func (s *Store) ChmodObject(pattern string, object, state model.Perm, hasState bool, subject *model.Subject) []string {
	var changed []string
	for _, id := range s.GetKeys(pattern, subject) {
		s.mu.Lock()
		obj, ok := s.objects[id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		if s.engine != nil && s.engine.CheckObject(id, subject, model.OpWrite, obj) != nil {
			s.mu.Unlock()
			continue
		}
		a, ok := obj.ACL()
		if !ok {
			a = s.DefaultACL().ForObject(obj.IsState())
		}
		a.Object = object
		if hasState && obj.IsState() {
			a.State = state
		}
		obj.SetACL(a)
		s.objects[id] = obj
		s.mu.Unlock()

		s.afterCommit(id, obj)
		changed = append(changed, id)
	}
	return changed
}

// FindObject returns the object whose id equals idOrName, or failing
// that, the first object whose common.name matches (and whose
// common.type matches typ, when typ is non-empty), subject to read.
func (s *Store) FindObject(idOrName, typ string, subject *model.Subject) (model.Object, bool) {
	if obj, ok := s.Get(idOrName); ok {
		if s.engine == nil || s.engine.CheckObject(idOrName, subject, model.OpRead, obj) == nil {
			return obj, true
		}
		return nil, false
	}

	s.mu.RLock()
	ids := append([]string(nil), s.index...)
	s.mu.RUnlock()

	for _, id := range ids {
		s.mu.RLock()
		obj := s.objects[id]
		s.mu.RUnlock()
		if obj.Name() != idOrName {
			continue
		}
		if typ != "" {
			common := obj.Common()
			if common == nil {
				continue
			}
			if t, _ := common["type"].(string); t != typ {
				continue
			}
		}
		if s.engine != nil && s.engine.CheckObject(id, subject, model.OpRead, obj) != nil {
			continue
		}
		return obj.Clone(), true
	}
	return nil, false
}

// Snapshot returns a deep clone of the entire keyspace, for persistence.
func (s *Store) Snapshot() map[string]model.Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.Object, len(s.objects))
	for id, obj := range s.objects {
		out[id] = obj.Clone()
	}
	return out
}

// Load replaces the entire keyspace with objects, used on startup.
func (s *Store) Load(objects map[string]model.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string]model.Object, len(objects))
	s.index = s.index[:0]
	for id, obj := range objects {
		s.objects[id] = obj
		s.index = append(s.index, id)
	}
	sort.Strings(s.index)

	if cfg, ok := s.objects[constants.ConfigObjectID]; ok {
		if common := cfg.Common(); common != nil {
			if raw, ok := common["defaultNewAcl"]; ok {
				s.SetDefaultACL(decodeDefaultACL(raw))
			}
		}
	}
}

// Destroy clears the in-memory keyspace (§4.B destroyDB leaves memory
// untouched; the persistence engine deletes the snapshot file
// separately). Exposed for tests exercising a fresh-empty restart.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string]model.Object)
	s.index = nil
}

func (s *Store) afterCommit(id string, obj model.Object) {
	if s.publish != nil {
		s.publish(id, obj)
	}
	if s.notify != nil {
		s.notify()
	}
	if strings.HasPrefix(id, constants.UserObjectPrefix) || strings.HasPrefix(id, constants.GroupObjectPrefix) {
		if s.engine != nil {
			s.engine.Invalidate()
		}
	}
}

func (s *Store) insertIndex(id string) {
	i := sort.SearchStrings(s.index, id)
	s.index = append(s.index, "")
	copy(s.index[i+1:], s.index[i:])
	s.index[i] = id
}

func (s *Store) removeIndex(id string) {
	i := sort.SearchStrings(s.index, id)
	if i < len(s.index) && s.index[i] == id {
		s.index = append(s.index[:i], s.index[i+1:]...)
	}
}

// maybeAdoptDefaultACL implements the system.config.common.defaultNewAcl
// back-propagation rule: if the incoming template differs from the
// store's current one, adopt it and assign it to every ACL-less object
// in one pass (§3, §4.B).
func (s *Store) maybeAdoptDefaultACL(cfg model.Object) {
	common := cfg.Common()
	if common == nil {
		return
	}
	raw, ok := common["defaultNewAcl"]
	if !ok {
		return
	}
	next := decodeDefaultACL(raw)

	s.aclMu.Lock()
	if next == s.defaultACL {
		s.aclMu.Unlock()
		return
	}
	s.defaultACL = next
	s.aclMu.Unlock()

	s.mu.Lock()
	for id, obj := range s.objects {
		// An all-zero acl is what assignACL leaves behind while no
		// template is configured; it counts as ACL-less here.
		if a, has := obj.ACL(); has && a != (model.ACL{}) {
			continue
		}
		obj.SetACL(next.ForObject(obj.IsState()))
		s.objects[id] = obj
	}
	s.mu.Unlock()
}

func decodeDefaultACL(raw interface{}) model.DefaultACL {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return model.DefaultACL{}
	}
	str := func(k string) string {
		v, _ := m[k].(string)
		return v
	}
	num := func(k string) model.Perm {
		switch v := m[k].(type) {
		case float64:
			return model.Perm(v)
		case int:
			return model.Perm(v)
		}
		return 0
	}
	return model.DefaultACL{
		Owner:      str("owner"),
		OwnerGroup: str("ownerGroup"),
		Object:     num("object"),
		State:      num("state"),
		File:       num("file"),
	}
}

// assignACL implements the "inherits acl from old object when new has
// none; otherwise assigns defaultNewAcl" rule (§4.B).
func (s *Store) assignACL(obj, old model.Object, existed bool) {
	if _, has := obj.ACL(); has {
		return
	}
	if existed {
		if a, has := old.ACL(); has {
			obj.SetACL(a)
			return
		}
	}
	obj.SetACL(s.DefaultACL().ForObject(obj.IsState()))
}

// assignOwner implements "if options.owner is supplied without
// ownerGroup, resolves the first group via ACL engine" (§4.B).
func (s *Store) assignOwner(obj model.Object, opts SetOptions) {
	if opts.Owner == "" {
		return
	}
	a, _ := obj.ACL()
	a.Owner = opts.Owner
	if opts.OwnerGroup != "" {
		a.OwnerGroup = opts.OwnerGroup
	} else if s.engine != nil {
		if g, ok := s.engine.FirstGroup(opts.Owner); ok {
			a.OwnerGroup = g
		}
	}
	obj.SetACL(a)
}

// applyPreserveSettings implements setObject's preserveSettings rule:
// for each listed dotted path, null in the new object deletes it,
// absence copies the old value forward, and any explicit value passes
// through untouched (§4.B).
func applyPreserveSettings(old, next model.Object, preserve []string) model.Object {
	if len(preserve) == 0 {
		return next
	}
	out := map[string]interface{}(next)
	oldRaw := map[string]interface{}(old)

	for _, path := range preserve {
		v, present := dottedGet(out, path)
		switch {
		case present && v == nil:
			dottedDelete(out, path)
		case !present:
			if ov, ok := dottedGet(oldRaw, path); ok {
				dottedSet(out, path, ov)
			}
		}
	}
	return model.Object(out)
}

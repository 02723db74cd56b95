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

package fleetdb

import (
	"errors"

	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/model"
	"github.com/fleetdb/fleetdb/internal/objectstore"
)

// GetObject implements getObject (§4.B). Unlike the enumeration
// operations below, the object store itself performs no ACL check on a
// single point lookup, so the façade authorizes read here.
func (f *FleetDB) GetObject(user, id string) (model.Object, error) {
	subject := f.acl.ResolveSubject(user)
	existing, _ := f.objects.Get(id)
	if err := f.acl.CheckObject(id, subject, model.OpRead, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// GetKeys implements getKeys (§4.B); list authorization happens inside
// the object store per matched id.
func (f *FleetDB) GetKeys(user, pattern string) []string {
	subject := f.acl.ResolveSubject(user)
	return f.objects.GetKeys(pattern, subject)
}

// GetObjects implements getObjects (§4.B).
func (f *FleetDB) GetObjects(user string, keys []string) ([]objectstore.ObjectResult, error) {
	if keys == nil {
		return nil, errors.New(constants.ErrNoKeys)
	}
	subject := f.acl.ResolveSubject(user)
	return f.objects.GetObjects(keys, subject), nil
}

// GetObjectsByPattern implements getObjectsByPattern (§4.B).
func (f *FleetDB) GetObjectsByPattern(user, pattern string) []model.Object {
	subject := f.acl.ResolveSubject(user)
	return f.objects.GetObjectsByPattern(pattern, subject)
}

// GetObjectList implements getObjectList (§4.B).
func (f *FleetDB) GetObjectList(user string, opts objectstore.ListOptions) []objectstore.ListRow {
	subject := f.acl.ResolveSubject(user)
	return f.objects.GetObjectList(opts, subject)
}

// SetObject implements setObject (§4.B): authorizes write (or create,
// for a not-yet-existing id) before delegating to the store.
func (f *FleetDB) SetObject(user, id string, obj model.Object, opts objectstore.SetOptions) (model.Object, error) {
	if obj == nil {
		return nil, ErrNull
	}
	subject := f.acl.ResolveSubject(user)
	existing, _ := f.objects.Get(id)

	op := model.OpWrite
	if existing == nil {
		op = model.OpCreate
	}
	if err := f.acl.CheckObject(id, subject, op, existing); err != nil {
		return nil, err
	}
	return f.objects.SetObject(id, obj, opts)
}

// ExtendOptions parametrizes ExtendObject: opts is forwarded to the
// store unchanged, password is compared by the installed non-edit
// checker when the target is marked common.nonEdit.
type ExtendOptions struct {
	Set      objectstore.SetOptions
	Password string
}

// ExtendObject implements extendObject (§4.B).
func (f *FleetDB) ExtendObject(user, id string, partial map[string]interface{}, opts ExtendOptions) (model.Object, error) {
	subject := f.acl.ResolveSubject(user)
	existing, ok := f.objects.Get(id)
	if !ok {
		return nil, objectstore.ErrNotExist
	}
	if err := f.acl.CheckObject(id, subject, model.OpWrite, existing); err != nil {
		return nil, err
	}

	checker := func(old, new model.Object) bool {
		return f.nonEditChecker(old, new, opts.Password)
	}
	return f.objects.ExtendObject(id, partial, opts.Set, checker)
}

// DelObject implements delObject (§4.B).
func (f *FleetDB) DelObject(user, id string) error {
	subject := f.acl.ResolveSubject(user)
	existing, ok := f.objects.Get(id)
	if !ok {
		return objectstore.ErrNotExist
	}
	if err := f.acl.CheckObject(id, subject, model.OpDelete, existing); err != nil {
		return err
	}
	return f.objects.DelObject(id)
}

// ChownObject implements chownObject (§4.B); per-key write
// authorization happens inside the store.
func (f *FleetDB) ChownObject(user, pattern, owner, ownerGroup string) []string {
	subject := f.acl.ResolveSubject(user)
	return f.objects.ChownObject(pattern, owner, ownerGroup, subject)
}

// ChmodObject implements chmodObject (§4.B); per-key write
// authorization happens inside the store.
func (f *FleetDB) ChmodObject(user, pattern string, object, state model.Perm, hasState bool) []string {
	subject := f.acl.ResolveSubject(user)
	return f.objects.ChmodObject(pattern, object, state, hasState, subject)
}

// FindObject implements findObject (§4.B); read authorization happens
// inside the store.
func (f *FleetDB) FindObject(user, idOrName, typ string) (model.Object, bool) {
	subject := f.acl.ResolveSubject(user)
	return f.objects.FindObject(idOrName, typ, subject)
}

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
	"github.com/fleetdb/fleetdb/internal/acl"
	"github.com/fleetdb/fleetdb/internal/filestore"
	"github.com/fleetdb/fleetdb/internal/model"
)

// checkFileOp gates a file-realm operation that the ACL engine's
// CheckFile doesn't itself cover (list/delete are not part of the
// {read,write} flag CheckFile evaluates against a descriptor) -- the
// admin shortcut plus a direct subject.ACL.File lookup (§4.A, §4.C).
func checkFileOp(subject *model.Subject, op model.Op) error {
	if acl.IsAdmin(subject) {
		return nil
	}
	if !subject.ACL.File.Allows(op) {
		return acl.ErrPermission
	}
	return nil
}

// WriteFile implements writeFile (§4.C).
func (f *FleetDB) WriteFile(user, id, name string, data []byte, mimeType, owner, ownerGroup string, mode model.Perm) (model.FileDescriptor, error) {
	subject := f.acl.ResolveSubject(user)
	if err := f.acl.CheckFile(id, name, subject, model.PermWrite, f.files.Lookup); err != nil {
		return model.FileDescriptor{}, err
	}
	if owner == "" && ownerGroup == "" && mode == 0 {
		d := f.defaultFileACL(false)
		owner, ownerGroup, mode = d.Owner, d.OwnerGroup, d.Permissions
	}
	return f.files.WriteFile(id, name, data, mimeType, owner, ownerGroup, mode)
}

// ReadFile implements readFile (§4.C).
func (f *FleetDB) ReadFile(user, id, name string) ([]byte, string, error) {
	subject := f.acl.ResolveSubject(user)
	if err := f.acl.CheckFile(id, name, subject, model.PermRead, f.files.Lookup); err != nil {
		return nil, "", err
	}
	return f.files.ReadFile(id, name)
}

// Unlink implements unlink (§4.C).
func (f *FleetDB) Unlink(user, id, name string) error {
	subject := f.acl.ResolveSubject(user)
	if err := f.acl.CheckFile(id, name, subject, model.PermWrite, f.files.Lookup); err != nil {
		return err
	}
	if err := checkFileOp(subject, model.OpDelete); err != nil {
		return err
	}
	return f.files.Unlink(id, name)
}

// ReadDir implements readDir (§4.C). When filter is set, entries whose
// own file ACL denies the caller both read and write are pruned from the
// listing rather than merely left unauthorized for direct access
// (§4.C "options.filter").
func (f *FleetDB) ReadDir(user, id, name string, filter bool) ([]filestore.DirEntry, error) {
	subject := f.acl.ResolveSubject(user)
	if err := f.acl.CheckFile(id, name, subject, model.PermRead, f.files.Lookup); err != nil {
		return nil, err
	}
	if err := checkFileOp(subject, model.OpList); err != nil {
		return nil, err
	}
	entries, err := f.files.ReadDir(id, name)
	if err != nil || !filter {
		return entries, err
	}

	out := entries[:0]
	for _, e := range entries {
		if f.acl.CheckFileDescriptor(e.ACL, subject, model.PermRead) != nil &&
			f.acl.CheckFileDescriptor(e.ACL, subject, model.PermWrite) != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Rename implements rename (§4.C).
func (f *FleetDB) Rename(user, id, oldName, newName string) error {
	subject := f.acl.ResolveSubject(user)
	if err := f.acl.CheckFile(id, oldName, subject, model.PermWrite, f.files.Lookup); err != nil {
		return err
	}
	return f.files.Rename(id, oldName, newName)
}

// Touch implements touch (§4.C).
func (f *FleetDB) Touch(user, id, pattern string) ([]string, error) {
	subject := f.acl.ResolveSubject(user)
	if err := checkFileOp(subject, model.OpWrite); err != nil {
		return nil, err
	}
	return f.files.Touch(id, pattern, f.defaultFileACL), nil
}

// Rm implements rm (§4.C).
func (f *FleetDB) Rm(user, id, pattern string) ([]string, error) {
	subject := f.acl.ResolveSubject(user)
	if err := checkFileOp(subject, model.OpWrite); err != nil {
		return nil, err
	}
	if err := checkFileOp(subject, model.OpDelete); err != nil {
		return nil, err
	}
	return f.files.Rm(id, pattern)
}

// Mkdir implements mkdir (§4.C).
func (f *FleetDB) Mkdir(user, id, dirname string) error {
	subject := f.acl.ResolveSubject(user)
	if err := checkFileOp(subject, model.OpWrite); err != nil {
		return err
	}
	return f.files.Mkdir(id, dirname)
}

// ChownFile implements chownFile (§4.C).
func (f *FleetDB) ChownFile(user, id, pattern, owner, ownerGroup string) ([]string, error) {
	subject := f.acl.ResolveSubject(user)
	if err := checkFileOp(subject, model.OpWrite); err != nil {
		return nil, err
	}
	return f.files.ChownFile(id, pattern, owner, ownerGroup), nil
}

// ChmodFile implements chmodFile (§4.C).
func (f *FleetDB) ChmodFile(user, id, pattern string, mode model.Perm) ([]string, error) {
	subject := f.acl.ResolveSubject(user)
	if err := checkFileOp(subject, model.OpWrite); err != nil {
		return nil, err
	}
	return f.files.ChmodFile(id, pattern, mode), nil
}

// EnableFileCache implements enableFileCache, gated by object-realm
// write (§4.C "Gated by object-realm write").
func (f *FleetDB) EnableFileCache(user string, enabled bool) error {
	subject := f.acl.ResolveSubject(user)
	if !acl.IsAdmin(subject) && !subject.ACL.Object.Write {
		return acl.ErrPermission
	}
	f.files.EnableFileCache(enabled)
	return nil
}

// Insert implements the insert() streaming sink (§4.C), authorized the
// same way as writeFile since it commits via writeFile on Close.
func (f *FleetDB) Insert(user, id, name, mimeType, owner, ownerGroup string, mode model.Perm) (*filestore.InsertSink, error) {
	subject := f.acl.ResolveSubject(user)
	if err := f.acl.CheckFile(id, name, subject, model.PermWrite, f.files.Lookup); err != nil {
		return nil, err
	}
	return f.files.Insert(id, name, mimeType, owner, ownerGroup, mode, f.config.MaxStreamedUpload), nil
}

// defaultFileACL synthesizes a default file ACL for touch/writeFile
// when an entry's descriptor has none yet, drawn from the object
// store's current default-ACL template (§4.B, §4.C).
func (f *FleetDB) defaultFileACL(isState bool) model.FileACL {
	d := f.objects.DefaultACL()
	return model.FileACL{Owner: d.Owner, OwnerGroup: d.OwnerGroup, Permissions: d.File}
}

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

package constants

const Version = "0.1.0"

// Realms partition the pub/sub dispatcher and the ACL gate.
const (
	RealmObjects = "objects"
	RealmFiles   = "files"
)

// Built-in subjects that always resolve to full permissions.
const (
	AdminUser  = "system.user.admin"
	AdminGroup = "system.group.administrator"
)

// Object-id prefixes that receive special ACL treatment.
const (
	UserObjectPrefix  = "system.user."
	GroupObjectPrefix = "system.group."
	ConfigObjectID    = "system.config"
)

// Error strings that are part of the wire contract. Callers match on
// these literally, so they must never be wrapped or reworded.
const (
	ErrPermission    = "permissionError"
	ErrNotExists     = "Not exists"
	ErrYetExists     = "Yet exists"
	ErrObjNull       = "obj is null"
	ErrNoKeys        = "no keys"
	ErrDontDelete    = "Object is marked as non deletable"
	ErrInvalidParam  = "invalid parameter"
	ErrBadNonEditPwd = "Invalid password for update of vendor information"
)

func ErrInvalidID(id string) string {
	return "Invalid ID: " + id
}

const ErrEmptyID = "Empty ID"

// Data directory layout.
const (
	SnapshotFile      = "objects.json"
	SnapshotBackupExt = ".bak"
	BackupDir         = "backup-objects"
	FilesDir          = "files"
	SidecarFile       = "_data.json"
)

// Debounce intervals.
const (
	SnapshotDebounce = 5 // seconds
	SidecarDebounce  = 1 // seconds
)

// Wire operation names (§6).
const (
	OpWriteFile        = "writeFile"
	OpReadFile         = "readFile"
	OpReadDir          = "readDir"
	OpUnlink           = "unlink"
	OpRename           = "rename"
	OpMkdir            = "mkdir"
	OpChownFile        = "chownFile"
	OpChmodFile        = "chmodFile"
	OpRm               = "rm"
	OpTouch            = "touch"
	OpEnableFileCache  = "enableFileCache"
	OpSubscribe        = "subscribe"
	OpUnsubscribe      = "unsubscribe"
	OpGetObjectView    = "getObjectView"
	OpGetObjectList    = "getObjectList"
	OpExtendObject     = "extendObject"
	OpSetObject        = "setObject"
	OpDelObject        = "delObject"
	OpFindObject       = "findObject"
	OpDestroyDB        = "destroyDB"
	OpGetObject        = "getObject"
	OpChownObject      = "chownObject"
	OpChmodObject      = "chmodObject"
	OpDestroy          = "destroy"
	OpError            = "error"
	OpGetKeys          = "getKeys"
	OpGetObjects       = "getObjects"
	OpGetObjectsByGlob = "getObjectsByPattern"
)

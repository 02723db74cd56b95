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

// Package fleetdb wires the object store, file store, ACL engine,
// pub/sub dispatcher, view executor and persistence engine into the
// uniform request façade (§4.F): every operation runs once, against a
// resolved subject, and is reachable both from the synchronous Go API
// in this package and from the RESP-framed TCP surface in server.go.
// It is grounded on the teacher's top-level SugarDB struct
// (sugardb/sugardb.go) -- one struct embedding every module plus a
// clock, a config and a connection table -- generalised from a
// Redis-command dispatch table to the object/file/view/pub-sub surface
// this spec describes.
package fleetdb

import (
	"errors"
	"log"

	"github.com/fleetdb/fleetdb/internal/acl"
	"github.com/fleetdb/fleetdb/internal/clock"
	"github.com/fleetdb/fleetdb/internal/config"
	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/filestore"
	"github.com/fleetdb/fleetdb/internal/model"
	"github.com/fleetdb/fleetdb/internal/objectstore"
	"github.com/fleetdb/fleetdb/internal/persist"
	"github.com/fleetdb/fleetdb/internal/pubsub"
	"github.com/fleetdb/fleetdb/internal/view"
)

// ChangeEvent is one item delivered on the embedded-host channel
// exposed by WithChangeChannel (§4.E ambient addition).
type ChangeEvent struct {
	Realm   pubsub.Realm
	Pattern string
	ID      string
	Object  model.Object
}

// FleetDB is the assembled core: one instance serves both the
// synchronous Go API and, via server.go, the TCP transport.
type FleetDB struct {
	clock  clock.Clock
	config config.Config

	acl      *acl.Engine
	objects  *objectstore.Store
	files    *filestore.Store
	views    *view.Executor
	dispatch *pubsub.Dispatcher
	persist  *persist.Engine

	localSub *pubsub.Subscriber
	changeCh chan ChangeEvent

	nonEditChecker func(old, new model.Object, password string) bool
}

// Option configures a FleetDB at construction time.
type Option func(*FleetDB)

// WithClock overrides the persistence engine's clock, for deterministic
// backup-rotation tests.
func WithClock(c clock.Clock) Option { return func(f *FleetDB) { f.clock = c } }

// WithChangeChannel gives the embedding process a buffered Go channel
// of every committed mutation, independent of any TCP client (§4.E).
func WithChangeChannel(buffer int) Option {
	return func(f *FleetDB) { f.changeCh = make(chan ChangeEvent, buffer) }
}

// WithNonEditChecker installs the external predicate that gates
// extendObject on objects marked common.nonEdit (§3, §4.B). password is
// whatever the caller passed on the extend request; the default
// checker (installed if this option is never used) compares it against
// the object's common.nonEditPwd field.
func WithNonEditChecker(f func(old, new model.Object, password string) bool) Option {
	return func(fdb *FleetDB) { fdb.nonEditChecker = f }
}

// New assembles a FleetDB instance from cfg: wires the ACL engine, the
// object store, the file store, the view executor, the pub/sub
// dispatcher and the persistence engine together, then loads any
// existing snapshot and ACL seed file before returning.
func New(cfg config.Config, opts ...Option) (*FleetDB, error) {
	f := &FleetDB{
		clock:          clock.NewClock(),
		config:         cfg,
		acl:            acl.NewEngine(),
		views:          view.NewExecutor(),
		dispatch:       pubsub.NewDispatcher(),
		nonEditChecker: defaultNonEditChecker,
	}
	for _, opt := range opts {
		opt(f)
	}

	f.objects = objectstore.New(f.acl, f.publishObject, func() { f.persist.Schedule() })
	f.files = filestore.New(cfg.DataDir, cfg.SidecarDebounce, cfg.NoFileCache, f.publishFile)

	f.persist = persist.New(
		persist.WithClock(f.clock),
		persist.WithDataDir(cfg.DataDir),
		persist.WithBackupDisabled(cfg.BackupDisabled),
		persist.WithBackupFiles(cfg.BackupFiles),
		persist.WithBackupHours(cfg.BackupHours),
		persist.WithBackupPeriod(cfg.BackupPeriod),
		persist.WithBackupPath(cfg.BackupPath),
		persist.WithDebounce(cfg.SnapshotDebounce),
		persist.WithGetStateFunc(f.objects.Snapshot),
		persist.WithSetStateFunc(f.objects.Load),
	)
	f.persist.Load()

	if f.changeCh != nil {
		f.localSub = pubsub.NewSubscriber(func(realm pubsub.Realm, pattern, id string, obj model.Object) {
			f.changeCh <- ChangeEvent{Realm: realm, Pattern: pattern, ID: id, Object: obj}
		})
		_ = f.localSub.Subscribe(pubsub.RealmObjects, "*", nil)
		_ = f.localSub.Subscribe(pubsub.RealmFiles, "*", nil)
		f.dispatch.Register(f.localSub)
	}

	if cfg.AclSeedFile != "" {
		if err := f.seedACL(cfg.AclSeedFile); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// Changes returns the channel installed by WithChangeChannel, or nil.
func (f *FleetDB) Changes() <-chan ChangeEvent { return f.changeCh }

func defaultNonEditChecker(old, _ model.Object, password string) bool {
	common := old.Common()
	if common == nil {
		return password == ""
	}
	want, _ := common["nonEditPwd"].(string)
	return want == password
}

func (f *FleetDB) publishObject(id string, obj model.Object) {
	f.dispatch.PublishAll(pubsub.RealmObjects, id, obj)
}

// publishFile fans out a file-store mutation under the files realm.
// The dispatcher's id space is composite (objectID + "/" + name) so
// file-subscription globs can target either the owning object or a
// specific path underneath it.
func (f *FleetDB) publishFile(id, name string, descriptor *model.FileDescriptor) {
	compositeID := id + "/" + name
	var obj model.Object
	if descriptor != nil {
		obj = model.Object{
			"mimeType":   descriptor.MimeType,
			"binary":     descriptor.Binary,
			"createdAt":  descriptor.CreatedAt,
			"modifiedAt": descriptor.ModifiedAt,
		}
	}
	f.dispatch.PublishAll(pubsub.RealmFiles, compositeID, obj)
}

// ResolveSubject resolves user to its effective ACL, the entry point
// every façade method uses before authorizing a request.
func (f *FleetDB) ResolveSubject(user string) *model.Subject {
	return f.acl.ResolveSubject(user)
}

// Shutdown flushes any pending snapshot synchronously. It does not
// close TCP listeners; callers running the transport adapter should
// close those first.
func (f *FleetDB) Shutdown() {
	if err := f.persist.Flush(); err != nil {
		log.Println("fleetdb: shutdown flush failed:", err)
	}
	if err := f.files.Flush(); err != nil {
		log.Println("fleetdb: shutdown file sidecar flush failed:", err)
	}
	if f.changeCh != nil {
		close(f.changeCh)
	}
}

// ErrNull is returned by SetObject when called with a nil payload
// (§7 "obj is null").
var ErrNull = errors.New(constants.ErrObjNull)

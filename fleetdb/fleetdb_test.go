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
	"testing"

	"github.com/fleetdb/fleetdb/internal/acl"
	"github.com/fleetdb/fleetdb/internal/config"
	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/model"
	"github.com/fleetdb/fleetdb/internal/objectstore"
	"github.com/fleetdb/fleetdb/internal/pubsub"
)

func newTestDB(t *testing.T) *FleetDB {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	db, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return db
}

// S1: setObject assigns _id and round-trips the payload.
func TestSetObjectThenGetObject(t *testing.T) {
	db := newTestDB(t)
	obj := model.Object{"common": map[string]interface{}{"name": "X"}, "native": map[string]interface{}{}}

	if _, err := db.SetObject(constants.AdminUser, "a.b", obj, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject: %v", err)
	}

	got, err := db.GetObject(constants.AdminUser, "a.b")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if got["_id"] != "a.b" {
		t.Fatalf("expected _id a.b, got %v", got["_id"])
	}
	common, _ := got["common"].(map[string]interface{})
	if common["name"] != "X" {
		t.Fatalf("expected common.name X, got %v", common["name"])
	}
}

// Invariant 1: getObject returns an independent clone.
func TestGetObjectReturnsIndependentClone(t *testing.T) {
	db := newTestDB(t)
	obj := model.Object{"common": map[string]interface{}{"name": "X"}}
	if _, err := db.SetObject(constants.AdminUser, "a.b", obj, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject: %v", err)
	}

	got, _ := db.GetObject(constants.AdminUser, "a.b")
	got["common"].(map[string]interface{})["name"] = "mutated"

	got2, _ := db.GetObject(constants.AdminUser, "a.b")
	common, _ := got2["common"].(map[string]interface{})
	if common["name"] != "X" {
		t.Fatalf("mutation of returned clone leaked into store: %v", common["name"])
	}
}

// S3: defaultNewAcl back-propagates onto a freshly-created state object.
func TestSystemConfigDefaultAclBackPropagates(t *testing.T) {
	db := newTestDB(t)

	cfg := model.Object{"common": map[string]interface{}{"defaultNewAcl": map[string]interface{}{
		"owner": "u", "ownerGroup": "g", "object": 0x664, "state": 0x664, "file": 0x664,
	}}}
	if _, err := db.SetObject(constants.AdminUser, constants.ConfigObjectID, cfg, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(system.config): %v", err)
	}

	if _, err := db.SetObject(constants.AdminUser, "x", model.Object{"type": "state"}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(x): %v", err)
	}

	got, err := db.GetObject(constants.AdminUser, "x")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	aclField, ok := got["acl"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected acl field, got %+v", got)
	}
	if aclField["owner"] != "u" || aclField["ownerGroup"] != "g" {
		t.Fatalf("expected owner/ownerGroup u/g, got %+v", aclField)
	}
	if _, hasFile := aclField["file"]; hasFile {
		t.Fatalf("object acl must not carry the template's file field: %+v", aclField)
	}
}

// §3/§4.B: extendObject on system.config back-propagates a changed
// defaultNewAcl the same as setObject would.
func TestSystemConfigDefaultAclBackPropagatesViaExtend(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.SetObject(constants.AdminUser, constants.ConfigObjectID, model.Object{"common": map[string]interface{}{}}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(system.config): %v", err)
	}

	if _, err := db.ExtendObject(constants.AdminUser, constants.ConfigObjectID, map[string]interface{}{
		"common": map[string]interface{}{"defaultNewAcl": map[string]interface{}{
			"owner": "u", "ownerGroup": "g", "object": 0x664, "state": 0x664, "file": 0x664,
		}},
	}, ExtendOptions{}); err != nil {
		t.Fatalf("ExtendObject(system.config): %v", err)
	}

	if _, err := db.SetObject(constants.AdminUser, "x", model.Object{"type": "state"}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(x): %v", err)
	}

	got, err := db.GetObject(constants.AdminUser, "x")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	aclField, ok := got["acl"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected acl field, got %+v", got)
	}
	if aclField["owner"] != "u" || aclField["ownerGroup"] != "g" {
		t.Fatalf("expected owner/ownerGroup u/g, got %+v", aclField)
	}
}

// S4: dontDelete objects refuse delObject.
func TestDontDeleteRefusesDelObject(t *testing.T) {
	db := newTestDB(t)
	obj := model.Object{"common": map[string]interface{}{"dontDelete": true}}
	if _, err := db.SetObject(constants.AdminUser, "d.y", obj, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject: %v", err)
	}

	if err := db.DelObject(constants.AdminUser, "d.y"); err == nil || err.Error() != constants.ErrDontDelete {
		t.Fatalf("expected ErrDontDelete, got %v", err)
	}

	if got, err := db.GetObject(constants.AdminUser, "d.y"); err != nil || got == nil {
		t.Fatalf("object should still be present: %+v err=%v", got, err)
	}
}

// S5: writeFile/readDir/unlink sidecar-disk consistency.
func TestWriteFileReadDirUnlink(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.WriteFile(constants.AdminUser, "o", "a/b.txt", []byte("hi"), "", "", "", 0); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	entries, err := db.ReadDir(constants.AdminUser, "o", "a", false)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "b.txt" {
		t.Fatalf("expected single entry b.txt, got %+v", entries)
	}

	if err := db.Unlink(constants.AdminUser, "o", "a/b.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	entries, err = db.ReadDir(constants.AdminUser, "o", "a", false)
	if err != nil {
		t.Fatalf("ReadDir after unlink: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir after unlink, got %+v", entries)
	}
}

// S6 / invariant 7-8: subscribe then setObject delivers exactly one
// message to a matching subscriber, and none to an unrelated id.
func TestSubscribeDeliversExactlyOneMatchingMessage(t *testing.T) {
	db := newTestDB(t)

	type delivery struct {
		pattern, id string
		obj         model.Object
	}
	deliveries := make(chan delivery, 10)
	sub := db.NewSubscriber(func(realm pubsub.Realm, pattern, id string, obj model.Object) {
		deliveries <- delivery{pattern, id, obj}
	})
	defer db.CloseSubscriber(sub)

	if err := db.Subscribe(constants.AdminUser, sub, pubsub.RealmObjects, "system.adapter.*", nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, err := db.SetObject(constants.AdminUser, "system.adapter.foo", model.Object{"v": 1.0}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject: %v", err)
	}
	if _, err := db.SetObject(constants.AdminUser, "other", model.Object{"v": 2.0}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(other): %v", err)
	}

	select {
	case d := <-deliveries:
		if d.pattern != "system.adapter.*" || d.id != "system.adapter.foo" {
			t.Fatalf("unexpected delivery: %+v", d)
		}
	default:
		t.Fatalf("expected one delivery for the matching set, got none")
	}

	select {
	case d := <-deliveries:
		t.Fatalf("expected no further deliveries, got %+v", d)
	default:
	}
}

// §4.C options.filter: readDir prunes entries the caller can't read or
// write, rather than just refusing direct access to them.
func TestReadDirFilterPrunesUnreadableEntries(t *testing.T) {
	db := newTestDB(t)

	viewers := model.Object{"common": map[string]interface{}{
		"members": []interface{}{"system.user.bob"},
		"acl": map[string]interface{}{
			"file": map[string]interface{}{"read": true, "list": true},
		},
	}}
	if _, err := db.SetObject(constants.AdminUser, "system.group.viewers", viewers, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(group): %v", err)
	}
	if _, err := db.SetObject(constants.AdminUser, "system.user.bob", model.Object{}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(user): %v", err)
	}

	ownerOnlyRead := model.PermRead << model.ShiftUser
	if _, err := db.WriteFile(constants.AdminUser, "o", "secret.txt", []byte("s"), "", "system.user.alice", "", ownerOnlyRead); err != nil {
		t.Fatalf("WriteFile(secret): %v", err)
	}
	everyoneRead := model.PermRead << model.ShiftEveryone
	if _, err := db.WriteFile(constants.AdminUser, "o", "public.txt", []byte("p"), "", "system.user.alice", "", everyoneRead); err != nil {
		t.Fatalf("WriteFile(public): %v", err)
	}

	unfiltered, err := db.ReadDir("system.user.bob", "o", "", false)
	if err != nil {
		t.Fatalf("ReadDir unfiltered: %v", err)
	}
	if len(unfiltered) != 2 {
		t.Fatalf("expected both entries without filter, got %+v", unfiltered)
	}

	filtered, err := db.ReadDir("system.user.bob", "o", "", true)
	if err != nil {
		t.Fatalf("ReadDir filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "public.txt" {
		t.Fatalf("expected only public.txt after filtering, got %+v", filtered)
	}
}

// Invariant 6: a user lacking object.write cannot mutate anything an
// admin subsequently observes.
func TestAclDenialBlocksMutation(t *testing.T) {
	db := newTestDB(t)

	viewers := model.Object{"common": map[string]interface{}{
		"members": []interface{}{"system.user.bob"},
		"acl": map[string]interface{}{
			"object": map[string]interface{}{"read": true, "list": true},
		},
	}}
	if _, err := db.SetObject(constants.AdminUser, "system.group.viewers", viewers, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(group): %v", err)
	}
	if _, err := db.SetObject(constants.AdminUser, "system.user.bob", model.Object{}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject(user): %v", err)
	}

	_, err := db.SetObject("system.user.bob", "a.b", model.Object{"common": map[string]interface{}{"name": "nope"}}, objectstore.SetOptions{})
	if err == nil || err.Error() != acl.ErrPermission.Error() {
		t.Fatalf("expected permission error, got %v", err)
	}

	if got, err := db.GetObject(constants.AdminUser, "a.b"); err != nil || got != nil {
		t.Fatalf("expected a.b to not exist after denied write, got %+v err=%v", got, err)
	}
}

// Invariant 5: a flush followed by a fresh instance over the same data
// directory round-trips the keyspace.
func TestRestartRoundTripsKeyspace(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{DataDir: dir}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := db.SetObject(constants.AdminUser, "a.b", model.Object{"common": map[string]interface{}{"name": "X"}}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject: %v", err)
	}
	db.Shutdown()

	db2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	got, err := db2.GetObject(constants.AdminUser, "a.b")
	if err != nil {
		t.Fatalf("GetObject after restart: %v", err)
	}
	common, _ := got["common"].(map[string]interface{})
	if common["name"] != "X" {
		t.Fatalf("expected restored common.name X, got %+v", got)
	}
}

// §4.E: the embedded-host change channel delivers committed mutations
// from both realms, labeled with the realm that produced them.
func TestChangeChannelDeliversObjectAndFileMutations(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	db, err := New(cfg, WithChangeChannel(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := db.SetObject(constants.AdminUser, "a.b", model.Object{"common": map[string]interface{}{"name": "X"}}, objectstore.SetOptions{}); err != nil {
		t.Fatalf("SetObject: %v", err)
	}
	if ev := <-db.Changes(); ev.Realm != pubsub.RealmObjects || ev.ID != "a.b" {
		t.Fatalf("expected an objects-realm event for a.b, got %+v", ev)
	}

	if _, err := db.WriteFile(constants.AdminUser, "a.b", "notes.txt", []byte("hi"), "", "", "", 0); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if ev := <-db.Changes(); ev.Realm != pubsub.RealmFiles || ev.ID != "a.b/notes.txt" {
		t.Fatalf("expected a files-realm event for a.b/notes.txt, got %+v", ev)
	}
}

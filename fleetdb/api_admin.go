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
	"encoding/json"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/fleetdb/fleetdb/internal/acl"
	"github.com/fleetdb/fleetdb/internal/model"
	"github.com/fleetdb/fleetdb/internal/objectstore"
)

// DestroyDB implements destroyDB (§4.B): admin-only, deletes the
// snapshot file and leaves in-memory state untouched.
func (f *FleetDB) DestroyDB(user string) error {
	subject := f.acl.ResolveSubject(user)
	if !acl.IsAdmin(subject) {
		return acl.ErrPermission
	}
	return f.persist.Destroy()
}

// seedEntry is one row of an AclSeedFile: an object id plus payload,
// merged into the store before the server starts accepting
// connections (§4.A ambient addition).
type seedEntry struct {
	ID     string                 `json:"id" yaml:"id"`
	Object map[string]interface{} `json:"object" yaml:"object"`
}

// seedACL loads cfg.AclSeedFile and writes every entry directly into
// the object store, bypassing the façade's ACL gate since no subject
// exists yet at this point in startup.
func (f *FleetDB) seedACL(p string) error {
	b, err := os.ReadFile(p)
	if err != nil {
		return fmt.Errorf("fleetdb: reading acl seed file: %w", err)
	}

	var entries []seedEntry
	switch path.Ext(p) {
	case ".json":
		err = json.Unmarshal(b, &entries)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &entries)
	default:
		return fmt.Errorf("fleetdb: acl seed file must be .json, .yaml or .yml")
	}
	if err != nil {
		return fmt.Errorf("fleetdb: decoding acl seed file: %w", err)
	}

	for _, entry := range entries {
		if entry.ID == "" {
			continue
		}
		obj := model.Object(entry.Object)
		if obj == nil {
			obj = model.Object{}
		}
		if _, err := f.objects.SetObject(entry.ID, obj, objectstore.SetOptions{}); err != nil {
			return fmt.Errorf("fleetdb: seeding %q: %w", entry.ID, err)
		}
	}
	return nil
}

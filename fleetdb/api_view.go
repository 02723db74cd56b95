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
	"github.com/fleetdb/fleetdb/internal/view"
)

// GetObjectView implements getObjectView (§4.D): runs a named design
// view over [startkey, endkey], gated on the same object-realm read
// right as any other range scan over the keyspace.
func (f *FleetDB) GetObjectView(user, design, search, startkey, endkey string) ([]view.Row, error) {
	subject := f.acl.ResolveSubject(user)
	if !acl.IsAdmin(subject) && !subject.ACL.Object.Read {
		return nil, acl.ErrPermission
	}
	return f.views.GetObjectView(f.objects, design, search, startkey, endkey)
}

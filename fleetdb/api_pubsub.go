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
	"github.com/fleetdb/fleetdb/internal/model"
	"github.com/fleetdb/fleetdb/internal/pubsub"
)

// NewSubscriber returns a connection-scoped subscription table
// delivering matching events to sink, and registers it with the
// dispatcher so it starts receiving publishes immediately.
func (f *FleetDB) NewSubscriber(sink pubsub.Sink) *pubsub.Subscriber {
	sub := pubsub.NewSubscriber(sink)
	f.dispatch.Register(sub)
	return sub
}

// CloseSubscriber deregisters sub, e.g. on connection close (§3
// "destroyed by unsubscribe or connection close").
func (f *FleetDB) CloseSubscriber(sub *pubsub.Subscriber) {
	f.dispatch.Deregister(sub)
}

// Subscribe implements subscribe (§4.E); required bit is list on the
// relevant realm.
func (f *FleetDB) Subscribe(user string, sub *pubsub.Subscriber, realm pubsub.Realm, pattern string, options map[string]interface{}) error {
	subject := f.acl.ResolveSubject(user)
	if err := checkRealmList(subject, realm); err != nil {
		return err
	}
	return sub.Subscribe(realm, pattern, options)
}

// Unsubscribe implements unsubscribe (§4.E).
func (f *FleetDB) Unsubscribe(user string, sub *pubsub.Subscriber, realm pubsub.Realm, pattern string) (bool, error) {
	subject := f.acl.ResolveSubject(user)
	if err := checkRealmList(subject, realm); err != nil {
		return false, err
	}
	return sub.Unsubscribe(realm, pattern), nil
}

func checkRealmList(subject *model.Subject, realm pubsub.Realm) error {
	if acl.IsAdmin(subject) {
		return nil
	}
	switch realm {
	case pubsub.RealmFiles:
		if !subject.ACL.File.List {
			return acl.ErrPermission
		}
	default:
		if !subject.ACL.Object.List {
			return acl.ErrPermission
		}
	}
	return nil
}

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

// Package pubsub implements the per-connection subscription tables and
// the publishAll fan-out (§4.E). It is grounded on the teacher's
// channel-based pub/sub (internal/modules/pubsub/channel.go) -- a
// mutex-guarded subscriber set fed by a background dispatch loop -- but
// generalised from named channels with all-subscribers delivery to
// glob-pattern subscriptions over a realm (objects/files) where only the
// first matching subscription, by insertion order, receives the event.
package pubsub

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/fleetdb/fleetdb/internal/model"
)

// Realm names the two document spaces subscriptions can target.
type Realm string

const (
	RealmObjects Realm = "objects"
	RealmFiles   Realm = "files"
)

// Sink receives one dispatched event. Implementations write to a TCP
// connection's outbound queue or to an in-process Go channel. realm
// identifies which document space the event came from; TCP sinks
// typically ignore it since the wire message doesn't carry it.
type Sink func(realm Realm, pattern, id string, obj model.Object)

type subscription struct {
	pattern string
	regex   *regexp.Regexp
	options map[string]interface{}
}

// Subscriber is one connected client's (or the embedded host's)
// subscription table, ordered per realm by subscribe-call order.
type Subscriber struct {
	mu   sync.RWMutex
	subs map[Realm][]subscription
	sink Sink
}

// NewSubscriber returns a Subscriber that delivers matching events to sink.
func NewSubscriber(sink Sink) *Subscriber {
	return &Subscriber{subs: make(map[Realm][]subscription), sink: sink}
}

// Subscribe appends pattern to the subscriber's list for realm unless it
// is already present (§4.E).
func (s *Subscriber) Subscribe(realm Realm, pattern string, options map[string]interface{}) error {
	re, err := compileGlob(pattern)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs[realm] {
		if sub.pattern == pattern {
			return nil
		}
	}
	s.subs[realm] = append(s.subs[realm], subscription{pattern: pattern, regex: re, options: options})
	return nil
}

// Unsubscribe removes the first entry matching pattern for realm.
func (s *Subscriber) Unsubscribe(realm Realm, pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[realm]
	for i, sub := range list {
		if sub.pattern == pattern {
			s.subs[realm] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// match returns the first subscription for realm matching id, or false.
func (s *Subscriber) match(realm Realm, id string) (subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs[realm] {
		if sub.regex.MatchString(id) {
			return sub, true
		}
	}
	return subscription{}, false
}

// NumSubscriptions reports the subscriber's total subscription count
// across all realms, used by the façade for introspection.
func (s *Subscriber) NumSubscriptions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.subs {
		n += len(list)
	}
	return n
}

// Dispatcher fans out published events to every registered Subscriber,
// each independently finding at most one (first-by-order) matching
// subscription (§4.E "first wins").
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewDispatcher returns an empty dispatcher. The embedded host's own
// process-local channel is just another registered Subscriber (§4.E
// "independently, call the process-local sink") -- it subscribes to
// "*" on every realm it cares about like any other client.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subscribers: make(map[*Subscriber]struct{})}
}

// Register adds sub to the dispatcher's fan-out set.
func (d *Dispatcher) Register(sub *Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[sub] = struct{}{}
}

// Deregister removes sub from the fan-out set, e.g. on connection close.
func (d *Dispatcher) Deregister(sub *Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, sub)
}

// PublishAll emits (pattern, id, obj) to every subscriber whose realm
// table has a matching pattern, first match only. obj == nil signals a
// deletion, carried through unchanged to sinks (§4.E).
func (d *Dispatcher) PublishAll(realm Realm, id string, obj model.Object) {
	d.mu.RLock()
	subs := make([]*Subscriber, 0, len(d.subscribers))
	for sub := range d.subscribers {
		subs = append(subs, sub)
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		match, ok := sub.match(realm, id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(sub *Subscriber, pattern string) {
			defer wg.Done()
			if sub.sink != nil {
				sub.sink(realm, pattern, id, obj)
			}
		}(sub, match.pattern)
	}
	wg.Wait()
}

// compileGlob turns a "*"-style pattern into an anchored regular
// expression, escaping every other regex metacharacter literally
// (§4.E "regex compiled from glob").
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid subscription pattern %q: %w", pattern, err)
	}
	return re, nil
}

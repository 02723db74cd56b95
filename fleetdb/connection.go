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
	"sync"

	"github.com/tidwall/resp"

	"github.com/fleetdb/fleetdb/internal/model"
	"github.com/fleetdb/fleetdb/internal/pubsub"
)

// connection is one TCP client's state: its resp framing, the subject
// it authenticates as, and its own subscription table. Connection
// authentication is the out-of-scope pre-handshake hook named in §1;
// this transport substitutes the simplest possible stand-in, a `user`
// argument carried on every request, so the façade always has a
// subject to resolve.
type connection struct {
	rw   *resp.Conn
	user string

	writeMu    sync.Mutex
	subscriber *pubsub.Subscriber
}

// send writes one RESP array frame, synchronized against concurrent
// asynchronous message() deliveries from the pub/sub dispatcher.
func (c *connection) send(values []resp.Value) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.rw.WriteArray(values)
}

// sendOK writes a ["OK", <jsonPayload>] success frame.
func (c *connection) sendOK(payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return c.sendError(err)
	}
	return c.send([]resp.Value{resp.StringValue("OK"), resp.StringValue(string(b))})
}

// sendError writes an ["error", <message>] frame (§6 wire surface
// names "error" as one of the operation responses).
func (c *connection) sendError(err error) error {
	return c.send([]resp.Value{resp.StringValue("error"), resp.StringValue(err.Error())})
}

// deliverMessage is the connection's pubsub.Sink: asynchronous
// message(pattern, id, obj) delivery (§6). The wire format carries no
// realm, so it's accepted and ignored here.
func (c *connection) deliverMessage(_ pubsub.Realm, pattern, id string, obj model.Object) {
	payload := "null"
	if obj != nil {
		if b, err := json.Marshal(obj); err == nil {
			payload = string(b)
		}
	}
	_ = c.send([]resp.Value{
		resp.StringValue("message"),
		resp.StringValue(pattern),
		resp.StringValue(id),
		resp.StringValue(payload),
	})
}

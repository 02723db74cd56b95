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

// Transport adapter (§6, §8 component H): accepts TCP/TLS connections,
// frames requests and responses as RESP arrays via
// github.com/tidwall/resp, and demultiplexes the operation name named
// in array element 0 to the façade methods in api_*.go. Grounded on
// the teacher's own server.StartTCP/handleConnection accept loop
// (src/server/server.go), swapping the teacher's bespoke line protocol
// for RESP array framing.
package fleetdb

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"

	"github.com/tidwall/resp"

	"github.com/fleetdb/fleetdb/internal/constants"
	"github.com/fleetdb/fleetdb/internal/model"
	"github.com/fleetdb/fleetdb/internal/objectstore"
	"github.com/fleetdb/fleetdb/internal/pubsub"
)

// Server binds a FleetDB instance to a TCP (optionally TLS) listener.
type Server struct {
	db       *FleetDB
	listener net.Listener
}

// NewServer wraps db for transport. Call ListenAndServe to start
// accepting connections.
func NewServer(db *FleetDB) *Server { return &Server{db: db} }

// ListenAndServe binds the configured address and serves connections
// until the listener is closed. A bind failure is fatal with exit code
// 24 (§6 "Exit codes").
func (s *Server) ListenAndServe() error {
	cfg := s.db.config
	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("fleetdb: failed to bind %s: %v", addr, err)
		return fatalExit{code: 24, err: err}
	}

	if cfg.TLS {
		certs := make([]tls.Certificate, 0, len(cfg.CertKeyPairs))
		for _, pair := range cfg.CertKeyPairs {
			cert, err := tls.LoadX509KeyPair(pair[0], pair[1])
			if err != nil {
				return fmt.Errorf("fleetdb: loading cert-key pair %v: %w", pair, err)
			}
			certs = append(certs, cert)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: certs})
	}

	s.listener = ln
	log.Printf("fleetdb: listening on %s (tls=%v)", addr, cfg.TLS)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// fatalExit signals the bootstrap CLI to exit with a specific code.
type fatalExit struct {
	code int
	err  error
}

func (f fatalExit) Error() string { return f.err.Error() }

// ExitCode returns the process exit code a fatalExit should produce.
func (f fatalExit) ExitCode() int { return f.code }

func (s *Server) handle(netConn net.Conn) {
	defer netConn.Close()

	conn := &connection{rw: resp.NewConn(netConn), user: constants.AdminUser}
	conn.subscriber = s.db.NewSubscriber(conn.deliverMessage)
	defer s.db.CloseSubscriber(conn.subscriber)

	for {
		v, _, err := conn.rw.ReadValue()
		if err != nil {
			return
		}
		args := v.Array()
		if len(args) < 2 {
			_ = conn.sendError(fmt.Errorf("%s", constants.ErrInvalidParam))
			continue
		}

		op := args[0].String()
		conn.user = args[1].String()
		rest := args[2:]

		if op == constants.OpDestroy {
			if err := s.db.files.Flush(); err != nil {
				log.Println("fleetdb: destroy file sidecar flush failed:", err)
			}
			_ = conn.sendOK(nil)
			return
		}

		result, err := s.dispatch(conn, op, rest)
		if err != nil {
			_ = conn.sendError(err)
			continue
		}
		_ = conn.sendOK(result)
	}
}

// arg JSON-decodes the i'th argument into dst. An out-of-range i leaves
// dst untouched and returns nil; a decode failure returns the error.
func arg(args []resp.Value, i int, dst interface{}) error {
	if i >= len(args) {
		return nil
	}
	return json.Unmarshal([]byte(args[i].String()), dst)
}

func argString(args []resp.Value, i int) string {
	if i >= len(args) {
		return ""
	}
	return args[i].String()
}

// dispatch demultiplexes op to the matching façade call (§6 wire
// surface; §4.F "transport adapter .. demux operation name → façade").
func (s *Server) dispatch(conn *connection, op string, args []resp.Value) (interface{}, error) {
	db := s.db
	user := conn.user

	switch op {
	case constants.OpGetObject:
		return db.GetObject(user, argString(args, 0))

	case constants.OpGetKeys:
		return db.GetKeys(user, argString(args, 0)), nil

	case constants.OpGetObjects:
		var keys []string
		if err := arg(args, 0, &keys); err != nil {
			return nil, err
		}
		return db.GetObjects(user, keys)

	case constants.OpGetObjectsByGlob:
		return db.GetObjectsByPattern(user, argString(args, 0)), nil

	case constants.OpGetObjectList:
		var opts objectstore.ListOptions
		if err := arg(args, 0, &opts); err != nil {
			return nil, err
		}
		return db.GetObjectList(user, opts), nil

	case constants.OpSetObject:
		var obj model.Object
		if err := arg(args, 1, &obj); err != nil {
			return nil, err
		}
		var opts objectstore.SetOptions
		_ = arg(args, 2, &opts)
		return db.SetObject(user, argString(args, 0), obj, opts)

	case constants.OpExtendObject:
		var partial map[string]interface{}
		if err := arg(args, 1, &partial); err != nil {
			return nil, err
		}
		var opts ExtendOptions
		_ = arg(args, 2, &opts)
		return db.ExtendObject(user, argString(args, 0), partial, opts)

	case constants.OpDelObject:
		return nil, db.DelObject(user, argString(args, 0))

	case constants.OpChownObject:
		var owner, group string
		_ = arg(args, 1, &owner)
		_ = arg(args, 2, &group)
		return db.ChownObject(user, argString(args, 0), owner, group), nil

	case constants.OpChmodObject:
		var object, state model.Perm
		var hasState bool
		_ = arg(args, 1, &object)
		_ = arg(args, 2, &state)
		_ = arg(args, 3, &hasState)
		return db.ChmodObject(user, argString(args, 0), object, state, hasState), nil

	case constants.OpFindObject:
		obj, ok := db.FindObject(user, argString(args, 0), argString(args, 1))
		if !ok {
			return nil, objectstore.ErrNotExist
		}
		return obj, nil

	case constants.OpDestroyDB:
		return nil, db.DestroyDB(user)

	case constants.OpWriteFile:
		var data []byte
		if err := arg(args, 2, &data); err != nil {
			return nil, err
		}
		var mimeType, owner, group string
		var mode model.Perm
		_ = arg(args, 3, &mimeType)
		_ = arg(args, 4, &owner)
		_ = arg(args, 5, &group)
		_ = arg(args, 6, &mode)
		return db.WriteFile(user, argString(args, 0), argString(args, 1), data, mimeType, owner, group, mode)

	case constants.OpReadFile:
		data, mime, err := db.ReadFile(user, argString(args, 0), argString(args, 1))
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"data": data, "mimeType": mime}, nil

	case constants.OpUnlink:
		return nil, db.Unlink(user, argString(args, 0), argString(args, 1))

	case constants.OpReadDir:
		var filter bool
		if err := arg(args, 2, &filter); err != nil {
			return nil, err
		}
		return db.ReadDir(user, argString(args, 0), argString(args, 1), filter)

	case constants.OpRename:
		return nil, db.Rename(user, argString(args, 0), argString(args, 1), argString(args, 2))

	case constants.OpTouch:
		return db.Touch(user, argString(args, 0), argString(args, 1))

	case constants.OpRm:
		return db.Rm(user, argString(args, 0), argString(args, 1))

	case constants.OpMkdir:
		return nil, db.Mkdir(user, argString(args, 0), argString(args, 1))

	case constants.OpChownFile:
		var owner, group string
		_ = arg(args, 2, &owner)
		_ = arg(args, 3, &group)
		return db.ChownFile(user, argString(args, 0), argString(args, 1), owner, group)

	case constants.OpChmodFile:
		var mode model.Perm
		_ = arg(args, 2, &mode)
		return db.ChmodFile(user, argString(args, 0), argString(args, 1), mode)

	case constants.OpEnableFileCache:
		var enabled bool
		_ = arg(args, 0, &enabled)
		return nil, db.EnableFileCache(user, enabled)

	case constants.OpGetObjectView:
		return db.GetObjectView(user, argString(args, 0), argString(args, 1), argString(args, 2), argString(args, 3))

	case constants.OpSubscribe:
		var options map[string]interface{}
		_ = arg(args, 2, &options)
		realm := pubsub.Realm(argString(args, 0))
		return nil, db.Subscribe(user, conn.subscriber, realm, argString(args, 1), options)

	case constants.OpUnsubscribe:
		realm := pubsub.Realm(argString(args, 0))
		ok, err := db.Unsubscribe(user, conn.subscriber, realm, argString(args, 1))
		return ok, err

	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

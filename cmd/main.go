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

package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fleetdb/fleetdb/fleetdb"
	"github.com/fleetdb/fleetdb/internal/config"
)

func main() {
	conf, err := config.GetConfig()
	if err != nil {
		log.Fatal(err)
	}

	db, err := fleetdb.New(conf)
	if err != nil {
		log.Fatal(err)
	}

	srv := fleetdb.NewServer(db)

	cancelCh := make(chan os.Signal, 1)
	signal.Notify(cancelCh, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		var fatal interface{ ExitCode() int }
		if errors.As(err, &fatal) {
			db.Shutdown()
			os.Exit(fatal.ExitCode())
		}
		log.Fatal(err)
	case <-cancelCh:
	}

	_ = srv.Close()
	db.Shutdown()
}

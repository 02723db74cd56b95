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

package config

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the core (§6 "Configuration surface").
type Config struct {
	// Namespace is carried in the configuration only; nothing in the
	// core reads it, and object ids are stored exactly as given.
	Namespace string `json:"Namespace" yaml:"Namespace"`

	// AclSeedFile optionally seeds system.config.common.defaultNewAcl
	// and the system.user.*/system.group.* objects on first boot.
	AclSeedFile string `json:"AclSeedFile" yaml:"AclSeedFile"`

	// Connection.
	DataDir     string `json:"DataDir" yaml:"DataDir"`
	NoFileCache bool   `json:"NoFileCache" yaml:"NoFileCache"`
	BindAddr    string `json:"BindAddr" yaml:"BindAddr"`
	Port        uint16 `json:"Port" yaml:"Port"`
	TLS         bool   `json:"TLS" yaml:"TLS"`

	CertKeyPairs [][]string `json:"CertKeyPairs" yaml:"CertKeyPairs"`

	// Backup.
	BackupDisabled bool          `json:"BackupDisabled" yaml:"BackupDisabled"`
	BackupFiles    int           `json:"BackupFiles" yaml:"BackupFiles"`
	BackupHours    int           `json:"BackupHours" yaml:"BackupHours"`
	BackupPeriod   time.Duration `json:"BackupPeriod" yaml:"BackupPeriod"`
	BackupPath     string        `json:"BackupPath" yaml:"BackupPath"`

	// Debounce windows (§4.B, §4.C).
	SnapshotDebounce time.Duration `json:"SnapshotDebounce" yaml:"SnapshotDebounce"`
	SidecarDebounce  time.Duration `json:"SidecarDebounce" yaml:"SidecarDebounce"`

	// MaxStreamedUpload bounds the insert() streaming sink (§4.C).
	MaxStreamedUpload int64 `json:"MaxStreamedUpload" yaml:"MaxStreamedUpload"`
}

// GetConfig parses CLI flags, then overlays a JSON/YAML config file if
// one was named with -config, the same two-stage precedence the
// teacher's own config loader uses.
func GetConfig() (Config, error) {
	def := DefaultConfig()

	var certKeyPairs [][]string
	flag.Func("cert-key-pair",
		"A certificate,key file path pair for TLS, comma separated. May be repeated.",
		func(s string) error {
			pair := strings.Split(strings.TrimSpace(s), ",")
			if len(pair) != 2 {
				return errors.New("cert-key-pair must be 2 comma separated paths")
			}
			certKeyPairs = append(certKeyPairs, []string{strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])})
			return nil
		})

	namespace := flag.String("namespace", def.Namespace, "Namespace name, stored in the config; object ids are not prefixed with it.")
	aclSeedFile := flag.String("acl-seed", "", "Path to a JSON/YAML file seeding system.user.*/system.group.* objects.")
	dataDir := flag.String("data-dir", def.DataDir, "Directory holding objects.json, backups and file blobs.")
	noFileCache := flag.Bool("no-file-cache", def.NoFileCache, "Disable the in-memory text file cache.")
	bindAddr := flag.String("bind-addr", def.BindAddr, "Address to bind the TCP listener to.")
	port := flag.Int("port", int(def.Port), "Port to listen on.")
	tls := flag.Bool("tls", def.TLS, "Serve TLS using the configured cert-key-pair(s).")
	backupDisabled := flag.Bool("backup-disabled", false, "Disable rotating gzip backups.")
	backupFiles := flag.Int("backup-files", def.BackupFiles, "Minimum number of rotating backups to retain.")
	backupHours := flag.Int("backup-hours", def.BackupHours, "Backups older than this are pruned once backup-files is exceeded.")
	backupPeriod := flag.Duration("backup-period", def.BackupPeriod, "Minimum interval between rotating backups.")
	backupPath := flag.String("backup-path", "", "Directory for rotating backups; defaults to <data-dir>/backup-objects.")
	maxStreamedUpload := flag.Int64("max-streamed-upload", def.MaxStreamedUpload, "Maximum bytes buffered by the insert() streaming sink.")

	configFile := flag.String("config", "", "Path to a JSON or YAML file overriding the flag values above.")

	flag.Parse()

	conf := def
	conf.Namespace = *namespace
	conf.AclSeedFile = *aclSeedFile
	conf.DataDir = *dataDir
	conf.NoFileCache = *noFileCache
	conf.BindAddr = *bindAddr
	conf.Port = uint16(*port)
	conf.TLS = *tls
	conf.CertKeyPairs = certKeyPairs
	conf.BackupDisabled = *backupDisabled
	conf.BackupFiles = *backupFiles
	conf.BackupHours = *backupHours
	conf.BackupPeriod = *backupPeriod
	conf.BackupPath = *backupPath
	conf.MaxStreamedUpload = *maxStreamedUpload

	if *configFile != "" {
		if err := overlayFile(&conf, *configFile); err != nil {
			return Config{}, err
		}
	}

	if conf.TLS && len(conf.CertKeyPairs) == 0 {
		return Config{}, errors.New("must provide at least one cert-key-pair for TLS mode")
	}

	return conf, nil
}

func overlayFile(conf *Config, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Println(err)
		}
	}()

	switch path.Ext(f.Name()) {
	case ".json":
		return json.NewDecoder(f).Decode(conf)
	case ".yaml", ".yml":
		return yaml.NewDecoder(f).Decode(conf)
	default:
		return errors.New("config file must be .json, .yaml or .yml")
	}
}

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

import "time"

// DefaultConfig returns the configuration a fresh FleetDB instance
// starts with before flags or a config file are applied.
func DefaultConfig() Config {
	return Config{
		BindAddr:          "0.0.0.0",
		Port:              9001,
		DataDir:           ".",
		Namespace:         "system",
		NoFileCache:       false,
		BackupFiles:       24,
		BackupHours:       168,
		BackupPeriod:      1 * time.Hour,
		SnapshotDebounce:  5 * time.Second,
		SidecarDebounce:   1 * time.Second,
		MaxStreamedUpload: 64 << 20, // 64MiB
	}
}

// Copyright 2023 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads thunk-wide tunables from an optional TOML file and
// from environment variable overrides, mirroring the original runtime's
// HSA_OVERRIDE_* environment knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/rocm-thunk/kfdthunk/internal/log"
)

// Config holds thunk-wide settings. Zero value is a valid default config.
type Config struct {
	// LogLevel names a logrus level ("debug", "info", ...). Empty keeps the
	// default.
	LogLevel string `toml:"log_level"`

	// KFDDevicePath overrides the default /dev/kfd path, used in tests.
	KFDDevicePath string `toml:"kfd_device_path"`

	// DisableMwaitx forces the signal wait engine onto the portable
	// spin/sleep path even on hardware that supports MONITORX/MWAITX.
	DisableMwaitx bool `toml:"disable_mwaitx"`

	// MaxTopologyRetries bounds the generation-id consistency retry loop.
	// Zero means use the package default (5).
	MaxTopologyRetries int `toml:"max_topology_retries"`

	// GfxVersionOverride maps a node id to a forced gfx version, populated
	// from HSA_OVERRIDE_GFX_VERSION[_<node_id>] below. Node id 0 in this map
	// (the unqualified variable) applies to every node without a more
	// specific entry.
	GfxVersionOverride map[uint32]string
}

const defaultMaxTopologyRetries = 5

// Load reads path if non-empty, then applies environment variable
// overrides on top. A missing path is not an error; the thunk runs with
// defaults plus whatever environment variables are set.
func Load(path string) (*Config, error) {
	cfg := &Config{GfxVersionOverride: map[uint32]string{}}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.LogLevel != "" {
		if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
			log.SetLevel(lvl)
		} else {
			log.Warningf("config: invalid log_level %q: %v", cfg.LogLevel, err)
		}
	}
	if cfg.MaxTopologyRetries <= 0 {
		cfg.MaxTopologyRetries = defaultMaxTopologyRetries
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HSA_THUNK_KFD_PATH"); v != "" {
		c.KFDDevicePath = v
	}
	if v := os.Getenv("HSA_THUNK_DISABLE_MWAITX"); v != "" {
		c.DisableMwaitx = v != "0"
	}

	// HSA_OVERRIDE_GFX_VERSION applies to every node; HSA_OVERRIDE_GFX_VERSION_<id>
	// applies to a specific node id and takes precedence during lookup.
	if v := os.Getenv("HSA_OVERRIDE_GFX_VERSION"); v != "" {
		c.GfxVersionOverride[0] = v
	}
	for _, e := range os.Environ() {
		const prefix = "HSA_OVERRIDE_GFX_VERSION_"
		if !strings.HasPrefix(e, prefix) {
			continue
		}
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 {
			continue
		}
		idStr := strings.TrimPrefix(kv[0], prefix)
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		c.GfxVersionOverride[uint32(id)] = kv[1]
	}
}

// GfxVersionFor resolves the override, if any, for the given node id. The
// bool reports whether an override was found.
func (c *Config) GfxVersionFor(nodeID uint32) (string, bool) {
	if v, ok := c.GfxVersionOverride[nodeID]; ok {
		return v, true
	}
	if v, ok := c.GfxVersionOverride[0]; ok {
		return v, true
	}
	return "", false
}

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

package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rocm-thunk/kfdthunk/internal/config"
	"github.com/rocm-thunk/kfdthunk/internal/log"
	"github.com/rocm-thunk/kfdthunk/pkg/sysfs"
)

// enrichGPUNode fills in engine version, device-table overrides,
// marketing name, and derived numerics for a GPU node. CPU nodes (SIMD
// count 0) are left untouched.
func enrichGPUNode(n *Node, cfg *config.Config) {
	if !n.IsGPU() {
		return
	}

	major, minor, stepping := decodeGfxVersion(n.GfxTargetVersion)
	if override, ok := cfg.GfxVersionFor(n.NodeID); ok {
		if m, mi, s, ok := parseVersionTriple(override); ok {
			major, minor, stepping = m, mi, s
		} else {
			log.Warningf("topology: node %d: malformed gfx version override %q", n.NodeID, override)
		}
	}

	if entry, ok := devTableLookup(n.DeviceID); ok {
		major, minor, stepping = entry.Major, entry.Minor, entry.Stepping
		n.Codename = entry.Codename
	}

	n.EngineMajor, n.EngineMinor, n.EngineStepping = major, minor, stepping

	n.MarketingName = resolveMarketingName(n)

	if n.SimdArraysPerEngine != 0 {
		n.NumShaderBanks = n.ArrayCount / n.SimdArraysPerEngine
	}
	n.SGPRSizePerCU = 32 * 1024
	n.VGPRSizePerCU = vgprSizePerCU(major, minor, stepping)
	if n.NumXCC == 0 {
		n.NumXCC = 1
	}
}

func decodeGfxVersion(v uint64) (major, minor, stepping uint32) {
	major = uint32((v / 10000) % 100)
	minor = uint32((v / 100) % 100)
	stepping = uint32(v % 100)
	return
}

// parseVersionTriple parses an "M.m.s" environment-override string.
func parseVersionTriple(s string) (major, minor, stepping uint32, ok bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	vals := make([]uint32, 3)
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return 0, 0, 0, false
		}
		vals[i] = uint32(v)
	}
	return vals[0], vals[1], vals[2], true
}

// vgprSizePerCU implements the large-VGPR GFX9 exception table from
// spec.md §4.1.
func vgprSizePerCU(major, minor, stepping uint32) uint32 {
	const kib = 1024
	if major == 9 {
		if (minor == 0 && stepping == 8) || minor == 4 || (minor == 5 && stepping == 0) {
			return 512 * kib
		}
	}
	if major >= 11 {
		return 384 * kib
	}
	return 256 * kib
}

// resolveMarketingName looks up the amdgpu.ids file by (device id,
// PCI revision), falling back to the device-table codename, then to a
// synthesized GFX<hex> name.
func resolveMarketingName(n *Node) string {
	if entries, err := sysfs.ReadAmdgpuIDs(); err == nil {
		revision, revErr := sysfs.ReadPCIRevision(n.Domain, n.Bus, n.Device, n.Function)
		if revErr == nil {
			for _, e := range entries {
				if e.DeviceID == n.DeviceID && e.RevisionID == revision {
					return e.Name
				}
			}
		}
	}
	if n.Codename != "" {
		return n.Codename
	}
	return fmt.Sprintf("GFX%X", n.DeviceID)
}

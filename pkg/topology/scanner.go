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
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/rocm-thunk/kfdthunk/internal/config"
	"github.com/rocm-thunk/kfdthunk/internal/log"
	"github.com/rocm-thunk/kfdthunk/pkg/abi/devicetable"
	"github.com/rocm-thunk/kfdthunk/pkg/sysfs"
)

// Scanner snapshots the KFD topology tree.
type Scanner struct {
	cfg *config.Config
}

// NewScanner constructs a Scanner bound to cfg (for retry bounds and gfx
// version overrides). A nil cfg uses package defaults.
func NewScanner(cfg *config.Config) *Scanner {
	if cfg == nil {
		cfg = &config.Config{MaxTopologyRetries: 5}
	}
	return &Scanner{cfg: cfg}
}

// Snapshot reads the full topology tree, retrying on generation-id
// mismatch, fans out per-node sysfs reads, enriches GPU nodes, and
// infers indirect links.
func (s *Scanner) Snapshot() (*Topology, error) {
	maxRetries := s.cfg.MaxTopologyRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	b := backoff.NewConstantBackOff(0)
	attempt := 0

	var topo *Topology
	for {
		attempt++
		before, err := sysfs.ReadGenerationID()
		if err != nil {
			return nil, fmt.Errorf("topology: read generation_id: %w", err)
		}

		topo, err = s.scanOnce(before)
		if err != nil {
			return nil, err
		}

		after, err := sysfs.ReadGenerationID()
		if err != nil {
			return nil, fmt.Errorf("topology: read generation_id: %w", err)
		}

		if before == after {
			break
		}
		if attempt > maxRetries {
			log.Warningf("topology: generation_id unstable after %d attempts (last %d -> %d), accepting snapshot", attempt, before, after)
			break
		}
		log.Debugf("topology: generation_id changed mid-scan (%d -> %d), retrying", before, after)
		time.Sleep(b.NextBackOff())
	}

	enrichCPU(topo)
	inferIndirectLinks(topo)
	topo.SystemClockFreq = systemClockFreq()

	return topo, nil
}

func (s *Scanner) scanOnce(generation uint64) (*Topology, error) {
	sysProps, err := sysfs.ReadSystemProperties()
	if err != nil {
		return nil, fmt.Errorf("topology: read system_properties: %w", err)
	}

	ids, err := sysfs.ListNodeIDs()
	if err != nil {
		return nil, fmt.Errorf("topology: list nodes: %w", err)
	}

	nodes := make([]Node, len(ids))
	var warnings error
	var warningsMu sync.Mutex

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			n, warn := s.scanNode(id)
			if warn != nil {
				warningsMu.Lock()
				warnings = multierror.Append(warnings, warn)
				warningsMu.Unlock()
			}
			nodes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range nodes {
		enrichGPUNode(&nodes[i], s.cfg)
	}

	return &Topology{
		SystemProperties: sysProps,
		Generation:       generation,
		Nodes:            nodes,
		Warnings:         warnings,
	}, nil
}

func (s *Scanner) scanNode(nodeID uint32) (Node, error) {
	props, err := sysfs.ReadNodeProperties(nodeID)
	if err != nil {
		return Node{}, fmt.Errorf("node %d: properties: %w", nodeID, err)
	}

	n := Node{
		NodeID:              nodeID,
		DeviceID:            uint32(props["device_id"]),
		CPUCoresCount:       uint32(props["cpu_cores_count"]),
		SIMDCount:           uint32(props["simd_count"]),
		ArrayCount:          uint32(props["array_count"]),
		SimdArraysPerEngine: uint32(props["simd_arrays_per_engine"]),
		SimdPerCU:           uint32(props["simd_per_cu"]),
		NumXCC:              uint32(props["num_xcc"]),
		GfxTargetVersion:    props["gfx_target_version"],
		DRMRenderMinor:      uint32(props["drm_render_minor"]),
		Domain:              uint32(props["domain"]),
		Raw:                 props,
	}
	decodeLocationID(&n, props)

	var warnings error

	// gpu_id lives in its own file, not properties; a CPU-only node
	// has no such file and keeps GPUID 0.
	if gpuID, err := sysfs.ReadGPUID(nodeID); err == nil {
		n.GPUID = gpuID
	} else if !os.IsNotExist(err) {
		warnings = multierror.Append(warnings, fmt.Errorf("node %d: gpu_id: %w", nodeID, err))
	}

	if banks, err := sysfs.ReadSubObjects(nodeID, sysfs.SubObjectMemBanks); err != nil {
		warnings = multierror.Append(warnings, err)
	} else {
		for _, b := range banks {
			n.MemoryBanks = append(n.MemoryBanks, MemoryBank{
				HeapKind: uint32(b["heap_type"]),
				Size:     b["size_in_bytes"],
				Width:    uint32(b["width"]),
				MaxClock: uint32(b["mem_clk_max"]),
			})
		}
	}

	if caches, err := sysfs.ReadSubObjects(nodeID, sysfs.SubObjectCaches); err != nil {
		warnings = multierror.Append(warnings, err)
	} else {
		for _, c := range caches {
			n.Caches = append(n.Caches, Cache{
				Level:         uint32(c["level"]),
				Size:          uint32(c["size"]),
				CacheLineSize: uint32(c["cache_line_size"]),
				LinesPerTag:   uint32(c["cachelines_per_tag"]),
				Associativity: uint32(c["association"]),
				CacheType:     uint32(c["type"]),
				SiblingMap:    c["sibling_map"],
				Raw:           c,
			})
		}
	}

	if links, err := sysfs.ReadSubObjects(nodeID, sysfs.SubObjectIoLinks); err != nil {
		warnings = multierror.Append(warnings, err)
	} else {
		for _, l := range links {
			n.IoLinks = append(n.IoLinks, IoLink{
				NodeFrom:     uint32(l["node_from"]),
				NodeTo:       uint32(l["node_to"]),
				Type:         uint32(l["type"]),
				Weight:       uint32(l["weight"]),
				MinBandwidth: uint32(l["min_bandwidth"]),
				MaxBandwidth: uint32(l["max_bandwidth"]),
				MinLatency:   uint32(l["min_latency"]),
				MaxLatency:   uint32(l["max_latency"]),
			})
		}
	}

	if p2p, err := sysfs.ReadSubObjects(nodeID, sysfs.SubObjectP2PLinks); err != nil {
		warnings = multierror.Append(warnings, err)
	} else {
		n.P2PLinks = p2p
	}

	return n, warnings
}

// decodeLocationID splits the kernel's packed location_id (or explicit
// bus/device/function keys, if present) into PCI BDF components.
func decodeLocationID(n *Node, props sysfs.Properties) {
	if bus, ok := props["bus"]; ok {
		n.Bus = uint32(bus)
		n.Device = uint32(props["device"])
		n.Function = uint32(props["function"])
		return
	}
	loc, ok := props["location_id"]
	if !ok {
		return
	}
	n.Bus = uint32((loc >> 8) & 0xFF)
	devFn := uint32(loc & 0xFF)
	n.Device = devFn >> 3
	n.Function = devFn & 0x7
}

func enrichCPU(topo *Topology) {
	cpuInfo, err := sysfs.ReadCPUInfo()
	if err != nil {
		log.Warningf("topology: read /proc/cpuinfo: %v", err)
		return
	}
	for i := range topo.Nodes {
		n := &topo.Nodes[i]
		if n.IsGPU() {
			continue
		}
		base := uint32(n.Raw["cpu_core_id_base"])
		if name, ok := cpuInfo[base]; ok {
			n.CPUModelName = name
		}
	}
}

// devTableLookup is overridable in tests.
var devTableLookup = devicetable.Lookup

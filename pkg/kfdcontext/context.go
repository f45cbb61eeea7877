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

// Package kfdcontext holds the process-wide KFD context: the opened
// device, its reported version, and the enriched topology node list
// (apertures filled in, memory banks synthesized, ISA names derived).
// It is a singleton guarded by a mutex, acquired and released
// independently of pkg/memmgr's own aperture bookkeeping — the two are
// siblings that each query GetProcessAperturesNew on their own terms,
// not parent and child.
package kfdcontext

import (
	"sync"

	"github.com/mohae/deepcopy"

	"github.com/rocm-thunk/kfdthunk/internal/config"
	"github.com/rocm-thunk/kfdthunk/pkg/abi/kfd"
	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
	"github.com/rocm-thunk/kfdthunk/pkg/kfddevice"
	"github.com/rocm-thunk/kfdthunk/pkg/sysfs"
	"github.com/rocm-thunk/kfdthunk/pkg/topology"
)

// kfdDevice is the narrow slice of kfddevice.Device Context needs.
type kfdDevice interface {
	GetVersion() (kfd.GetVersionArgs, error)
	GetProcessAperturesNew(maxNodes uint32) ([]kfd.ProcessDeviceAperture, error)
	Close() error
}

// topologyScanner is the narrow slice of topology.Scanner Context needs.
type topologyScanner interface {
	Snapshot() (*topology.Topology, error)
}

// Context is the enriched, process-wide view of the KFD device: its
// version, the raw system properties, and every node with apertures
// filled in and memory banks synthesized.
type Context struct {
	device kfdDevice

	MajorVersion, MinorVersion uint32
	SupportsEventAge           bool

	SystemProperties sysfs.Properties
	nodes            []topology.Node
}

var (
	mu       sync.Mutex
	instance *Context
	refCount int
)

// Acquire opens the KFD device at path (or the default if empty),
// builds the enriched node snapshot, and returns the process-wide
// singleton. Subsequent calls before a matching Release return the
// same singleton without reopening the device. cfg may be nil.
func Acquire(path string, cfg *config.Config) (*Context, []topology.Node, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		refCount++
		return instance, instance.nodeSnapshot(), nil
	}

	dev, err := kfddevice.Open(path)
	if err != nil {
		return nil, nil, err
	}

	ctx, err := newContext(dev, topology.NewScanner(cfg))
	if err != nil {
		_ = dev.Close()
		return nil, nil, err
	}

	instance = ctx
	refCount = 1
	return instance, instance.nodeSnapshot(), nil
}

// Release drops one reference to the singleton acquired by Acquire,
// closing the device once the last reference is gone. A Release with
// no matching Acquire is a no-op, never an error.
func Release() error {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil
	}
	refCount--
	if refCount > 0 {
		return nil
	}

	err := instance.device.Close()
	instance = nil
	return err
}

func newContext(dev kfdDevice, scanner topologyScanner) (*Context, error) {
	ver, err := dev.GetVersion()
	if err != nil {
		return nil, err
	}

	topo, err := scanner.Snapshot()
	if err != nil {
		return nil, err
	}

	nodes := make([]topology.Node, len(topo.Nodes))
	copy(nodes, topo.Nodes)

	if err := fillApertures(dev, nodes); err != nil {
		return nil, err
	}
	for i := range nodes {
		synthesizeMemoryBanks(&nodes[i])
	}

	return &Context{
		device:           dev,
		MajorVersion:     ver.MajorVersion,
		MinorVersion:     ver.MinorVersion,
		SupportsEventAge: ver.MajorVersion == 1 && ver.MinorVersion >= 14,
		SystemProperties: topo.SystemProperties,
		nodes:            nodes,
	}, nil
}

// fillApertures queries GetProcessAperturesNew and writes each
// returned entry's base/limit fields into the matching GPU node, keyed
// by GPU id. MemoryManager performs the identical ioctl for its own
// private bookkeeping and never writes these fields back into the
// Node values it is handed, so Context must populate its own copies
// independently before it can synthesize memory banks from them.
func fillApertures(dev kfdDevice, nodes []topology.Node) error {
	gpuCount := uint32(0)
	for _, n := range nodes {
		if n.IsGPU() {
			gpuCount++
		}
	}
	if gpuCount == 0 {
		return nil
	}

	aps, err := dev.GetProcessAperturesNew(gpuCount)
	if err != nil {
		return err
	}

	byGPUID := make(map[uint32]int, len(nodes))
	for i, n := range nodes {
		if n.IsGPU() {
			byGPUID[n.GPUID] = i
		}
	}

	for _, ap := range aps {
		i, ok := byGPUID[ap.GPUID]
		if !ok {
			continue
		}
		nodes[i].LDSBase = ap.LDSBase
		nodes[i].LDSLimit = ap.LDSLimit
		nodes[i].ScratchBase = ap.ScratchBase
		nodes[i].ScratchLimit = ap.ScratchLimit
		nodes[i].GPUVMBase = ap.GPUVMBase
		nodes[i].GPUVMLimit = ap.GPUVMLimit
	}
	return nil
}

// nodeSnapshot returns a deep copy of the singleton's enriched node
// list, so a caller mutating a returned Node cannot corrupt the
// singleton's internal state.
func (c *Context) nodeSnapshot() []topology.Node {
	return deepcopy.Copy(c.nodes).([]topology.Node)
}

// Nodes returns a fresh deep copy of the enriched node list.
func (c *Context) Nodes() []topology.Node { return c.nodeSnapshot() }

// Node returns a deep copy of the node with the given id, or
// InvalidNodeID if none matches.
func (c *Context) Node(id uint32) (topology.Node, error) {
	for _, n := range c.nodes {
		if n.NodeID == id {
			return deepcopy.Copy(n).(topology.Node), nil
		}
	}
	return topology.Node{}, hsaerr.InvalidNodeID(id)
}

// ISAName returns the derived ISA string for the node with the given
// id ("gfx<major><minor><stepping>", or "cpu" for CPU nodes), or
// InvalidNodeID if none matches.
func (c *Context) ISAName(id uint32) (string, error) {
	for _, n := range c.nodes {
		if n.NodeID == id {
			return isaName(n), nil
		}
	}
	return "", hsaerr.InvalidNodeID(id)
}

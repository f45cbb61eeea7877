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

// Package sysfs reads the KFD topology tree under
// /sys/devices/virtual/kfd/kfd/topology and the auxiliary files used to
// enrich it (/proc/cpuinfo, PCI revision, amdgpu.ids). It only parses;
// callers decide what the numbers mean.
package sysfs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// TopologyRoot is the KFD topology sysfs root. A var, not a const, so
// tests can point it at a synthetic tree.
var TopologyRoot = "/sys/devices/virtual/kfd/kfd/topology"

// AmdgpuIDsPaths are searched in order for the marketing-name lookup
// file.
var AmdgpuIDsPaths = []string{
	"/usr/share/libdrm/amdgpu.ids",
	"/usr/local/share/libdrm/amdgpu.ids",
}

// Properties is a parsed key/value properties file. Every KFD topology
// properties file (system_properties, nodes/<N>/properties, and the four
// per-node sub-object properties files) uses this "key value" format,
// with values in decimal or 0x-prefixed hex.
type Properties map[string]uint64

// ReadProperties parses a "key value" properties file, one pair per
// line. Lines with fewer than two fields or with a value that does not
// parse as an integer are skipped silently; their keys are absent from
// the result.
func ReadProperties(path string) (Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := Properties{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseUint(fields[1], 0, 64)
		if err != nil {
			continue
		}
		props[fields[0]] = v
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

// ReadGenerationID reads the topology tree's generation_id, which
// changes whenever the kernel's view of the node set changes mid-scan.
func ReadGenerationID() (uint64, error) {
	b, err := os.ReadFile(filepath.Join(TopologyRoot, "generation_id"))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}

// ReadSystemProperties reads the top-level system_properties file.
func ReadSystemProperties() (Properties, error) {
	return ReadProperties(filepath.Join(TopologyRoot, "system_properties"))
}

// ListNodeIDs returns the numerically-named subdirectories under
// nodes/, sorted ascending.
func ListNodeIDs() ([]uint32, error) {
	return listNumericDirs(filepath.Join(TopologyRoot, "nodes"))
}

// ReadNodeProperties reads nodes/<nodeID>/properties.
func ReadNodeProperties(nodeID uint32) (Properties, error) {
	return ReadProperties(nodePath(nodeID, "properties"))
}

// ReadGPUID reads nodes/<nodeID>/gpu_id, a standalone decimal integer
// file (not part of properties) giving the kernel's GPU id for this
// node; 0 for CPU-only nodes.
func ReadGPUID(nodeID uint32) (uint32, error) {
	b, err := os.ReadFile(nodePath(nodeID, "gpu_id"))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// SubObjectKind names one of the four per-node sub-object directories.
type SubObjectKind string

const (
	SubObjectMemBanks SubObjectKind = "mem_banks"
	SubObjectCaches   SubObjectKind = "caches"
	SubObjectIoLinks  SubObjectKind = "io_links"
	SubObjectP2PLinks SubObjectKind = "p2p_links"
)

// ReadSubObjects reads every <kind>/<N>/properties file under a node,
// in ascending numeric order, returning one Properties map per entry.
// A parse failure on one entry is returned alongside the entries
// successfully read so far rather than aborting the whole node.
func ReadSubObjects(nodeID uint32, kind SubObjectKind) ([]Properties, error) {
	dir := nodePath(nodeID, string(kind))
	ids, err := listNumericDirs(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Properties
	for _, id := range ids {
		props, err := ReadProperties(filepath.Join(dir, strconv.FormatUint(uint64(id), 10), "properties"))
		if err != nil {
			return out, fmt.Errorf("sysfs: %s/%d/properties: %w", kind, id, err)
		}
		out = append(out, props)
	}
	return out, nil
}

func nodePath(nodeID uint32, leaf string) string {
	return filepath.Join(TopologyRoot, "nodes", strconv.FormatUint(uint64(nodeID), 10), leaf)
}

func listNumericDirs(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, e := range entries {
		id, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CPUInfo maps an APIC id to the CPU model name reported for it.
type CPUInfo map[uint32]string

// ReadCPUInfo parses /proc/cpuinfo into a map keyed by apicid (or
// initial apicid if apicid is absent) to model name, used to join CPU
// topology nodes to a human-readable name.
func ReadCPUInfo() (CPUInfo, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCPUInfo(f)
}

func parseCPUInfo(r io.Reader) (CPUInfo, error) {
	info := CPUInfo{}
	var apicID *uint32
	var modelName string

	flush := func() {
		if apicID != nil {
			info[*apicID] = modelName
		}
		apicID = nil
		modelName = ""
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "apicid", "initial apicid":
			if apicID == nil {
				if v, err := strconv.ParseUint(val, 10, 32); err == nil {
					id := uint32(v)
					apicID = &id
				}
			}
		case "model name":
			modelName = val
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return info, nil
}

// ReadPCIRevision reads /sys/bus/pci/devices/DDDD:bb:dd.f/revision.
func ReadPCIRevision(domain, bus, device, function uint32) (uint32, error) {
	path := fmt.Sprintf("/sys/bus/pci/devices/%04x:%02x:%02x.%x/revision", domain, bus, device, function)
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 0, 32)
	return uint32(v), err
}

// AmdgpuIDEntry is one row of amdgpu.ids: device_id,revision_id,product_name.
type AmdgpuIDEntry struct {
	DeviceID   uint32
	RevisionID uint32
	Name       string
}

// ReadAmdgpuIDs searches AmdgpuIDsPaths in order and parses the first one
// found. Comment lines (starting with '#') are skipped.
func ReadAmdgpuIDs() ([]AmdgpuIDEntry, error) {
	var lastErr error
	for _, path := range AmdgpuIDsPaths {
		entries, err := readAmdgpuIDsFile(path)
		if err == nil {
			return entries, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func readAmdgpuIDsFile(path string) ([]AmdgpuIDEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []AmdgpuIDEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, ",", 3)
		if len(fields) != 3 {
			continue
		}
		deviceID, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 16, 32)
		if err != nil {
			continue
		}
		revisionID, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 16, 32)
		if err != nil {
			continue
		}
		entries = append(entries, AmdgpuIDEntry{
			DeviceID:   uint32(deviceID),
			RevisionID: uint32(revisionID),
			Name:       strings.TrimSpace(fields[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

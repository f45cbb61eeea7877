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

const maxDirectWeight = 20

// inferIndirectLinks synthesizes GPU<->CPU<->GPU and
// GPU<->CPU<->CPU<->GPU links for every ordered pair of GPU nodes,
// appending them to the source node's IoLinks. Iterating every ordered
// pair (s, d) with s != d naturally produces both directions, matching
// the source runtime's behavior of generating one direction per call but
// calling both orderings.
func inferIndirectLinks(topo *Topology) {
	for i := range topo.Nodes {
		s := &topo.Nodes[i]
		if !s.IsGPU() {
			continue
		}
		cpuSrc, weightSrcToCPU, _, ok := nearestCPU(topo, s.NodeID)
		if !ok {
			continue
		}
		for j := range topo.Nodes {
			if i == j {
				continue
			}
			d := &topo.Nodes[j]
			if !d.IsGPU() {
				continue
			}
			cpuDst, weightCPUToDst, typeCPUToDst, ok := nearestCPU(topo, d.NodeID)
			if !ok {
				continue
			}

			var link IoLink
			switch {
			case cpuSrc == cpuDst:
				link = IoLink{
					NodeFrom:    s.NodeID,
					NodeTo:      d.NodeID,
					Type:        IoLinkTypePCIe,
					Weight:      weightSrcToCPU + weightCPUToDst,
					Synthesized: true,
				}
			default:
				cpuHopWeight, cpuHopType, ok := directLink(topo, cpuSrc, cpuDst)
				if !ok {
					continue
				}
				if cpuHopType == IoLinkTypeQPI && cpuHopWeight > maxDirectWeight {
					continue
				}
				link = IoLink{
					NodeFrom:    s.NodeID,
					NodeTo:      d.NodeID,
					Type:        typeCPUToDst,
					Weight:      weightSrcToCPU + cpuHopWeight + weightCPUToDst,
					Synthesized: true,
				}
			}
			s.IoLinks = append(s.IoLinks, link)
		}
	}
}

// nearestCPU finds the CPU node that nodeID directly connects to via a
// PCIe or XGMI link of weight <= maxDirectWeight.
func nearestCPU(topo *Topology, nodeID uint32) (cpuNodeID uint32, weight uint32, linkType uint32, ok bool) {
	n, found := topo.NodeByID(nodeID)
	if !found {
		return 0, 0, 0, false
	}
	for _, l := range n.IoLinks {
		if l.Weight > maxDirectWeight {
			continue
		}
		if l.Type != IoLinkTypePCIe && l.Type != IoLinkTypeXGMI {
			continue
		}
		other, found := topo.NodeByID(l.NodeTo)
		if !found || other.IsGPU() {
			continue
		}
		return other.NodeID, l.Weight, l.Type, true
	}
	return 0, 0, 0, false
}

// directLink finds the direct io_link weight/type between two CPU
// nodes, if one is recorded.
func directLink(topo *Topology, from, to uint32) (weight uint32, linkType uint32, ok bool) {
	n, found := topo.NodeByID(from)
	if !found {
		return 0, 0, false
	}
	for _, l := range n.IoLinks {
		if l.NodeTo == to {
			return l.Weight, l.Type, true
		}
	}
	return 0, 0, false
}

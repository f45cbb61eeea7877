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

package kfddevice

import (
	"fmt"
	"os"

	"github.com/rocm-thunk/kfdthunk/pkg/hsaerr"
)

// RenderNode is the DRM render device companion to a KFD GPU node, opened
// so its fd can be handed to AcquireVM.
type RenderNode struct {
	file *os.File
}

// OpenRenderNode opens /dev/dri/renderD<minor>.
func OpenRenderNode(minor uint32) (*RenderNode, error) {
	path := fmt.Sprintf("/dev/dri/renderD%d", minor)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, hsaerr.IO(fmt.Sprintf("open %s", path), err)
	}
	return &RenderNode{file: f}, nil
}

// FD returns the raw DRM file descriptor, passed to Device.AcquireVM.
func (r *RenderNode) FD() uint32 { return uint32(r.file.Fd()) }

// Close releases the underlying file descriptor.
func (r *RenderNode) Close() error { return r.file.Close() }

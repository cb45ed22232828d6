// Copyright 2024 MediaBridge Labs
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

package rtcsdk

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// ObjectType identifies the kind of wrapper registered in the live-object
// registry, for diagnostics only.
type ObjectType int

const (
	ObjectTypePeerConnection ObjectType = iota
	ObjectTypeAudioTransceiver
	ObjectTypeVideoTransceiver
	ObjectTypeLocalAudioTrack
	ObjectTypeLocalVideoTrack
	ObjectTypeRemoteAudioTrack
	ObjectTypeRemoteVideoTrack
)

func (t ObjectType) String() string {
	switch t {
	case ObjectTypePeerConnection:
		return "PeerConnection"
	case ObjectTypeAudioTransceiver:
		return "AudioTransceiver"
	case ObjectTypeVideoTransceiver:
		return "VideoTransceiver"
	case ObjectTypeLocalAudioTrack:
		return "LocalAudioTrack"
	case ObjectTypeLocalVideoTrack:
		return "LocalVideoTrack"
	case ObjectTypeRemoteAudioTrack:
		return "RemoteAudioTrack"
	case ObjectTypeRemoteVideoTrack:
		return "RemoteVideoTrack"
	}
	return fmt.Sprintf("ObjectType(%d)", int(t))
}

// TrackedObject is the base of every engine-facing wrapper. It carries a
// debug name, participates in the live-object registry, and keeps the
// global factory alive for as long as the wrapper itself is referenced.
//
// Wrappers are reference counted: each handle held by a caller owns one
// reference, released with RemoveRef. The last RemoveRef tears the
// wrapper down, unregisters it and drops its hold on the factory.
type TrackedObject struct {
	refs       atomic.Int32
	objectType ObjectType
	name       string
	factoryRef *FactoryRef
	onDestroy  func()
}

// initObject wires the wrapper into the live-object registry. It takes
// ownership of ref. onDestroy, if set, runs when the last reference is
// released, before the registry entry is removed.
func (o *TrackedObject) initObject(ref *FactoryRef, objectType ObjectType, name string, onDestroy func()) {
	if name == "" {
		name = fmt.Sprintf("%s-%s", objectType, uuid.NewString()[:8])
	}
	o.objectType = objectType
	o.name = name
	o.factoryRef = ref
	o.onDestroy = onDestroy
	o.refs.Store(1)
	ref.factory().addObject(o)
}

func (o *TrackedObject) Name() string {
	return o.name
}

func (o *TrackedObject) ObjectType() ObjectType {
	return o.objectType
}

// RefCount reports the current reference count. Diagnostic only: the
// value may be stale by the time the caller looks at it.
func (o *TrackedObject) RefCount() int32 {
	return o.refs.Load()
}

// AddRef acquires one more reference. It must only be called while the
// caller already holds a valid reference.
func (o *TrackedObject) AddRef() {
	if o.refs.Inc() <= 1 {
		panic("rtcsdk: AddRef on a destroyed object")
	}
}

// RemoveRef releases one reference. Releasing the last reference
// destroys the wrapper: its onDestroy hook runs, it leaves the registry,
// and its hold on the global factory is dropped, which may trigger an
// opportunistic factory shutdown.
func (o *TrackedObject) RemoveRef() {
	if o.refs.Dec() != 0 {
		return
	}
	if o.onDestroy != nil {
		o.onDestroy()
	}
	if ref := o.factoryRef; ref != nil {
		o.factoryRef = nil
		ref.factory().removeObject(o)
		ref.Release()
	}
}

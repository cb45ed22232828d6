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
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"go.uber.org/atomic"
)

// ShutdownOptions controls diagnostic behavior when the library is
// forcibly shut down while objects are still alive.
type ShutdownOptions uint32

const (
	// ShutdownOptionLogLiveObjects dumps the live-object registry when a
	// forced shutdown happens with outstanding references.
	ShutdownOptionLogLiveObjects ShutdownOptions = 1 << iota
	// ShutdownOptionDebugBreakOnForceShutdown additionally traps into the
	// debugger in that situation.
	ShutdownOptionDebugBreakOnForceShutdown

	ShutdownOptionNone ShutdownOptions = 0
)

// GlobalFactory owns the engine's three background threads and the
// connection factory, process-wide. It is kept alive by outstanding
// FactoryRef holders and by the wrappers registered in its live-object
// registry, and tears the engine down when the last of them goes away.
//
// Two locks, two jobs: initMu guards the thread/connection-factory
// triple and the refcount-vs-shutdown decision; mu guards the
// steady-state bookkeeping (registry, shutdown options). Reporting live
// objects therefore never blocks, and is never blocked by, an ongoing
// initialization or shutdown.
type GlobalFactory struct {
	initMu          sync.Mutex
	networkThread   *Thread
	workerThread    *Thread
	signalingThread *Thread
	api             *webrtc.API // non-nil iff initialized
	refs            atomic.Int32
	epoch           uint64 // bumped on every shutdown, guarded by initMu

	mu              sync.Mutex
	liveObjects     map[*TrackedObject]struct{}
	shutdownOptions ShutdownOptions

	settingEngine  webrtc.SettingEngine
	configureMedia func(*webrtc.MediaEngine) error
}

var globalFactory = &GlobalFactory{
	liveObjects:     make(map[*TrackedObject]struct{}),
	shutdownOptions: ShutdownOptionLogLiveObjects,
}

// FactoryRef is an owning reference to the global factory. Holding one
// guarantees the engine threads and connection factory stay up. Callers
// must not retain a FactoryRef beyond a single API call or object
// lifetime; Release it as soon as the work is done.
//
// A reference is pinned to the factory epoch it was created in. A forced
// shutdown ends the epoch; releasing a reference from a dead epoch is a
// no-op, so it can never decrement a later initialization's count.
type FactoryRef struct {
	f        *GlobalFactory
	epoch    uint64
	released atomic.Bool
}

// InstancePtr resolves the process-wide factory, initializing the engine
// (three threads plus the connection factory) on first use. The returned
// reference must be Released.
func InstancePtr() (*FactoryRef, error) {
	f := globalFactory
	f.initMu.Lock()
	defer f.initMu.Unlock()
	if f.api == nil {
		if err := f.initializeLocked(); err != nil {
			return nil, err
		}
	}
	f.refs.Inc()
	return &FactoryRef{f: f, epoch: f.epoch}, nil
}

// InstancePtrIfExist returns a reference to the factory only if it is
// already initialized, and nil otherwise. Pure query paths use this so
// they never force an initialization.
func InstancePtrIfExist() *FactoryRef {
	f := globalFactory
	f.initMu.Lock()
	defer f.initMu.Unlock()
	if f.api == nil {
		return nil
	}
	f.refs.Inc()
	return &FactoryRef{f: f, epoch: f.epoch}
}

// AddRef returns a new independent reference to the factory. Only valid
// on a reference that has not yet been released.
func (r *FactoryRef) AddRef() *FactoryRef {
	if r.released.Load() {
		panic("rtcsdk: AddRef on a released factory reference")
	}
	r.f.refs.Inc()
	return &FactoryRef{f: r.f, epoch: r.epoch}
}

// Release drops this reference. Releasing the last reference attempts an
// opportunistic safe shutdown. Idempotent.
func (r *FactoryRef) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	r.f.removeRef(r.epoch)
}

// API returns the connection factory. Only valid while the reference is
// held and the library initialized.
func (r *FactoryRef) API() *webrtc.API {
	return r.f.api
}

func (r *FactoryRef) NetworkThread() *Thread   { return r.f.networkThread }
func (r *FactoryRef) WorkerThread() *Thread    { return r.f.workerThread }
func (r *FactoryRef) SignalingThread() *Thread { return r.f.signalingThread }

func (r *FactoryRef) factory() *GlobalFactory { return r.f }

// removeRef serializes the decrement against concurrent InstancePtr
// calls: a shutdown decision and a new initialization can never race.
func (f *GlobalFactory) removeRef(epoch uint64) {
	f.initMu.Lock()
	defer f.initMu.Unlock()
	if epoch != f.epoch {
		// reference outlived a forced shutdown; its count died with the
		// epoch, the current count belongs to someone else
		return
	}
	if f.refs.Dec() == 0 {
		f.tryShutdownLocked()
	}
}

// TryShutdown shuts the engine down only if no references are
// outstanding and the live-object registry is empty. It reports whether
// the engine is down after the call.
func TryShutdown() bool {
	f := globalFactory
	f.initMu.Lock()
	defer f.initMu.Unlock()
	return f.tryShutdownLocked()
}

// ForceShutdown unconditionally tears down the threads and the
// connection factory, regardless of outstanding references. Any
// in-flight engine call on another thread is invalidated; this is a
// last-resort operation for process exit and test teardown. A forced
// shutdown under load indicates an ownership bug upstream, so it is
// loud: the live-object registry is logged and, if configured, the
// debugger is trapped.
func ForceShutdown() {
	f := globalFactory
	f.initMu.Lock()
	defer f.initMu.Unlock()
	if f.api == nil {
		return
	}
	refs := f.refs.Load()
	f.mu.Lock()
	live := len(f.liveObjects)
	opts := f.shutdownOptions
	f.mu.Unlock()
	if refs > 0 || live > 0 {
		getLogger().Info("forced shutdown with outstanding references",
			"refs", refs, "liveObjects", live)
		if opts&ShutdownOptionLogLiveObjects != 0 {
			f.mu.Lock()
			f.reportLiveObjectsLocked()
			f.mu.Unlock()
		}
		if opts&ShutdownOptionDebugBreakOnForceShutdown != 0 {
			runtime.Breakpoint()
		}
	}
	f.shutdownLocked()
	f.refs.Store(0)
	// Stale registrations die with the epoch; a later initialization
	// starts with a clean registry or safe shutdown would be blocked
	// forever.
	f.mu.Lock()
	f.liveObjects = make(map[*TrackedObject]struct{})
	f.mu.Unlock()
}

// ReportLiveObjects logs every object currently alive, with its type and
// approximate reference count, and returns how many there are. Never
// forces an initialization.
func ReportLiveObjects() int {
	f := globalFactory
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reportLiveObjectsLocked()
}

func GetShutdownOptions() ShutdownOptions {
	f := globalFactory
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdownOptions
}

func SetShutdownOptions(opts ShutdownOptions) {
	f := globalFactory
	f.mu.Lock()
	f.shutdownOptions = opts
	f.mu.Unlock()
}

// FactoryOption customizes engine initialization. Options apply to the
// next initialization; Configure fails once the library is up.
type FactoryOption func(*GlobalFactory)

// WithSettingEngine supplies a pion SettingEngine to the connection
// factory.
func WithSettingEngine(se webrtc.SettingEngine) FactoryOption {
	return func(f *GlobalFactory) {
		f.settingEngine = se
	}
}

// WithMediaEngineConfigurator runs fn against the media engine during
// initialization, after default codecs are registered. Used to install
// custom codec factories.
func WithMediaEngineConfigurator(fn func(*webrtc.MediaEngine) error) FactoryOption {
	return func(f *GlobalFactory) {
		f.configureMedia = fn
	}
}

func Configure(opts ...FactoryOption) error {
	f := globalFactory
	f.initMu.Lock()
	defer f.initMu.Unlock()
	if f.api != nil {
		return fmt.Errorf("cannot configure an initialized library: %w", ErrInvalidOperation)
	}
	for _, opt := range opts {
		opt(f)
	}
	return nil
}

func (f *GlobalFactory) initializeLocked() error {
	network := newThread("network")
	worker := newThread("worker")
	signaling := newThread("signaling")

	var (
		api *webrtc.API
		err error
	)
	// Codec factories can be thread affine on some platforms, so assemble
	// the connection factory on the worker thread.
	if doErr := worker.Do(context.Background(), func() {
		api, err = f.buildConnectionFactory()
	}); doErr != nil {
		err = doErr
	}
	if err != nil {
		network.Stop()
		worker.Stop()
		signaling.Stop()
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	f.networkThread = network
	f.workerThread = worker
	f.signalingThread = signaling
	f.api = api
	getLogger().Info("media engine initialized")
	return nil
}

func (f *GlobalFactory) buildConnectionFactory() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	audioLevelExtension := webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI}
	if err := m.RegisterHeaderExtension(audioLevelExtension, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}
	sdesMidExtension := webrtc.RTPHeaderExtensionCapability{URI: sdp.SDESMidURI}
	if err := m.RegisterHeaderExtension(sdesMidExtension, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, err
	}
	if f.configureMedia != nil {
		if err := f.configureMedia(m); err != nil {
			return nil, err
		}
	}

	i := &interceptor.Registry{}

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, err
	}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, err
	}
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack"}, webrtc.RTPCodecTypeVideo)
	m.RegisterFeedback(webrtc.RTCPFeedback{Type: "nack", Parameter: "pli"}, webrtc.RTPCodecTypeVideo)
	i.Add(responder)
	i.Add(generator)

	if err := webrtc.ConfigureRTCPReports(i); err != nil {
		return nil, err
	}
	if err := webrtc.ConfigureTWCCSender(m, i); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(f.settingEngine),
	), nil
}

// tryShutdownLocked shuts down iff nothing keeps the factory alive.
// Callers hold initMu.
func (f *GlobalFactory) tryShutdownLocked() bool {
	if f.api == nil {
		return true
	}
	if f.refs.Load() > 0 {
		return false
	}
	f.mu.Lock()
	live := len(f.liveObjects)
	f.mu.Unlock()
	if live > 0 {
		// registry is a second guard against a refcount accounting bug
		return false
	}
	f.shutdownLocked()
	return true
}

func (f *GlobalFactory) shutdownLocked() {
	f.api = nil
	f.epoch++
	if f.networkThread != nil {
		f.networkThread.Stop()
		f.networkThread = nil
	}
	if f.workerThread != nil {
		f.workerThread.Stop()
		f.workerThread = nil
	}
	if f.signalingThread != nil {
		f.signalingThread.Stop()
		f.signalingThread = nil
	}
	getLogger().Info("media engine shut down")
}

// addObject and removeObject are advisory: they never keep the factory
// alive by themselves (that is the refcount's job), but a non-empty
// registry blocks safe shutdown.
func (f *GlobalFactory) addObject(obj *TrackedObject) {
	f.mu.Lock()
	f.liveObjects[obj] = struct{}{}
	f.mu.Unlock()
}

func (f *GlobalFactory) removeObject(obj *TrackedObject) {
	f.mu.Lock()
	delete(f.liveObjects, obj)
	f.mu.Unlock()
}

func (f *GlobalFactory) reportLiveObjectsLocked() int {
	log := getLogger()
	log.Info("live object report", "count", len(f.liveObjects))
	for obj := range f.liveObjects {
		log.Info("live object",
			"type", obj.ObjectType().String(),
			"name", obj.Name(),
			"refs", obj.RefCount())
	}
	return len(f.liveObjects)
}

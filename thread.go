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
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/frostbyte73/core"
	"github.com/gammazero/workerpool"
	"go.uber.org/atomic"
)

// Thread is a named serialized executor backing one of the engine's
// background threads. Tasks submitted to the same Thread run one at a
// time, in submission order, which is what thread-affine engine objects
// rely on.
type Thread struct {
	name       string
	pool       *workerpool.WorkerPool
	stopped    core.Fuse
	currentGID atomic.Int64
}

func newThread(name string) *Thread {
	return &Thread{
		name: name,
		pool: workerpool.New(1),
	}
}

func (t *Thread) Name() string {
	return t.name
}

// Submit schedules task on the thread without waiting for it.
func (t *Thread) Submit(task func()) {
	if t.stopped.IsBroken() {
		return
	}
	t.pool.Submit(func() {
		t.currentGID.Store(goroutineID())
		defer t.currentGID.Store(0)
		task()
	})
}

// Do runs task on the thread and blocks until it completes or ctx
// expires. When ctx expires first the task still runs; only the wait is
// abandoned. Calling Do from a task already running on this thread
// would deadlock the serialized pool, so it is refused instead.
func (t *Thread) Do(ctx context.Context, task func()) error {
	if t.stopped.IsBroken() {
		return fmt.Errorf("thread %q is stopped: %w", t.name, ErrNotInitialized)
	}
	if gid := goroutineID(); gid != 0 && t.currentGID.Load() == gid {
		return fmt.Errorf("nested dispatch to thread %q: %w", t.name, ErrWrongThread)
	}
	done := make(chan struct{})
	t.Submit(func() {
		defer close(done)
		task()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains pending tasks and shuts the thread down. Idempotent.
func (t *Thread) Stop() {
	t.stopped.Once(func() {
		t.pool.StopWait()
	})
}

// goroutineID parses the calling goroutine's id out of its stack
// header. Only compared for equality against a value captured the same
// way, to detect a Do call made from the thread's own worker.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

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
	"sync"

	"github.com/go-logr/logr"
)

var (
	logMu     sync.RWMutex
	globalLog = logr.Discard()
)

func getLogger() logr.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return globalLog
}

// SetLogger overrides the default logger. Any [logr](https://github.com/go-logr/logr)
// compatible sink works, e.g. stdr.New(log.Default()) for standard library
// output.
//
// If no logger is set, logging is discarded.
func SetLogger(l logr.Logger) {
	logMu.Lock()
	globalLog = l
	logMu.Unlock()
}

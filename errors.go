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

import "errors"

// Callers see a small closed set of errors rather than raw engine error
// types. Errors returned by the SDK wrap one of these sentinels, so
// errors.Is can always classify a failure.
var (
	ErrNotInitialized   = errors.New("library is not initialized")
	ErrInitializeFailed = errors.New("could not initialize the media engine")
	ErrInvalidHandle    = errors.New("invalid or destroyed object handle")
	ErrInvalidOperation = errors.New("invalid operation on this object")
	ErrWrongThread      = errors.New("operation invoked on the wrong thread")
	ErrUnsupported      = errors.New("operation not supported")
	ErrKindMismatch     = errors.New("track media kind does not match the transceiver")
	ErrAlreadyAttached  = errors.New("track is already attached to another transceiver")
)

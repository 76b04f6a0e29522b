// Copyright 2025 Poiesic Systems
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

package storage

import "errors"

var (
	// ErrStorageClosed is returned by operations on a closed backend.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrTransactionFailed is returned when a conversation turn could not be
	// written after its conflict retries.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrInvalidQuery is returned for a missing user or conversation ID.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrSerializationFailed wraps mus-go decode failures of stored records.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrDimensionMismatch is returned when a vector does not fit the index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

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

package ingestion

import "errors"

var (
	// ErrIndexRequired is returned when the target index is not provided.
	ErrIndexRequired = errors.New("index required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidBatchSize is returned for a batch size below 1.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidRetries is returned for a retry attempt count below 1.
	ErrInvalidRetries = errors.New("invalid retry attempts")

	// ErrMissingColumn is returned when a required CSV column is absent.
	ErrMissingColumn = errors.New("missing csv column")
)

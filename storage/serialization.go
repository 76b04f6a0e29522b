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

import (
	"fmt"

	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/medrag/core"
)

// MarshalTurn serializes a ConversationTurn to bytes.
func MarshalTurn(turn *core.ConversationTurn) []byte {
	buf := make([]byte, core.ConversationTurnMUS.Size(*turn))
	core.ConversationTurnMUS.Marshal(*turn, buf)
	return buf
}

// UnmarshalTurn deserializes a ConversationTurn from bytes.
// CreatedAt comes back in UTC.
func UnmarshalTurn(data []byte) (*core.ConversationTurn, error) {
	turn, _, err := core.ConversationTurnMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	turn.CreatedAt = turn.CreatedAt.UTC()
	return &turn, nil
}

// MarshalKnowledgeChunk serializes a KnowledgeChunk to bytes.
func MarshalKnowledgeChunk(chunk *core.KnowledgeChunk) []byte {
	buf := make([]byte, core.KnowledgeChunkMUS.Size(*chunk))
	core.KnowledgeChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalKnowledgeChunk deserializes a KnowledgeChunk from bytes.
func UnmarshalKnowledgeChunk(data []byte) (*core.KnowledgeChunk, error) {
	chunk, _, err := core.KnowledgeChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &chunk, nil
}

// MarshalIntentExample serializes an IntentExample to bytes.
func MarshalIntentExample(example *core.IntentExample) []byte {
	buf := make([]byte, core.IntentExampleMUS.Size(*example))
	core.IntentExampleMUS.Marshal(*example, buf)
	return buf
}

// UnmarshalIntentExample deserializes an IntentExample from bytes.
func UnmarshalIntentExample(data []byte) (*core.IntentExample, error) {
	example, _, err := core.IntentExampleMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &example, nil
}

// MarshalUint64 encodes a counter value.
func MarshalUint64(v uint64) []byte {
	buf := make([]byte, varint.Uint64.Size(v))
	varint.Uint64.Marshal(v, buf)
	return buf
}

// UnmarshalUint64 decodes a counter value.
func UnmarshalUint64(data []byte) (uint64, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

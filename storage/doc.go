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

// Package storage provides the storage abstraction layer for medrag.
//
// This package defines the store interfaces consumed by the engine:
//
//   - ConversationStore: question/answer turns with per-conversation turn indexes
//   - KnowledgeIndex: embedded knowledge chunks searched by similarity
//   - IntentIndex: labeled reference queries for intent classification
//
// Implementations live in sub-packages:
//
//   - storage/badger: embedded BadgerDB backend for all three stores
//   - storage/milvus: Milvus collections for the knowledge and intent indexes
//   - storage/postgres: PostgreSQL conversation store
//
// Records kept in BadgerDB are encoded with mus-go (see serialization.go).
package storage

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

// Package postgres implements storage.ConversationStore on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lib/pq"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// uniqueViolation is the SQLSTATE raised when two writers race for the
// same turn index.
const uniqueViolation = "23505"

const maxInsertRetries = 5

const schemaSQL = `
CREATE TABLE IF NOT EXISTS conversations (
	user_id         TEXT        NOT NULL,
	conversation_id TEXT        NOT NULL,
	turn            BIGINT      NOT NULL,
	query           TEXT        NOT NULL,
	answer          TEXT        NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, conversation_id, turn)
)`

const insertTurnSQL = `
INSERT INTO conversations (user_id, conversation_id, turn, query, answer, created_at)
SELECT $1, $2, COALESCE(MAX(turn), 0) + 1, $3, $4, NOW()
FROM conversations
WHERE user_id = $1 AND conversation_id = $2
RETURNING turn, created_at`

const historySQL = `
SELECT turn, query, answer, created_at
FROM conversations
WHERE user_id = $1 AND conversation_id = $2
ORDER BY turn DESC
LIMIT $3`

// ConversationStore persists turns in the conversations table.
type ConversationStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ storage.ConversationStore = (*ConversationStore)(nil)
	_ storage.HealthChecker     = (*ConversationStore)(nil)
)

// Open connects to dsn, verifies the connection, and creates the
// conversations table if needed.
func Open(ctx context.Context, dsn string) (*ConversationStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	store := &ConversationStore{
		db:     db,
		logger: slog.Default().With("component", "postgres"),
	}
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the conversations table if it does not exist.
func (s *ConversationStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create conversations table: %w", err)
	}
	return nil
}

// SaveTurn inserts the next turn for the pair. A concurrent writer taking
// the same index surfaces as a unique violation and the insert is retried.
func (s *ConversationStore) SaveTurn(ctx context.Context, userID, conversationID, query, answer string) (*core.ConversationTurn, error) {
	if userID == "" || conversationID == "" {
		return nil, fmt.Errorf("%w: user and conversation ids are required", storage.ErrInvalidQuery)
	}

	turn := &core.ConversationTurn{
		UserID:         userID,
		ConversationID: conversationID,
		Query:          query,
		Answer:         answer,
	}
	for attempt := 1; attempt <= maxInsertRetries; attempt++ {
		var index int64
		err := s.db.QueryRowContext(ctx, insertTurnSQL, userID, conversationID, query, answer).
			Scan(&index, &turn.CreatedAt)
		if err == nil {
			turn.TurnIndex = uint64(index)
			return turn, nil
		}
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
			return nil, fmt.Errorf("failed to save turn: %w", err)
		}
		s.logger.Debug("turn index conflict, retrying", "attempt", attempt)
	}
	return nil, fmt.Errorf("%w: too many turn index conflicts", storage.ErrTransactionFailed)
}

// GetHistory returns up to limit most recent turns, oldest first.
func (s *ConversationStore) GetHistory(ctx context.Context, userID, conversationID string, limit int) ([]*core.ConversationTurn, error) {
	if limit <= 0 {
		return []*core.ConversationTurn{}, nil
	}
	rows, err := s.db.QueryContext(ctx, historySQL, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	turns := make([]*core.ConversationTurn, 0, limit)
	for rows.Next() {
		var index int64
		turn := &core.ConversationTurn{UserID: userID, ConversationID: conversationID}
		if err := rows.Scan(&index, &turn.Query, &turn.Answer, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.TurnIndex = uint64(index)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	slices.Reverse(turns)
	return turns, nil
}

// HealthCheck pings the database.
func (s *ConversationStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

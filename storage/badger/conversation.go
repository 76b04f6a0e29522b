package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// ConversationStore implements storage.ConversationStore on a Backend.
// Each (user, conversation) pair keeps a counter key with its highest turn
// index; reading and bumping it in one transaction makes concurrent saves
// conflict and retry instead of sharing an index.
type ConversationStore struct {
	backend *Backend
	now     func() time.Time
}

var _ storage.ConversationStore = (*ConversationStore)(nil)

// NewConversationStore creates a conversation store on the backend.
// The backend stays owned by the caller.
func NewConversationStore(backend *Backend) *ConversationStore {
	return &ConversationStore{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func validateConversationKey(userID, conversationID string) error {
	if userID == "" || conversationID == "" {
		return fmt.Errorf("%w: user and conversation IDs are required", storage.ErrInvalidQuery)
	}
	if len(userID) > maxKeyPart || len(conversationID) > maxKeyPart {
		return fmt.Errorf("%w: ID too long", storage.ErrInvalidQuery)
	}
	return nil
}

// SaveTurn appends a turn with index max+1.
func (s *ConversationStore) SaveTurn(ctx context.Context, userID, conversationID, query, answer string) (*core.ConversationTurn, error) {
	if err := validateConversationKey(userID, conversationID); err != nil {
		return nil, err
	}

	var saved *core.ConversationTurn
	counterKey := makeTurnCounterKey(userID, conversationID)
	err := s.backend.Update(func(tx *badger.Txn) error {
		last, err := readCounter(tx, counterKey)
		if err != nil {
			return err
		}

		turn := &core.ConversationTurn{
			UserID:         userID,
			ConversationID: conversationID,
			TurnIndex:      last + 1,
			Query:          query,
			Answer:         answer,
			CreatedAt:      s.now(),
		}
		if err := tx.Set(makeTurnKey(userID, conversationID, turn.TurnIndex), storage.MarshalTurn(turn)); err != nil {
			return err
		}
		if err := tx.Set(counterKey, storage.MarshalUint64(turn.TurnIndex)); err != nil {
			return err
		}
		saved = turn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func readCounter(tx *badger.Txn, key []byte) (uint64, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	err = item.Value(func(val []byte) error {
		last, err = storage.UnmarshalUint64(val)
		return err
	})
	return last, err
}

// GetHistory returns up to limit most recent turns, oldest first.
func (s *ConversationStore) GetHistory(ctx context.Context, userID, conversationID string, limit int) ([]*core.ConversationTurn, error) {
	if err := validateConversationKey(userID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []*core.ConversationTurn{}, nil
	}

	prefix := makeConversationPrefix(turnPrefix, userID, conversationID)
	turns := make([]*core.ConversationTurn, 0, limit)
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(seekLast(prefix)); iter.Valid() && len(turns) < limit; iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				turn, err := storage.UnmarshalTurn(val)
				if err != nil {
					return err
				}
				turns = append(turns, turn)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.Reverse(turns)
	return turns, nil
}

// HealthCheck reports whether the backend is open.
func (s *ConversationStore) HealthCheck(ctx context.Context) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return nil
}

// Close is a no-op; the backend is closed by its owner.
func (s *ConversationStore) Close() error {
	return nil
}

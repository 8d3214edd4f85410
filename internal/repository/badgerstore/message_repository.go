package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chat-broker/internal/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// MessageRepository stores room logs in an embedded BadgerDB.
//
// Messages live under "msg:{room}:{seq}" with the sequence zero padded to 19
// digits so that lexicographic key order is commit order. A secondary key
// "idx:{room}:{id}" points back at the message key for lookups by id.
type MessageRepository struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) a BadgerDB at path.
func Open(path string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}
	return db, nil
}

func NewMessageRepository(db *badger.DB) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

func roomPrefix(roomID string) []byte {
	return []byte("msg:" + roomID + ":")
}

func messageKey(roomID string, seq int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", roomID, seq))
}

func indexKey(roomID, id string) []byte {
	return []byte("idx:" + roomID + ":" + id)
}

// Append commits the draft with the next logical timestamp of the room.
func (r *MessageRepository) Append(ctx context.Context, roomID string, draft *domain.Draft) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		RoomID:         roomID,
		AuthorID:       draft.AuthorID,
		AuthorNickname: draft.AuthorNickname,
		AuthorColor:    draft.AuthorColor,
		Text:           draft.Text,
		CreatedAt:      createdAt.UTC(),
	}
	if draft.ReplyTo != nil {
		reply := *draft.ReplyTo
		msg.ReplyTo = &reply
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		last, err := lastSequence(txn, roomID)
		if err != nil {
			return err
		}
		msg.Timestamp = last + 1

		value, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		key := messageKey(roomID, msg.Timestamp)
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(roomID, msg.ID), key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w: %w", domain.ErrStoreUnavailable, err)
	}

	return msg.Clone(), nil
}

// lastSequence finds the highest committed sequence of a room with a reverse seek.
func lastSequence(txn *badger.Txn, roomID string) (int64, error) {
	prefix := roomPrefix(roomID)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, prefix...), 0xff))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	var seq int64
	if _, err := fmt.Sscanf(string(it.Item().Key()[len(prefix):]), "%d", &seq); err != nil {
		return 0, fmt.Errorf("corrupt message key %q: %w", it.Item().Key(), err)
	}
	return seq, nil
}

// ReadFrom returns every message of the room with a timestamp greater than since.
func (r *MessageRepository) ReadFrom(ctx context.Context, roomID string, since int64) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(roomID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if since >= 0 {
			start = messageKey(roomID, since+1)
		}

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var msg domain.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, &msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w: %w", domain.ErrStoreUnavailable, err)
	}

	return messages, nil
}

// Get resolves a message through its id index.
func (r *MessageRepository) Get(ctx context.Context, roomID, id string) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msg domain.Message
	err := r.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get(indexKey(roomID, id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msg)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w: %w", domain.ErrStoreUnavailable, err)
	}

	return &msg, nil
}

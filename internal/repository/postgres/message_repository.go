package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chat-broker/internal/domain"
	"chat-broker/internal/observability"

	"github.com/google/uuid"
)

const (
	createTableQuery = `
		CREATE TABLE IF NOT EXISTS room_messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			user_id TEXT NOT NULL,
			nickname TEXT NOT NULL,
			color TEXT NOT NULL,
			text TEXT NOT NULL,
			reply_to_id TEXT,
			reply_to_text TEXT,
			reply_to_nickname TEXT,
			reply_to_user_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT room_messages_room_id_seq_key UNIQUE (room_id, seq)
		)
	`

	appendQuery = `
		INSERT INTO room_messages (id, room_id, seq, user_id, nickname, color, text,
			reply_to_id, reply_to_text, reply_to_nickname, reply_to_user_id, created_at)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $10, $11
		FROM room_messages WHERE room_id = $2
		RETURNING seq
	`

	readFromQuery = `
		SELECT id, room_id, seq, user_id, nickname, color, text,
			reply_to_id, reply_to_text, reply_to_nickname, reply_to_user_id, created_at
		FROM room_messages
		WHERE room_id = $1 AND seq > $2
		ORDER BY seq ASC
	`

	getQuery = `
		SELECT id, room_id, seq, user_id, nickname, color, text,
			reply_to_id, reply_to_text, reply_to_nickname, reply_to_user_id, created_at
		FROM room_messages
		WHERE room_id = $1 AND id = $2
	`
)

// MessageRepository implements domain.LogBackend for PostgreSQL
type MessageRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

// EnsureSchema creates the message table when it does not exist
func (r *MessageRepository) EnsureSchema(ctx context.Context) error {
	return NewTxManager(r.db).WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createTableQuery); err != nil {
			return translateError("failed to create room_messages", err)
		}
		return nil
	})
}

// Append inserts the draft with the next sequence number of the room
func (r *MessageRepository) Append(ctx context.Context, roomID string, draft *domain.Draft) (*domain.Message, error) {
	start := time.Now()
	defer func() {
		observability.DBQueryDuration.WithLabelValues("insert", "room_messages").Observe(time.Since(start).Seconds())
	}()

	createdAt := draft.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)

	msg := &domain.Message{
		ID:             uuid.NewString(),
		RoomID:         roomID,
		AuthorID:       draft.AuthorID,
		AuthorNickname: draft.AuthorNickname,
		AuthorColor:    draft.AuthorColor,
		Text:           draft.Text,
		CreatedAt:      createdAt,
	}
	if draft.ReplyTo != nil {
		reply := *draft.ReplyTo
		msg.ReplyTo = &reply
	}
	replyID, replyText, replyNickname, replyUserID := replyColumns(msg.ReplyTo)

	err := r.db.QueryRowContext(ctx, appendQuery,
		msg.ID,
		roomID,
		msg.AuthorID,
		msg.AuthorNickname,
		msg.AuthorColor,
		msg.Text,
		replyID,
		replyText,
		replyNickname,
		replyUserID,
		createdAt,
	).Scan(&msg.Timestamp)
	if err != nil {
		return nil, translateError("failed to append message", err)
	}

	return msg, nil
}

// ReadFrom retrieves messages of a room committed after since, oldest first
func (r *MessageRepository) ReadFrom(ctx context.Context, roomID string, since int64) ([]*domain.Message, error) {
	start := time.Now()
	defer func() {
		observability.DBQueryDuration.WithLabelValues("select", "room_messages").Observe(time.Since(start).Seconds())
	}()

	rows, err := r.db.QueryContext(ctx, readFromQuery, roomID, since)
	if err != nil {
		return nil, translateError("failed to query messages", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, translateError("failed to scan message", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, translateError("error iterating messages", err)
	}

	return messages, nil
}

// Get retrieves a single message by id
func (r *MessageRepository) Get(ctx context.Context, roomID, id string) (*domain.Message, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx, getQuery, roomID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, translateError("failed to get message", err)
	}
	return msg, nil
}

// Ping verifies database connectivity
func (r *MessageRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var msg domain.Message
	var replyID, replyText, replyNickname, replyUserID sql.NullString
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.Timestamp,
		&msg.AuthorID,
		&msg.AuthorNickname,
		&msg.AuthorColor,
		&msg.Text,
		&replyID,
		&replyText,
		&replyNickname,
		&replyUserID,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if replyID.Valid {
		msg.ReplyTo = &domain.ReplySnapshot{
			ID:       replyID.String,
			Text:     replyText.String,
			Nickname: replyNickname.String,
			AuthorID: replyUserID.String,
		}
	}
	return &msg, nil
}

func replyColumns(reply *domain.ReplySnapshot) (id, text, nickname, userID sql.NullString) {
	if reply == nil {
		return
	}
	return sql.NullString{String: reply.ID, Valid: true},
		sql.NullString{String: reply.Text, Valid: true},
		sql.NullString{String: reply.Nickname, Valid: true},
		sql.NullString{String: reply.AuthorID, Valid: true}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"chat-broker/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageColumns = []string{
	"id", "room_id", "seq", "user_id", "nickname", "color", "text",
	"reply_to_id", "reply_to_text", "reply_to_nickname", "reply_to_user_id", "created_at",
}

func newMockRepository(t *testing.T) (*MessageRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMessageRepository(db), mock
}

func TestMessageRepository_EnsureSchema(t *testing.T) {
	t.Run("creates_table_in_transaction", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(createTableQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		require.NoError(t, repo.EnsureSchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("permission_denied_rolls_back", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(createTableQuery)).
			WillReturnError(&pq.Error{Code: pqInsufficientPrivilege})
		mock.ExpectRollback()

		err := repo.EnsureSchema(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMessageRepository_Append(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("assigns_sequence_from_database", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(appendQuery)).
			WithArgs(sqlmock.AnyArg(), "general", "user-1", "Ann", "#ff0000", "hello",
				nil, nil, nil, nil, createdAt).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(3)))

		msg, err := repo.Append(context.Background(), "general", &domain.Draft{
			AuthorID:       "user-1",
			AuthorNickname: "Ann",
			AuthorColor:    "#ff0000",
			Text:           "hello",
			CreatedAt:      createdAt,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, int64(3), msg.Timestamp)
		assert.Equal(t, "general", msg.RoomID)
		assert.Equal(t, createdAt, msg.CreatedAt)
		assert.Nil(t, msg.ReplyTo)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stores_reply_snapshot", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(appendQuery)).
			WithArgs(sqlmock.AnyArg(), "general", "user-2", "Bob", "#00ff00", "yo",
				"msg-1", "hi", "Ann", "user-1", createdAt).
			WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(2)))

		reply := &domain.ReplySnapshot{ID: "msg-1", Text: "hi", Nickname: "Ann", AuthorID: "user-1"}
		msg, err := repo.Append(context.Background(), "general", &domain.Draft{
			AuthorID:       "user-2",
			AuthorNickname: "Bob",
			AuthorColor:    "#00ff00",
			Text:           "yo",
			ReplyTo:        reply,
			CreatedAt:      createdAt,
		})
		require.NoError(t, err)
		require.NotNil(t, msg.ReplyTo)
		assert.Equal(t, *reply, *msg.ReplyTo)

		// The stored snapshot is a copy
		reply.Text = "edited"
		assert.Equal(t, "hi", msg.ReplyTo.Text)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sequence_conflict_is_store_unavailable", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(appendQuery)).
			WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: messageSequenceConstraint})

		_, err := repo.Append(context.Background(), "general", &domain.Draft{AuthorID: "u", Text: "hi"})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "sequence conflict")
	})

	t.Run("connection_error_is_store_unavailable", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(appendQuery)).WillReturnError(sql.ErrConnDone)

		_, err := repo.Append(context.Background(), "general", &domain.Draft{AuthorID: "u", Text: "hi"})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestMessageRepository_ReadFrom(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns_messages_in_order", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		rows := sqlmock.NewRows(messageColumns).
			AddRow("msg-2", "general", int64(2), "user-1", "Ann", "#ff0000", "second", nil, nil, nil, nil, createdAt).
			AddRow("msg-3", "general", int64(3), "user-2", "Bob", "#00ff00", "third", "msg-2", "second", "Ann", "user-1", createdAt)

		mock.ExpectQuery(regexp.QuoteMeta(readFromQuery)).
			WithArgs("general", int64(1)).
			WillReturnRows(rows)

		msgs, err := repo.ReadFrom(context.Background(), "general", 1)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, int64(2), msgs[0].Timestamp)
		assert.Nil(t, msgs[0].ReplyTo)
		assert.Equal(t, int64(3), msgs[1].Timestamp)
		require.NotNil(t, msgs[1].ReplyTo)
		assert.Equal(t, "Ann", msgs[1].ReplyTo.Nickname)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty_room_returns_empty_slice", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(readFromQuery)).
			WithArgs("quiet", int64(0)).
			WillReturnRows(sqlmock.NewRows(messageColumns))

		msgs, err := repo.ReadFrom(context.Background(), "quiet", domain.BeginningOfLog)
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	})

	t.Run("query_error", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(readFromQuery)).WillReturnError(errors.New("connection reset"))

		_, err := repo.ReadFrom(context.Background(), "general", 0)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})

	t.Run("row_error", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		rows := sqlmock.NewRows(messageColumns).
			AddRow("msg-1", "general", int64(1), "user-1", "Ann", "#ff0000", "first", nil, nil, nil, nil, createdAt).
			RowError(0, errors.New("broken row"))
		mock.ExpectQuery(regexp.QuoteMeta(readFromQuery)).WillReturnRows(rows)

		_, err := repo.ReadFrom(context.Background(), "general", 0)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})
}

func TestMessageRepository_Get(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
			WithArgs("general", "msg-1").
			WillReturnRows(sqlmock.NewRows(messageColumns).
				AddRow("msg-1", "general", int64(1), "user-1", "Ann", "#ff0000", "hi", nil, nil, nil, nil, createdAt))

		msg, err := repo.Get(context.Background(), "general", "msg-1")
		require.NoError(t, err)
		assert.Equal(t, "hi", msg.Text)
	})

	t.Run("not_found", func(t *testing.T) {
		repo, mock := newMockRepository(t)

		mock.ExpectQuery(regexp.QuoteMeta(getQuery)).
			WithArgs("general", "missing").
			WillReturnRows(sqlmock.NewRows(messageColumns))

		_, err := repo.Get(context.Background(), "general", "missing")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})
}

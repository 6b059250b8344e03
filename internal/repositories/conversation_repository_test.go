package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = mockDB.Close()
	})
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func conversationRow(id, a, b string, active bool) *sqlmock.Rows {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "participant_a", "participant_b", "is_active", "last_message_at", "created_at", "updated_at"}).
		AddRow(id, a, b, active, nil, now, now)
}

func TestSortedPairUsesByteOrder(t *testing.T) {
	a, b := SortedPair("a", "B")
	assert.Equal(t, "B", a)
	assert.Equal(t, "a", b)

	a, b = SortedPair("user_1", "user-1")
	assert.Equal(t, "user-1", a)
	assert.Equal(t, "user_1", b)

	a, b = SortedPair("alice", "bob")
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)
}

func TestCreateOrReactivateStoresMixedCasePairInByteOrder(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO conversations (id, participant_a, participant_b) VALUES ($1, $2, $3)`)).
		WithArgs(sqlmock.AnyArg(), "B", "a").
		WillReturnRows(conversationRow("0b7c5e55-4a38-4f0e-9c1e-4d6f8a1b2c3d", "B", "a", true))

	conv, err := repo.CreateOrReactivate(context.Background(), "a", "B")
	require.NoError(t, err)
	assert.Equal(t, "B", conv.ParticipantA)
	assert.Equal(t, "a", conv.ParticipantB)
	assert.True(t, conv.IsActive)
}

func TestCreateOrReactivateRejectsSelf(t *testing.T) {
	db, _ := newMockDB(t)
	_, err := NewConversationRepo(db).CreateOrReactivate(context.Background(), "a", "a")
	assert.ErrorIs(t, err, ErrSelfConversation)
}

func TestGetConversationNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)
	id := "6f1d3c2b-7a8e-4b9c-8d0e-1f2a3b4c5d6e"

	mock.ExpectQuery(regexp.QuoteMeta(`FROM conversations WHERE id=$1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetConversation(context.Background(), id)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = repo.GetConversation(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestDeactivateMissingConversation(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConversationRepo(db)
	id := "6f1d3c2b-7a8e-4b9c-8d0e-1f2a3b4c5d6e"

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE conversations SET is_active = FALSE`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Deactivate(context.Background(), id), ErrConversationNotFound)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE conversations SET is_active = FALSE`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.Deactivate(context.Background(), id))
}

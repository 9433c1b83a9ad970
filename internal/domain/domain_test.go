package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/gosuda/relai/internal/domain"
)

func TestStage_ValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from domain.Stage
		to   domain.Stage
		want bool
	}{
		{name: "adding to answering", from: domain.StageAdding, to: domain.StageAnswering, want: true},
		{name: "adding to test", from: domain.StageAdding, to: domain.StageTest, want: true},
		{name: "answering to answering", from: domain.StageAnswering, to: domain.StageAnswering, want: true},
		{name: "answering to test", from: domain.StageAnswering, to: domain.StageTest, want: true},
		{name: "test to test", from: domain.StageTest, to: domain.StageTest, want: true},
		{name: "test to answering rejected", from: domain.StageTest, to: domain.StageAnswering, want: false},
		{name: "test to adding rejected", from: domain.StageTest, to: domain.StageAdding, want: false},
		{name: "answering to adding rejected", from: domain.StageAnswering, to: domain.StageAdding, want: false},
		{name: "adding to adding rejected", from: domain.StageAdding, to: domain.StageAdding, want: false},
		{name: "unknown source rejected", from: domain.Stage("bogus"), to: domain.StageTest, want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, tc.from.ValidTransition(tc.to))
		})
	}
}

func TestStage_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, domain.StageAdding.Valid())
	assert.True(t, domain.StageAnswering.Valid())
	assert.True(t, domain.StageTest.Valid())
	assert.False(t, domain.Stage("").Valid())
	assert.False(t, domain.Stage("done").Valid())
}

func TestMessageLogEntry_Fields(t *testing.T) {
	t.Parallel()

	now := time.Now()
	passportID := uuid.New()

	entry := domain.MessageLogEntry{
		ID:         7,
		PassportID: passportID,
		Seq:        42,
		Role:       domain.RoleAssistant,
		Stage:      domain.StageAnswering,
		Text:       "hello",
		CreatedAt:  now,
	}

	assert.Equal(t, passportID, entry.PassportID)
	assert.Equal(t, int64(42), entry.Seq)
	assert.Equal(t, domain.RoleAssistant, entry.Role)
	assert.Equal(t, domain.StageAnswering, entry.Stage)
	assert.Equal(t, "hello", entry.Text)
	assert.Equal(t, now, entry.CreatedAt)
}

func TestPassport_ZeroValue(t *testing.T) {
	t.Parallel()

	var p domain.Passport

	assert.Equal(t, uuid.Nil, p.ID)
	assert.Nil(t, p.Language)
	assert.Empty(t, p.SearchQueries)
	assert.True(t, p.CreatedAt.IsZero())
}

// Compile-time interface satisfaction checks for test stubs used across
// packages.
var (
	_ domain.MessageLogRepository = (*messageLogRepoStub)(nil)
	_ domain.SnapshotRepository   = (*snapshotRepoStub)(nil)
)

type messageLogRepoStub struct{}

func (s *messageLogRepoStub) Append(_ context.Context, _ *domain.MessageLogEntry) error { return nil }
func (s *messageLogRepoStub) ListAfter(_ context.Context, _ uuid.UUID, _ int64) ([]*domain.MessageLogEntry, error) {
	return nil, nil
}
func (s *messageLogRepoStub) ListAll(_ context.Context, _ uuid.UUID) ([]*domain.MessageLogEntry, error) {
	return nil, nil
}
func (s *messageLogRepoStub) CountByPassport(_ context.Context, _ uuid.UUID) (int64, error) {
	return 0, nil
}

type snapshotRepoStub struct{}

func (s *snapshotRepoStub) GetByPassport(_ context.Context, _ uuid.UUID) (*domain.Snapshot, error) {
	return nil, domain.ErrNotFound
}
func (s *snapshotRepoStub) Upsert(_ context.Context, _ *domain.Snapshot) error          { return nil }
func (s *snapshotRepoStub) SetStage(_ context.Context, _ uuid.UUID, _ domain.Stage) error { return nil }

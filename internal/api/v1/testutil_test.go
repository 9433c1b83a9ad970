package v1_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/relai/internal/domain"
)

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	passports domain.PassportRepository
	messages  domain.MessageLogRepository
	snapshots domain.SnapshotRepository
	profiles  domain.ProfileRepository
	tokens    domain.TokenCounter
}

func (m *mockDataStore) Passports() domain.PassportRepository { return m.passports }
func (m *mockDataStore) Messages() domain.MessageLogRepository {
	return m.messages
}
func (m *mockDataStore) Snapshots() domain.SnapshotRepository { return m.snapshots }
func (m *mockDataStore) Profiles() domain.ProfileRepository   { return m.profiles }
func (m *mockDataStore) Tokens() domain.TokenCounter          { return m.tokens }

// ---------------------------------------------------------------------------
// Mock PassportRepository
// ---------------------------------------------------------------------------

type mockPassportRepo struct {
	createFunc            func(ctx context.Context, p *domain.Passport) error
	getByIDFunc           func(ctx context.Context, id uuid.UUID) (*domain.Passport, error)
	setLanguageFunc       func(ctx context.Context, id uuid.UUID, lang string) error
	setStatusFunc         func(ctx context.Context, id uuid.UUID, status domain.PassportStatus) error
	appendSearchQueryFunc func(ctx context.Context, id uuid.UUID, query string) error
}

func (m *mockPassportRepo) Create(ctx context.Context, p *domain.Passport) error {
	return m.createFunc(ctx, p)
}

func (m *mockPassportRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Passport, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockPassportRepo) SetLanguage(ctx context.Context, id uuid.UUID, lang string) error {
	return m.setLanguageFunc(ctx, id, lang)
}

func (m *mockPassportRepo) SetStatus(ctx context.Context, id uuid.UUID, status domain.PassportStatus) error {
	return m.setStatusFunc(ctx, id, status)
}

func (m *mockPassportRepo) AppendSearchQuery(ctx context.Context, id uuid.UUID, query string) error {
	return m.appendSearchQueryFunc(ctx, id, query)
}

// ---------------------------------------------------------------------------
// Mock MessageLogRepository
// ---------------------------------------------------------------------------

type mockMessageLogRepo struct {
	appendFunc          func(ctx context.Context, e *domain.MessageLogEntry) error
	listAfterFunc       func(ctx context.Context, passportID uuid.UUID, afterSeq int64) ([]*domain.MessageLogEntry, error)
	listAllFunc         func(ctx context.Context, passportID uuid.UUID) ([]*domain.MessageLogEntry, error)
	countByPassportFunc func(ctx context.Context, passportID uuid.UUID) (int64, error)
}

func (m *mockMessageLogRepo) Append(ctx context.Context, e *domain.MessageLogEntry) error {
	return m.appendFunc(ctx, e)
}

func (m *mockMessageLogRepo) ListAfter(ctx context.Context, passportID uuid.UUID, afterSeq int64) ([]*domain.MessageLogEntry, error) {
	return m.listAfterFunc(ctx, passportID, afterSeq)
}

func (m *mockMessageLogRepo) ListAll(ctx context.Context, passportID uuid.UUID) ([]*domain.MessageLogEntry, error) {
	return m.listAllFunc(ctx, passportID)
}

func (m *mockMessageLogRepo) CountByPassport(ctx context.Context, passportID uuid.UUID) (int64, error) {
	return m.countByPassportFunc(ctx, passportID)
}

// ---------------------------------------------------------------------------
// Mock TokenCounter
// ---------------------------------------------------------------------------

type mockTokenCounter struct {
	addFunc   func(ctx context.Context, delta int64) error
	totalFunc func(ctx context.Context) (int64, error)
}

func (m *mockTokenCounter) Add(ctx context.Context, delta int64) error {
	return m.addFunc(ctx, delta)
}

func (m *mockTokenCounter) Total(ctx context.Context) (int64, error) {
	return m.totalFunc(ctx)
}

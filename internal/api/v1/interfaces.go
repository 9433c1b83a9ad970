package v1

import (
	"github.com/gosuda/relai/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Passports() domain.PassportRepository
	Messages() domain.MessageLogRepository
	Snapshots() domain.SnapshotRepository
	Profiles() domain.ProfileRepository
	Tokens() domain.TokenCounter
}

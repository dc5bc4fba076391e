package ports

import (
	"context"
	"io"
	"time"

	"github.com/poyrazK/cardgate/internal/core/domain"
)

// CardRepository is the persistent card table.
// Lookups return (nil, nil) when the card does not exist.
type CardRepository interface {
	GetCardByCode(ctx context.Context, fullCode string) (*domain.Card, error)
	GetCardByID(ctx context.Context, id string) (*domain.Card, error)
	CreateCard(ctx context.Context, card *domain.Card) error
	// UpdateCard writes card only if the stored version still equals
	// expectedVersion, returning domain.ErrVersionConflict otherwise.
	UpdateCard(ctx context.Context, card *domain.Card, expectedVersion int64) error
	DeleteCard(ctx context.Context, id string) error
	ListCards(ctx context.Context, filter domain.CardFilter) ([]domain.Card, int, error)
	ListCardsByStatus(ctx context.Context, status domain.Status) ([]domain.Card, error)
	CardStats(ctx context.Context) (*domain.CardStats, error)
	Ping(ctx context.Context) error
}

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// EventPublisher fans lifecycle transitions out to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.CardEvent) error
	Close() error
}

// CardUpdate is an administrative edit. Nil fields are left unchanged.
type CardUpdate struct {
	Prefix *string
	Status *domain.Status
}

type CardService interface {
	Validate(ctx context.Context, fullCode, machineCode string) (*domain.Outcome, error)
	Status(ctx context.Context, fullCode string) (*domain.Card, error)
	GenerateCards(ctx context.Context, prefix string, count, length int) ([]domain.Card, error)
	ListCards(ctx context.Context, filter domain.CardFilter) ([]domain.Card, int, error)
	UpdateCard(ctx context.Context, id string, update CardUpdate) (*domain.Card, error)
	DeleteCard(ctx context.Context, id string) error
	Stats(ctx context.Context) (*domain.CardStats, error)
	ExpireStale(ctx context.Context) (int, error)
	ExportUnused(ctx context.Context, prefix string) ([]domain.Card, error)
	HealthCheck(ctx context.Context) map[string]error
	Now() time.Time
}

// Exporter renders cards into a downloadable file.
type Exporter interface {
	ContentType() string
	Extension() string
	Export(w io.Writer, cards []domain.Card, meta ExportMeta) error
}

// ExportMeta describes an export for the file header.
type ExportMeta struct {
	Prefix     string
	ExportedAt time.Time
	Location   *time.Location
}

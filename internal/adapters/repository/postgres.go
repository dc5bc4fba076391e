package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/infrastructure/metrics"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const cardColumns = `id, prefix, code, full_code, status, machine_code, used_at, expire_at, version, created_at, updated_at`

// PostgresRepository implements ports.CardRepository using PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates and returns a new PostgresRepository instance.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the cards table and its indexes if they do not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schemaSQL)
	return mapErr(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*domain.Card, error) {
	var c domain.Card
	var status string
	var machine sql.NullString
	var usedAt, expireAt sql.NullTime
	if err := row.Scan(&c.ID, &c.Prefix, &c.Code, &c.FullCode, &status, &machine, &usedAt, &expireAt, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: card %s: %v", domain.ErrIntegrity, c.FullCode, err)
	}
	c.Status = st
	if machine.Valid {
		m := machine.String
		c.MachineCode = &m
	}
	if usedAt.Valid {
		u := usedAt.Time.UTC()
		c.UsedAt = &u
	}
	if expireAt.Valid {
		e := expireAt.Time.UTC()
		c.ExpireAt = &e
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func (r *PostgresRepository) getCard(ctx context.Context, where string, arg any) (*domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE ` + where
	card, errRow := scanCard(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, mapErr(errRow)
	}
	return card, nil
}

func (r *PostgresRepository) GetCardByCode(ctx context.Context, fullCode string) (*domain.Card, error) {
	return r.getCard(ctx, `full_code = $1`, fullCode)
}

func (r *PostgresRepository) GetCardByID(ctx context.Context, id string) (*domain.Card, error) {
	return r.getCard(ctx, `id = $1`, id)
}

func (r *PostgresRepository) CreateCard(ctx context.Context, card *domain.Card) error {
	query := `INSERT INTO cards (` + cardColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query, card.ID, card.Prefix, card.Code, card.FullCode, string(card.Status),
		card.MachineCode, card.UsedAt, card.ExpireAt, int64(1), card.CreatedAt, card.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}
	card.Version = 1
	return nil
}

// UpdateCard is a compare-and-swap on version: zero affected rows means
// another writer committed first.
func (r *PostgresRepository) UpdateCard(ctx context.Context, card *domain.Card, expectedVersion int64) error {
	query := `UPDATE cards SET prefix = $1, full_code = $2, status = $3, machine_code = $4, used_at = $5, expire_at = $6,
	          updated_at = $7, version = version + 1
	          WHERE id = $8 AND version = $9`
	res, err := r.db.ExecContext(ctx, query, card.Prefix, card.FullCode, string(card.Status), card.MachineCode,
		card.UsedAt, card.ExpireAt, card.UpdatedAt, card.ID, expectedVersion)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return domain.ErrVersionConflict
	}
	card.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) DeleteCard(ctx context.Context, id string) error {
	query := `DELETE FROM cards WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return mapErr(err)
}

func (r *PostgresRepository) ListCards(ctx context.Context, filter domain.CardFilter) ([]domain.Card, int, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Prefix != "" {
		args = append(args, filter.Prefix)
		conds = append(conds, fmt.Sprintf("prefix = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conds = append(conds, fmt.Sprintf("(full_code ILIKE $%d OR machine_code ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if errCount := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`+where, args...).Scan(&total); errCount != nil {
		return nil, 0, mapErr(errCount)
	}

	query := `SELECT ` + cardColumns + ` FROM cards` + where + ` ORDER BY created_at DESC, full_code ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	cards, err := r.queryCards(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

func (r *PostgresRepository) ListCardsByStatus(ctx context.Context, status domain.Status) ([]domain.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE status = $1 ORDER BY created_at DESC`
	return r.queryCards(ctx, query, string(status))
}

func (r *PostgresRepository) queryCards(ctx context.Context, query string, args ...any) ([]domain.Card, error) {
	rows, errQuery := r.db.QueryContext(ctx, query, args...)
	if errQuery != nil {
		return nil, mapErr(errQuery)
	}
	defer func() {
		if errClose := rows.Close(); errClose != nil {
			log.Printf("failed to close rows: %v", errClose)
		}
	}()

	cards := []domain.Card{}
	for rows.Next() {
		card, errScan := scanCard(rows)
		if errScan != nil {
			return nil, mapErr(errScan)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return cards, nil
}

func (r *PostgresRepository) CardStats(ctx context.Context) (*domain.CardStats, error) {
	query := `SELECT COUNT(*),
	                 COUNT(*) FILTER (WHERE status = 'UNUSED'),
	                 COUNT(*) FILTER (WHERE status = 'ACTIVE'),
	                 COUNT(*) FILTER (WHERE status = 'EXPIRED'),
	                 COUNT(DISTINCT prefix)
	          FROM cards`
	var s domain.CardStats
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.Total, &s.Unused, &s.Active, &s.Expired, &s.Prefixes); err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	metrics.DBConnectionsActive.Set(float64(r.db.Stats().InUse))
	return mapErr(r.db.PingContext(ctx))
}

// mapErr translates driver errors into domain errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrIntegrity) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrCodeConflict, pgErr.ConstraintName)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.As(err, &connErr),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

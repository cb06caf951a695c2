// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/findex/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps ListRuleDocuments when no limit is given.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleDocument appends doc as the next revision of the collection's rule
// text. ID, Revision and CreatedAt are filled in when zero.
func (r *SQLRepository) SaveRuleDocument(ctx context.Context, collectionID string, doc *domain.RuleDocument) error {
	if collectionID == "" {
		return fmt.Errorf("%w: collectionID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if doc.Revision == 0 {
		var latest int
		query := `SELECT COALESCE(MAX(revision), 0) FROM rule_documents WHERE collection_id = ?`
		if err := tx.QueryRowContext(ctx, r.rebind(query), collectionID).Scan(&latest); err != nil {
			return fmt.Errorf("latest revision: %w", err)
		}
		doc.Revision = latest + 1
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.CollectionID = collectionID

	query := `
		INSERT INTO rule_documents (id, collection_id, revision, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		doc.ID, collectionID, doc.Revision, doc.Text, doc.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetLatestRuleDocument returns the highest revision for the collection.
func (r *SQLRepository) GetLatestRuleDocument(ctx context.Context, collectionID string) (*domain.RuleDocument, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("%w: collectionID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, collection_id, revision, text, created_at
		FROM rule_documents
		WHERE collection_id = ?
		ORDER BY revision DESC
		LIMIT 1
	`
	return r.scanRuleDocument(r.db.QueryRowContext(ctx, r.rebind(query), collectionID))
}

// GetRuleDocument returns one revision of the collection's rule text.
func (r *SQLRepository) GetRuleDocument(ctx context.Context, collectionID string, revision int) (*domain.RuleDocument, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("%w: collectionID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, collection_id, revision, text, created_at
		FROM rule_documents
		WHERE collection_id = ? AND revision = ?
	`
	return r.scanRuleDocument(r.db.QueryRowContext(ctx, r.rebind(query), collectionID, revision))
}

func (r *SQLRepository) scanRuleDocument(row *sql.Row) (*domain.RuleDocument, error) {
	var doc domain.RuleDocument
	err := row.Scan(&doc.ID, &doc.CollectionID, &doc.Revision, &doc.Text, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListRuleDocuments returns up to limit revisions, newest first.
func (r *SQLRepository) ListRuleDocuments(ctx context.Context, collectionID string, limit int) ([]*domain.RuleDocument, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("%w: collectionID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, collection_id, revision, text, created_at
		FROM rule_documents
		WHERE collection_id = ?
		ORDER BY revision DESC
		LIMIT ` + strconv.Itoa(limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.RuleDocument
	for rows.Next() {
		var doc domain.RuleDocument
		if err := rows.Scan(&doc.ID, &doc.CollectionID, &doc.Revision, &doc.Text, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}

	return docs, rows.Err()
}

// SaveAdjustment stores an adjustment record with collection isolation.
func (r *SQLRepository) SaveAdjustment(ctx context.Context, collectionID string, adj *domain.Adjustment) error {
	if collectionID == "" {
		return fmt.Errorf("%w: collectionID is required", ErrInvalidInput)
	}
	if adj.ID == "" {
		return fmt.Errorf("%w: adjustment ID is required", ErrInvalidInput)
	}

	metadata, err := json.Marshal(adj.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO adjustments (
			id, collection_id, item_id, deck, maturity, ease, timestamp,
			baseline_interval, adjusted_interval, matched, target_fi, baseline_fi,
			metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		adj.ID, collectionID, adj.ItemID, adj.Deck, string(adj.Maturity), adj.Ease, adj.Timestamp,
		adj.BaselineInterval, adj.AdjustedInterval, boolToInt(adj.Matched), adj.TargetFI, adj.BaselineFI,
		string(metadata),
	)
	return err
}

const adjustmentColumns = `
	id, collection_id, item_id, deck, maturity, ease, timestamp,
	baseline_interval, adjusted_interval, matched, target_fi, baseline_fi,
	metadata
`

type scanner interface {
	Scan(dest ...any) error
}

func scanAdjustment(s scanner) (*domain.Adjustment, error) {
	var adj domain.Adjustment
	var maturity, metadata string
	var matched int

	if err := s.Scan(
		&adj.ID, &adj.CollectionID, &adj.ItemID, &adj.Deck, &maturity, &adj.Ease, &adj.Timestamp,
		&adj.BaselineInterval, &adj.AdjustedInterval, &matched, &adj.TargetFI, &adj.BaselineFI,
		&metadata,
	); err != nil {
		return nil, err
	}

	adj.Maturity = domain.Maturity(maturity)
	adj.Matched = matched == 1
	if err := json.Unmarshal([]byte(metadata), &adj.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &adj, nil
}

// GetAdjustment retrieves an adjustment by ID with collection isolation.
func (r *SQLRepository) GetAdjustment(ctx context.Context, collectionID string, adjID string) (*domain.Adjustment, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("%w: collectionID is required", ErrInvalidInput)
	}

	query := `SELECT ` + adjustmentColumns + ` FROM adjustments WHERE collection_id = ? AND id = ?`

	adj, err := scanAdjustment(r.db.QueryRowContext(ctx, r.rebind(query), collectionID, adjID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return adj, err
}

// ListAdjustmentsByItem returns an item's adjustments since a point in time,
// oldest first.
func (r *SQLRepository) ListAdjustmentsByItem(ctx context.Context, collectionID string, itemID string, since time.Time) ([]*domain.Adjustment, error) {
	if collectionID == "" {
		return nil, fmt.Errorf("%w: collectionID is required", ErrInvalidInput)
	}

	query := `SELECT ` + adjustmentColumns + `
		FROM adjustments
		WHERE collection_id = ? AND item_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), collectionID, itemID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []*domain.Adjustment
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}

	return adjustments, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

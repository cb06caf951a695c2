// Package domain defines the core interfaces and types for findex.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require collectionID for strict isolation between collections.
type Repository interface {
	// Rule document operations. Saving appends a new revision.
	SaveRuleDocument(ctx context.Context, collectionID string, doc *RuleDocument) error
	GetLatestRuleDocument(ctx context.Context, collectionID string) (*RuleDocument, error)
	GetRuleDocument(ctx context.Context, collectionID string, revision int) (*RuleDocument, error)
	ListRuleDocuments(ctx context.Context, collectionID string, limit int) ([]*RuleDocument, error)

	// Adjustment records
	SaveAdjustment(ctx context.Context, collectionID string, adj *Adjustment) error
	GetAdjustment(ctx context.Context, collectionID string, adjID string) (*Adjustment, error)
	ListAdjustmentsByItem(ctx context.Context, collectionID string, itemID string, since time.Time) ([]*Adjustment, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

package domain

import (
	"context"
	"time"
)

// Repository defines the persistence boundary the engine reads rule
// definitions through and writes alerts and evaluations through. Schema
// ownership beyond these shapes belongs to the excluded web layer.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByAccount(ctx context.Context, accountID string, since time.Time) ([]*Transaction, error)

	// GetAccountActivity aggregates an account's history for enrichment:
	// first/last activity plus count and sum over the recent and prior
	// windows, both measured back from the given reference time.
	GetAccountActivity(ctx context.Context, accountID string, at time.Time, recentWindow, priorWindow time.Duration) (*AccountHistory, error)

	// Rule definition operations
	SaveRuleDefinition(ctx context.Context, def *RuleDefinition) error
	GetRuleDefinition(ctx context.Context, ruleID string) (*RuleDefinition, error)
	ListRuleDefinitions(ctx context.Context) ([]*RuleDefinition, error)

	// Evaluation results
	SaveEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, evalID string) (*Evaluation, error)

	// Alert operations. Alerts are inserted once, updated through workflow
	// transitions, and never deleted.
	SaveAlert(ctx context.Context, alert *Alert) error
	UpdateAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, state AlertState) ([]*Alert, error)
	AppendAlertHistory(ctx context.Context, alertID string, tr AlertTransition) error
	GetAlertHistory(ctx context.Context, alertID string) ([]AlertTransition, error)

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

// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelhq/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

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

	// Configure connection pool
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

	// Run migrations
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

// SaveTransaction stores a transaction. Re-saving the same ID is treated as a
// retried ingestion and leaves the original row in place.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, account_id, amount, currency, timestamp,
			type, counterparty, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.AccountID, tx.Amount, tx.Currency, tx.Timestamp,
		tx.Type, tx.Counterparty, tx.CreatedAt, string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, amount, currency, timestamp,
			   type, counterparty, created_at, metadata
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var counterparty sql.NullString
	var metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.AccountID, &tx.Amount, &tx.Currency, &tx.Timestamp,
		&tx.Type, &counterparty, &tx.CreatedAt, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Counterparty = counterparty.String
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// GetTransactionsByAccount retrieves an account's transactions since the
// given time, newest first.
func (r *SQLRepository) GetTransactionsByAccount(ctx context.Context, accountID string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, amount, currency, timestamp,
			   type, counterparty, created_at, metadata
		FROM transactions
		WHERE account_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var counterparty sql.NullString
		var metadata string

		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Amount, &tx.Currency, &tx.Timestamp,
			&tx.Type, &counterparty, &tx.CreatedAt, &metadata,
		); err != nil {
			return nil, err
		}

		tx.Counterparty = counterparty.String
		if metadata != "" {
			json.Unmarshal([]byte(metadata), &tx.Metadata)
		}

		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// GetAccountActivity aggregates an account's history around the reference
// time: overall first/last activity plus count and sum over the recent window
// [at-recent, at) and the prior window [at-recent-prior, at-recent). The
// transaction under evaluation is excluded by the open upper bound. An
// account with no prior activity yields zeroed aggregates, not an error.
func (r *SQLRepository) GetAccountActivity(ctx context.Context, accountID string, at time.Time, recentWindow, priorWindow time.Duration) (*domain.AccountHistory, error) {
	recentStart := at.Add(-recentWindow)
	priorStart := recentStart.Add(-priorWindow)

	query := `
		SELECT
			MIN(timestamp),
			MAX(timestamp),
			COALESCE(SUM(CASE WHEN timestamp >= ? AND timestamp < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? AND timestamp < ? THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? AND timestamp < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN timestamp >= ? AND timestamp < ? THEN amount ELSE 0 END), 0)
		FROM transactions
		WHERE account_id = ? AND timestamp < ?
	`

	var firstSeen, lastActivity sql.NullTime
	hist := &domain.AccountHistory{AccountID: accountID}

	err := r.db.QueryRowContext(ctx, r.rebind(query),
		recentStart, at,
		recentStart, at,
		priorStart, recentStart,
		priorStart, recentStart,
		accountID, at,
	).Scan(
		&firstSeen, &lastActivity,
		&hist.RecentCount, &hist.RecentTotal,
		&hist.PriorCount, &hist.PriorTotal,
	)
	if err != nil {
		return nil, err
	}

	if firstSeen.Valid {
		hist.FirstSeen = firstSeen.Time
	}
	if lastActivity.Valid {
		hist.LastActivity = lastActivity.Time
	}

	return hist, nil
}

// SaveRuleDefinition upserts a rule definition.
func (r *SQLRepository) SaveRuleDefinition(ctx context.Context, def *domain.RuleDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	txTypes, _ := json.Marshal(def.TransactionTypes)
	params, _ := json.Marshal(def.Params)

	enabled := 0
	if def.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_definitions (
			id, type, name, description, enabled, transaction_types,
			priority, weight, params, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			description = excluded.description,
			enabled = excluded.enabled,
			transaction_types = excluded.transaction_types,
			priority = excluded.priority,
			weight = excluded.weight,
			params = excluded.params,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		def.ID, def.Type, def.Name, def.Description, enabled, string(txTypes),
		def.Priority, def.Weight, string(params),
		now, now,
	)
	return err
}

// GetRuleDefinition retrieves a rule definition by ID.
func (r *SQLRepository) GetRuleDefinition(ctx context.Context, ruleID string) (*domain.RuleDefinition, error) {
	query := `
		SELECT id, type, name, description, enabled, transaction_types,
			   priority, weight, params, created_at, updated_at
		FROM rule_definitions
		WHERE id = ?
	`

	def, err := scanRuleDefinition(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return def, err
}

// ListRuleDefinitions retrieves all rule definitions, disabled ones included;
// the registry decides what to activate.
func (r *SQLRepository) ListRuleDefinitions(ctx context.Context) ([]*domain.RuleDefinition, error) {
	query := `
		SELECT id, type, name, description, enabled, transaction_types,
			   priority, weight, params, created_at, updated_at
		FROM rule_definitions
		ORDER BY priority, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*domain.RuleDefinition
	for rows.Next() {
		def, err := scanRuleDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleDefinition(row rowScanner) (*domain.RuleDefinition, error) {
	var def domain.RuleDefinition
	var description sql.NullString
	var txTypes, params string
	var enabled int

	if err := row.Scan(
		&def.ID, &def.Type, &def.Name, &description, &enabled, &txTypes,
		&def.Priority, &def.Weight, &params,
		&def.CreatedAt, &def.UpdatedAt,
	); err != nil {
		return nil, err
	}

	def.Description = description.String
	def.Enabled = enabled == 1
	if txTypes != "" {
		json.Unmarshal([]byte(txTypes), &def.TransactionTypes)
	}
	if err := json.Unmarshal([]byte(params), &def.Params); err != nil {
		return nil, fmt.Errorf("failed to parse params for rule %s: %w", def.ID, err)
	}

	return &def, nil
}

// SaveEvaluation stores an evaluation result.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	ruleResults, _ := json.Marshal(eval.RuleResults)
	metadata, _ := json.Marshal(eval.Metadata)

	query := `
		INSERT INTO evaluations (
			id, tx_id, score, tier, timestamp, rule_results, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, eval.TxID, eval.Score, eval.Tier, eval.Timestamp,
		string(ruleResults), string(metadata),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID.
func (r *SQLRepository) GetEvaluation(ctx context.Context, evalID string) (*domain.Evaluation, error) {
	query := `
		SELECT id, tx_id, score, tier, timestamp, rule_results, metadata
		FROM evaluations
		WHERE id = ?
	`

	var eval domain.Evaluation
	var ruleResults, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), evalID).Scan(
		&eval.ID, &eval.TxID, &eval.Score, &eval.Tier, &eval.Timestamp,
		&ruleResults, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(ruleResults), &eval.RuleResults)
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// SaveAlert inserts a new alert row.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (
			id, tx_id, score, tier, state, assigned_reviewer,
			sar_reference, close_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TxID, alert.Score, alert.Tier, string(alert.State),
		alert.AssignedReviewer, alert.SARReference, alert.CloseReason,
		alert.CreatedAt, alert.UpdatedAt,
	)
	return err
}

// UpdateAlert persists a workflow transition's effect on an alert row.
func (r *SQLRepository) UpdateAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		UPDATE alerts
		SET state = ?, assigned_reviewer = ?, sar_reference = ?,
			close_reason = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(alert.State), alert.AssignedReviewer, alert.SARReference,
		alert.CloseReason, alert.UpdatedAt, alert.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// GetAlert retrieves an alert with its full transition history.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `
		SELECT id, tx_id, score, tier, state, assigned_reviewer,
			   sar_reference, close_reason, created_at, updated_at
		FROM alerts
		WHERE id = ?
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	history, err := r.GetAlertHistory(ctx, alertID)
	if err != nil {
		return nil, err
	}
	alert.History = history

	return alert, nil
}

// ListAlerts retrieves alerts, optionally filtered by state. An empty state
// returns everything, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, state domain.AlertState) ([]*domain.Alert, error) {
	query := `
		SELECT id, tx_id, score, tier, state, assigned_reviewer,
			   sar_reference, close_reason, created_at, updated_at
		FROM alerts
	`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var alert domain.Alert
	var state string
	var reviewer, sarRef, closeReason sql.NullString

	if err := row.Scan(
		&alert.ID, &alert.TxID, &alert.Score, &alert.Tier, &state,
		&reviewer, &sarRef, &closeReason,
		&alert.CreatedAt, &alert.UpdatedAt,
	); err != nil {
		return nil, err
	}

	alert.State = domain.AlertState(state)
	alert.AssignedReviewer = reviewer.String
	alert.SARReference = sarRef.String
	alert.CloseReason = closeReason.String

	return &alert, nil
}

// AppendAlertHistory records one transition in the alert's audit trail.
func (r *SQLRepository) AppendAlertHistory(ctx context.Context, alertID string, tr domain.AlertTransition) error {
	query := `
		INSERT INTO alert_history (alert_id, from_state, to_state, actor, note, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alertID, string(tr.From), string(tr.To), tr.Actor, tr.Note, tr.Timestamp,
	)
	return err
}

// GetAlertHistory retrieves an alert's transitions in chronological order.
func (r *SQLRepository) GetAlertHistory(ctx context.Context, alertID string) ([]domain.AlertTransition, error) {
	query := `
		SELECT from_state, to_state, actor, note, timestamp
		FROM alert_history
		WHERE alert_id = ?
		ORDER BY timestamp
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.AlertTransition
	for rows.Next() {
		var tr domain.AlertTransition
		var from, to string
		var note sql.NullString

		if err := rows.Scan(&from, &to, &tr.Actor, &note, &tr.Timestamp); err != nil {
			return nil, err
		}

		tr.From = domain.AlertState(from)
		tr.To = domain.AlertState(to)
		tr.Note = note.String
		history = append(history, tr)
	}

	return history, rows.Err()
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

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

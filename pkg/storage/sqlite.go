package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/ganymede/pkg/costs"
	"mercator-hq/ganymede/pkg/routing"
)

// SQLiteBackend implements Backend using SQLite. It is the durable
// store behind the in-process cache: suitable for single-instance
// deployments where usage history and endpoint health must survive
// restarts.
//
// The backend runs in WAL mode with a single writer connection and a
// background checkpoint loop to bound WAL growth.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	mu                 sync.RWMutex
	closeOnce          sync.Once

	// hot-path statements are prepared once
	insertUsageStmt  *sql.Stmt
	sumCostStmt      *sql.Stmt
	countStmt        *sql.Stmt
	getEndpointStmt  *sql.Stmt
	listEndpointStmt *sql.Stmt
	updateHealthStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom
// configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		provider_id INTEGER NOT NULL DEFAULT 0,
		model TEXT NOT NULL DEFAULT '',
		cost REAL NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_entity_time
		ON usage_records(scope, entity_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_created_at
		ON usage_records(created_at);

	CREATE TABLE IF NOT EXISTS provider_endpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		api_key TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		weight INTEGER NOT NULL DEFAULT 1,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		health_status TEXT NOT NULL DEFAULT 'unknown',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_failure_time INTEGER,
		last_success_time INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_endpoints_provider
		ON provider_endpoints(provider_id);

	CREATE TABLE IF NOT EXISTS provider_cost_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_id INTEGER NOT NULL,
		rule_type TEXT NOT NULL,
		multiplier REAL NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		model_pattern TEXT NOT NULL DEFAULT '',
		time_periods TEXT NOT NULL DEFAULT '[]',
		is_enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_cost_rules_provider
		ON provider_cost_rules(provider_id);

	CREATE TABLE IF NOT EXISTS notification_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		email_enabled INTEGER NOT NULL DEFAULT 0,
		webhook_url TEXT NOT NULL DEFAULT '',
		digest_time TEXT NOT NULL DEFAULT '',
		budget_alert_percent REAL NOT NULL DEFAULT 0
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.insertUsageStmt, err = s.db.Prepare(`
		INSERT INTO usage_records (id, scope, entity_id, provider_id, model, cost, tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare usage insert: %w", err)
	}

	s.sumCostStmt, err = s.db.Prepare(`
		SELECT COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE scope = ? AND entity_id = ? AND created_at >= ? AND created_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cost sum: %w", err)
	}

	s.countStmt, err = s.db.Prepare(`
		SELECT COUNT(*)
		FROM usage_records
		WHERE scope = ? AND entity_id = ? AND created_at >= ? AND created_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare request count: %w", err)
	}

	s.getEndpointStmt, err = s.db.Prepare(`
		SELECT id, provider_id, name, url, api_key, priority, weight, is_enabled,
		       health_status, consecutive_failures, last_failure_time, last_success_time
		FROM provider_endpoints
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare endpoint get: %w", err)
	}

	s.listEndpointStmt, err = s.db.Prepare(`
		SELECT id, provider_id, name, url, api_key, priority, weight, is_enabled,
		       health_status, consecutive_failures, last_failure_time, last_success_time
		FROM provider_endpoints
		WHERE provider_id = ?
		ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare endpoint list: %w", err)
	}

	s.updateHealthStmt, err = s.db.Prepare(`
		UPDATE provider_endpoints
		SET health_status = ?, consecutive_failures = ?, last_failure_time = ?, last_success_time = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare health update: %w", err)
	}

	return nil
}

// checkpointLoop periodically checkpoints the WAL.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// RecordUsage inserts one usage record.
func (s *SQLiteBackend) RecordUsage(ctx context.Context, rec *UsageRecord) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.EntityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.insertUsageStmt.ExecContext(ctx,
		rec.ID, string(rec.Scope), rec.EntityID, rec.ProviderID,
		rec.Model, rec.Cost, rec.Tokens, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

// SumCost returns the total cost for an entity in [from, to].
func (s *SQLiteBackend) SumCost(ctx context.Context, scope Scope, entityID string, from, to time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	err := s.sumCostStmt.QueryRowContext(ctx,
		string(scope), entityID, from.UnixMilli(), to.UnixMilli()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cost: %w", err)
	}
	return total, nil
}

// CountRequests returns the number of usage records for an entity in
// [from, to].
func (s *SQLiteBackend) CountRequests(ctx context.Context, scope Scope, entityID string, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.countStmt.QueryRowContext(ctx,
		string(scope), entityID, from.UnixMilli(), to.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}

// PruneUsageBefore deletes usage records older than cutoff.
func (s *SQLiteBackend) PruneUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM usage_records WHERE created_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	return res.RowsAffected()
}

// CreateEndpoint inserts a provider endpoint and assigns its ID.
func (s *SQLiteBackend) CreateEndpoint(ctx context.Context, ep *routing.Endpoint) error {
	if ep == nil {
		return fmt.Errorf("endpoint cannot be nil")
	}
	if ep.URL == "" {
		return fmt.Errorf("endpoint url cannot be empty")
	}
	status := ep.HealthStatus
	if status == "" {
		status = routing.HealthUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_endpoints
			(provider_id, name, url, api_key, priority, weight, is_enabled,
			 health_status, consecutive_failures, last_failure_time, last_success_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ProviderID, ep.Name, ep.URL, ep.APIKey, ep.Priority, ep.Weight,
		boolToInt(ep.IsEnabled), string(status), ep.ConsecutiveFailures,
		timePtrToMillis(ep.LastFailureTime), timePtrToMillis(ep.LastSuccessTime))
	if err != nil {
		return fmt.Errorf("failed to insert endpoint: %w", err)
	}

	ep.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read endpoint id: %w", err)
	}
	ep.HealthStatus = status
	return nil
}

// GetEndpoint returns one endpoint by ID.
func (s *SQLiteBackend) GetEndpoint(ctx context.Context, endpointID int64) (*routing.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, err := scanEndpoint(s.getEndpointStmt.QueryRowContext(ctx, endpointID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, routing.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoint %d: %w", endpointID, err)
	}
	return ep, nil
}

// ListEndpoints returns every endpoint configured for a provider.
func (s *SQLiteBackend) ListEndpoints(ctx context.Context, providerID int64) ([]*routing.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listEndpointStmt.QueryContext(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	var out []*routing.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// UpdateEndpointHealth persists an endpoint's runtime health fields.
func (s *SQLiteBackend) UpdateEndpointHealth(ctx context.Context, endpointID int64, status routing.HealthStatus, consecutiveFailures int, lastFailure, lastSuccess *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.updateHealthStmt.ExecContext(ctx,
		string(status), consecutiveFailures,
		timePtrToMillis(lastFailure), timePtrToMillis(lastSuccess), endpointID)
	if err != nil {
		return fmt.Errorf("failed to update endpoint health: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return routing.ErrEndpointNotFound
	}
	return nil
}

// ListCostRules returns the cost rules configured for a provider.
func (s *SQLiteBackend) ListCostRules(ctx context.Context, providerID int64) ([]costs.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_id, rule_type, multiplier, priority, model_pattern, time_periods, is_enabled
		FROM provider_cost_rules
		WHERE provider_id = ?
		ORDER BY id`, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost rules: %w", err)
	}
	defer rows.Close()

	var out []costs.Rule
	for rows.Next() {
		var (
			r           costs.Rule
			ruleType    string
			periodsJSON string
			enabled     int
		)
		if err := rows.Scan(&r.ID, &r.ProviderID, &ruleType, &r.Multiplier,
			&r.Priority, &r.ModelPattern, &periodsJSON, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan cost rule: %w", err)
		}
		r.RuleType = costs.RuleType(ruleType)
		r.IsEnabled = enabled != 0
		if err := json.Unmarshal([]byte(periodsJSON), &r.TimePeriods); err != nil {
			return nil, fmt.Errorf("failed to decode time periods for rule %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCostRule inserts or updates a cost rule. A rule with ID zero is
// inserted and assigned an ID.
func (s *SQLiteBackend) SaveCostRule(ctx context.Context, rule *costs.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	periods := rule.TimePeriods
	if periods == nil {
		periods = []costs.TimePeriod{}
	}
	periodsJSON, err := json.Marshal(periods)
	if err != nil {
		return fmt.Errorf("failed to encode time periods: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO provider_cost_rules
				(provider_id, rule_type, multiplier, priority, model_pattern, time_periods, is_enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rule.ProviderID, string(rule.RuleType), rule.Multiplier, rule.Priority,
			rule.ModelPattern, string(periodsJSON), boolToInt(rule.IsEnabled))
		if err != nil {
			return fmt.Errorf("failed to insert cost rule: %w", err)
		}
		rule.ID, err = res.LastInsertId()
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE provider_cost_rules
		SET provider_id = ?, rule_type = ?, multiplier = ?, priority = ?,
		    model_pattern = ?, time_periods = ?, is_enabled = ?
		WHERE id = ?`,
		rule.ProviderID, string(rule.RuleType), rule.Multiplier, rule.Priority,
		rule.ModelPattern, string(periodsJSON), boolToInt(rule.IsEnabled), rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update cost rule: %w", err)
	}
	return nil
}

// NotificationSettings returns the gateway alerting configuration.
func (s *SQLiteBackend) NotificationSettings(ctx context.Context) (*NotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		out     NotificationSettings
		enabled int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT email_enabled, webhook_url, digest_time, budget_alert_percent
		FROM notification_settings WHERE id = 1`).
		Scan(&enabled, &out.WebhookURL, &out.DigestTime, &out.BudgetAlertPercent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification settings: %w", err)
	}
	out.EmailEnabled = enabled != 0
	return &out, nil
}

// SaveNotificationSettings replaces the gateway alerting configuration.
func (s *SQLiteBackend) SaveNotificationSettings(ctx context.Context, settings *NotificationSettings) error {
	if settings == nil {
		return fmt.Errorf("settings cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (id, email_enabled, webhook_url, digest_time, budget_alert_percent)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email_enabled = excluded.email_enabled,
			webhook_url = excluded.webhook_url,
			digest_time = excluded.digest_time,
			budget_alert_percent = excluded.budget_alert_percent`,
		boolToInt(settings.EmailEnabled), settings.WebhookURL,
		settings.DigestTime, settings.BudgetAlertPercent)
	if err != nil {
		return fmt.Errorf("failed to save notification settings: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteBackend) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()

		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		err = s.db.Close()
	})
	return err
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*routing.Endpoint, error) {
	var (
		ep          routing.Endpoint
		status      string
		enabled     int
		lastFailure sql.NullInt64
		lastSuccess sql.NullInt64
	)
	err := row.Scan(&ep.ID, &ep.ProviderID, &ep.Name, &ep.URL, &ep.APIKey,
		&ep.Priority, &ep.Weight, &enabled, &status,
		&ep.ConsecutiveFailures, &lastFailure, &lastSuccess)
	if err != nil {
		return nil, err
	}
	ep.IsEnabled = enabled != 0
	ep.HealthStatus = routing.HealthStatus(status)
	ep.LastFailureTime = millisToTimePtr(lastFailure)
	ep.LastSuccessTime = millisToTimePtr(lastSuccess)
	return &ep, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/bitcertify/certify/pkg/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a connection-pooled *sql.DB with migration support.
type Client struct {
	db     *sql.DB
	logger *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient opens a connection pool against cfg.DatabaseURL and verifies
// it with a ping.
func NewClient(cfg *config.Config, opts ...ClientOption) (*Client, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	client := &Client{
		logger: log.New(log.Writer(), "[database] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMinConns)
	db.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)
	db.SetConnMaxLifetime(cfg.DatabaseMaxLifetime)

	client.db = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	client.logger.Printf("connected to database (max_conns=%d, min_conns=%d)", cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	return client, nil
}

// DB returns the underlying *sql.DB for repository construction.
func (c *Client) DB() *sql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// HealthStatus reports connection pool health for the health endpoint.
type HealthStatus struct {
	Healthy         bool
	Error           string
	OpenConnections int
	InUse           int
	Idle            int
}

// Health inspects the pool and issues a ping.
func (c *Client) Health(ctx context.Context) HealthStatus {
	if err := c.db.PingContext(ctx); err != nil {
		return HealthStatus{Healthy: false, Error: err.Error()}
	}
	stats := c.db.Stats()
	return HealthStatus{
		Healthy:         true,
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}
}

// migration is one embedded SQL file.
type migration struct {
	Version string
	SQL     string
}

func (c *Client) readMigrations() ([]migration, error) {
	var migrations []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		migrations = append(migrations, migration{
			Version: strings.TrimSuffix(d.Name(), ".sql"),
			SQL:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// MigrateUp applies every embedded migration not yet recorded in
// schema_migrations, each inside its own transaction.
func (c *Client) MigrateUp(ctx context.Context) error {
	migrations, err := c.readMigrations()
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	applied, err := c.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		c.logger.Printf("applying migration %s", m.Version)
		if err := c.applyOne(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func (c *Client) appliedVersions(ctx context.Context) (map[string]bool, error) {
	applied := make(map[string]bool)

	if _, err := c.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (c *Client) applyOne(ctx context.Context, m migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

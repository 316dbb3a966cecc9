package aggregator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresLog is a RecordLog persisted in PostgreSQL. Records are ordered by
// a BIGSERIAL sequence column. It also implements BindingStore.
type PostgresLog struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings. DSN, when set,
// takes precedence over the individual fields.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresLog connects to the database and creates the tables if needed.
func NewPostgresLog(config *PostgresConfig) (*PostgresLog, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	l := &PostgresLog{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

func (l *PostgresLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metric_records (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		distance TEXT NOT NULL,
		time TEXT NOT NULL,
		submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS aggregator_binding (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		public_key TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// Append inserts rec.
func (l *PostgresLog) Append(ctx context.Context, rec EncryptedMetricRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO metric_records (id, distance, time, submitted_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, rec.Distance, rec.Time, rec.SubmittedAt)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Scan reads every record in sequence order within one read-only
// transaction.
func (l *PostgresLog) Scan(ctx context.Context) ([]EncryptedMetricRecord, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("starting scan: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, distance, time, submitted_at
		FROM metric_records
		ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EncryptedMetricRecord
	for rows.Next() {
		var rec EncryptedMetricRecord
		if err := rows.Scan(&rec.ID, &rec.Distance, &rec.Time, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Len counts the records.
func (l *PostgresLog) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM metric_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// SaveBinding stores the bound public key. The first binding wins: saving
// a different key than the stored one returns ErrAlreadyBound.
func (l *PostgresLog) SaveBinding(ctx context.Context, publicKey string) error {
	var stored string
	err := l.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO aggregator_binding (id, public_key) VALUES (1, $1)
			ON CONFLICT (id) DO NOTHING
			RETURNING public_key
		)
		SELECT public_key FROM inserted
		UNION ALL
		SELECT public_key FROM aggregator_binding WHERE id = 1
		LIMIT 1
	`, publicKey).Scan(&stored)
	if err != nil {
		return fmt.Errorf("saving binding: %w", err)
	}
	if stored != publicKey {
		return fmt.Errorf("saving binding: %w", ErrAlreadyBound)
	}
	return nil
}

// LoadBinding returns the stored public key, if any.
func (l *PostgresLog) LoadBinding(ctx context.Context) (string, bool, error) {
	var pk string
	err := l.db.QueryRowContext(ctx, "SELECT public_key FROM aggregator_binding WHERE id = 1").Scan(&pk)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("loading binding: %w", err)
	}
	return pk, true, nil
}

// Close closes the database connection.
func (l *PostgresLog) Close() error {
	return l.db.Close()
}

func (l *PostgresLog) truncate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "TRUNCATE metric_records, aggregator_binding")
	return err
}

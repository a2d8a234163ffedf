package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// StoreConfig selects the ERP database backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `yaml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// PostgreSQL connection settings.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// Store executes catalog operations against the ERP database.
type Store struct {
	db      *sql.DB
	backend string
	timeout time.Duration
	catalog map[string]Operation
	logger  *slog.Logger
}

// OpenStore opens the configured database backend and verifies connectivity.
func OpenStore(cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = "sqlite"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 25 * time.Second
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Backend {
	case "sqlite":
		if cfg.Path == "" {
			cfg.Path = "erpzek.db"
		}
		db, err = sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	case "postgres":
		if cfg.Host == "" {
			cfg.Host = "localhost"
		}
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		if cfg.SSLMode == "" {
			cfg.SSLMode = "disable"
		}
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{
		db:      db,
		backend: cfg.Backend,
		timeout: cfg.QueryTimeout,
		catalog: Catalog(),
		logger:  logger.With("component", "erp-store"),
	}, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Execute runs a catalog operation with the given named parameters and
// returns the result rows. Missing required parameters fail before the
// query is issued; all values are bound via placeholders.
func (s *Store) Execute(ctx context.Context, operation string, params map[string]any) ([]map[string]any, error) {
	op, ok := s.catalog[operation]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOp, operation)
	}

	args, err := bindArgs(op, params)
	if err != nil {
		return nil, err
	}

	query := op.SQL
	if s.backend == "postgres" {
		query = rebindPositional(query)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("query failed", "operation", operation, "error", err)
		return nil, fmt.Errorf("execute %s: %w", operation, err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", operation, err)
	}

	s.logger.Debug("query executed",
		"operation", operation,
		"rows", len(result),
		"duration", time.Since(start))
	return result, nil
}

// bindArgs produces the positional argument list for an operation. Each
// parameter is bound as many times as its placeholder appears: optional
// filters use the `(? IS NULL OR ...)` pattern and bind twice.
func bindArgs(op Operation, params map[string]any) ([]any, error) {
	placeholders := strings.Count(op.SQL, "?")
	args := make([]any, 0, placeholders)
	for _, p := range op.Params {
		val := normalizeParam(params[p.Name])
		if val == nil && p.Required {
			return nil, fmt.Errorf("missing required parameter %q for %s", p.Name, op.Name)
		}

		// A required parameter binds once, an optional one twice.
		times := 2
		if p.Required {
			times = 1
		}
		for i := 0; i < times; i++ {
			args = append(args, val)
		}
	}
	if len(args) != placeholders {
		return nil, fmt.Errorf("operation %s binds %d values for %d placeholders", op.Name, len(args), placeholders)
	}
	return args, nil
}

// normalizeParam maps absent and empty values to SQL NULL so optional
// filters are skipped uniformly.
func normalizeParam(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return nil
		}
		return t
	default:
		return v
	}
}

// rebindPositional converts `?` placeholders to `$1..$n` for pgx.
func rebindPositional(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = cleanValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// cleanValue makes scanned values JSON-friendly and scrubs control
// characters from strings so ERP padding bytes never leak into replies.
func cleanValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return ScrubString(string(t))
	case string:
		return ScrubString(t)
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	default:
		return v
	}
}

// ScrubString removes ASCII control characters and trims the result.
// Legacy ERP tables pad text columns with NUL and formatting bytes.
func ScrubString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

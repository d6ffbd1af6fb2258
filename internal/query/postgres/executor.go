package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
)

func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Executor runs already-gated SQL against Postgres. Database-level failures
// never surface as Go errors; they are normalized into the Outcome so the
// correction loop can inspect them.
type Executor struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

func NewExecutor(db *sql.DB, timeout time.Duration, logger *slog.Logger) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{db: db, timeout: timeout, logger: logger}, nil
}

func (e *Executor) Run(ctx context.Context, sqlText string, args ...any) query.Outcome {
	start := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, sqlText, args...)
	if err != nil {
		return e.failure(queryCtx, sqlText, start, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return e.failure(queryCtx, sqlText, start, err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return e.failure(queryCtx, sqlText, start, err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return e.failure(queryCtx, sqlText, start, err)
	}

	elapsed := time.Since(start)
	observability.ObserveQueryExecution(elapsed, "")
	return query.Success(query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: elapsed,
	})
}

func (e *Executor) failure(ctx context.Context, sqlText string, start time.Time, err error) query.Outcome {
	kind := classifyError(ctx, err)
	e.logger.Error("query execution failed",
		slog.String("sql", sqlText),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	observability.ObserveQueryExecution(time.Since(start), string(kind))
	return query.Failure(kind, err.Error())
}

func classifyError(ctx context.Context, err error) query.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return query.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return query.KindTimeout
		}
		return query.KindConnection
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return query.KindConnection
	}
	return query.KindExecution
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

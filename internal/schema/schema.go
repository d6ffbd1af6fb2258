package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/cache"
)

// Provider returns a textual representation of the target schema suitable
// for prompting: one CREATE TABLE declaration per table.
type Provider interface {
	Fetch(ctx context.Context) (string, error)
}

// Introspector builds the schema text from information_schema. Only the
// configured schema is described; nothing else is visible to the generator.
type Introspector struct {
	db         *sql.DB
	schemaName string
	logger     *slog.Logger
}

func NewIntrospector(db *sql.DB, schemaName string, logger *slog.Logger) (*Introspector, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	schemaName = strings.TrimSpace(schemaName)
	if schemaName == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Introspector{db: db, schemaName: schemaName, logger: logger}, nil
}

const columnsQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

func (i *Introspector) Fetch(ctx context.Context) (string, error) {
	start := time.Now()
	rows, err := i.db.QueryContext(ctx, columnsQuery, i.schemaName)
	if err != nil {
		return "", fmt.Errorf("introspect schema %q: %w", i.schemaName, err)
	}
	defer func() { _ = rows.Close() }()

	type column struct {
		name     string
		dataType string
		nullable bool
	}
	tableOrder := make([]string, 0)
	tables := map[string][]column{}

	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return "", fmt.Errorf("scan column row: %w", err)
		}
		if _, seen := tables[tableName]; !seen {
			tableOrder = append(tableOrder, tableName)
		}
		tables[tableName] = append(tables[tableName], column{
			name:     columnName,
			dataType: dataType,
			nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate column rows: %w", err)
	}

	if len(tableOrder) == 0 {
		i.logger.Warn("no tables found in schema", slog.String("schema", i.schemaName))
		return fmt.Sprintf("-- No tables found in schema %s", i.schemaName), nil
	}

	var sb strings.Builder
	for index, tableName := range tableOrder {
		if index > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "CREATE TABLE %s.%s (\n", i.schemaName, tableName)
		cols := tables[tableName]
		for colIndex, col := range cols {
			sb.WriteString("\t")
			sb.WriteString(col.name)
			sb.WriteString(" ")
			sb.WriteString(col.dataType)
			if !col.nullable {
				sb.WriteString(" NOT NULL")
			}
			if colIndex < len(cols)-1 {
				sb.WriteString(",")
			}
			sb.WriteString("\n")
		}
		sb.WriteString(");")
	}

	i.logger.Info("schema introspected",
		slog.String("schema", i.schemaName),
		slog.Int("tables", len(tableOrder)),
		slog.String("duration", time.Since(start).String()),
	)
	return sb.String(), nil
}

// CachedProvider decorates a Provider with the schema keyspace of the
// result cache. A nil store is a passthrough.
type CachedProvider struct {
	inner      Provider
	store      *cache.Store
	schemaName string
	ttl        time.Duration
}

func NewCachedProvider(inner Provider, store *cache.Store, schemaName string, ttl time.Duration) (*CachedProvider, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner provider is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedProvider{inner: inner, store: store, schemaName: schemaName, ttl: ttl}, nil
}

func (p *CachedProvider) Fetch(ctx context.Context) (string, error) {
	payload, err := p.store.GetOrCompute(ctx, cache.SchemaKey(p.schemaName), p.ttl, func() ([]byte, bool, error) {
		text, err := p.inner.Fetch(ctx)
		if err != nil {
			return nil, false, err
		}
		return []byte(text), true, nil
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// Package pgxendpoint exposes table CRUD as remote functions backed by
// Postgres. It is the server half of the proxy pipeline: requests arrive
// as positional-argument envelopes, run against a pgx pool, and produce
// responses in the JSON reader convention:
//
//	{"success": true, "rows": [...], "total": n}
//
// A failed operation replies {"success": false}: the remote call itself
// completed, so the client surfaces it as a soft failure rather than a
// transport fault.
package pgxendpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/jrazmi/storeproxy/core/proxy"
	"github.com/jrazmi/storeproxy/infrastructure/postgresdb"
)

// Config describes the table an endpoint serves.
type Config struct {
	// Table is the table name. Required.
	Table string

	// IDColumn is the primary key column. Required.
	IDColumn string

	// Columns are the columns exposed to clients, including IDColumn.
	// Required; payload fields outside this set are discarded.
	Columns []string
}

// options holds the internal runtime configuration
type options struct {
	logger       *slog.Logger
	defaultLimit uint64
	maxLimit     uint64
}

// Option is a function that configures the endpoint options
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDefaultLimit sets the row limit applied when a read request
// carries no limit parameter
func WithDefaultLimit(limit uint64) Option {
	return func(o *options) {
		o.defaultLimit = limit
	}
}

// WithMaxLimit caps the row limit a read request may ask for
func WithMaxLimit(limit uint64) Option {
	return func(o *options) {
		o.maxLimit = limit
	}
}

// Endpoint serves CRUD for one table.
type Endpoint struct {
	pool         *postgresdb.Pool
	table        string
	idColumn     string
	columns      []string
	columnSet    map[string]bool
	log          *slog.Logger
	defaultLimit uint64
	maxLimit     uint64
	sb           sq.StatementBuilderType
}

// New validates cfg and builds the endpoint.
func New(pool *postgresdb.Pool, cfg Config, opts ...Option) (*Endpoint, error) {
	if pool == nil {
		return nil, fmt.Errorf("invalid endpoint config: pool is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("invalid endpoint config: table is required")
	}
	if cfg.IDColumn == "" {
		return nil, fmt.Errorf("invalid endpoint config: id column is required")
	}
	if len(cfg.Columns) == 0 {
		return nil, fmt.Errorf("invalid endpoint config: columns are required")
	}

	internalOpts := &options{
		defaultLimit: 25,
		maxLimit:     100,
	}
	for _, opt := range opts {
		opt(internalOpts)
	}
	if internalOpts.logger == nil {
		internalOpts.logger = slog.Default()
	}

	columnSet := make(map[string]bool, len(cfg.Columns))
	for _, col := range cfg.Columns {
		columnSet[col] = true
	}
	if !columnSet[cfg.IDColumn] {
		return nil, fmt.Errorf("invalid endpoint config: id column %q not in column list", cfg.IDColumn)
	}

	return &Endpoint{
		pool:         pool,
		table:        cfg.Table,
		idColumn:     cfg.IDColumn,
		columns:      cfg.Columns,
		columnSet:    columnSet,
		log:          internalOpts.logger,
		defaultLimit: internalOpts.defaultLimit,
		maxLimit:     internalOpts.maxLimit,
		sb:           sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// RemoteFunc exposes one action as an in-process remote function. The
// handler runs on its own goroutine so dispatch returns immediately, and
// operation failures resolve as success=false responses, mirroring what
// a remote server would reply.
func (e *Endpoint) RemoteFunc(action proxy.Action) (proxy.RemoteFunc, error) {
	handler, err := e.handler(action)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, args []any, done *proxy.Completion) {
		go func() {
			resp, err := handler(ctx, args)
			if err != nil {
				e.log.ErrorContext(ctx, "endpoint operation failed",
					"table", e.table,
					"action", action,
					"error", err)
				done.Resolve(failureResponse())
				return
			}
			done.Resolve(resp)
		}()
	}, nil
}

// handlerFunc runs one decoded call against the database.
type handlerFunc func(ctx context.Context, args []any) ([]byte, error)

func (e *Endpoint) handler(action proxy.Action) (handlerFunc, error) {
	switch action {
	case proxy.ActionRead:
		return e.read, nil
	case proxy.ActionCreate:
		return e.create, nil
	case proxy.ActionUpdate:
		return e.update, nil
	case proxy.ActionDestroy:
		return e.destroy, nil
	default:
		return nil, fmt.Errorf("unsupported action %q", action)
	}
}

// read serves the read path. An optional leading argument carries the
// forwarded call parameters: start, limit, sort, dir.
func (e *Endpoint) read(ctx context.Context, args []any) ([]byte, error) {
	params := map[string]any{}
	if len(args) > 0 {
		if m, ok := args[0].(map[string]any); ok {
			params = m
		}
	}

	total, err := e.count(ctx)
	if err != nil {
		return nil, err
	}

	query := e.sb.Select(e.columns...).From(e.table)

	if sort, ok := stringParam(params, "sort"); ok {
		if !e.columnSet[sort] {
			return nil, fmt.Errorf("unknown sort column %q", sort)
		}
		dir := "ASC"
		if d, ok := stringParam(params, "dir"); ok && strings.EqualFold(d, "desc") {
			dir = "DESC"
		}
		query = query.OrderBy(sort + " " + dir)
	} else {
		query = query.OrderBy(e.idColumn + " ASC")
	}

	limit := e.defaultLimit
	if n, ok := uintParam(params, "limit"); ok && n > 0 {
		limit = n
	}
	if limit > e.maxLimit {
		limit = e.maxLimit
	}
	query = query.Limit(limit)

	if start, ok := uintParam(params, "start"); ok && start > 0 {
		query = query.Offset(start)
	}

	rows, err := e.query(ctx, query)
	if err != nil {
		return nil, err
	}

	return successResponse(rows, total)
}

// create inserts one row per payload and returns the stored rows, so
// the client sees server-assigned defaults.
func (e *Endpoint) create(ctx context.Context, args []any) ([]byte, error) {
	payloads, err := payloadList(args)
	if err != nil {
		return nil, err
	}

	stored := make([]map[string]any, 0, len(payloads))
	for _, payload := range payloads {
		clauses := e.filterColumns(payload)
		if len(clauses) == 0 {
			return nil, fmt.Errorf("payload has no known columns")
		}

		query := e.sb.Insert(e.table).
			SetMap(clauses).
			Suffix("RETURNING " + strings.Join(e.columns, ", "))

		row, err := e.queryOne(ctx, query)
		if err != nil {
			return nil, err
		}
		stored = append(stored, row)
	}

	return successResponse(stored, len(stored))
}

// update applies each payload to the row its id column names.
func (e *Endpoint) update(ctx context.Context, args []any) ([]byte, error) {
	payloads, err := payloadList(args)
	if err != nil {
		return nil, err
	}

	stored := make([]map[string]any, 0, len(payloads))
	for _, payload := range payloads {
		id, ok := payload[e.idColumn]
		if !ok {
			return nil, fmt.Errorf("payload missing %q", e.idColumn)
		}

		clauses := e.filterColumns(payload)
		delete(clauses, e.idColumn)
		if len(clauses) == 0 {
			return nil, fmt.Errorf("payload has no updatable columns")
		}

		query := e.sb.Update(e.table).
			SetMap(clauses).
			Where(sq.Eq{e.idColumn: id}).
			Suffix("RETURNING " + strings.Join(e.columns, ", "))

		row, err := e.queryOne(ctx, query)
		if err != nil {
			return nil, err
		}
		stored = append(stored, row)
	}

	return successResponse(stored, len(stored))
}

// destroy deletes the row each payload's id column names.
func (e *Endpoint) destroy(ctx context.Context, args []any) ([]byte, error) {
	payloads, err := payloadList(args)
	if err != nil {
		return nil, err
	}

	for _, payload := range payloads {
		id, ok := payload[e.idColumn]
		if !ok {
			return nil, fmt.Errorf("payload missing %q", e.idColumn)
		}

		sql, argv, err := e.sb.Delete(e.table).Where(sq.Eq{e.idColumn: id}).ToSql()
		if err != nil {
			return nil, fmt.Errorf("building delete: %w", err)
		}
		if _, err := e.pool.Exec(ctx, sql, argv...); err != nil {
			return nil, fmt.Errorf("deleting from %s: %w", e.table, postgresdb.HandlePgError(err))
		}
	}

	return successResponse(nil, 0)
}

func (e *Endpoint) count(ctx context.Context) (int, error) {
	sql, argv, err := e.sb.Select("COUNT(*)").From(e.table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}
	var total int
	if err := e.pool.QueryRow(ctx, sql, argv...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting %s: %w", e.table, postgresdb.HandlePgError(err))
	}
	return total, nil
}

func (e *Endpoint) query(ctx context.Context, query sq.SelectBuilder) ([]map[string]any, error) {
	sql, argv, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := e.pool.Query(ctx, sql, argv...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", e.table, postgresdb.HandlePgError(err))
	}
	defer rows.Close()

	return collectRows(rows)
}

func (e *Endpoint) queryOne(ctx context.Context, query sq.Sqlizer) (map[string]any, error) {
	sql, argv, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building statement: %w", err)
	}

	rows, err := e.pool.Query(ctx, sql, argv...)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", e.table, postgresdb.HandlePgError(err))
	}
	defer rows.Close()

	collected, err := collectRows(rows)
	if err != nil {
		return nil, err
	}
	if len(collected) != 1 {
		return nil, fmt.Errorf("expected one returned row, got %d", len(collected))
	}
	return collected[0], nil
}

// filterColumns keeps only the payload fields this endpoint exposes.
func (e *Endpoint) filterColumns(payload map[string]any) map[string]any {
	clauses := make(map[string]any, len(payload))
	for key, value := range payload {
		if e.columnSet[key] {
			clauses[key] = value
		}
	}
	return clauses
}

func collectRows(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		record := make(map[string]any, len(fields))
		for i, field := range fields {
			record[field.Name] = values[i]
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// payloadList decodes the single positional argument produced by the
// default write args builder: the ordered record payload list.
func payloadList(args []any) ([]map[string]any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing payload argument")
	}

	switch v := args[0].(type) {
	case []map[string]any:
		return v, nil
	case []any:
		payloads := make([]map[string]any, 0, len(v))
		for i, item := range v {
			payload, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("payload %d: expected object, got %T", i, item)
			}
			payloads = append(payloads, payload)
		}
		return payloads, nil
	default:
		return nil, fmt.Errorf("expected payload list, got %T", args[0])
	}
}

func successResponse(rows []map[string]any, total int) ([]byte, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.Marshal(map[string]any{
		"success": true,
		"rows":    rows,
		"total":   total,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return data, nil
}

func failureResponse() []byte {
	return []byte(`{"success":false}`)
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// logColumns is the column list used for SELECT statements on the logs table.
const logColumns = `id, timestamp, device_id, event_type, message`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryInsertLog(ctx context.Context, db executor, r *model.LogRecord) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO logs (timestamp, device_id, event_type, message)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		r.Timestamp, r.DeviceID, string(r.EventType), r.Message,
	).Scan(&r.ID)
}

func queryListLogs(ctx context.Context, db executor, f model.LogFilter) ([]*model.LogRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.AfterID > 0 {
		args = append(args, f.AfterID)
		where = append(where, fmt.Sprintf("id > $%d", len(args)))
	}
	if f.DeviceID != "" {
		args = append(args, f.DeviceID)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if f.EventType != "" {
		args = append(args, string(f.EventType.Persisted()))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}

	query := "SELECT " + logColumns + " FROM logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d", len(args))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()
	return scanLogRecords(rows)
}

func queryCountLogs(ctx context.Context, db executor) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}

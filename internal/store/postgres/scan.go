package postgres

import (
	"database/sql"

	"github.com/alfredjeanlab/aegis/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanLogRecord scans a single row into a model.LogRecord.
// The row must contain columns in the order defined by logColumns.
func scanLogRecord(row scannable) (*model.LogRecord, error) {
	var (
		r         model.LogRecord
		deviceID  sql.NullString
		eventType sql.NullString
		message   sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Timestamp, &deviceID, &eventType, &message); err != nil {
		return nil, err
	}
	r.DeviceID = deviceID.String
	r.EventType = model.EventType(eventType.String)
	r.Message = message.String
	return &r, nil
}

func scanLogRecords(rows *sql.Rows) ([]*model.LogRecord, error) {
	out := make([]*model.LogRecord, 0)
	for rows.Next() {
		r, err := scanLogRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

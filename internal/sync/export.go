package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/aegis/internal/model"
	"github.com/alfredjeanlab/aegis/internal/store"
)

// header is the first line of a JSONL export.
type header struct {
	Version   string `json:"version"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	LogCount  int64  `json:"log_count"`
}

// line wraps one exported record.
type line struct {
	Type string           `json:"type"`
	Data *model.LogRecord `json:"data"`
}

// ExportJSONL writes the full log table as JSONL: a header line followed by
// one line per record in ascending id order. Records are read in pages so a
// large table is never held in memory at once.
func ExportJSONL(ctx context.Context, s store.LogStore, w io.Writer) error {
	count, err := s.CountLogs(ctx)
	if err != nil {
		return fmt.Errorf("count logs: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	h := header{
		Version:   "1",
		Type:      "header",
		Timestamp: model.FormatTimestamp(time.Now()),
		LogCount:  count,
	}
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	var afterID int64
	for {
		page, err := s.ListLogs(ctx, model.LogFilter{AfterID: afterID, Limit: model.MaxLogLimit})
		if err != nil {
			return fmt.Errorf("list logs after %d: %w", afterID, err)
		}
		for _, rec := range page {
			if err := enc.Encode(line{Type: "log", Data: rec}); err != nil {
				return fmt.Errorf("write log %d: %w", rec.ID, err)
			}
			afterID = rec.ID
		}
		if len(page) < model.MaxLogLimit {
			break
		}
	}

	return bw.Flush()
}

package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/agentlens/agentlens/pkg/hashchain"
	"github.com/agentlens/agentlens/pkg/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var csvHeader = []string{
	"id", "timestamp", "sessionId", "agentId", "eventType",
	"severity", "payload", "metadata", "prevHash", "hash",
}

// WriteEventsCSV streams a tenant's events in a time range as RFC-4180 CSV
// with a UTF-8 BOM and header row. Rows are emitted in ascending timestamp
// order, paging through the store.
func (e *Exporter) WriteEventsCSV(ctx context.Context, w io.Writer, tenantID string, from, to time.Time) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for offset := 0; ; offset += queryPageSize {
		events, _, err := e.store.QueryEvents(ctx, tenantID, models.EventFilter{
			From: &from, To: &to,
			Order: "asc", Limit: queryPageSize, Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		for _, ev := range events {
			prevHash := ""
			if ev.PrevHash != nil {
				prevHash = *ev.PrevHash
			}
			row := []string{
				ev.ID,
				hashchain.FormatTimestamp(ev.Timestamp),
				ev.SessionID,
				ev.AgentID,
				string(ev.EventType),
				string(ev.Severity),
				string(ev.Payload),
				string(ev.Metadata),
				prevHash,
				ev.Hash,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		if len(events) < queryPageSize {
			break
		}
	}

	cw.Flush()
	return cw.Error()
}

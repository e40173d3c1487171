// Package export implements the NDJSON org-data dump/load format and its
// CSV transform. Lines carry a _type discriminant and _version; a trailing
// checksum line covers the whole stream.
package export

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/agentlens/agentlens/pkg/models"
	"github.com/agentlens/agentlens/pkg/store"
)

// LineVersion is the current NDJSON record version.
const LineVersion = 1

// Record types, emitted in dependency order.
const (
	TypeAgent       = "agent"
	TypeSession     = "session"
	TypeEvent       = "event"
	TypeHealthScore = "health_score"
	TypeChecksum    = "checksum"
)

const queryPageSize = 1000

// Options bounds an export to an optional time range over event timestamps.
type Options struct {
	From *time.Time
	To   *time.Time
}

// Exporter streams a tenant's data as NDJSON.
type Exporter struct {
	store store.Store
}

// NewExporter creates an exporter over the raw store.
func NewExporter(s store.Store) *Exporter {
	return &Exporter{store: s}
}

type line struct {
	Type    string `json:"_type"`
	Version int    `json:"_version"`
	Data    any    `json:"data"`
}

type checksumLine struct {
	Type       string           `json:"_type"`
	SHA256     string           `json:"sha256"`
	Counts     map[string]int64 `json:"counts"`
	ExportedAt time.Time        `json:"exported_at"`
}

// Export writes the tenant's agents, sessions, events, and health scores as
// NDJSON in dependency order, stripping tenantId from every row, and appends
// a checksum line whose sha256 covers all preceding lines joined by newlines.
func (e *Exporter) Export(ctx context.Context, w io.Writer, tenantID string, opts Options) error {
	bw := bufio.NewWriter(w)
	hasher := sha256.New()
	counts := map[string]int64{}
	var written int64

	writeLine := func(recordType string, data any) error {
		raw, err := json.Marshal(line{Type: recordType, Version: LineVersion, Data: data})
		if err != nil {
			return fmt.Errorf("marshal %s line: %w", recordType, err)
		}
		if written > 0 {
			hasher.Write([]byte("\n"))
		}
		hasher.Write(raw)
		written++
		counts[recordType]++
		if _, err := bw.Write(raw); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	}

	agents, err := e.store.ListAgents(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	for _, a := range agents {
		cp := *a
		cp.TenantID = ""
		if err := writeLine(TypeAgent, &cp); err != nil {
			return err
		}
	}

	for offset := 0; ; offset += queryPageSize {
		sessions, _, err := e.store.QuerySessions(ctx, tenantID, models.SessionFilter{
			From: opts.From, To: opts.To, Limit: queryPageSize, Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("query sessions: %w", err)
		}
		for _, s := range sessions {
			cp := s.Clone()
			cp.TenantID = ""
			if err := writeLine(TypeSession, cp); err != nil {
				return err
			}
		}
		if len(sessions) < queryPageSize {
			break
		}
	}

	for offset := 0; ; offset += queryPageSize {
		events, _, err := e.store.QueryEvents(ctx, tenantID, models.EventFilter{
			From: opts.From, To: opts.To,
			Order: "asc", Limit: queryPageSize, Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		for _, ev := range events {
			cp := ev.Clone()
			cp.TenantID = ""
			if err := writeLine(TypeEvent, cp); err != nil {
				return err
			}
		}
		if len(events) < queryPageSize {
			break
		}
	}

	scores, err := e.store.ListHealthScores(ctx, tenantID, "")
	if err != nil {
		return fmt.Errorf("list health scores: %w", err)
	}
	for _, hs := range scores {
		cp := *hs
		cp.TenantID = ""
		if err := writeLine(TypeHealthScore, &cp); err != nil {
			return err
		}
	}

	sum := checksumLine{
		Type:       TypeChecksum,
		SHA256:     hex.EncodeToString(hasher.Sum(nil)),
		Counts:     counts,
		ExportedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal checksum line: %w", err)
	}
	if _, err := bw.Write(raw); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

// ImportError is one rejected line of an import.
type ImportError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportResult summarizes an import run. ChecksumValid is nil when the
// stream carried no checksum line.
type ImportResult struct {
	Imported      int64         `json:"imported"`
	Errors        []ImportError `json:"errors"`
	ChecksumValid *bool         `json:"checksumValid"`
}

// Importer loads an NDJSON stream into a target tenant.
type Importer struct {
	store store.Store
}

// NewImporter creates an importer over the raw store.
func NewImporter(s store.Store) *Importer {
	return &Importer{store: s}
}

// Import reads NDJSON lines, groups them by type, stamps every row with the
// target tenant, and inserts in dependency order. Existing primary keys are
// skipped (idempotent re-import). Bad lines are collected, not fatal.
func (i *Importer) Import(ctx context.Context, r io.Reader, tenantID string) (*ImportResult, error) {
	result := &ImportResult{}

	var agents []*models.Agent
	var sessions []*models.Session
	var events []*models.Event
	var scores []*models.HealthScore

	hasher := sha256.New()
	var dataLines int64
	var claimed string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var head struct {
			Type string          `json:"_type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			result.Errors = append(result.Errors, ImportError{Line: lineNo, Message: "invalid JSON: " + err.Error()})
			continue
		}

		if head.Type == TypeChecksum {
			var sum checksumLine
			if err := json.Unmarshal(raw, &sum); err != nil {
				result.Errors = append(result.Errors, ImportError{Line: lineNo, Message: "invalid checksum line: " + err.Error()})
				continue
			}
			claimed = sum.SHA256
			continue
		}

		// Checksum covers data lines joined by newlines, in stream order.
		if dataLines > 0 {
			hasher.Write([]byte("\n"))
		}
		hasher.Write(raw)
		dataLines++

		switch head.Type {
		case TypeAgent:
			var a models.Agent
			if err := json.Unmarshal(head.Data, &a); err != nil {
				result.Errors = append(result.Errors, ImportError{Line: lineNo, Message: "invalid agent: " + err.Error()})
				continue
			}
			a.TenantID = tenantID
			agents = append(agents, &a)
		case TypeSession:
			var s models.Session
			if err := json.Unmarshal(head.Data, &s); err != nil {
				result.Errors = append(result.Errors, ImportError{Line: lineNo, Message: "invalid session: " + err.Error()})
				continue
			}
			s.TenantID = tenantID
			sessions = append(sessions, &s)
		case TypeEvent:
			var ev models.Event
			if err := json.Unmarshal(head.Data, &ev); err != nil {
				result.Errors = append(result.Errors, ImportError{Line: lineNo, Message: "invalid event: " + err.Error()})
				continue
			}
			ev.TenantID = tenantID
			events = append(events, &ev)
		case TypeHealthScore:
			var hs models.HealthScore
			if err := json.Unmarshal(head.Data, &hs); err != nil {
				result.Errors = append(result.Errors, ImportError{Line: lineNo, Message: "invalid health score: " + err.Error()})
				continue
			}
			hs.TenantID = tenantID
			scores = append(scores, &hs)
		default:
			result.Errors = append(result.Errors, ImportError{Line: lineNo, Message: "unknown record type " + head.Type})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read export stream: %w", err)
	}

	if claimed != "" {
		valid := claimed == hex.EncodeToString(hasher.Sum(nil))
		result.ChecksumValid = &valid
	}

	for _, a := range agents {
		inserted, err := i.importAgent(ctx, a)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{Message: "agent " + a.ID + ": " + err.Error()})
			continue
		}
		if inserted {
			result.Imported++
		}
	}

	// Events go in before the session lines: inserting an event rebuilds its
	// session aggregate, so session rows materialized here make the exported
	// session lines hit conflict-do-nothing instead of double-counting.
	imported, errs := i.importEvents(ctx, tenantID, events)
	result.Imported += imported
	result.Errors = append(result.Errors, errs...)

	for _, s := range sessions {
		inserted, err := i.importSession(ctx, s)
		if err != nil {
			result.Errors = append(result.Errors, ImportError{Message: "session " + s.ID + ": " + err.Error()})
			continue
		}
		if inserted {
			result.Imported++
		}
	}

	if len(scores) > 0 {
		if err := i.store.InsertHealthScores(ctx, scores); err != nil {
			result.Errors = append(result.Errors, ImportError{Message: "health scores: " + err.Error()})
		} else {
			result.Imported += int64(len(scores))
		}
	}
	return result, nil
}

func (i *Importer) importAgent(ctx context.Context, a *models.Agent) (bool, error) {
	if _, err := i.store.GetAgent(ctx, a.TenantID, a.ID); err == nil {
		return false, nil // conflict-do-nothing
	}
	return true, i.store.UpsertAgent(ctx, a)
}

func (i *Importer) importSession(ctx context.Context, s *models.Session) (bool, error) {
	if _, err := i.store.GetSession(ctx, s.TenantID, s.ID); err == nil {
		return false, nil
	}
	return true, i.store.UpsertSession(ctx, s)
}

func (i *Importer) importEvents(ctx context.Context, tenantID string, events []*models.Event) (int64, []ImportError) {
	var imported int64
	var errs []ImportError
	for _, ev := range events {
		if _, err := i.store.GetEvent(ctx, tenantID, ev.ID); err == nil {
			continue
		}
		if err := i.store.InsertEvents(ctx, tenantID, []*models.Event{ev}); err != nil {
			errs = append(errs, ImportError{Message: "event " + ev.ID + ": " + err.Error()})
			continue
		}
		imported++
	}
	return imported, errs
}

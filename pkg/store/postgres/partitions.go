package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/agentlens/agentlens/pkg/store"
)

// Month partitions are named events_y2026m08. Rows outside the maintained
// window land in events_default so inserts never fail mid-converge.

func partitionName(month time.Time) string {
	return fmt.Sprintf("events_y%04dm%02d", month.Year(), int(month.Month()))
}

// EnsurePartition creates the month partition if it does not exist.
func (p *PGStore) EnsurePartition(ctx context.Context, month time.Time) error {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s PARTITION OF events
		FOR VALUES FROM ('%s') TO ('%s')`,
		partitionName(start),
		start.Format("2006-01-02"), end.Format("2006-01-02")))
	return err
}

// ListPartitions returns the existing month partitions with their bounds,
// excluding the default catch-all.
func (p *PGStore) ListPartitions(ctx context.Context) ([]store.PartitionInfo, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class parent ON parent.oid = i.inhparent
		WHERE parent.relname = 'events' AND c.relname <> 'events_default'
		ORDER BY c.relname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partitions []store.PartitionInfo
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		var year, monthNum int
		if _, err := fmt.Sscanf(name, "events_y%4dm%2d", &year, &monthNum); err != nil {
			continue // not a month partition
		}
		start := time.Date(year, time.Month(monthNum), 1, 0, 0, 0, 0, time.UTC)
		partitions = append(partitions, store.PartitionInfo{
			Name:  name,
			Start: start,
			End:   start.AddDate(0, 1, 0),
		})
	}
	return partitions, rows.Err()
}

// DropPartitionsBefore drops month partitions whose range ends at or before
// the given month. Returns the number dropped.
func (p *PGStore) DropPartitionsBefore(ctx context.Context, month time.Time) (int, error) {
	boundary := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)

	partitions, err := p.ListPartitions(ctx)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, part := range partitions {
		if part.End.After(boundary) {
			continue
		}
		if _, err := p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+part.Name); err != nil {
			return dropped, err
		}
		dropped++
	}
	return dropped, nil
}

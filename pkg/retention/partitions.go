package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/agentlens/agentlens/pkg/config"
	"github.com/agentlens/agentlens/pkg/store"
)

// PartitionHealth reports problems with the current partition layout.
type PartitionHealth struct {
	Healthy       bool     `json:"healthy"`
	Partitions    int      `json:"partitions"`
	MissingFuture []string `json:"missingFuture,omitempty"`
	Gaps          []string `json:"gaps,omitempty"`
}

// PartitionManager keeps a partitioned backend's month partitions covering
// the window currentMonth−minRetentionMonths .. currentMonth+futureMonths.
type PartitionManager struct {
	store        store.PartitionedStore
	futureMonths int
	nowFunc      func() time.Time
}

// NewPartitionManager creates a manager over a partitioned backend.
func NewPartitionManager(ps store.PartitionedStore, futureMonths int) *PartitionManager {
	if futureMonths <= 0 {
		futureMonths = 3
	}
	return &PartitionManager{
		store:        ps,
		futureMonths: futureMonths,
		nowFunc:      time.Now,
	}
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// window returns the inclusive first and last months the layout must cover.
func (m *PartitionManager) window() (time.Time, time.Time) {
	current := monthStart(m.nowFunc())
	first := current.AddDate(0, -config.MaxAuditRetentionMonths(), 0)
	last := current.AddDate(0, m.futureMonths, 0)
	return first, last
}

// Maintain creates every missing partition in the window and drops partitions
// strictly older than it. Returns (created, dropped).
func (m *PartitionManager) Maintain(ctx context.Context) (int, int, error) {
	first, last := m.window()

	existing, err := m.store.ListPartitions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list partitions: %w", err)
	}
	have := make(map[time.Time]bool, len(existing))
	for _, p := range existing {
		have[monthStart(p.Start)] = true
	}

	created := 0
	for month := first; !month.After(last); month = month.AddDate(0, 1, 0) {
		if have[month] {
			continue
		}
		if err := m.store.EnsurePartition(ctx, month); err != nil {
			return created, 0, fmt.Errorf("ensure partition %s: %w", month.Format("2006-01"), err)
		}
		created++
	}

	dropped, err := m.store.DropPartitionsBefore(ctx, first)
	if err != nil {
		return created, dropped, fmt.Errorf("drop old partitions: %w", err)
	}
	return created, dropped, nil
}

// Health reports missing future partitions and gaps between consecutive
// existing partitions, without modifying anything.
func (m *PartitionManager) Health(ctx context.Context) (*PartitionHealth, error) {
	existing, err := m.store.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[time.Time]bool, len(existing))
	var oldest, newest time.Time
	for i, p := range existing {
		month := monthStart(p.Start)
		have[month] = true
		if i == 0 || month.Before(oldest) {
			oldest = month
		}
		if i == 0 || month.After(newest) {
			newest = month
		}
	}

	health := &PartitionHealth{Partitions: len(existing)}

	current := monthStart(m.nowFunc())
	for i := 0; i <= m.futureMonths; i++ {
		month := current.AddDate(0, i, 0)
		if !have[month] {
			health.MissingFuture = append(health.MissingFuture, month.Format("2006-01"))
		}
	}

	if len(existing) > 1 {
		for month := oldest; month.Before(newest); month = month.AddDate(0, 1, 0) {
			if !have[month] {
				health.Gaps = append(health.Gaps, month.Format("2006-01"))
			}
		}
	}

	health.Healthy = len(health.MissingFuture) == 0 && len(health.Gaps) == 0
	return health, nil
}

package repository

import (
	"context"
	"sort"
	"sync"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
)

// MemoryJournal is an in-process Journal used when no database is configured.
type MemoryJournal struct {
	mu        sync.RWMutex
	seq       int64
	decisions map[string]memDecision
	outcomes  map[string]models.TradeOutcome
	// failing makes every write return StoreUnavailable.
	failing bool
}

type memDecision struct {
	d   models.Decision
	seq int64
}

var _ domrepo.Journal = (*MemoryJournal)(nil)

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		decisions: make(map[string]memDecision),
		outcomes:  make(map[string]models.TradeOutcome),
	}
}

// SetFailing toggles simulated backing-store outages.
func (j *MemoryJournal) SetFailing(v bool) {
	j.mu.Lock()
	j.failing = v
	j.mu.Unlock()
}

func (j *MemoryJournal) Init(context.Context) error { return nil }

func (j *MemoryJournal) AppendDecision(_ context.Context, d *models.Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failing {
		return models.Errorf(models.KindStoreUnavailable, "journal unavailable")
	}
	if _, ok := j.decisions[d.ID]; ok {
		return nil
	}
	j.seq++
	j.decisions[d.ID] = memDecision{d: *d, seq: j.seq}
	return nil
}

func (j *MemoryJournal) AppendOutcome(_ context.Context, o *models.TradeOutcome) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failing {
		return false, models.Errorf(models.KindStoreUnavailable, "journal unavailable")
	}
	if _, ok := j.decisions[o.DecisionID]; !ok {
		return false, models.Errorf(models.KindBadInput, "unknown decision %s", o.DecisionID)
	}
	if _, ok := j.outcomes[o.DecisionID]; ok {
		return false, nil
	}
	j.outcomes[o.DecisionID] = *o
	return true, nil
}

func (j *MemoryJournal) GetDecision(_ context.Context, id string) (*models.Decision, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	md, ok := j.decisions[id]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	d := md.d
	return &d, nil
}

func (j *MemoryJournal) Entries(_ context.Context, symbol, timeframe string, limit int) ([]models.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	picked := make([]memDecision, 0)
	for _, md := range j.decisions {
		if md.d.Symbol == symbol && md.d.Timeframe == timeframe {
			picked = append(picked, md)
		}
	}
	sort.Slice(picked, func(a, b int) bool {
		if picked[a].d.T != picked[b].d.T {
			return picked[a].d.T > picked[b].d.T
		}
		return picked[a].seq > picked[b].seq
	})
	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	out := make([]models.JournalEntry, len(picked))
	for i, md := range picked {
		out[i].Decision = md.d
		if o, ok := j.outcomes[md.d.ID]; ok {
			oc := o
			out[i].Outcome = &oc
		}
	}
	return out, nil
}

func (j *MemoryJournal) Health(context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.failing {
		return models.Errorf(models.KindStoreUnavailable, "journal unavailable")
	}
	return nil
}

func (j *MemoryJournal) Close() error { return nil }

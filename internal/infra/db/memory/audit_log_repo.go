package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/model"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*AuditLogRepo)(nil)

type AuditLogRepo struct {
	mu      sync.RWMutex
	entries []*model.AuditLogEntry
}

func NewAuditLogRepo() *AuditLogRepo { return &AuditLogRepo{} }

func (r *AuditLogRepo) Save(ctx context.Context, tx repository.Tx, entry *model.AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == entry.ID {
			return domain.ErrAlreadyExists
		}
	}
	cp := *entry
	cp.RequestBody = cloneMap(entry.RequestBody)
	cp.Metadata = cloneMap(entry.Metadata)
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *AuditLogRepo) Query(ctx context.Context, tx repository.Tx, f model.AuditLogFilter) ([]*model.AuditLogEntry, int, error) {
	f.Normalize()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*model.AuditLogEntry
	for _, e := range r.entries {
		if matchesAudit(e, f) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	start := f.Offset()
	if start >= total {
		return []*model.AuditLogEntry{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	out := make([]*model.AuditLogEntry, 0, end-start)
	for _, e := range matched[start:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out, total, nil
}

func matchesAudit(e *model.AuditLogEntry, f model.AuditLogFilter) bool {
	switch {
	case f.Action != "" && e.Action != f.Action,
		f.ResourceType != "" && e.ResourceType != f.ResourceType,
		f.ResourceID != "" && e.ResourceID != f.ResourceID,
		f.UserID != "" && e.UserID != f.UserID,
		f.IPAddress != "" && e.IPAddress != f.IPAddress,
		f.From != nil && e.CreatedAt.Before(*f.From),
		f.To != nil && e.CreatedAt.After(*f.To):
		return false
	}
	return true
}

func (r *AuditLogRepo) Stats(ctx context.Context, tx repository.Tx, since time.Time, top int) (*model.AuditStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &model.AuditStats{Since: since, ByAction: []model.KeyCount{}, ByIP: []model.KeyCount{}}
	byAction := map[string]int{}
	byIP := map[string]int{}
	var latency int64
	for _, e := range r.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		s.Total++
		if e.Succeeded() {
			s.Success++
		} else {
			s.Errors++
		}
		latency += e.LatencyMs
		if e.LatencyMs > s.MaxLatencyMs {
			s.MaxLatencyMs = e.LatencyMs
		}
		byAction[e.Action]++
		if e.IPAddress != "" {
			byIP[e.IPAddress]++
		}
	}
	if s.Total > 0 {
		s.AvgLatencyMs = float64(latency) / float64(s.Total)
	}
	s.ByAction = topCounts(byAction, top)
	s.ByIP = topCounts(byIP, top)
	return s, nil
}

func topCounts(m map[string]int, top int) []model.KeyCount {
	out := make([]model.KeyCount, 0, len(m))
	for k, v := range m {
		out = append(out, model.KeyCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func (r *AuditLogRepo) DeleteBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	n := 0
	for _, e := range r.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return n, nil
}

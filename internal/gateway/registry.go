package gateway

import (
	"sort"
	"time"
)

// Record is the presence entry for one live connection.
type Record struct {
	ConnectionID   string
	UserID         string
	ConnectedAt    time.Time
	LastActivityAt time.Time
}

// Registry is an in-memory index of currently authenticated connections.
// It approximates presence and never gates message dispatch; the transport's
// own room membership is always the delivery authority.
//
// The registry holds no locks of its own. The gateway owns it and serializes
// all access under its hub lock.
type Registry struct {
	records    map[string]*Record
	staleAfter time.Duration
	now        func() time.Time
}

// NewRegistry builds a registry evicting records idle for longer than
// staleAfter during reconciliation.
func NewRegistry(staleAfter time.Duration) *Registry {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &Registry{
		records:    make(map[string]*Record),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Add registers a connection for a user. The user id is immutable for the
// life of the record.
func (r *Registry) Add(connectionID, userID string) {
	now := r.now()
	r.records[connectionID] = &Record{
		ConnectionID:   connectionID,
		UserID:         userID,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
}

// Remove drops a connection record. Removing an unknown id is a no-op.
func (r *Registry) Remove(connectionID string) bool {
	if _, ok := r.records[connectionID]; !ok {
		return false
	}
	delete(r.records, connectionID)
	return true
}

// Touch refreshes the last-activity timestamp for a connection.
func (r *Registry) Touch(connectionID string) {
	if rec, ok := r.records[connectionID]; ok {
		rec.LastActivityAt = r.now()
	}
}

// ByUser lists the connection ids owned by a user, sorted for determinism.
func (r *Registry) ByUser(userID string) []string {
	var ids []string
	for id, rec := range r.records {
		if rec.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsUserOnline reports whether a user owns at least one live record.
func (r *Registry) IsUserOnline(userID string) bool {
	for _, rec := range r.records {
		if rec.UserID == userID {
			return true
		}
	}
	return false
}

// Count returns the number of live records.
func (r *Registry) Count() int {
	return len(r.records)
}

// Records copies all current entries for reporting.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Clear drops every record.
func (r *Registry) Clear() {
	r.records = make(map[string]*Record)
}

// Reconcile sweeps the registry against the transport's live connection set.
// Pass one removes records that are both stale and absent from the live set;
// staleness alone never evicts, so idle-but-healthy long-lived connections
// survive. Pass two removes any record absent from the live set regardless
// of staleness, covering connections that died without a disconnect event.
// The live set is re-queried before each pass because it can change between
// them. Returns the number of records removed by each pass.
func (r *Registry) Reconcile(liveSet func() map[string]struct{}) (stale, orphaned int) {
	cutoff := r.now().Add(-r.staleAfter)

	var staleIDs []string
	for id, rec := range r.records {
		if rec.LastActivityAt.Before(cutoff) {
			staleIDs = append(staleIDs, id)
		}
	}
	if len(staleIDs) > 0 {
		live := liveSet()
		for _, id := range staleIDs {
			if _, ok := live[id]; !ok {
				delete(r.records, id)
				stale++
			}
		}
	}

	live := liveSet()
	for id := range r.records {
		if _, ok := live[id]; !ok {
			delete(r.records, id)
			orphaned++
		}
	}
	return stale, orphaned
}

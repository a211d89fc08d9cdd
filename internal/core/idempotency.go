package core

import (
	"fmt"

	"FlashLedger/internal/observability"
	"FlashLedger/internal/state"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// DefaultIdempotencyCapacity bounds the in-memory tier.
const DefaultIdempotencyCapacity = 100_000

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU in
// front of the durable event log.
type IdempotencyChecker struct {
	lru       *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType, caller, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics, log zerolog.Logger) (*IdempotencyChecker, error) {
	if capacity <= 0 {
		capacity = DefaultIdempotencyCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	return &IdempotencyChecker{
		lru:       cache,
		dbChecker: dbChecker,
		metrics:   metrics,
		log:       log,
	}, nil
}

// CompositeKey is the LRU form of a command key. Keys are scoped to the
// caller so one principal cannot claim another's command id.
func CompositeKey(eventType, caller, idempotencyKey string) string {
	return eventType + ":" + caller + ":" + idempotencyKey
}

// IsDuplicate checks if a command has already been committed. When the LRU
// misses and the durable lookup fails, the answer is unknown and the error
// wraps state.ErrDedupUnavailable; the command must be retried later.
func (ic *IdempotencyChecker) IsDuplicate(eventType, caller, idempotencyKey string) (bool, error) {
	key := CompositeKey(eventType, caller, idempotencyKey)

	if ic.lru.Contains(key) {
		ic.recordDuplicate(eventType, "lru")
		return true, nil
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, caller, idempotencyKey)
		if err != nil {
			ic.log.Warn().Err(err).Str("event_type", eventType).Msg("tier-2 idempotency lookup failed")
			if ic.metrics != nil {
				ic.metrics.DedupTier2Errors.Inc()
			}
			return false, fmt.Errorf("%w: %v", state.ErrDedupUnavailable, err)
		}
		if isDup {
			ic.recordDuplicate(eventType, "postgres")
			ic.lru.Add(key, struct{}{})
			return true, nil
		}
	}

	return false, nil
}

// MarkProcessed adds key to LRU after a successful commit.
func (ic *IdempotencyChecker) MarkProcessed(eventType, caller, idempotencyKey string) {
	ic.lru.Add(CompositeKey(eventType, caller, idempotencyKey), struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
	}
}

// Warm loads composite keys (as returned by Keys) into the LRU.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.Add(key, struct{}{})
	}
}

// Keys returns the composite keys currently cached, oldest first.
func (ic *IdempotencyChecker) Keys() []string {
	raw := ic.lru.Keys()
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Size returns current number of entries
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

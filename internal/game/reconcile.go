package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const REDIS_KEY_RECONCILE = "reaper:reconcile"

type FailureKind string

const (
	FailureSettlement FailureKind = "settlement"
	FailureRefund     FailureKind = "refund"
)

// PendingCredit is a credit that could not be applied within the retry budget.
type PendingCredit struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
	Ref    string `json:"ref"`
}

// Failure describes a round whose settlement or refund needs operator attention.
type Failure struct {
	RoundID  string          `json:"round_id"`
	Game     GameType        `json:"game"`
	Kind     FailureKind     `json:"kind"`
	Pending  []PendingCredit `json:"pending,omitempty"`
	Error    string          `json:"error"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// Reconciler keeps the list of rounds whose money movement or archive did
// not complete. Entries are mirrored to a redis hash when a client is set,
// and Load brings them back after a restart.
type Reconciler struct {
	mu       sync.Mutex
	failures map[string]Failure
	mirror   *redis.Client
	key      string
	log      *zap.Logger
}

func NewReconciler(mirror *redis.Client, log *zap.Logger) *Reconciler {
	return &Reconciler{
		failures: make(map[string]Failure),
		mirror:   mirror,
		key:      REDIS_KEY_RECONCILE,
		log:      log.Named("reconcile"),
	}
}

// Load restores the failures mirrored by an earlier process and returns
// how many were added. Entries already held are kept as they are.
func (rc *Reconciler) Load(ctx context.Context) (int, error) {
	if rc.mirror == nil {
		return 0, nil
	}
	entries, err := rc.mirror.HGetAll(ctx, rc.key).Result()
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", rc.key, err)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	loaded := 0
	for roundID, raw := range entries {
		if _, ok := rc.failures[roundID]; ok {
			continue
		}
		var f Failure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			rc.log.Warn("skip unreadable failure", zap.String("round_id", roundID), zap.Error(err))
			continue
		}
		f.RoundID = roundID
		rc.failures[roundID] = f
		loaded++
	}
	return loaded, nil
}

func (rc *Reconciler) Record(ctx context.Context, f Failure) {
	rc.mu.Lock()
	if prev, ok := rc.failures[f.RoundID]; ok {
		f.Attempts = prev.Attempts
	}
	f.Attempts++
	f.FailedAt = time.Now()
	rc.failures[f.RoundID] = f
	rc.mu.Unlock()

	rc.log.Error("round handed to reconciliation",
		zap.String("round_id", f.RoundID),
		zap.String("game", string(f.Game)),
		zap.String("kind", string(f.Kind)),
		zap.Int("pending_credits", len(f.Pending)),
		zap.Int("attempts", f.Attempts),
		zap.String("error", f.Error))

	if rc.mirror == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := rc.mirror.HSet(ctx, rc.key, f.RoundID, data).Err(); err != nil {
		rc.log.Warn("mirror failure to redis", zap.String("round_id", f.RoundID), zap.Error(err))
	}
}

// Resolve drops the failure for roundID, reporting whether there was one.
func (rc *Reconciler) Resolve(ctx context.Context, roundID string) bool {
	rc.mu.Lock()
	_, ok := rc.failures[roundID]
	delete(rc.failures, roundID)
	rc.mu.Unlock()
	if !ok {
		return false
	}

	rc.log.Info("round reconciled", zap.String("round_id", roundID))
	if rc.mirror == nil {
		return true
	}
	if err := rc.mirror.HDel(ctx, rc.key, roundID).Err(); err != nil {
		rc.log.Warn("clear mirrored failure", zap.String("round_id", roundID), zap.Error(err))
	}
	return true
}

func (rc *Reconciler) Get(roundID string) (Failure, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	f, ok := rc.failures[roundID]
	return f, ok
}

// List returns open failures, oldest first.
func (rc *Reconciler) List() []Failure {
	rc.mu.Lock()
	out := make([]Failure, 0, len(rc.failures))
	for _, f := range rc.failures {
		out = append(out, f)
	}
	rc.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out
}

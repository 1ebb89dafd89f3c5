package weight

import (
	"go.uber.org/zap"

	"github.com/obiwan-smirnobi/clusterclient.core/replica"
	"github.com/obiwan-smirnobi/clusterclient.core/storage"
)

// LeaderResultDetector decides whether a completed attempt was served by
// the cluster's current leader. It must be pure: no side effects, no
// blocking.
type LeaderResultDetector interface {
	IsLeaderResult(result replica.ReplicaResult) bool
}

// LeadershipModifier implements the leadership weight modifier described
// in spec.md §4.3: every replica starts out assumed non-leader, so its
// base weight becomes 0 (excluded from ordering, until the all-zero
// fallback kicks in). When a result is classified as served-by-leader,
// that replica transitions to leader and its weight passes through
// unchanged. Transitions are logged.
type LeadershipModifier struct {
	Namespace string
	Scope     storage.Scope
	Detector  LeaderResultDetector
	Logger    *zap.Logger
}

// NewLeadershipModifier creates a LeadershipModifier. If logger is nil, a
// no-op logger is used.
func NewLeadershipModifier(namespace string, scope storage.Scope, detector LeaderResultDetector, logger *zap.Logger) *LeadershipModifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeadershipModifier{Namespace: namespace, Scope: scope, Detector: detector, Logger: logger}
}

var _ Modifier = (*LeadershipModifier)(nil)

func (m *LeadershipModifier) store(access StorageAccess) *storage.Typed[bool] {
	return storage.Obtain[bool](access.Registry(m.Scope), m.Namespace)
}

func (m *LeadershipModifier) Modify(ctx ModifyContext) {
	isLeader, _ := m.store(ctx.Storage).Get(ctx.Replica)
	if !isLeader {
		*ctx.Weight = 0
	}
	// leader: weight passes through unchanged
}

func (m *LeadershipModifier) Learn(ctx LearnContext) {
	isLeader := m.Detector.IsLeaderResult(ctx.Result)
	store := m.store(ctx.Storage)
	for {
		current, ok := store.Get(ctx.Result.Replica)
		if !ok {
			if !store.TryAdd(ctx.Result.Replica, false) {
				continue
			}
			current = false
		}
		if current == isLeader {
			return // no transition
		}
		if store.TryUpdate(ctx.Result.Replica, isLeader, current) {
			if isLeader {
				m.Logger.Info("replica promoted to leader", zap.String("replica", ctx.Result.Replica.String()))
			} else {
				m.Logger.Info("replica demoted from leader", zap.String("replica", ctx.Result.Replica.String()))
			}
			return
		}
	}
}

package leader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	coordclient "k8s.io/client-go/kubernetes/typed/coordination/v1"

	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/timer"
)

// Elector runs the lease-based leader election. All replicas evaluate the
// same state machine every renew interval; transitions are published to
// subscribers edge-triggered.
type Elector struct {
	client   kubernetes.Interface
	cfg      config.LeaderElectionConfig
	identity string
	liveness *timer.LivenessVector
	logger   *zap.Logger

	isLeader atomic.Bool

	mu            sync.Mutex
	currentHolder string
	subscribers   []func(isLeader bool)
}

// New creates an elector. The identity is the pod name when available, else
// a fresh random identifier.
func New(client kubernetes.Interface, cfg config.LeaderElectionConfig, podName string, liveness *timer.LivenessVector, logger *zap.Logger) *Elector {
	identity := podName
	if identity == "" {
		identity = "argus-" + uuid.NewString()[:8]
	}
	return &Elector{
		client:   client,
		cfg:      cfg,
		identity: identity,
		liveness: liveness,
		logger:   logger,
	}
}

// Identity returns this replica's lease holder identity.
func (e *Elector) Identity() string {
	return e.identity
}

// IsLeader reports whether this replica currently holds the lease.
func (e *Elector) IsLeader() bool {
	return e.isLeader.Load()
}

// CurrentHolder returns the last observed lease holder identity.
func (e *Elector) CurrentHolder() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentHolder
}

// Subscribe registers a callback invoked on each leadership transition.
func (e *Elector) Subscribe(fn func(isLeader bool)) {
	e.mu.Lock()
	e.subscribers = append(e.subscribers, fn)
	e.mu.Unlock()
}

// Tick is the central timer callback: renew when leader, otherwise try to
// acquire.
func (e *Elector) Tick(ctx context.Context, tick int64, correlationID string) error {
	leases := e.client.CoordinationV1().Leases(e.cfg.Namespace)

	if e.isLeader.Load() {
		e.renew(ctx, leases, correlationID)
	} else {
		e.acquire(ctx, leases, correlationID)
	}

	e.liveness.RecordExecution("leader-election", int64(e.cfg.RenewIntervalSeconds), tick)
	return nil
}

func (e *Elector) renew(ctx context.Context, leases coordclient.LeaseInterface, correlationID string) {
	lease, err := leases.Get(ctx, e.cfg.LeaseName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			e.logger.Warn("lease disappeared while leader, demoting",
				zap.String("lease", e.cfg.LeaseName),
				zap.String("correlation_id", correlationID))
			e.setLeader(false, "")
			return
		}
		e.logger.Warn("lease read failed during renewal",
			zap.String("lease", e.cfg.LeaseName),
			zap.Error(err))
		return
	}

	holder := ""
	if lease.Spec.HolderIdentity != nil {
		holder = *lease.Spec.HolderIdentity
	}
	if holder != e.identity {
		e.logger.Warn("lease taken over by another replica, demoting",
			zap.String("lease", e.cfg.LeaseName),
			zap.String("holder", holder),
			zap.String("correlation_id", correlationID))
		e.setLeader(false, holder)
		return
	}

	now := metav1.NewMicroTime(time.Now())
	lease.Spec.RenewTime = &now
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) || apierrors.IsNotFound(err) {
			e.logger.Warn("lease renewal conflicted, demoting",
				zap.String("lease", e.cfg.LeaseName),
				zap.Error(err))
			e.setLeader(false, "")
			return
		}
		e.logger.Warn("lease renewal failed",
			zap.String("lease", e.cfg.LeaseName),
			zap.Error(err))
	}
}

func (e *Elector) acquire(ctx context.Context, leases coordclient.LeaseInterface, correlationID string) {
	lease, err := leases.Get(ctx, e.cfg.LeaseName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			e.create(ctx, leases)
			return
		}
		e.logger.Warn("lease read failed during acquisition",
			zap.String("lease", e.cfg.LeaseName),
			zap.Error(err))
		return
	}

	holder := ""
	if lease.Spec.HolderIdentity != nil {
		holder = *lease.Spec.HolderIdentity
	}

	now := time.Now()
	expired := lease.Spec.RenewTime == nil ||
		now.Sub(lease.Spec.RenewTime.Time) > time.Duration(e.cfg.LeaseDurationSeconds)*time.Second

	if !expired && holder != e.identity {
		e.rememberHolder(holder)
		return
	}

	// Claim: lease expired or we are already the recorded holder.
	leaseDuration := int32(e.cfg.LeaseDurationSeconds)
	identity := e.identity
	acquireTime := metav1.NewMicroTime(now)
	if lease.Spec.AcquireTime != nil {
		acquireTime = *lease.Spec.AcquireTime
	}
	renewTime := metav1.NewMicroTime(now)

	lease.Spec.HolderIdentity = &identity
	lease.Spec.LeaseDurationSeconds = &leaseDuration
	lease.Spec.AcquireTime = &acquireTime
	lease.Spec.RenewTime = &renewTime

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			e.logger.Info("lease claim conflicted, staying follower",
				zap.String("lease", e.cfg.LeaseName),
				zap.String("correlation_id", correlationID))
			return
		}
		e.logger.Warn("lease claim failed",
			zap.String("lease", e.cfg.LeaseName),
			zap.Error(err))
		return
	}

	e.setLeader(true, e.identity)
}

func (e *Elector) create(ctx context.Context, leases coordclient.LeaseInterface) {
	now := metav1.NewMicroTime(time.Now())
	leaseDuration := int32(e.cfg.LeaseDurationSeconds)
	identity := e.identity

	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      e.cfg.LeaseName,
			Namespace: e.cfg.Namespace,
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &identity,
			LeaseDurationSeconds: &leaseDuration,
			AcquireTime:          &now,
			RenewTime:            &now,
		},
	}

	if _, err := leases.Create(ctx, lease, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) || apierrors.IsConflict(err) {
			// Another replica created it first; re-read next tick.
			return
		}
		e.logger.Warn("lease creation failed",
			zap.String("lease", e.cfg.LeaseName),
			zap.Error(err))
		return
	}

	e.setLeader(true, e.identity)
}

// Resign demotes without publishing a transition, for shutdown.
func (e *Elector) Resign() {
	if !e.isLeader.Swap(false) {
		return
	}
	e.logger.Info("resigned leadership", zap.String("identity", e.identity))
}

func (e *Elector) rememberHolder(holder string) {
	e.mu.Lock()
	e.currentHolder = holder
	e.mu.Unlock()
}

// setLeader flips the leadership flag and notifies subscribers only on an
// actual transition.
func (e *Elector) setLeader(isLeader bool, holder string) {
	changed := e.isLeader.Swap(isLeader) != isLeader

	e.mu.Lock()
	e.currentHolder = holder
	subscribers := make([]func(bool), len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.mu.Unlock()

	if !changed {
		return
	}

	if isLeader {
		e.logger.Info("became leader",
			zap.String("identity", e.identity),
			zap.String("lease", e.cfg.LeaseName))
	} else {
		e.logger.Info("became follower",
			zap.String("identity", e.identity),
			zap.String("holder", holder),
			zap.String("lease", e.cfg.LeaseName))
	}

	for _, fn := range subscribers {
		fn(isLeader)
	}
}

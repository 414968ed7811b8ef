package leader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/timer"
)

func testConfig() config.LeaderElectionConfig {
	return config.LeaderElectionConfig{
		LeaseName:            "argus-leader",
		Namespace:            "monitoring",
		LeaseDurationSeconds: 30,
		RenewIntervalSeconds: 10,
	}
}

func leaseFixture(holder string, renewedAt time.Time) *coordinationv1.Lease {
	duration := int32(30)
	renew := metav1.NewMicroTime(renewedAt)
	acquire := metav1.NewMicroTime(renewedAt.Add(-time.Hour))
	return &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "argus-leader",
			Namespace: "monitoring",
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			LeaseDurationSeconds: &duration,
			AcquireTime:          &acquire,
			RenewTime:            &renew,
		},
	}
}

func TestAcquireCreatesMissingLease(t *testing.T) {
	client := fake.NewSimpleClientset()
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))

	assert.True(t, elector.IsLeader())
	lease, err := client.CoordinationV1().Leases("monitoring").Get(context.Background(), "argus-leader", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pod-a", *lease.Spec.HolderIdentity)
	assert.NotNil(t, lease.Spec.RenewTime)
}

func TestAcquireClaimsExpiredLease(t *testing.T) {
	stale := leaseFixture("pod-old", time.Now().Add(-2*time.Minute))
	client := fake.NewSimpleClientset(stale)
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))

	assert.True(t, elector.IsLeader())
	lease, err := client.CoordinationV1().Leases("monitoring").Get(context.Background(), "argus-leader", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pod-a", *lease.Spec.HolderIdentity)
	assert.Equal(t, stale.Spec.AcquireTime.Time, lease.Spec.AcquireTime.Time, "the prior acquire time is preserved")
}

func TestAcquireRespectsFreshLease(t *testing.T) {
	client := fake.NewSimpleClientset(leaseFixture("pod-other", time.Now()))
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))

	assert.False(t, elector.IsLeader())
	assert.Equal(t, "pod-other", elector.CurrentHolder())
}

func TestRenewKeepsLeadership(t *testing.T) {
	client := fake.NewSimpleClientset()
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))
	require.True(t, elector.IsLeader())

	before, err := client.CoordinationV1().Leases("monitoring").Get(context.Background(), "argus-leader", metav1.GetOptions{})
	require.NoError(t, err)
	renewBefore := before.Spec.RenewTime.Time

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, elector.Tick(context.Background(), 20, "corr"))

	assert.True(t, elector.IsLeader())
	after, err := client.CoordinationV1().Leases("monitoring").Get(context.Background(), "argus-leader", metav1.GetOptions{})
	require.NoError(t, err)
	assert.True(t, after.Spec.RenewTime.Time.After(renewBefore))
}

func TestRenewDemotesOnTakeover(t *testing.T) {
	client := fake.NewSimpleClientset()
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))
	require.True(t, elector.IsLeader())

	// Another replica rewrites the lease under us.
	takeover := leaseFixture("pod-b", time.Now())
	_, err := client.CoordinationV1().Leases("monitoring").Update(context.Background(), takeover, metav1.UpdateOptions{})
	require.NoError(t, err)

	require.NoError(t, elector.Tick(context.Background(), 20, "corr"))

	assert.False(t, elector.IsLeader())
	assert.Equal(t, "pod-b", elector.CurrentHolder())
}

func TestRenewDemotesOnDeletedLease(t *testing.T) {
	client := fake.NewSimpleClientset()
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))
	require.True(t, elector.IsLeader())

	require.NoError(t, client.CoordinationV1().Leases("monitoring").Delete(context.Background(), "argus-leader", metav1.DeleteOptions{}))
	require.NoError(t, elector.Tick(context.Background(), 20, "corr"))

	assert.False(t, elector.IsLeader())
}

func TestSubscribersNotifiedOncePerTransition(t *testing.T) {
	client := fake.NewSimpleClientset()
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	var transitions []bool
	elector.Subscribe(func(isLeader bool) {
		transitions = append(transitions, isLeader)
	})

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))
	require.NoError(t, elector.Tick(context.Background(), 20, "corr"))
	require.NoError(t, elector.Tick(context.Background(), 30, "corr"))
	assert.Equal(t, []bool{true}, transitions, "renewals must not re-notify")

	require.NoError(t, client.CoordinationV1().Leases("monitoring").Delete(context.Background(), "argus-leader", metav1.DeleteOptions{}))
	require.NoError(t, elector.Tick(context.Background(), 40, "corr"))
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestTickStampsLiveness(t *testing.T) {
	client := fake.NewSimpleClientset()
	liveness := timer.NewLivenessVector()
	elector := New(client, testConfig(), "pod-a", liveness, zap.NewNop())

	require.NoError(t, elector.Tick(context.Background(), 42, "corr"))

	snapshot := liveness.GetSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "leader-election", snapshot[0].Name)
	assert.Equal(t, int64(42), snapshot[0].LastExecutionTick)
	assert.Equal(t, int64(10), snapshot[0].ExpectedIntervalTicks)
}

func TestIdentityFallsBackToRandom(t *testing.T) {
	elector := New(fake.NewSimpleClientset(), testConfig(), "", timer.NewLivenessVector(), zap.NewNop())
	assert.NotEmpty(t, elector.Identity())
	assert.Contains(t, elector.Identity(), "argus-")
}

func TestResignDemotesSilently(t *testing.T) {
	client := fake.NewSimpleClientset()
	elector := New(client, testConfig(), "pod-a", timer.NewLivenessVector(), zap.NewNop())

	var notified int
	elector.Subscribe(func(bool) { notified++ })

	require.NoError(t, elector.Tick(context.Background(), 10, "corr"))
	require.True(t, elector.IsLeader())
	notifiedBefore := notified

	elector.Resign()
	assert.False(t, elector.IsLeader())
	assert.Equal(t, notifiedBefore, notified, "resignation publishes no transition")
}

package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/timer"
)

func k8sLayerConfig() config.K8sLayerConfig {
	return config.K8sLayerConfig{
		PollingIntervalSeconds:  30,
		Namespace:               "monitoring",
		PrometheusLabelSelector: "app=prometheus",
		KsmLabelSelector:        "app=ksm",
		RestartTracking:         config.RestartTrackingConfig{WindowSize: 5, RestartThreshold: 3},
	}
}

func readyPod(name, app string, restarts int32) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "monitoring",
			Labels:    map[string]string{"app": app},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: corev1.ConditionTrue},
			},
			ContainerStatuses: []corev1.ContainerStatus{
				{RestartCount: restarts},
			},
		},
	}
}

func newK8sLayerFixture(t *testing.T, objects ...runtime.Object) (*alerts.Vector, *timer.LivenessVector, *K8sLayer) {
	t.Helper()
	ticks := &fakeTicks{tick: 100}
	suppression := alerts.NewSuppressionCache(ticks, alerts.SuppressionDefaults{}, zap.NewNop())
	vector := alerts.NewVector(ticks, suppression, 0, zap.NewNop())
	liveness := timer.NewLivenessVector()
	layer := NewK8sLayer(fake.NewSimpleClientset(objects...), vector, liveness, k8sLayerConfig(), config.DefaultNocConfig{}, zap.NewNop())
	return vector, liveness, layer
}

func TestK8sLayerAllHealthy(t *testing.T) {
	vector, liveness, layer := newK8sLayerFixture(t,
		readyPod("prometheus-0", "prometheus", 0),
		readyPod("ksm-0", "ksm", 0),
	)

	require.NoError(t, layer.Tick(context.Background(), 100, "corr"))

	// All three checks are CANCELs with no prior CREATEs, so the vector
	// stays empty.
	assert.Equal(t, 0, vector.Count())

	results := layer.LastResults()
	require.Len(t, results, 3)
	for _, result := range results {
		assert.True(t, result.Healthy, result.Name)
	}

	snapshot := liveness.GetSnapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, K8sLayerCallbackName, snapshot[0].Name)
}

func TestK8sLayerMissingPodsRaiseAlerts(t *testing.T) {
	vector, _, layer := newK8sLayerFixture(t)

	require.NoError(t, layer.Tick(context.Background(), 100, "corr"))

	prom, ok := vector.Get(FingerprintPrometheus)
	require.True(t, ok)
	assert.Equal(t, models.StatusCreate, prom.Status)
	assert.Equal(t, -9, prom.Priority)

	ksm, ok := vector.Get(FingerprintKsm)
	require.True(t, ok)
	assert.Equal(t, models.StatusCreate, ksm.Status)
	assert.Equal(t, -8, ksm.Priority)

	// The same execution ID ties all checks of one cycle together.
	assert.Equal(t, prom.ExecutionID, ksm.ExecutionID)
	assert.Len(t, prom.ExecutionID, 8)
}

func TestK8sLayerNotReadyPods(t *testing.T) {
	pod := readyPod("prometheus-0", "prometheus", 0)
	pod.Status.Conditions[0].Status = corev1.ConditionFalse
	vector, _, layer := newK8sLayerFixture(t, pod, readyPod("ksm-0", "ksm", 0))

	require.NoError(t, layer.Tick(context.Background(), 100, "corr"))

	prom, ok := vector.Get(FingerprintPrometheus)
	require.True(t, ok)
	assert.Equal(t, models.StatusCreate, prom.Status)

	_, ok = vector.Get(FingerprintKsm)
	assert.False(t, ok, "the healthy check stays out of the vector")
}

func TestK8sLayerRecoveryCancelsAlert(t *testing.T) {
	vector, _, layer := newK8sLayerFixture(t)
	require.NoError(t, layer.Tick(context.Background(), 100, "corr"))
	_, ok := vector.Get(FingerprintPrometheus)
	require.True(t, ok)

	// Pods appear: the next cycle flips the stored alerts to CANCEL.
	layer.client = fake.NewSimpleClientset(
		readyPod("prometheus-0", "prometheus", 0),
		readyPod("ksm-0", "ksm", 0),
	)
	require.NoError(t, layer.Tick(context.Background(), 130, "corr"))

	prom, ok := vector.Get(FingerprintPrometheus)
	require.True(t, ok)
	assert.Equal(t, models.StatusCancel, prom.Status)
}

func TestRestartTrackerWindow(t *testing.T) {
	tracker := newRestartTracker(config.RestartTrackingConfig{WindowSize: 5, RestartThreshold: 3})

	pod := readyPod("prometheus-0", "prometheus", 0)
	assert.False(t, tracker.observe(pod))

	pod.Status.ContainerStatuses[0].RestartCount = 2
	assert.False(t, tracker.observe(pod), "growth of 2 is under the threshold")

	pod.Status.ContainerStatuses[0].RestartCount = 3
	assert.True(t, tracker.observe(pod), "growth of 3 within the window trips")
}

func TestRestartTrackerSlidingWindow(t *testing.T) {
	tracker := newRestartTracker(config.RestartTrackingConfig{WindowSize: 3, RestartThreshold: 3})

	pod := readyPod("prometheus-0", "prometheus", 10)
	for i := 0; i < 5; i++ {
		assert.False(t, tracker.observe(pod), "a stable restart count never trips")
	}

	// Old samples fall out of the window, so slow growth stays healthy.
	pod.Status.ContainerStatuses[0].RestartCount = 11
	assert.False(t, tracker.observe(pod))
	pod.Status.ContainerStatuses[0].RestartCount = 12
	assert.False(t, tracker.observe(pod))
}

func TestRestartTrackerDisabled(t *testing.T) {
	tracker := newRestartTracker(config.RestartTrackingConfig{})
	pod := readyPod("prometheus-0", "prometheus", 1000)
	assert.False(t, tracker.observe(pod))
}

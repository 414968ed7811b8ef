package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/argusops/argus/internal/alerts"
	"github.com/argusops/argus/internal/config"
	"github.com/argusops/argus/internal/models"
	"github.com/argusops/argus/internal/timer"
)

// K8sLayerCallbackName identifies the K8s layer callback in the liveness
// vector.
const K8sLayerCallbackName = "k8s-layer"

// Fixed fingerprints and priorities for the three infrastructure checks.
const (
	FingerprintK8sAPI     = "k8s-layer-api"
	FingerprintPrometheus = "k8s-layer-prometheus"
	FingerprintKsm        = "k8s-layer-ksm"

	priorityK8sAPI     = -10
	priorityPrometheus = -9
	priorityKsm        = -8
)

// CheckResult is the latest outcome of one infrastructure check, served by
// the k8s health reader.
type CheckResult struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// K8sLayer polls the Kubernetes API, the Prometheus pods, and the
// kube-state-metrics pods, and always emits a CREATE or CANCEL for each so
// the alerts vector reflects current state.
type K8sLayer struct {
	client        kubernetes.Interface
	vector        *alerts.Vector
	liveness      *timer.LivenessVector
	cfg           config.K8sLayerConfig
	defaults      config.DefaultNocConfig
	intervalTicks int64
	tracker       *restartTracker
	logger        *zap.Logger

	mu          sync.Mutex
	lastResults []CheckResult
}

func NewK8sLayer(client kubernetes.Interface, vector *alerts.Vector, liveness *timer.LivenessVector, cfg config.K8sLayerConfig, defaults config.DefaultNocConfig, logger *zap.Logger) *K8sLayer {
	return &K8sLayer{
		client:        client,
		vector:        vector,
		liveness:      liveness,
		cfg:           cfg,
		defaults:      defaults,
		intervalTicks: int64(cfg.PollingIntervalSeconds),
		tracker:       newRestartTracker(cfg.RestartTracking),
		logger:        logger,
	}
}

// Tick runs all three checks in parallel under one execution ID and updates
// the vector for each.
func (k *K8sLayer) Tick(ctx context.Context, tick int64, correlationID string) error {
	executionID := uuid.NewString()[:8]

	type check struct {
		name        string
		fingerprint string
		priority    int
		run         func(context.Context) (bool, string)
	}
	checks := []check{
		{"k8s-api", FingerprintK8sAPI, priorityK8sAPI, k.checkAPI},
		{"prometheus", FingerprintPrometheus, priorityPrometheus, func(ctx context.Context) (bool, string) {
			return k.checkPods(ctx, k.cfg.PrometheusLabelSelector)
		}},
		{"kube-state-metrics", FingerprintKsm, priorityKsm, func(ctx context.Context) (bool, string) {
			return k.checkPods(ctx, k.cfg.KsmLabelSelector)
		}},
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			healthy, detail := c.run(ctx)
			results[i] = CheckResult{
				Name:      c.name,
				Healthy:   healthy,
				Detail:    detail,
				CheckedAt: time.Now(),
			}
		}(i, c)
	}
	wg.Wait()

	for i, c := range checks {
		if err := k.vector.UpdateAlert(k.buildAlert(c.fingerprint, c.name, c.priority, results[i], executionID)); err != nil {
			k.logger.Warn("failed to update k8s layer alert",
				zap.String("fingerprint", c.fingerprint),
				zap.Error(err))
		}
	}

	k.mu.Lock()
	k.lastResults = results
	k.mu.Unlock()

	k.liveness.RecordExecution(K8sLayerCallbackName, k.intervalTicks, tick)
	return nil
}

// LastResults returns the outcomes of the most recent polling cycle.
func (k *K8sLayer) LastResults() []CheckResult {
	k.mu.Lock()
	defer k.mu.Unlock()
	results := make([]CheckResult, len(k.lastResults))
	copy(results, k.lastResults)
	return results
}

func (k *K8sLayer) buildAlert(fingerprint, name string, priority int, result CheckResult, executionID string) models.Alert {
	status := models.StatusCancel
	summary := fmt.Sprintf("%s check is healthy", name)
	if !result.Healthy {
		status = models.StatusCreate
		summary = fmt.Sprintf("%s check failed: %s", name, result.Detail)
	}
	behavior := k.defaults.Behavior(status)

	return models.Alert{
		Fingerprint: fingerprint,
		Priority:    priority,
		Name:        name,
		Source:      "argus-k8s-layer",
		Status:      status,
		Summary:     summary,
		Payload:     behavior.Payload(),
		SendToNoc:   true,
		ExecutionID: executionID,
	}
}

func (k *K8sLayer) checkAPI(ctx context.Context) (bool, string) {
	_, err := k.client.Discovery().ServerVersion()
	if err != nil {
		return false, fmt.Sprintf("kubernetes api unreachable: %v", err)
	}
	return true, ""
}

func (k *K8sLayer) checkPods(ctx context.Context, labelSelector string) (bool, string) {
	pods, err := k.client.CoreV1().Pods(k.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
	})
	if err != nil {
		return false, fmt.Sprintf("pod list failed: %v", err)
	}
	if len(pods.Items) == 0 {
		return false, fmt.Sprintf("no pods match %q in %q", labelSelector, k.cfg.Namespace)
	}

	readyCount := 0
	for i := range pods.Items {
		pod := &pods.Items[i]
		if k.tracker.observe(pod) {
			return false, fmt.Sprintf("pod %s restarting too often", pod.Name)
		}
		if podReady(pod) {
			readyCount++
		}
	}
	if readyCount == 0 {
		return false, fmt.Sprintf("no ready pods match %q in %q", labelSelector, k.cfg.Namespace)
	}
	return true, ""
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// restartTracker keeps a sliding window of total container restart counts per
// pod. A pod whose restarts grow by the threshold within the window fails its
// health check.
type restartTracker struct {
	mu      sync.Mutex
	cfg     config.RestartTrackingConfig
	samples map[string][]int32
}

func newRestartTracker(cfg config.RestartTrackingConfig) *restartTracker {
	return &restartTracker{
		cfg:     cfg,
		samples: make(map[string][]int32),
	}
}

// observe records the pod's current restart total and reports whether the
// growth within the window reached the threshold.
func (t *restartTracker) observe(pod *corev1.Pod) bool {
	if t.cfg.WindowSize <= 0 || t.cfg.RestartThreshold <= 0 {
		return false
	}

	var restarts int32
	for _, cs := range pod.Status.ContainerStatuses {
		restarts += cs.RestartCount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	window := append(t.samples[pod.Name], restarts)
	if len(window) > t.cfg.WindowSize {
		window = window[len(window)-t.cfg.WindowSize:]
	}
	t.samples[pod.Name] = window

	return restarts-window[0] >= int32(t.cfg.RestartThreshold)
}

package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/argusops/argus/internal/models"
)

// Config is the root of the argus configuration tree.
type Config struct {
	Noc              NocConfig              `mapstructure:"noc"`
	LeaderElection   LeaderElectionConfig   `mapstructure:"leader_election"`
	Coordinator      CoordinatorConfig      `mapstructure:"coordinator"`
	Watchdog         WatchdogConfig         `mapstructure:"watchdog"`
	K8sLayer         K8sLayerConfig         `mapstructure:"k8s_layer"`
	AlertsVector     AlertsVectorConfig     `mapstructure:"alerts_vector"`
	DefaultNoc       DefaultNocConfig       `mapstructure:"default_noc"`
	StatusFileSystem StatusFileSystemConfig `mapstructure:"status_file_system"`
	Heartbeat        HeartbeatConfig        `mapstructure:"heartbeat"`
	Server           ServerConfig           `mapstructure:"server"`
	History          HistoryConfig          `mapstructure:"history"`
	Kubernetes       KubernetesConfig       `mapstructure:"kubernetes"`

	// PodName is taken from the POD_NAME environment variable when set and is
	// used as the lease holder identity.
	PodName string `mapstructure:"-"`
}

type NocConfig struct {
	Enabled        bool                 `mapstructure:"enabled"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	HTTPClient     NocHTTPClientConfig  `mapstructure:"http_client"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
}

type NocHTTPClientConfig struct {
	SendEndpoint        string `mapstructure:"send_endpoint"`
	VerifyEndpoint      string `mapstructure:"verify_endpoint"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	BypassSslValidation bool   `mapstructure:"bypass_ssl_validation"`
	ConnectIpAddress    string `mapstructure:"connect_ip_address"`
	ConnectPort         int    `mapstructure:"connect_port"`
	Username            string `mapstructure:"username"`
	Password            string `mapstructure:"password"`
	TeamName            string `mapstructure:"team_name"`
	SystemName          string `mapstructure:"system_name"`
	HostName            string `mapstructure:"host_name"`
}

type LeaderElectionConfig struct {
	LeaseName            string `mapstructure:"lease_name"`
	Namespace            string `mapstructure:"namespace"`
	LeaseDurationSeconds int    `mapstructure:"lease_duration_seconds"`
	RenewIntervalSeconds int    `mapstructure:"renew_interval_seconds"`
	RetryIntervalSeconds int    `mapstructure:"retry_interval_seconds"`
}

type CoordinatorConfig struct {
	SnapshotIntervalSeconds      int     `mapstructure:"snapshot_interval_seconds"`
	StartupGracePeriodMultiplier float64 `mapstructure:"startup_grace_period_multiplier"`
}

// NocBehavior is a NOC payload template plus an optional suppression window
// in the <decimal><s|m|h|d> grammar.
type NocBehavior struct {
	Custom1        string `mapstructure:"custom1"`
	Custom2        string `mapstructure:"custom2"`
	HostName       string `mapstructure:"host_name"`
	Severity       string `mapstructure:"severity"`
	Visible        bool   `mapstructure:"visible"`
	SuppressWindow string `mapstructure:"suppress_window"`
}

// Payload builds the wire payload template for this behavior. Level, message,
// source and suppression key are overridden at send time.
func (b NocBehavior) Payload() models.NocPayload {
	return models.NocPayload{
		Custom1:  b.Custom1,
		Custom2:  b.Custom2,
		HostName: b.HostName,
		Severity: b.Severity,
		Visible:  b.Visible,
	}
}

type WatchdogConfig struct {
	AlertName         string      `mapstructure:"alert_name"`
	TimeoutSeconds    int         `mapstructure:"timeout_seconds"`
	CreateNocBehavior NocBehavior `mapstructure:"create_noc_behavior"`
	CancelNocBehavior NocBehavior `mapstructure:"cancel_noc_behavior"`
}

type RestartTrackingConfig struct {
	WindowSize       int `mapstructure:"window_size"`
	RestartThreshold int `mapstructure:"restart_threshold"`
}

type K8sLayerConfig struct {
	PollingIntervalSeconds  int                   `mapstructure:"polling_interval_seconds"`
	Namespace               string                `mapstructure:"namespace"`
	PrometheusLabelSelector string                `mapstructure:"prometheus_label_selector"`
	KsmLabelSelector        string                `mapstructure:"ksm_label_selector"`
	RestartTracking         RestartTrackingConfig `mapstructure:"restart_tracking"`
}

type AlertsVectorConfig struct {
	AlertTtl string `mapstructure:"alert_ttl"`
}

type DefaultNocConfig struct {
	CreateNocBehavior NocBehavior `mapstructure:"create_noc_behavior"`
	CancelNocBehavior NocBehavior `mapstructure:"cancel_noc_behavior"`
}

// Behavior returns the default behavior template for the given status.
func (d DefaultNocConfig) Behavior(status models.AlertStatus) NocBehavior {
	if status == models.StatusCancel {
		return d.CancelNocBehavior
	}
	return d.CreateNocBehavior
}

type StatusFileSystemConfig struct {
	PollingIntervalSeconds int `mapstructure:"polling_interval_seconds"`
}

type HeartbeatFileConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DestinationPath string `mapstructure:"destination_path"`
}

type HeartbeatHTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type HeartbeatConfig struct {
	IntervalSeconds int                 `mapstructure:"interval_seconds"`
	File            HeartbeatFileConfig `mapstructure:"file"`
	HTTP            HeartbeatHTTPConfig `mapstructure:"http"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type KubernetesConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
}

type fileConfig struct {
	Argus Config `mapstructure:"argus"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.AutomaticEnv()

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var root fileConfig
	if err := v.Unmarshal(&root); err != nil {
		return nil, err
	}
	config := root.Argus

	if podName := os.Getenv("POD_NAME"); podName != "" {
		config.PodName = podName
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("argus.noc.enabled", true)
	v.SetDefault("argus.noc.circuit_breaker.failure_threshold", 3)
	v.SetDefault("argus.noc.http_client.timeout_seconds", 30)

	v.SetDefault("argus.leader_election.lease_name", "argus-leader")
	v.SetDefault("argus.leader_election.namespace", "monitoring")
	v.SetDefault("argus.leader_election.lease_duration_seconds", 30)
	v.SetDefault("argus.leader_election.renew_interval_seconds", 10)
	v.SetDefault("argus.leader_election.retry_interval_seconds", 5)

	v.SetDefault("argus.coordinator.snapshot_interval_seconds", 30)
	v.SetDefault("argus.coordinator.startup_grace_period_multiplier", 2.0)

	v.SetDefault("argus.watchdog.alert_name", "Watchdog")
	v.SetDefault("argus.watchdog.timeout_seconds", 120)

	v.SetDefault("argus.k8s_layer.polling_interval_seconds", 30)
	v.SetDefault("argus.k8s_layer.namespace", "monitoring")
	v.SetDefault("argus.k8s_layer.prometheus_label_selector", "app.kubernetes.io/name=prometheus")
	v.SetDefault("argus.k8s_layer.ksm_label_selector", "app.kubernetes.io/name=kube-state-metrics")
	v.SetDefault("argus.k8s_layer.restart_tracking.window_size", 10)
	v.SetDefault("argus.k8s_layer.restart_tracking.restart_threshold", 3)

	v.SetDefault("argus.alerts_vector.alert_ttl", "24h")

	v.SetDefault("argus.status_file_system.polling_interval_seconds", 60)

	v.SetDefault("argus.heartbeat.interval_seconds", 30)
	v.SetDefault("argus.heartbeat.file.enabled", true)
	v.SetDefault("argus.heartbeat.file.destination_path", "/var/run/argus/heartbeat.json")
	v.SetDefault("argus.heartbeat.http.enabled", true)

	v.SetDefault("argus.server.host", "0.0.0.0")
	v.SetDefault("argus.server.port", 8080)

	v.SetDefault("argus.history.enabled", true)
	v.SetDefault("argus.history.path", "./argus-history.db")
}

func validate(cfg *Config) error {
	if cfg.LeaderElection.RenewIntervalSeconds >= cfg.LeaderElection.LeaseDurationSeconds {
		return fmt.Errorf("leader_election: renew_interval_seconds (%d) must be less than lease_duration_seconds (%d)",
			cfg.LeaderElection.RenewIntervalSeconds, cfg.LeaderElection.LeaseDurationSeconds)
	}
	if cfg.Coordinator.SnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("coordinator: snapshot_interval_seconds must be positive")
	}
	if cfg.Watchdog.TimeoutSeconds <= 0 {
		return fmt.Errorf("watchdog: timeout_seconds must be positive")
	}
	return nil
}

package models

import "time"

// AlertmanagerAlert is a single entry of an Alertmanager v2 POST body.
type AlertmanagerAlert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    time.Time         `json:"startsAt"`
	EndsAt      time.Time         `json:"endsAt"`
	Status      string            `json:"status"`
	Fingerprint string            `json:"fingerprint"`
}

// PlatformLabel selects which pushed alerts this instance processes.
const PlatformLabel = "platform"

func (a *AlertmanagerAlert) GetAlertName() string {
	if name, ok := a.Labels["alertname"]; ok {
		return name
	}
	return "unknown"
}

func (a *AlertmanagerAlert) GetPlatform() string {
	return a.Labels[PlatformLabel]
}

func (a *AlertmanagerAlert) GetSeverity() string {
	if sev, ok := a.Labels["severity"]; ok {
		return sev
	}
	return "unknown"
}

func (a *AlertmanagerAlert) IsFiring() bool {
	return a.Status == "firing"
}

func (a *AlertmanagerAlert) IsResolved() bool {
	return a.Status == "resolved"
}

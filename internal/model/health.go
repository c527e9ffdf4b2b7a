package model

import "time"

// HealthState 桥接健康状态
type HealthState string

const (
	HealthHealthy    HealthState = "healthy"
	HealthStaleData  HealthState = "stale_data"
	HealthNoAccounts HealthState = "no_accounts"
	HealthError      HealthState = "error"
)

// Healthy 是否健康
func (h HealthState) Healthy() bool {
	return h == HealthHealthy
}

// Severity 状态对应的告警级别
func (h HealthState) Severity() Severity {
	switch h {
	case HealthStaleData:
		return SeverityWarning
	case HealthNoAccounts, HealthError:
		return SeverityCritical
	default:
		return ""
	}
}

// Severity 告警级别
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// BridgeStatus 单次检查得出的桥接状态，只在内存中计算
type BridgeStatus struct {
	BridgeID          string        `json:"bridge_id"`
	Broker            string        `json:"broker"`
	Platform          string        `json:"platform"`
	Server            string        `json:"server"`
	ExpectedAccounts  int           `json:"expected_accounts"`
	ActualAccounts    int           `json:"accounts"`
	LastSyncTimestamp *time.Time    `json:"last_sync,omitempty"`
	Age               time.Duration `json:"-"`
	Health            HealthState   `json:"status"`
	Issues            []string      `json:"issues"`
	CheckedAt         time.Time     `json:"checked_at"`
}

// Healthy 是否健康
func (s BridgeStatus) Healthy() bool {
	return s.Health.Healthy()
}

// Alert 告警记录，只追加
type Alert struct {
	ID           string      `json:"id" bson:"_id"`
	BridgeID     string      `json:"bridge_id" bson:"bridge_id"`
	Severity     Severity    `json:"severity" bson:"severity"`
	Health       HealthState `json:"health" bson:"health"`
	Issues       []string    `json:"issues" bson:"issues"`
	Timestamp    time.Time   `json:"timestamp" bson:"timestamp"`
	Acknowledged bool        `json:"acknowledged" bson:"acknowledged"`
}

package model

import "time"

const (
	TypeLogin       = "login"
	TypeFailedLogin = "failed_login"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank orders severities for prioritisation. Unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

const (
	ReasonNewOrigin            = "new_origin"
	ReasonFailedLoginThreshold = "failed_login_threshold"
	ReasonUnusualLoginTime     = "unusual_login_time"
	ReasonRapidLogins          = "rapid_logins"
)

type LogRecord struct {
	ID        int64          `json:"id,omitempty"`
	Type      string         `json:"type" validate:"required,max=64"`
	User      string         `json:"user,omitempty" validate:"max=128"`
	Origin    string         `json:"origin,omitempty" validate:"max=128"`
	IP        string         `json:"ip,omitempty" validate:"max=64"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

type Alert struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	User           string     `json:"user"`
	Reason         string     `json:"reason"`
	Severity       Severity   `json:"severity"`
	IP             string     `json:"ip,omitempty"`
	Origin         string     `json:"origin,omitempty"`
	FailedCount    int        `json:"failed_count,omitempty"`
	Hour           *int       `json:"hour,omitempty"`
	LoginsInWindow int        `json:"logins_in_window,omitempty"`
	WindowSeconds  int        `json:"window_seconds,omitempty"`
	Record         *LogRecord `json:"record,omitempty"`
}

type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
)

type ActionRecord struct {
	Action    string       `json:"action"`
	Target    string       `json:"target"`
	Status    ActionStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Details   string       `json:"details"`
}

type Incident struct {
	ID          int64          `json:"id"`
	AlertID     string         `json:"alert_id"`
	AlertReason string         `json:"alert_reason"`
	User        string         `json:"user,omitempty"`
	IP          string         `json:"ip,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Status      string         `json:"status"`
	Actions     []ActionRecord `json:"actions"`
}

// UserState is a read-only view of the detection history kept for one user.
type UserState struct {
	User         string   `json:"user"`
	SeenOrigins  []string `json:"seen_origins"`
	FailedLogins int      `json:"failed_logins"`
}

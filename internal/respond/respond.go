package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cortexsoc/internal/config"
	"cortexsoc/internal/metrics"
	"cortexsoc/internal/model"
	"cortexsoc/internal/storage"
)

const (
	ActionBlockIP        = "block_ip"
	ActionDisableAccount = "disable_account"
	ActionAlert          = "alert"

	IncidentActive = "active"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrNotFound      = errors.New("incident not found")
	ErrEmptyTarget   = errors.New("target required")
)

// Responder runs response actions and keeps the incident log. Actions are
// simulated: nothing outside the process changes except notifications.
type Responder struct {
	mu        sync.RWMutex
	incidents []model.Incident
	limit     int
	nextID    int64

	notifier Notifier
	store    storage.Store
	logger   *slog.Logger
	now      func() time.Time
}

// NewResponder seeds incident IDs from storage so a restart does not reuse
// IDs already persisted.
func NewResponder(ctx context.Context, cfg config.ResponseConfig, notifier Notifier, store storage.Store, logger *slog.Logger) (*Responder, error) {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	r := &Responder{
		limit:    cfg.IncidentLimit,
		notifier: notifier,
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
	if r.limit <= 0 {
		r.limit = 1000
	}
	if store != nil {
		last, err := store.LastIncidentID(ctx)
		if err != nil {
			return nil, fmt.Errorf("load last incident id: %w", err)
		}
		r.nextID = last
	}
	return r, nil
}

func (r *Responder) timestamp() time.Time {
	return r.now().UTC()
}

func (r *Responder) record(action, target string, status model.ActionStatus, details string) model.ActionRecord {
	metrics.ActionsExecuted.WithLabelValues(action, string(status)).Inc()
	return model.ActionRecord{
		Action:    action,
		Target:    target,
		Status:    status,
		Timestamp: r.timestamp(),
		Details:   details,
	}
}

func (r *Responder) BlockIP(_ context.Context, ip string) model.ActionRecord {
	if r.logger != nil {
		r.logger.Info("blocking ip", "ip", ip)
	}
	return r.record(ActionBlockIP, ip, model.ActionSuccess, fmt.Sprintf("IP %s added to blocklist", ip))
}

func (r *Responder) DisableAccount(_ context.Context, user string) model.ActionRecord {
	if r.logger != nil {
		r.logger.Info("disabling account", "user", user)
	}
	return r.record(ActionDisableAccount, user, model.ActionSuccess, fmt.Sprintf("User %s account disabled", user))
}

// SendAlert delivers message to channel. A notifier error marks the action failed.
func (r *Responder) SendAlert(ctx context.Context, channel, message string) model.ActionRecord {
	if err := r.notifier.Notify(ctx, channel, message); err != nil {
		if r.logger != nil {
			r.logger.Error("notification failed", "channel", channel, "err", err)
		}
		return r.record(ActionAlert, channel, model.ActionFailed, fmt.Sprintf("Alert to %s failed: %v", channel, err))
	}
	return r.record(ActionAlert, channel, model.ActionSuccess, fmt.Sprintf("Alert sent to %s: %s", channel, message))
}

// Execute runs one manual action. For alert, target is the message and the
// channel is ops.
func (r *Responder) Execute(ctx context.Context, action, target string) (model.ActionRecord, error) {
	if target == "" {
		return model.ActionRecord{}, ErrEmptyTarget
	}
	switch action {
	case ActionBlockIP:
		return r.BlockIP(ctx, target), nil
	case ActionDisableAccount:
		return r.DisableAccount(ctx, target), nil
	case ActionAlert:
		return r.SendAlert(ctx, "ops", target), nil
	default:
		return model.ActionRecord{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// AutoRespond opens an incident for alert and runs the playbook for its
// severity.
func (r *Responder) AutoRespond(ctx context.Context, alert model.Alert) model.Incident {
	incident := model.Incident{
		AlertID:     alert.ID,
		AlertReason: alert.Reason,
		User:        alert.User,
		IP:          alert.IP,
		CreatedAt:   r.timestamp(),
		Status:      IncidentActive,
		Actions:     []model.ActionRecord{},
	}
	if incident.AlertID == "" {
		incident.AlertID = "unknown"
	}

	switch alert.Severity {
	case model.SeverityHigh:
		if alert.Reason == model.ReasonFailedLoginThreshold && alert.User != "" {
			incident.Actions = append(incident.Actions,
				r.DisableAccount(ctx, alert.User),
				r.SendAlert(ctx, "ops", fmt.Sprintf("High: Disabled account %s due to failed login threshold", alert.User)),
			)
		}
		if alert.IP != "" {
			incident.Actions = append(incident.Actions,
				r.BlockIP(ctx, alert.IP),
				r.SendAlert(ctx, "ops", fmt.Sprintf("High: Blocked IP %s", alert.IP)),
			)
		}
	case model.SeverityMedium:
		incident.Actions = append(incident.Actions,
			r.SendAlert(ctx, "security", fmt.Sprintf("Medium: %s - User: %s, IP: %s", alert.Reason, orNone(alert.User), orNone(alert.IP))),
		)
	default:
		incident.Actions = append(incident.Actions,
			r.SendAlert(ctx, "logs", fmt.Sprintf("Low: %s", alert.Reason)),
		)
	}

	r.mu.Lock()
	r.nextID++
	incident.ID = r.nextID
	r.incidents = append(r.incidents, incident)
	if len(r.incidents) > r.limit {
		r.incidents = r.incidents[len(r.incidents)-r.limit:]
	}
	r.mu.Unlock()

	metrics.IncidentsCreated.Inc()
	if r.logger != nil {
		r.logger.Info("incident created", "incident_id", incident.ID, "reason", alert.Reason, "actions", len(incident.Actions))
	}
	if r.store != nil {
		if err := r.store.SaveIncident(ctx, incident); err != nil {
			metrics.StorageErrors.WithLabelValues("save_incident").Inc()
			if r.logger != nil {
				r.logger.Error("persist incident failed", "incident_id", incident.ID, "err", err)
			}
		}
	}
	return incident
}

func orNone(v string) string {
	if v == "" {
		return "None"
	}
	return v
}

// Incidents returns all retained incidents, oldest first.
func (r *Responder) Incidents() []model.Incident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Incident, len(r.incidents))
	copy(out, r.incidents)
	return out
}

func (r *Responder) Incident(id int64) (model.Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inc := range r.incidents {
		if inc.ID == id {
			return inc, nil
		}
	}
	return model.Incident{}, ErrNotFound
}

// Clear drops retained incidents. IDs are not reused.
func (r *Responder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = nil
}

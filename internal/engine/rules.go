package engine

import (
	"sort"
	"time"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

func newAlert(rec *model.LogRecord, reason string, severity model.Severity) model.Alert {
	copied := *rec
	return model.Alert{
		User:     rec.User,
		Reason:   reason,
		Severity: severity,
		IP:       rec.IP,
		Record:   &copied,
	}
}

// ruleNewOrigin fires the first time a user logs in from an origin, including
// the very first origin ever seen for that user.
func ruleNewOrigin(state *DetectionState, batch []model.LogRecord) []model.Alert {
	var out []model.Alert
	for i := range batch {
		rec := &batch[i]
		if rec.Type != model.TypeLogin || rec.User == "" || rec.Origin == "" {
			continue
		}
		if !state.markOrigin(rec.User, rec.Origin) {
			continue
		}
		alert := newAlert(rec, model.ReasonNewOrigin, model.SeverityMedium)
		alert.Origin = rec.Origin
		out = append(out, alert)
	}
	return out
}

// ruleFailedLoginThreshold counts failed logins over the engine lifetime.
// Every failure at or above threshold fires again (5, 6, 7, ...) so that
// sustained misuse keeps escalating.
func ruleFailedLoginThreshold(state *DetectionState, batch []model.LogRecord, threshold int) []model.Alert {
	var out []model.Alert
	for i := range batch {
		rec := &batch[i]
		if rec.Type != model.TypeFailedLogin || rec.User == "" {
			continue
		}
		count := state.recordFailedLogin(rec.User)
		if count < threshold {
			continue
		}
		alert := newAlert(rec, model.ReasonFailedLoginThreshold, model.SeverityHigh)
		alert.FailedCount = count
		out = append(out, alert)
	}
	return out
}

// ruleUnusualLoginTime flags logins with hour >= window.Start or hour < window.End (UTC).
func ruleUnusualLoginTime(batch []model.LogRecord, window config.HoursWindow) []model.Alert {
	var out []model.Alert
	for i := range batch {
		rec := &batch[i]
		if rec.Type != model.TypeLogin || rec.User == "" {
			continue
		}
		ts, ok := parseRecordTime(rec.Timestamp)
		if !ok {
			continue
		}
		hour := ts.Hour()
		if hour >= window.Start || hour < window.End {
			alert := newAlert(rec, model.ReasonUnusualLoginTime, model.SeverityLow)
			alert.Hour = &hour
			out = append(out, alert)
		}
	}
	return out
}

type loginAt struct {
	ts  time.Time
	rec *model.LogRecord
}

// ruleRapidLogins looks only at the current batch. At most one alert per user
// is emitted, for the first adjacent pair closer than window.
func ruleRapidLogins(batch []model.LogRecord, windowSeconds int) []model.Alert {
	window := time.Duration(windowSeconds) * time.Second
	var users []string
	byUser := make(map[string][]loginAt)
	for i := range batch {
		rec := &batch[i]
		if rec.Type != model.TypeLogin || rec.User == "" {
			continue
		}
		ts, ok := parseRecordTime(rec.Timestamp)
		if !ok {
			continue
		}
		if _, exists := byUser[rec.User]; !exists {
			users = append(users, rec.User)
		}
		byUser[rec.User] = append(byUser[rec.User], loginAt{ts: ts, rec: rec})
	}

	var out []model.Alert
	for _, user := range users {
		logins := byUser[user]
		sort.SliceStable(logins, func(i, j int) bool { return logins[i].ts.Before(logins[j].ts) })
		for i := 0; i+1 < len(logins); i++ {
			delta := logins[i+1].ts.Sub(logins[i].ts)
			if delta > 0 && delta < window {
				alert := newAlert(logins[i+1].rec, model.ReasonRapidLogins, model.SeverityMedium)
				alert.LoginsInWindow = len(logins)
				alert.WindowSeconds = windowSeconds
				out = append(out, alert)
				break
			}
		}
	}
	return out
}

// detectAll runs the rules in fixed order and stable-sorts by severity, so
// ties keep rule order and then emission order.
func detectAll(state *DetectionState, cfg config.DetectionConfig, batch []model.LogRecord) []model.Alert {
	out := make([]model.Alert, 0)
	out = append(out, ruleNewOrigin(state, batch)...)
	out = append(out, ruleFailedLoginThreshold(state, batch, cfg.FailedLoginThreshold)...)
	out = append(out, ruleUnusualLoginTime(batch, cfg.UnusualHours)...)
	out = append(out, ruleRapidLogins(batch, cfg.RapidLoginWindowSeconds)...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

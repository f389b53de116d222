package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

// EventFields is what a parser could extract from one input line or object.
type EventFields struct {
	Type      string
	User      string
	Origin    string
	IP        string
	Timestamp string
	Extras    map[string]string
	Raw       map[string]any
	Line      string
}

var ErrMissingType = errors.New("record type is required")

var validate = validator.New()

// Normalize turns parsed fields into a LogRecord. A missing timestamp gets
// now; a parseable one is rewritten as RFC3339 UTC; anything else is kept
// verbatim so time based rules can skip it.
func Normalize(fields EventFields, cfg *config.Config, now time.Time) (model.LogRecord, error) {
	recType := ParseType(fields.Type)
	if cfg != nil && cfg.Ingest.Parser.TypeAliases {
		recType = FoldTypeAlias(recType)
	}
	if recType == "" {
		return model.LogRecord{}, ErrMissingType
	}

	loc := time.UTC
	if cfg != nil && cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := strings.TrimSpace(fields.Timestamp)
	if ts == "" {
		ts = FormatTimestamp(now)
	} else if parsed, err := ParseTimestamp(ts, loc); err == nil {
		ts = FormatTimestamp(parsed)
	}

	raw := fields.Raw
	if raw == nil && fields.Line != "" {
		raw = map[string]any{"line": strings.TrimSpace(fields.Line)}
	}

	rec := model.LogRecord{
		Type:      recType,
		User:      strings.TrimSpace(fields.User),
		Origin:    strings.TrimSpace(fields.Origin),
		IP:        strings.TrimSpace(fields.IP),
		Timestamp: ts,
		Raw:       raw,
	}
	if err := Validate(rec); err != nil {
		return model.LogRecord{}, err
	}
	return rec, nil
}

// Validate checks the field limits of a record.
func Validate(rec model.LogRecord) error {
	if err := validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Field() == "Type" && fe.Tag() == "required" {
				return ErrMissingType
			}
			return fmt.Errorf("invalid %s: failed %s", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}

// ParseType returns the type as sent, trimmed. Unknown types are kept; the
// engine ignores them.
func ParseType(value string) string {
	return strings.TrimSpace(value)
}

// FoldTypeAlias maps common vendor spellings onto login and failed_login.
// It only runs when ingest.parser.type_aliases is set.
func FoldTypeAlias(value string) string {
	n := strings.ToLower(value)
	switch n {
	case "login", "logon", "login_success", "signin", "sign_in":
		return model.TypeLogin
	case "failed_login", "login_failed", "login_failure", "failed_logon", "auth_failure", "failure":
		return model.TypeFailedLogin
	}
	return value
}

// FormatTimestamp renders t the way ingested records carry time.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

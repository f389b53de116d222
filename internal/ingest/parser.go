package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"cortexsoc/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_@]+)=([^\s]+)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
	reSyslogPRI = regexp.MustCompile(`^\s*<\d{1,3}>`)
)

var (
	typeKeys      = []string{"type", "event", "event_type", "action"}
	userKeys      = []string{"user", "username", "account", "user_id"}
	originKeys    = []string{"origin", "country", "geo", "location"}
	ipKeys        = []string{"ip", "src_ip", "source_ip", "client_ip"}
	timestampKeys = []string{"timestamp", "time", "ts", "@timestamp"}
)

// Parser understands JSON objects, CSV rows (with or without a header) and
// plain key=value lines. It keeps CSV header state and is not safe for
// concurrent use across streams.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Line = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !reKV.MatchString(trim) {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Line = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Line = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

// parsePlain handles lines like
// "2026-02-23T12:34:56Z login user=alice origin=US ip=1.2.3.4".
// Without a type= pair the first bare word after the timestamp is the type.
func parsePlain(line string) *normalize.EventFields {
	line = reSyslogPRI.ReplaceAllString(line, "")
	fields := &normalize.EventFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = strings.Trim(match[2], `"'`)
	}
	for k, v := range kv {
		fields.Extras[k] = v
	}
	assignKnown(fields, kv)
	if fields.Timestamp == "" {
		fields.Timestamp = ts
	}
	if fields.Type == "" {
		for _, tok := range strings.Fields(rest) {
			if !strings.Contains(tok, "=") {
				fields.Type = strings.TrimSuffix(tok, ":")
				break
			}
		}
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	m = reSyslogTS.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse reads one CSV row. The first row that looks like a header is
// remembered and yields nil fields. Headerless rows are positional:
// timestamp,type,user,origin,ip.
func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{Extras: map[string]string{}}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			fields.Extras[name] = strings.TrimSpace(record[i])
		}
		assignKnown(fields, fields.Extras)
		return fields, nil
	}
	positional := []*string{&fields.Timestamp, &fields.Type, &fields.User, &fields.Origin, &fields.IP}
	for i, dst := range positional {
		if i >= len(record) {
			break
		}
		*dst = strings.TrimSpace(record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	known := map[string]struct{}{}
	for _, group := range [][]string{typeKeys, userKeys, originKeys, ipKeys, timestampKeys} {
		for _, k := range group {
			known[k] = struct{}{}
		}
	}
	for _, v := range record {
		if _, ok := known[strings.ToLower(strings.TrimSpace(v))]; ok {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

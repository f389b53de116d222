package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"cortexsoc/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		if _, nested := val.(map[string]interface{}); nested {
			continue
		}
		fields.Extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	if raw, ok := obj["raw"].(map[string]interface{}); ok {
		fields.Raw = raw
	}
	assignKnown(fields, fields.Extras)
	return fields
}

func assignKnown(fields *normalize.EventFields, m map[string]string) {
	fields.Type = firstNonEmpty(m, typeKeys...)
	fields.User = firstNonEmpty(m, userKeys...)
	fields.Origin = firstNonEmpty(m, originKeys...)
	fields.IP = firstNonEmpty(m, ipKeys...)
	fields.Timestamp = firstNonEmpty(m, timestampKeys...)
}

package dataset

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Timestamp formats seen in catalog responses. CKAN omits the zone.
var timestampFormats = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
}

// ParseTimestamp parses the timestamp forms returned by the supported
// services. Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.Trim(s, "\"")
	var parseErr error
	for _, format := range timestampFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		parseErr = err
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q: %w", s, parseErr)
}

// TimestampHook converts strings to time.Time with ParseTimestamp. Empty
// strings decode to the zero time.
func TimestampHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		s := reflect.ValueOf(data).String()
		if s == "" || s == "null" {
			return time.Time{}, nil
		}
		return ParseTimestamp(s)
	}
}

// DecodeResult decodes a successful response result into out, which must be
// a pointer. Field names are matched case-insensitively or by mapstructure
// tags.
func DecodeResult(r *Response, out interface{}) error {
	if err := r.Err(); err != nil {
		return err
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       TimestampHook(),
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(r.Result); err != nil {
		return Errorf(KindResponseShape, "decode", "unexpected result shape: %v", err)
	}
	return nil
}

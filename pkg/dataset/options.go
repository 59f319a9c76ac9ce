package dataset

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Options carries vendor specific keyword options for one call.
type Options map[string]interface{}

// Get returns the value for key, or nil.
func (o Options) Get(key string) interface{} {
	if o == nil {
		return nil
	}
	return o[key]
}

// String returns the value for key as a string.
func (o Options) String(key string) string {
	switch v := o.Get(key).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the value for key as a bool. Strings "true", "1" and "yes"
// are accepted.
func (o Options) Bool(key string) bool {
	switch v := o.Get(key).(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	if o == nil {
		return false
	}
	_, ok := o[key]
	return ok
}

// Without returns a copy of o with the given keys removed.
func (o Options) Without(keys ...string) Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Decode copies o into the struct pointed to by out using its mapstructure
// tags. Keys that no field claims are returned. When strict is set an
// unclaimed key is an invalid_request error.
func (o Options) Decode(op string, out interface{}, strict bool) ([]string, error) {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			TimestampHook(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(map[string]interface{}(o)); err != nil {
		return nil, Errorf(KindInvalid, op, "invalid options: %v", err)
	}
	sort.Strings(md.Unused)
	if strict && len(md.Unused) > 0 {
		return md.Unused, Errorf(KindInvalid, op, "unsupported options: %s", strings.Join(md.Unused, ", "))
	}
	return md.Unused, nil
}

// Query holds field/value search terms.
type Query map[string]string

// Terms renders the query as sorted "field:value" terms.
func (q Query) Terms() []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		terms = append(terms, k+":"+q[k])
	}
	return terms
}

// Join joins the rendered terms with sep.
func (q Query) Join(sep string) string {
	return strings.Join(q.Terms(), sep)
}

// Matches reports whether every query value appears, case-insensitively,
// in the string form of the record's matching field. The pseudo field
// "q" matches any field.
func (q Query) Matches(record map[string]interface{}) bool {
	for field, want := range q {
		want = strings.ToLower(want)
		if field == "q" {
			found := false
			for _, v := range record {
				if strings.Contains(strings.ToLower(fmt.Sprint(v)), want) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
			continue
		}
		v, ok := record[field]
		if !ok || !strings.Contains(strings.ToLower(fmt.Sprint(v)), want) {
			return false
		}
	}
	return true
}

// Source describes the content of a resource: a remote URL, a local path, or
// an open reader with a file name.
type Source struct {
	URL      string
	Path     string
	Reader   io.Reader
	FileName string
}

// IsZero reports whether no content was given.
func (s Source) IsZero() bool {
	return s.URL == "" && s.Path == "" && s.Reader == nil
}

// HasFile reports whether the source carries file content.
func (s Source) HasFile() bool {
	return s.Path != "" || s.Reader != nil
}

// Check enforces that URL and file content are mutually exclusive, and when
// required that one of them is present.
func (s Source) Check(op string, required bool) error {
	if s.URL != "" && s.HasFile() {
		return NewError(KindInvalid, op, "url and file are mutually exclusive")
	}
	if s.Path != "" && s.Reader != nil {
		return NewError(KindInvalid, op, "path and reader are mutually exclusive")
	}
	if s.Reader != nil && s.FileName == "" {
		return NewError(KindInvalid, op, "a file name is required with a reader")
	}
	if required && s.IsZero() {
		return NewError(KindInvalid, op, "either url or file is required")
	}
	return nil
}

// Name returns the file name of the content.
func (s Source) Name() string {
	if s.FileName != "" {
		return s.FileName
	}
	if s.Path != "" {
		return filepath.Base(s.Path)
	}
	return ""
}

// Open returns a reader over the file content. The caller closes it.
func (s Source) Open() (io.ReadCloser, error) {
	if s.Reader != nil {
		if rc, ok := s.Reader.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(s.Reader), nil
	}
	if s.Path == "" {
		return nil, fmt.Errorf("source has no file content")
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.Path, err)
	}
	return f, nil
}

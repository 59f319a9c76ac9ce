package ckan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tethys-dataset-services/pkg/dataset"
)

// actionResponse is the envelope every CKAN Action API call returns.
type actionResponse struct {
	Help    string                 `json:"help"`
	Success *bool                  `json:"success"`
	Result  interface{}            `json:"result"`
	Error   map[string]interface{} `json:"error"`
}

// kind maps the CKAN error __type onto a dataset error kind.
func (r *actionResponse) kind() dataset.ErrorKind {
	msg := strings.ToLower(r.message())
	switch r.errorType() {
	case "Not Found Error":
		return dataset.KindNotFound
	case "Authorization Error":
		return dataset.KindAuth
	case "Validation Error":
		if strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists") {
			return dataset.KindAlreadyExists
		}
		return dataset.KindInvalid
	case "Search Query Error", "Search Error", "Parameter Error":
		return dataset.KindInvalid
	}
	return dataset.KindApplication
}

func (r *actionResponse) errorType() string {
	t, _ := r.Error["__type"].(string)
	return t
}

// message flattens the CKAN error object. Validation errors carry one
// list of messages per field.
func (r *actionResponse) message() string {
	if r.Error == nil {
		return "request failed"
	}
	var parts []string
	if m, ok := r.Error["message"].(string); ok && m != "" {
		parts = append(parts, m)
	}
	fields := make([]string, 0, len(r.Error))
	for k := range r.Error {
		if k != "__type" && k != "message" {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	for _, f := range fields {
		switch v := r.Error[f].(type) {
		case []interface{}:
			msgs := make([]string, 0, len(v))
			for _, m := range v {
				msgs = append(msgs, fmt.Sprint(m))
			}
			parts = append(parts, f+": "+strings.Join(msgs, ", "))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v", f, v))
		}
	}
	if len(parts) == 0 {
		if t := r.errorType(); t != "" {
			return t
		}
		return "request failed"
	}
	return strings.Join(parts, "; ")
}

// Package is a typed view of a package_show result.
type Package struct {
	ID               string     `mapstructure:"id"`
	Name             string     `mapstructure:"name"`
	Title            string     `mapstructure:"title"`
	Notes            string     `mapstructure:"notes"`
	State            string     `mapstructure:"state"`
	Private          bool       `mapstructure:"private"`
	MetadataModified time.Time  `mapstructure:"metadata_modified"`
	Tags             []Tag      `mapstructure:"tags"`
	Resources        []Resource `mapstructure:"resources"`
}

type Tag struct {
	Name string `mapstructure:"name"`
}

// Resource is a typed view of a resource_show result.
type Resource struct {
	ID           string    `mapstructure:"id"`
	PackageID    string    `mapstructure:"package_id"`
	Name         string    `mapstructure:"name"`
	Description  string    `mapstructure:"description"`
	Format       string    `mapstructure:"format"`
	URL          string    `mapstructure:"url"`
	URLType      string    `mapstructure:"url_type"`
	Size         int64     `mapstructure:"size"`
	LastModified time.Time `mapstructure:"last_modified"`
	Created      time.Time `mapstructure:"created"`
}

// expandTags turns a list of tag names into the object form CKAN expects.
func expandTags(v interface{}) interface{} {
	switch tags := v.(type) {
	case []string:
		out := make([]interface{}, 0, len(tags))
		for _, t := range tags {
			out = append(out, map[string]interface{}{"name": t})
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				out = append(out, map[string]interface{}{"name": s})
				continue
			}
			out = append(out, t)
		}
		return out
	case string:
		var out []interface{}
		for _, s := range strings.Split(tags, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, map[string]interface{}{"name": s})
			}
		}
		return out
	}
	return v
}

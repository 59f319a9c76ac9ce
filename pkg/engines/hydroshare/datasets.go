package hydroshare

import (
	"context"
	"encoding/json"
	"fmt"

	"dario.cat/mergo"
	"github.com/go-resty/resty/v2"
	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// ListDatasets lists resource ids, or the full listing records with the
// "with_resources" option.
func (e *Engine) ListDatasets(ctx context.Context, opts dataset.Options) *dataset.Response {
	const op = "list_resources"
	var o struct {
		WithResources bool `mapstructure:"with_resources"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	records, err := e.listAll(ctx, op, e.apiURL("resource"), nil)
	if err != nil {
		return dataset.Fail(err)
	}
	if o.WithResources {
		out := make([]interface{}, len(records))
		for i, r := range records {
			out[i] = r
		}
		return dataset.OK(out)
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if id, ok := r["resource_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return dataset.OK(ids)
}

// searchParams maps query terms onto the resource listing filters. The
// pseudo field "q" is the full text search.
var searchParams = map[string]string{
	"q":                "full_text_search",
	"full_text_search": "full_text_search",
	"type":             "type",
	"author":           "author",
	"owner":            "owner",
	"user":             "user",
	"group":            "group",
	"subject":          "subject",
	"from_date":        "from_date",
	"to_date":          "to_date",
	"edit_permission":  "edit_permission",
	"published":        "published",
}

// SearchDatasets runs the resource listing with query filters.
func (e *Engine) SearchDatasets(ctx context.Context, query dataset.Query, opts dataset.Options) *dataset.Response {
	const op = "search_resources"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if len(query) == 0 {
		return dataset.Failf(dataset.KindInvalid, op, "a query is required")
	}
	params := make(map[string]string, len(query))
	for field, value := range query {
		p, ok := searchParams[field]
		if !ok {
			return dataset.Failf(dataset.KindInvalid, op, "unsupported search field %q", field)
		}
		params[p] = value
	}
	records, err := e.listAll(ctx, op, e.apiURL("resource"), params)
	if err != nil {
		return dataset.Fail(err)
	}
	out := make([]interface{}, len(records))
	for i, r := range records {
		out[i] = r
	}
	return dataset.OK(out)
}

// GetDataset returns the system metadata of a resource.
func (e *Engine) GetDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	const op = "get_resource"
	if err := validateID(op, datasetID); err != nil {
		return dataset.Fail(err)
	}
	var meta map[string]interface{}
	if err := e.getJSON(ctx, op, e.apiURL("resource", datasetID, "sysmeta"), nil, &meta); err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(meta)
}

type createOptions struct {
	ResourceType string                 `mapstructure:"resource_type"`
	Abstract     string                 `mapstructure:"abstract"`
	Keywords     []string               `mapstructure:"keywords"`
	Metadata     []interface{}          `mapstructure:"metadata"`
	Extra        map[string]interface{} `mapstructure:"extra_metadata"`
}

// CreateDataset creates a resource titled name. The resource type defaults
// to CompositeResource.
func (e *Engine) CreateDataset(ctx context.Context, name string, opts dataset.Options) *dataset.Response {
	const op = "create_resource"
	var o createOptions
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	if name == "" {
		return dataset.Failf(dataset.KindInvalid, op, "a title is required")
	}
	if o.ResourceType == "" {
		o.ResourceType = DefaultResourceType
	}
	if !ResourceTypes[o.ResourceType] {
		return dataset.Failf(dataset.KindInvalid, op, "unknown resource_type %q, expected one of %s", o.ResourceType, resourceTypeNames())
	}

	req := e.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetFormData(map[string]string{
			"resource_type": o.ResourceType,
			"title":         name,
		})
	if o.Abstract != "" {
		req.SetFormData(map[string]string{"abstract": o.Abstract})
	}
	if len(o.Keywords) > 0 {
		req.SetFormDataFromValues(map[string][]string{"keywords": o.Keywords})
	}
	if len(o.Metadata) > 0 {
		if err := setJSONField(req, "metadata", o.Metadata); err != nil {
			return dataset.Fail(dataset.Errorf(dataset.KindInvalid, op, "%w", err))
		}
	}
	if len(o.Extra) > 0 {
		if err := setJSONField(req, "extra_metadata", o.Extra); err != nil {
			return dataset.Fail(dataset.Errorf(dataset.KindInvalid, op, "%w", err))
		}
	}
	resp, err := req.Post(e.apiURL("resource"))
	if err := transport.Check(op, resp, err); err != nil {
		return dataset.Fail(err)
	}
	var created struct {
		ResourceID string `json:"resource_id"`
	}
	if err := transport.DecodeJSON(op, resp, &created); err != nil {
		return dataset.Fail(err)
	}
	if created.ResourceID == "" {
		return dataset.Failf(dataset.KindResponseShape, op, "created resource has no id")
	}
	e.logger.Info("Resource created", "resource_id", created.ResourceID, "type", o.ResourceType)
	return e.GetDataset(ctx, created.ResourceID, nil)
}

// setJSONField adds a form field holding v encoded as JSON, the way hsapi
// expects structured metadata on create.
func setJSONField(req *resty.Request, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	req.SetFormData(map[string]string{key: string(b)})
	return nil
}

// UpdateDataset replaces science metadata elements. "title", "abstract"
// and "keywords" are mapped onto their elements; "metadata" holds raw
// elements merged over them.
func (e *Engine) UpdateDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	const op = "update_resource"
	var o struct {
		Title    string                 `mapstructure:"title"`
		Abstract string                 `mapstructure:"abstract"`
		Keywords []string               `mapstructure:"keywords"`
		Metadata map[string]interface{} `mapstructure:"metadata"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	if err := validateID(op, datasetID); err != nil {
		return dataset.Fail(err)
	}
	elements := map[string]interface{}{}
	if o.Title != "" {
		elements["title"] = o.Title
	}
	if o.Abstract != "" {
		elements["description"] = o.Abstract
	}
	if len(o.Keywords) > 0 {
		subjects := make([]interface{}, len(o.Keywords))
		for i, k := range o.Keywords {
			subjects[i] = map[string]interface{}{"value": k}
		}
		elements["subjects"] = subjects
	}
	if len(o.Metadata) > 0 {
		if err := mergo.Merge(&elements, o.Metadata, mergo.WithOverride); err != nil {
			return dataset.Failf(dataset.KindInvalid, op, "merging metadata: %v", err)
		}
	}
	if len(elements) == 0 {
		return dataset.Failf(dataset.KindInvalid, op, "nothing to update")
	}

	resp, err := e.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(elements).
		Put(e.apiURL("resource", datasetID, "scimeta", "elements"))
	if err := transport.Check(op, resp, err); err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Resource metadata updated", "resource_id", datasetID)
	return e.GetDataset(ctx, datasetID, nil)
}

// DeleteDataset deletes a resource.
func (e *Engine) DeleteDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	const op = "delete_resource"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if err := validateID(op, datasetID); err != nil {
		return dataset.Fail(err)
	}
	resp, err := e.http.R().SetContext(ctx).Delete(e.apiURL("resource", datasetID))
	if err := transport.Check(op, resp, err); err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Resource deleted", "resource_id", datasetID)
	return dataset.OK(nil)
}

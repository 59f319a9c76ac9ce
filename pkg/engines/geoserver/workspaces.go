package geoserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tethys-dataset-services/pkg/dataset"
)

type listOptions struct {
	WithProperties bool `mapstructure:"with_properties"`
}

type createWorkspaceOptions struct {
	URI string `mapstructure:"uri"`
}

type deleteOptions struct {
	Purge   bool `mapstructure:"purge"`
	Recurse bool `mapstructure:"recurse"`
}

func (o deleteOptions) params() map[string]string {
	return map[string]string{
		"purge":   strconv.FormatBool(o.Purge),
		"recurse": strconv.FormatBool(o.Recurse),
	}
}

// ListDatasets lists workspace names.
func (e *Engine) ListDatasets(ctx context.Context, opts dataset.Options) *dataset.Response {
	var o listOptions
	if _, err := opts.Decode("list_workspaces", &o, true); err != nil {
		return dataset.Fail(err)
	}
	res, err := e.list(ctx, "list_workspaces", "workspaces", "workspace", o.WithProperties, "workspaces")
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(res)
}

// SearchDatasets filters the workspace listing by query terms.
func (e *Engine) SearchDatasets(ctx context.Context, query dataset.Query, opts dataset.Options) *dataset.Response {
	if _, err := opts.Decode("search_workspaces", &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	var doc map[string]interface{}
	if err := e.getJSON(ctx, "search_workspaces", &doc, "workspaces"); err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(filterEntries(listEntries(doc, "workspaces", "workspace"), query))
}

func filterEntries(entries []map[string]interface{}, query dataset.Query) []interface{} {
	out := []interface{}{}
	for _, m := range entries {
		if query.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) GetDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	ws, err := e.getObject(ctx, "get_workspace", "workspace", "workspaces", datasetID)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(ws)
}

// CreateDataset creates a workspace. Workspaces are containers, so an
// existing one is returned as is.
func (e *Engine) CreateDataset(ctx context.Context, name string, opts dataset.Options) *dataset.Response {
	var o createWorkspaceOptions
	if _, err := opts.Decode("create_workspace", &o, true); err != nil {
		return dataset.Fail(err)
	}
	if name == "" {
		return dataset.Failf(dataset.KindInvalid, "create_workspace", "a workspace name is required")
	}
	ws, err := e.createWorkspace(ctx, name, o.URI)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(ws)
}

func (e *Engine) createWorkspace(ctx context.Context, name, uri string) (map[string]interface{}, error) {
	_, err := e.do(ctx, request{
		op:          "create_workspace",
		method:      http.MethodPost,
		url:         e.restURL("workspaces"),
		contentType: "application/json",
		body:        map[string]interface{}{"workspace": map[string]interface{}{"name": name}},
	})
	switch {
	case err == nil:
		e.logger.Info("Workspace created", "workspace", name)
	case dataset.IsAlreadyExists(err):
		e.logger.Debug("Workspace already exists", "workspace", name)
	default:
		return nil, err
	}

	if uri != "" {
		_, err := e.do(ctx, request{
			op:          "update_namespace",
			method:      http.MethodPut,
			url:         e.restURL("namespaces", name),
			contentType: "application/json",
			body:        map[string]interface{}{"namespace": map[string]interface{}{"prefix": name, "uri": uri}},
		})
		if err != nil {
			return nil, err
		}
	}
	return e.getObject(ctx, "get_workspace", "workspace", "workspaces", name)
}

// UpdateDataset renames or isolates a workspace. The namespace uri can be
// changed with the "uri" option.
func (e *Engine) UpdateDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	var o struct {
		Name     string `mapstructure:"name"`
		Isolated *bool  `mapstructure:"isolated"`
		URI      string `mapstructure:"uri"`
	}
	if _, err := opts.Decode("update_workspace", &o, true); err != nil {
		return dataset.Fail(err)
	}
	changes := map[string]interface{}{}
	if o.Name != "" {
		changes["name"] = o.Name
	}
	if o.Isolated != nil {
		changes["isolated"] = *o.Isolated
	}
	target := datasetID
	if len(changes) > 0 {
		if _, err := e.update(ctx, "update_workspace", "workspace", changes, "workspaces", datasetID); err != nil {
			return dataset.Fail(err)
		}
		if o.Name != "" {
			target = o.Name
		}
	}
	if o.URI != "" {
		_, err := e.do(ctx, request{
			op:          "update_namespace",
			method:      http.MethodPut,
			url:         e.restURL("namespaces", target),
			contentType: "application/json",
			body:        map[string]interface{}{"namespace": map[string]interface{}{"prefix": target, "uri": o.URI}},
		})
		if err != nil {
			return dataset.Fail(err)
		}
	}
	return e.GetDataset(ctx, target, nil)
}

// DeleteDataset deletes a workspace. Without recurse GeoServer refuses to
// delete a workspace that still holds stores.
func (e *Engine) DeleteDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	var o deleteOptions
	if _, err := opts.Decode("delete_workspace", &o, true); err != nil {
		return dataset.Fail(err)
	}
	_, err := e.do(ctx, request{
		op:     "delete_workspace",
		method: http.MethodDelete,
		url:    e.restURL("workspaces", datasetID),
		params: map[string]string{"recurse": strconv.FormatBool(o.Recurse)},
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Workspace deleted", "workspace", datasetID)
	return dataset.OK(nil)
}

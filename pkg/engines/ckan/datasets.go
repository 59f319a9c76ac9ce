package ckan

import (
	"context"
	"fmt"

	"github.com/mohae/deepcopy"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// body deep copies caller options into a request body so later edits never
// leak back into the caller's map.
func body(opts dataset.Options) map[string]interface{} {
	if len(opts) == 0 {
		return map[string]interface{}{}
	}
	return deepcopy.Copy(map[string]interface{}(opts)).(map[string]interface{})
}

func (e *Engine) ListDatasets(ctx context.Context, opts dataset.Options) *dataset.Response {
	b := body(opts)
	if opts.Bool("with_resources") {
		delete(b, "with_resources")
		return e.call(ctx, "current_package_list_with_resources", b)
	}
	delete(b, "with_resources")
	return e.call(ctx, "package_list", b)
}

// SearchDatasets runs package_search. Query terms become the q parameter and
// the filtered_query option becomes fq.
func (e *Engine) SearchDatasets(ctx context.Context, query dataset.Query, opts dataset.Options) *dataset.Response {
	b := body(opts)
	fq, hasFQ := b["filtered_query"]
	delete(b, "filtered_query")
	if len(query) == 0 && !hasFQ {
		return dataset.Failf(dataset.KindInvalid, "package_search", "a query or a filtered_query option is required")
	}
	if len(query) > 0 {
		b["q"] = query.Join(" ")
	}
	if hasFQ {
		switch v := fq.(type) {
		case map[string]interface{}:
			terms := dataset.Query{}
			for k, val := range v {
				terms[k] = fmt.Sprint(val)
			}
			b["fq"] = terms.Join(" ")
		default:
			b["fq"] = fmt.Sprint(v)
		}
	}
	return e.call(ctx, "package_search", b)
}

func (e *Engine) GetDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	b := body(opts)
	b["id"] = datasetID
	return e.call(ctx, "package_show", b)
}

// CreateDataset runs package_create. Tags given as plain names are expanded
// to tag objects.
func (e *Engine) CreateDataset(ctx context.Context, name string, opts dataset.Options) *dataset.Response {
	if name == "" {
		return dataset.Failf(dataset.KindInvalid, "package_create", "a dataset name is required")
	}
	b := body(opts)
	b["name"] = name
	if tags, ok := b["tags"]; ok {
		b["tags"] = expandTags(tags)
	}
	res, err := e.action(ctx, "package_create", b)
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Dataset created", "name", name)
	return dataset.OK(res)
}

// UpdateDataset reads the current package and applies opts on top of it, so
// resources and tags survive unless they are supplied.
func (e *Engine) UpdateDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	current, err := e.action(ctx, "package_show", map[string]interface{}{"id": datasetID})
	if err != nil {
		return dataset.Fail(err)
	}
	b, ok := current.(map[string]interface{})
	if !ok {
		return dataset.Failf(dataset.KindResponseShape, "package_show", "expected a package object")
	}
	for k, v := range body(opts) {
		b[k] = v
	}
	b["id"] = datasetID
	if tags, ok := b["tags"]; ok {
		b["tags"] = expandTags(tags)
	}
	return e.call(ctx, "package_update", b)
}

func (e *Engine) DeleteDataset(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	b := body(opts)
	b["id"] = datasetID
	res, err := e.action(ctx, "package_delete", b)
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Dataset deleted", "id", datasetID)
	return dataset.OK(res)
}

package ckan

import (
	"context"

	"github.com/tethys-dataset-services/pkg/dataset"
)

// SearchResources runs resource_search with one field:value term per query
// entry.
func (e *Engine) SearchResources(ctx context.Context, query dataset.Query, opts dataset.Options) *dataset.Response {
	if len(query) == 0 {
		return dataset.Failf(dataset.KindInvalid, "resource_search", "a query is required")
	}
	b := body(opts)
	b["query"] = query.Terms()
	return e.call(ctx, "resource_search", b)
}

// ListResources returns the resources embedded in package_show.
func (e *Engine) ListResources(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	b := body(opts)
	b["id"] = datasetID
	res, err := e.action(ctx, "package_show", b)
	if err != nil {
		return dataset.Fail(err)
	}
	pkg, ok := res.(map[string]interface{})
	if !ok {
		return dataset.Failf(dataset.KindResponseShape, "package_show", "expected a package object")
	}
	resources, _ := pkg["resources"].([]interface{})
	if resources == nil {
		resources = []interface{}{}
	}
	return dataset.OK(resources)
}

func (e *Engine) GetResource(ctx context.Context, resourceID string, opts dataset.Options) *dataset.Response {
	b := body(opts)
	b["id"] = resourceID
	return e.call(ctx, "resource_show", b)
}

// CreateResource links a URL with a single resource_create, or uploads a
// file by creating the resource and then patching the upload in. A failed
// upload removes the half created resource.
func (e *Engine) CreateResource(ctx context.Context, datasetID string, src dataset.Source, opts dataset.Options) *dataset.Response {
	if err := src.Check("resource_create", true); err != nil {
		return dataset.Fail(err)
	}
	b := body(opts)
	b["package_id"] = datasetID

	if src.URL != "" {
		b["url"] = src.URL
		return e.call(ctx, "resource_create", b)
	}

	if _, ok := b["name"]; !ok {
		b["name"] = src.Name()
	}
	b["url"] = ""
	res, err := e.action(ctx, "resource_create", b)
	if err != nil {
		return dataset.Fail(err)
	}
	stub, _ := res.(map[string]interface{})
	id, _ := stub["id"].(string)
	if id == "" {
		return dataset.Failf(dataset.KindResponseShape, "resource_create", "created resource has no id")
	}

	f, err := src.Open()
	if err != nil {
		e.cleanup(ctx, id)
		return dataset.Failf(dataset.KindInvalid, "resource_patch", "%v", err)
	}
	defer f.Close()

	res, err = e.actionUpload(ctx, "resource_patch", map[string]interface{}{"id": id}, src.Name(), f)
	if err != nil {
		e.logger.Error("Upload failed, removing resource", "resource_id", id, "error", err)
		e.cleanup(ctx, id)
		return dataset.Fail(err)
	}
	e.logger.Info("Resource uploaded", "resource_id", id, "file", src.Name())
	return dataset.OK(res)
}

func (e *Engine) cleanup(ctx context.Context, resourceID string) {
	if _, err := e.action(ctx, "resource_delete", map[string]interface{}{"id": resourceID}); err != nil {
		e.logger.Warn("Failed to remove resource", "resource_id", resourceID, "error", err)
	}
}

// UpdateResource runs resource_update over the current resource. The
// existing url is kept when neither a URL nor a file is given.
func (e *Engine) UpdateResource(ctx context.Context, resourceID string, src dataset.Source, opts dataset.Options) *dataset.Response {
	if err := src.Check("resource_update", false); err != nil {
		return dataset.Fail(err)
	}
	current, err := e.action(ctx, "resource_show", map[string]interface{}{"id": resourceID})
	if err != nil {
		return dataset.Fail(err)
	}
	b, ok := current.(map[string]interface{})
	if !ok {
		return dataset.Failf(dataset.KindResponseShape, "resource_show", "expected a resource object")
	}
	for k, v := range body(opts) {
		b[k] = v
	}
	b["id"] = resourceID

	switch {
	case src.URL != "":
		b["url"] = src.URL
	case src.HasFile():
		f, err := src.Open()
		if err != nil {
			return dataset.Failf(dataset.KindInvalid, "resource_update", "%v", err)
		}
		defer f.Close()
		delete(b, "url")
		res, err := e.actionUpload(ctx, "resource_update", b, src.Name(), f)
		if err != nil {
			return dataset.Fail(err)
		}
		return dataset.OK(res)
	}
	return e.call(ctx, "resource_update", b)
}

func (e *Engine) DeleteResource(ctx context.Context, resourceID string, opts dataset.Options) *dataset.Response {
	b := body(opts)
	b["id"] = resourceID
	return e.call(ctx, "resource_delete", b)
}

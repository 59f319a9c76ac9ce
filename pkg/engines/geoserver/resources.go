package geoserver

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tethys-dataset-services/pkg/dataset"
)

type createResourceOptions struct {
	CoverageType string   `mapstructure:"coverage_type"`
	Overwrite    bool     `mapstructure:"overwrite"`
	Charset      string   `mapstructure:"charset"`
	DefaultStyle string   `mapstructure:"default_style"`
	OtherStyles  []string `mapstructure:"other_styles"`
}

// resourceKinds are the collections a workspace publishes resources from,
// with the root key of a single object.
var resourceKinds = []struct {
	collection, outer, inner, root string
}{
	{"featuretypes", "featureTypes", "featureType", "featureType"},
	{"coverages", "coverages", "coverage", "coverage"},
}

// ListResources lists the feature types and coverages of a workspace as
// "workspace:name" identifiers.
func (e *Engine) ListResources(ctx context.Context, datasetID string, opts dataset.Options) *dataset.Response {
	var o listOptions
	if _, err := opts.Decode("list_resources", &o, true); err != nil {
		return dataset.Fail(err)
	}
	res, err := e.listResources(ctx, datasetID, o.WithProperties)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(res)
}

func (e *Engine) listResources(ctx context.Context, ws string, withProperties bool) ([]interface{}, error) {
	if ws == "" {
		def, err := e.DefaultWorkspace(ctx)
		if err != nil {
			return nil, err
		}
		ws = def
	}
	out := []interface{}{}
	for _, k := range resourceKinds {
		var doc map[string]interface{}
		if err := e.getJSON(ctx, "list_resources", &doc, "workspaces", ws, k.collection); err != nil {
			return nil, err
		}
		for _, m := range listEntries(doc, k.outer, k.inner) {
			name, _ := m["name"].(string)
			if !withProperties {
				out = append(out, JoinID(ws, name))
				continue
			}
			m["workspace"] = ws
			m["resource_type"] = k.root
			out = append(out, m)
		}
	}
	return out, nil
}

// SearchResources filters resources by query terms. The "workspace" option
// limits the search to one workspace; otherwise every workspace is read.
func (e *Engine) SearchResources(ctx context.Context, query dataset.Query, opts dataset.Options) *dataset.Response {
	var o struct {
		Workspace string `mapstructure:"workspace"`
	}
	if _, err := opts.Decode("search_resources", &o, true); err != nil {
		return dataset.Fail(err)
	}
	workspaces := []string{o.Workspace}
	if o.Workspace == "" {
		var doc map[string]interface{}
		if err := e.getJSON(ctx, "search_resources", &doc, "workspaces"); err != nil {
			return dataset.Fail(err)
		}
		workspaces = entryNames(listEntries(doc, "workspaces", "workspace"))
	}

	out := []interface{}{}
	for _, ws := range workspaces {
		entries, err := e.listResources(ctx, ws, true)
		if err != nil {
			return dataset.Fail(err)
		}
		for _, m := range entries {
			if query.Matches(m.(map[string]interface{})) {
				out = append(out, m)
			}
		}
	}
	return dataset.OK(out)
}

// getResource finds a feature type, falling back to a coverage, and returns
// it with the collection and root key it was found under.
func (e *Engine) getResource(ctx context.Context, op, ws, name string) (map[string]interface{}, string, string, error) {
	for _, k := range resourceKinds {
		obj, err := e.getObject(ctx, op, k.root, "workspaces", ws, k.collection, name)
		if err == nil {
			return obj, k.collection, k.root, nil
		}
		if !dataset.IsNotFound(err) {
			return nil, "", "", err
		}
	}
	return nil, "", "", dataset.Errorf(dataset.KindNotFound, op, "resource %q not found", JoinID(ws, name))
}

func (e *Engine) GetResource(ctx context.Context, resourceID string, opts dataset.Options) *dataset.Response {
	ws, name, err := e.resolve(ctx, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	obj, _, root, err := e.getResource(ctx, "get_resource", ws, name)
	if err != nil {
		return dataset.Fail(err)
	}
	obj["resource_type"] = root
	return dataset.OK(obj)
}

// CreateResource publishes content into the store named by storeID. A local
// shapefile (.shp with sidecars, or a zip) becomes a feature type; with the
// "coverage_type" option a raster file becomes a coverage. A URL is linked
// instead of uploaded. Stores are created on upload, but a store that
// already exists is only replaced with "overwrite".
func (e *Engine) CreateResource(ctx context.Context, storeID string, src dataset.Source, opts dataset.Options) *dataset.Response {
	const op = "create_resource"
	var o createResourceOptions
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	if err := src.Check(op, true); err != nil {
		return dataset.Fail(err)
	}
	if o.CoverageType != "" && !ValidCoverageType(o.CoverageType) {
		return dataset.Failf(dataset.KindInvalid, op, "%q is not a valid coverage type", o.CoverageType)
	}
	ws, store, err := e.resolve(ctx, storeID)
	if err != nil {
		return dataset.Fail(err)
	}
	if err := e.ensureWorkspace(ctx, op, ws); err != nil {
		return dataset.Fail(err)
	}

	if !o.Overwrite {
		collection := "datastores"
		if o.CoverageType != "" {
			collection = "coveragestores"
		}
		found, err := e.exists(ctx, op, "workspaces", ws, collection, store)
		if err != nil {
			return dataset.Fail(err)
		}
		if found {
			return dataset.Failf(dataset.KindAlreadyExists, op, "there is already a store named %s in %s", store, ws)
		}
	}

	name, err := e.upload(ctx, op, ws, store, src, o)
	if err != nil {
		return dataset.Fail(err)
	}
	if o.DefaultStyle != "" {
		if err := e.setLayerStyles(ctx, op, JoinID(ws, name), o.DefaultStyle, o.OtherStyles); err != nil {
			return dataset.Fail(err)
		}
	}
	return e.GetResource(ctx, JoinID(ws, name), nil)
}

// upload sends src to a data or coverage store and returns the name of the
// published resource.
func (e *Engine) upload(ctx context.Context, op, ws, store string, src dataset.Source, o createResourceOptions) (string, error) {
	collection, ext := "datastores", "shp"
	if o.CoverageType != "" {
		collection, ext = "coveragestores", strings.ToLower(storeType(o.CoverageType))
	}

	params := map[string]string{}
	if o.Charset != "" {
		params["charset"] = o.Charset
	}
	if o.Overwrite {
		params["update"] = "overwrite"
	}

	var (
		method  = "file"
		body    []byte
		name    string
		ctype   = "application/zip"
		linkURL string
	)
	switch {
	case src.URL != "":
		method, ctype, linkURL = "url", "text/plain", src.URL
		name = store
		if u, err := url.Parse(src.URL); err == nil && o.CoverageType == "" {
			if b := baseName(path.Base(u.Path)); b != "" && b != "." && b != "/" {
				name = b
			}
		}
	case o.CoverageType != "":
		data, err := prepareCoverage(op, o.CoverageType, src)
		if err != nil {
			return "", err
		}
		body, name = data, store
	default:
		data, resource, err := prepareShapefile(op, store, src)
		if err != nil {
			return "", err
		}
		body, name = data, resource
	}
	if o.CoverageType != "" && o.CoverageType != CoverageImageMosaic {
		params["coverageName"] = name
	}

	req := request{
		op:          op,
		method:      http.MethodPut,
		url:         e.restURL("workspaces", ws, collection, store, method+"."+ext),
		contentType: ctype,
		accept:      "application/xml",
		params:      params,
	}
	if linkURL != "" {
		req.body = linkURL
	} else {
		req.body = body
	}
	if _, err := e.do(ctx, req); err != nil {
		if o.CoverageType != "" && dataset.IsAlreadyExists(err) {
			e.logger.Warn("Coverage already exists", "coverage", JoinID(ws, name))
			return name, nil
		}
		return "", err
	}
	e.logger.Info("Resource uploaded", "store", JoinID(ws, store), "resource", name, "method", method)
	return name, nil
}

// UpdateResource changes resource attributes. File content replaces the
// data in the resource's store.
func (e *Engine) UpdateResource(ctx context.Context, resourceID string, src dataset.Source, opts dataset.Options) *dataset.Response {
	const op = "update_resource"
	if err := src.Check(op, false); err != nil {
		return dataset.Fail(err)
	}
	ws, name, err := e.resolve(ctx, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	obj, collection, root, err := e.getResource(ctx, op, ws, name)
	if err != nil {
		return dataset.Fail(err)
	}

	changes := opts.Without("charset")
	if !src.IsZero() {
		storeRef, _ := obj["store"].(map[string]interface{})
		storeID, _ := storeRef["name"].(string)
		_, store := SplitID(storeID)
		if store == "" {
			return dataset.Failf(dataset.KindResponseShape, op, "resource %q has no store", JoinID(ws, name))
		}
		o := createResourceOptions{Overwrite: true, Charset: opts.String("charset")}
		if root == "coverage" {
			st, err := e.getObject(ctx, op, "coverageStore", "workspaces", ws, "coveragestores", store)
			if err != nil {
				return dataset.Fail(err)
			}
			o.CoverageType, _ = st["type"].(string)
		}
		if _, err := e.upload(ctx, op, ws, store, src, o); err != nil {
			return dataset.Fail(err)
		}
	}
	if len(changes) > 0 {
		if _, err := e.update(ctx, op, root, changes, "workspaces", ws, collection, name); err != nil {
			return dataset.Fail(err)
		}
	}
	target := name
	if n, ok := changes["name"].(string); ok && n != "" {
		target = n
	}
	return e.GetResource(ctx, JoinID(ws, target), nil)
}

// DeleteResource deletes a feature type or coverage. "recurse" also removes
// the layers published from it.
func (e *Engine) DeleteResource(ctx context.Context, resourceID string, opts dataset.Options) *dataset.Response {
	const op = "delete_resource"
	var o deleteOptions
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	ws, name, err := e.resolve(ctx, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	_, collection, _, err := e.getResource(ctx, op, ws, name)
	if err != nil {
		return dataset.Fail(err)
	}
	_, err = e.do(ctx, request{
		op:     op,
		method: http.MethodDelete,
		url:    e.restURL("workspaces", ws, collection, name),
		params: o.params(),
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Resource deleted", "resource", JoinID(ws, name))
	return dataset.OK(nil)
}

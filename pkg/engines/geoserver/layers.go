package geoserver

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// DefaultExtent is returned by LayerExtent when a feature type has no
// bounding box (the contiguous United States).
var DefaultExtent = []float64{-128.583984375, 22.1874049914, -64.423828125, 52.1065051908}

// ListLayers lists layer names. The "workspace" option restricts the list.
func (e *Engine) ListLayers(ctx context.Context, opts dataset.Options) *dataset.Response {
	var o struct {
		WithProperties bool   `mapstructure:"with_properties"`
		Workspace      string `mapstructure:"workspace"`
	}
	if _, err := opts.Decode("list_layers", &o, true); err != nil {
		return dataset.Fail(err)
	}
	parts := []string{"layers"}
	if o.Workspace != "" {
		parts = []string{"workspaces", o.Workspace, "layers"}
	}
	res, err := e.list(ctx, "list_layers", "layers", "layer", o.WithProperties, parts...)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(res)
}

// GetLayer returns a layer with its GeoWebCache settings under
// "tile_caching" when the layer is cached.
func (e *Engine) GetLayer(ctx context.Context, layerID string, opts dataset.Options) *dataset.Response {
	ws, name, err := e.resolve(ctx, layerID)
	if err != nil {
		return dataset.Fail(err)
	}
	layer, err := e.getObject(ctx, "get_layer", "layer", "layers", JoinID(ws, name))
	if err != nil {
		return dataset.Fail(err)
	}

	resp, err := e.do(ctx, request{
		op:     "get_tile_caching",
		method: http.MethodGet,
		url:    e.gwcURL(false, "layers", JoinID(ws, name)+".xml"),
		accept: "application/xml",
	})
	if err == nil {
		var gl gwcLayerXML
		if xml.Unmarshal(resp.Body(), &gl) == nil {
			layer["tile_caching"] = tileCachingFrom(gl)
		}
	} else if !dataset.IsNotFound(err) {
		e.logger.Warn("Could not read tile caching settings", "layer", JoinID(ws, name), "error", err)
	}
	return dataset.OK(layer)
}

// TileCaching is the editable part of a GeoWebCache layer.
type TileCaching struct {
	Enabled         bool     `mapstructure:"enabled" json:"enabled"`
	InMemoryCached  bool     `mapstructure:"in_memory_cached" json:"in_memory_cached"`
	MimeFormats     []string `mapstructure:"mime_formats" json:"mime_formats"`
	GridSubsets     []string `mapstructure:"grid_subsets" json:"grid_subsets"`
	MetaWidthHeight []int    `mapstructure:"meta_width_height" json:"meta_width_height"`
	ExpireCache     int      `mapstructure:"expire_cache" json:"expire_cache"`
	ExpireClients   int      `mapstructure:"expire_clients" json:"expire_clients"`
	Gutter          int      `mapstructure:"gutter" json:"gutter"`
}

func tileCachingFrom(gl gwcLayerXML) TileCaching {
	tc := TileCaching{
		Enabled:         gl.Enabled,
		InMemoryCached:  gl.InMemoryCached,
		MimeFormats:     gl.MimeFormats,
		MetaWidthHeight: gl.MetaWidthHeight,
		ExpireCache:     gl.ExpireCache,
		ExpireClients:   gl.ExpireClients,
		Gutter:          gl.Gutter,
	}
	for _, gs := range gl.GridSubsets {
		tc.GridSubsets = append(tc.GridSubsets, gs.GridSetName)
	}
	return tc
}

func (tc TileCaching) xml(layerID string) gwcLayerXML {
	gl := newGWCLayer(layerID)
	gl.Enabled = tc.Enabled
	gl.InMemoryCached = tc.InMemoryCached
	if len(tc.MimeFormats) > 0 {
		gl.MimeFormats = tc.MimeFormats
	}
	if len(tc.GridSubsets) > 0 {
		gl.GridSubsets = gl.GridSubsets[:0]
		for _, gs := range tc.GridSubsets {
			gl.GridSubsets = append(gl.GridSubsets, struct {
				GridSetName string `xml:"gridSetName"`
			}{gs})
		}
	}
	if len(tc.MetaWidthHeight) == 2 {
		gl.MetaWidthHeight = tc.MetaWidthHeight
	}
	gl.ExpireCache = tc.ExpireCache
	gl.ExpireClients = tc.ExpireClients
	gl.Gutter = tc.Gutter
	return gl
}

// UpdateLayer merges attribute changes into a layer. A "tile_caching"
// option replaces the layer's GeoWebCache settings.
func (e *Engine) UpdateLayer(ctx context.Context, layerID string, opts dataset.Options) *dataset.Response {
	const op = "update_layer"
	ws, name, err := e.resolve(ctx, layerID)
	if err != nil {
		return dataset.Fail(err)
	}
	id := JoinID(ws, name)

	changes := opts.Without("tile_caching")
	if len(changes) > 0 {
		if _, err := e.update(ctx, op, "layer", changes, "layers", id); err != nil {
			return dataset.Fail(err)
		}
	}
	if raw, ok := opts["tile_caching"]; ok {
		var tc TileCaching
		if err := mapstructure.Decode(raw, &tc); err != nil {
			return dataset.Failf(dataset.KindInvalid, op, "invalid tile_caching: %v", err)
		}
		_, err := e.do(ctx, request{
			op:          op,
			method:      http.MethodPost,
			url:         e.gwcURL(false, "layers", id+".xml"),
			contentType: "text/xml",
			body:        tc.xml(id),
		})
		if err != nil {
			return dataset.Fail(err)
		}
	}
	return e.GetLayer(ctx, id, nil)
}

// UpdateLayerStyles sets the default and additional styles of a layer.
func (e *Engine) UpdateLayerStyles(ctx context.Context, layerID, defaultStyle string, otherStyles []string, opts dataset.Options) *dataset.Response {
	if defaultStyle == "" {
		return dataset.Failf(dataset.KindInvalid, "update_layer_styles", "a default style is required")
	}
	ws, name, err := e.resolve(ctx, layerID)
	if err != nil {
		return dataset.Fail(err)
	}
	if err := e.setLayerStyles(ctx, "update_layer_styles", JoinID(ws, name), defaultStyle, otherStyles); err != nil {
		return dataset.Fail(err)
	}
	return e.GetLayer(ctx, JoinID(ws, name), nil)
}

// setLayerStyles assigns styles to a layer. Unqualified style names that
// exist in the layer's workspace are qualified with it; others refer to
// global styles.
func (e *Engine) setLayerStyles(ctx context.Context, op, layerID, defaultStyle string, otherStyles []string) error {
	ws, _ := SplitID(layerID)
	local := map[string]bool{}
	var doc map[string]interface{}
	if err := e.getJSON(ctx, op, &doc, "workspaces", ws, "styles"); err == nil {
		for _, n := range entryNames(listEntries(doc, "styles", "style")) {
			local[n] = true
		}
	} else if !dataset.IsNotFound(err) {
		return err
	}
	qualify := func(s string) string {
		if !strings.Contains(s, ":") && local[s] {
			return JoinID(ws, s)
		}
		return s
	}

	styles := make([]interface{}, 0, len(otherStyles))
	for _, s := range otherStyles {
		styles = append(styles, map[string]interface{}{"name": qualify(s)})
	}
	layer := map[string]interface{}{
		"defaultStyle": map[string]interface{}{"name": qualify(defaultStyle)},
	}
	if len(styles) > 0 {
		layer["styles"] = map[string]interface{}{"style": styles}
	}
	_, err := e.do(ctx, request{
		op:          op,
		method:      http.MethodPut,
		url:         e.restURL("layers", layerID),
		contentType: "application/json",
		body:        map[string]interface{}{"layer": layer},
	})
	if err != nil {
		return err
	}
	e.logger.Info("Layer styles updated", "layer", layerID, "default_style", qualify(defaultStyle))
	return nil
}

// DeleteLayer removes a layer. "recurse" also removes it from layer groups.
func (e *Engine) DeleteLayer(ctx context.Context, layerID string, opts dataset.Options) *dataset.Response {
	const op = "delete_layer"
	var o deleteOptions
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	ws, name, err := e.resolve(ctx, layerID)
	if err != nil {
		return dataset.Fail(err)
	}
	_, err = e.do(ctx, request{
		op:     op,
		method: http.MethodDelete,
		url:    e.restURL("layers", JoinID(ws, name)),
		params: o.params(),
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Layer deleted", "layer", JoinID(ws, name))
	return dataset.OK(nil)
}

// LayerExtent returns [minx, miny, maxx, maxy] of a feature type, widened
// by buffer. The native bounding box is used when native is set. A feature
// type without a bounding box yields DefaultExtent.
func (e *Engine) LayerExtent(ctx context.Context, storeID, featureName string, native bool, buffer float64) ([]float64, error) {
	ws, store, err := e.resolve(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if buffer == 0 {
		buffer = 1.000001
	}
	var doc struct {
		FeatureType map[string]interface{} `json:"featureType"`
	}
	if err := e.getJSON(ctx, "layer_extent", &doc, "workspaces", ws, "datastores", store, "featuretypes", featureName); err != nil {
		return nil, err
	}
	key := "latLonBoundingBox"
	if native {
		key = "nativeBoundingBox"
	}
	var bbox struct {
		MinX *float64 `mapstructure:"minx"`
		MinY *float64 `mapstructure:"miny"`
		MaxX *float64 `mapstructure:"maxx"`
		MaxY *float64 `mapstructure:"maxy"`
	}
	raw, ok := doc.FeatureType[key]
	if !ok {
		return append([]float64(nil), DefaultExtent...), nil
	}
	if err := mapstructure.Decode(raw, &bbox); err != nil || bbox.MinX == nil || bbox.MinY == nil || bbox.MaxX == nil || bbox.MaxY == nil {
		return nil, dataset.Errorf(dataset.KindResponseShape, "layer_extent", "invalid %s", key)
	}
	return []float64{*bbox.MinX / buffer, *bbox.MinY / buffer, *bbox.MaxX * buffer, *bbox.MaxY * buffer}, nil
}

// CreateLayerFromPostGIS publishes an existing table of a PostGIS store.
// The layer takes the table name unless layerName is given.
func (e *Engine) CreateLayerFromPostGIS(ctx context.Context, storeID, table, layerName string, opts dataset.Options) *dataset.Response {
	const op = "create_layer_from_postgis"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if table == "" {
		return dataset.Failf(dataset.KindInvalid, op, "a table name is required")
	}
	ws, store, err := e.resolve(ctx, storeID)
	if err != nil {
		return dataset.Fail(err)
	}
	ok, err := e.exists(ctx, op, "workspaces", ws, "datastores", store)
	if err != nil {
		return dataset.Fail(err)
	}
	if !ok {
		return dataset.Failf(dataset.KindNotFound, op, "there is no store named %q in %s", store, ws)
	}
	if layerName == "" {
		layerName = table
	}
	_, err = e.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         e.restURL("workspaces", ws, "datastores", store, "featuretypes"),
		contentType: "text/xml",
		accept:      "application/xml",
		body:        featureTypeXML{Name: layerName, NativeName: table, Enabled: true},
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("PostGIS layer created", "layer", JoinID(ws, layerName), "table", table)
	return e.GetResource(ctx, JoinID(ws, layerName), nil)
}

// SQLView describes a layer backed by a parameterized SQL query.
type SQLView struct {
	LayerName    string
	SQL          string
	GeometryName string
	GeometryType string
	SRID         int
	Parameters   []SQLParameter
	DefaultStyle string
	OtherStyles  []string
	// ReloadPublic reloads the catalog through the public endpoint.
	ReloadPublic bool
	EnableGWC    bool
	// GWCMethod is AUTO, POST (modify) or PUT (create).
	GWCMethod string
}

func (v SQLView) xml() featureTypeXML {
	ft := featureTypeXML{Name: v.LayerName, NativeName: v.LayerName, Title: v.LayerName, Enabled: true}
	if v.SRID != 0 {
		ft.SRS = "EPSG:" + strconv.Itoa(v.SRID)
	}
	ft.Metadata = &struct {
		Entry struct {
			Key          string          `xml:"key,attr"`
			VirtualTable virtualTableXML `xml:"virtualTable"`
		} `xml:"entry"`
	}{}
	ft.Metadata.Entry.Key = "JDBC_VIRTUAL_TABLE"
	vt := &ft.Metadata.Entry.VirtualTable
	vt.Name = v.LayerName
	vt.SQL = v.SQL
	vt.EscapeSQL = false
	vt.Geometry.Name = v.GeometryName
	vt.Geometry.Type = v.GeometryType
	vt.Geometry.SRID = v.SRID
	vt.Parameters = v.Parameters
	return ft
}

// CreateSQLViewLayer creates a SQL view feature type in a PostGIS store,
// reloads the catalog, applies styles and configures GeoWebCache. An
// existing view is an already_exists failure unless "overwrite" is set.
func (e *Engine) CreateSQLViewLayer(ctx context.Context, storeID string, view SQLView, opts dataset.Options) *dataset.Response {
	const op = "create_sql_view_layer"
	var o struct {
		Overwrite bool `mapstructure:"overwrite"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	if view.LayerName == "" || view.SQL == "" {
		return dataset.Failf(dataset.KindInvalid, op, "layer name and sql are required")
	}
	if view.GeometryName == "" {
		view.GeometryName = "geometry"
	}
	method := strings.ToUpper(view.GWCMethod)
	if method == "" {
		method = "AUTO"
	}
	if method != "AUTO" && method != http.MethodPost && method != http.MethodPut {
		return dataset.Failf(dataset.KindInvalid, op, "gwc method must be AUTO, POST or PUT")
	}
	ws, store, err := e.resolve(ctx, storeID)
	if err != nil {
		return dataset.Fail(err)
	}
	layerID := JoinID(ws, view.LayerName)

	_, err = e.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         e.restURL("workspaces", ws, "datastores", store, "featuretypes"),
		contentType: "text/xml",
		body:        view.xml(),
	})
	if dataset.IsAlreadyExists(err) && o.Overwrite {
		_, err = e.do(ctx, request{
			op:          op,
			method:      http.MethodPut,
			url:         e.restURL("workspaces", ws, "datastores", store, "featuretypes", view.LayerName),
			contentType: "text/xml",
			body:        view.xml(),
		})
	}
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("SQL view created", "layer", layerID)

	if err := e.Reload(ctx, ReloadOptions{Public: view.ReloadPublic}); err != nil {
		e.logger.Warn("Catalog reload failed", "layer", layerID, "error", err)
	}
	if view.DefaultStyle != "" {
		if err := e.setLayerStyles(ctx, op, layerID, view.DefaultStyle, view.OtherStyles); err != nil {
			return dataset.Fail(err)
		}
	}
	if view.EnableGWC {
		if err := e.configureGWCLayer(ctx, op, layerID, method); err != nil {
			return dataset.Fail(err)
		}
	}
	return e.GetLayer(ctx, layerID, nil)
}

// configureGWCLayer writes the default GeoWebCache settings of a layer.
// GeoWebCache creates layers with PUT and modifies them with POST; AUTO
// probes for the layer first.
func (e *Engine) configureGWCLayer(ctx context.Context, op, layerID, method string) error {
	u := e.gwcURL(false, "layers", layerID+".xml")
	if method == "AUTO" {
		method = http.MethodPost
		_, err := e.do(ctx, request{op: op, method: http.MethodGet, url: u, accept: "application/xml"})
		if dataset.IsNotFound(err) {
			method = http.MethodPut
		}
	}
	send := func(m string) error {
		_, err := e.do(ctx, request{op: op, method: m, url: u, contentType: "text/xml", body: newGWCLayer(layerID)})
		return err
	}
	err := send(method)
	if err != nil && method == http.MethodPut {
		var de *dataset.Error
		if dataset.IsAlreadyExists(err) || (errors.As(err, &de) && de.Status == http.StatusMethodNotAllowed) {
			e.logger.Info("GeoWebCache layer exists, modifying instead", "layer", layerID)
			err = send(http.MethodPost)
		}
	}
	if err != nil {
		return err
	}
	e.logger.Info("GeoWebCache layer configured", "layer", layerID)
	return nil
}

// EnableTimeDimension turns on the ISO8601 time dimension of an image
// mosaic coverage.
func (e *Engine) EnableTimeDimension(ctx context.Context, coverageID string, opts dataset.Options) *dataset.Response {
	const op = "enable_time_dimension"
	ws, name, err := e.resolve(ctx, coverageID)
	if err != nil {
		return dataset.Fail(err)
	}
	var body coverageTimeXML
	body.Enabled = true
	body.Metadata.Entry.Key = "time"
	body.Metadata.Entry.DimensionInfo = dimensionInfoXML{Enabled: true, Presentation: "LIST", Units: "ISO8601"}
	_, err = e.do(ctx, request{
		op:          op,
		method:      http.MethodPut,
		url:         e.restURL("workspaces", ws, "coveragestores", name, "coverages", name),
		contentType: "text/xml",
		body:        body,
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Time dimension enabled", "coverage", JoinID(ws, name))
	return dataset.OK(nil)
}

// Layer groups. A group without a workspace prefix is global.

func (e *Engine) layerGroupParts(id string) (string, []string, error) {
	ws, name := SplitID(id)
	if name == "" {
		return "", nil, dataset.Errorf(dataset.KindInvalid, "identifier", "invalid identifier %q", id)
	}
	if ws == "" {
		return name, []string{"layergroups", name}, nil
	}
	return name, []string{"workspaces", ws, "layergroups", name}, nil
}

// ListLayerGroups lists global layer groups, or those of a workspace.
func (e *Engine) ListLayerGroups(ctx context.Context, workspace string, opts dataset.Options) *dataset.Response {
	var o listOptions
	if _, err := opts.Decode("list_layer_groups", &o, true); err != nil {
		return dataset.Fail(err)
	}
	parts := []string{"layergroups"}
	if workspace != "" {
		parts = []string{"workspaces", workspace, "layergroups"}
	}
	res, err := e.list(ctx, "list_layer_groups", "layerGroups", "layerGroup", o.WithProperties, parts...)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(res)
}

func (e *Engine) GetLayerGroup(ctx context.Context, groupID string, opts dataset.Options) *dataset.Response {
	_, parts, err := e.layerGroupParts(groupID)
	if err != nil {
		return dataset.Fail(err)
	}
	group, err := e.getObject(ctx, "get_layer_group", "layerGroup", parts...)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(group)
}

// CreateLayerGroup creates a group of layers, each drawn with the style at
// the same position in styles. An empty style uses the layer default.
func (e *Engine) CreateLayerGroup(ctx context.Context, groupID string, layers, styles []string, opts dataset.Options) *dataset.Response {
	const op = "create_layer_group"
	if _, err := opts.Decode(op, &struct{}{}, true); err != nil {
		return dataset.Fail(err)
	}
	if len(layers) == 0 {
		return dataset.Failf(dataset.KindInvalid, op, "at least one layer is required")
	}
	if len(layers) != len(styles) {
		return dataset.Failf(dataset.KindInvalid, op, "got %d layers but %d styles", len(layers), len(styles))
	}
	ws, name := SplitID(groupID)
	if ws != "" {
		if err := e.ensureWorkspace(ctx, op, ws); err != nil {
			return dataset.Fail(err)
		}
	}
	_, parts, err := e.layerGroupParts(groupID)
	if err != nil {
		return dataset.Fail(err)
	}

	published := make([]interface{}, len(layers))
	styleRefs := make([]interface{}, len(styles))
	for i := range layers {
		published[i] = map[string]interface{}{"@type": "layer", "name": layers[i]}
		styleRefs[i] = map[string]interface{}{"name": styles[i]}
	}
	group := map[string]interface{}{
		"name":         name,
		"mode":         "SINGLE",
		"publishables": map[string]interface{}{"published": published},
		"styles":       map[string]interface{}{"style": styleRefs},
	}
	if ws != "" {
		group["workspace"] = map[string]interface{}{"name": ws}
	}
	_, err = e.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		url:         e.restURL(parts[:len(parts)-1]...),
		contentType: "application/json",
		body:        map[string]interface{}{"layerGroup": group},
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Layer group created", "group", groupID, "layers", len(layers))
	return e.GetLayerGroup(ctx, groupID, nil)
}

// UpdateLayerGroup merges attribute changes into a layer group.
func (e *Engine) UpdateLayerGroup(ctx context.Context, groupID string, opts dataset.Options) *dataset.Response {
	_, parts, err := e.layerGroupParts(groupID)
	if err != nil {
		return dataset.Fail(err)
	}
	group, err := e.update(ctx, "update_layer_group", "layerGroup", opts, parts...)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(group)
}

// DeleteLayerGroup deletes a layer group. GeoServer fails on workspace
// groups unless recurse is passed, so it always is.
func (e *Engine) DeleteLayerGroup(ctx context.Context, groupID string, opts dataset.Options) *dataset.Response {
	_, parts, err := e.layerGroupParts(groupID)
	if err != nil {
		return dataset.Fail(err)
	}
	_, err = e.do(ctx, request{
		op:     "delete_layer_group",
		method: http.MethodDelete,
		url:    e.restURL(parts...),
		params: map[string]string{"recurse": "true"},
	})
	if err != nil {
		return dataset.Fail(err)
	}
	e.logger.Info("Layer group deleted", "group", groupID)
	return dataset.OK(nil)
}

package geoserver

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

func (e *Engine) base(public bool) string {
	if public {
		return e.publicEndpoint
	}
	return e.endpoint
}

// replaceRest swaps the "rest" path segment of a REST base for repl and
// keeps a trailing slash.
func replaceRest(endpoint, repl string) string {
	out := strings.Replace(endpoint, "rest", repl, 1)
	if !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out
}

// nonRestEndpoint is the GeoServer web root, without "/rest" or a trailing
// slash.
func (e *Engine) nonRestEndpoint(public bool) string {
	ep := strings.TrimSuffix(e.base(public), "/")
	return strings.TrimSuffix(ep, "/rest")
}

// GWCEndpoint returns the GeoWebCache REST base with a trailing slash.
func (e *Engine) GWCEndpoint(public bool) string {
	return replaceRest(e.base(public), "gwc/rest")
}

// OWSEndpoint returns the virtual OWS endpoint of a workspace.
func (e *Engine) OWSEndpoint(workspace string, public bool) string {
	return replaceRest(e.base(public), workspace+"/ows")
}

// WMSEndpoint returns the WMS endpoint with a trailing slash.
func (e *Engine) WMSEndpoint(public bool) string {
	return replaceRest(e.base(public), "wms")
}

func (e *Engine) gwcURL(public bool, parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return e.GWCEndpoint(public) + strings.Join(escaped, "/")
}

// WMSOptions are the GetMap parameters of WMSURL. Zero values take the
// defaults of a 512x512 transparent PNG of the whole world in EPSG:4326.
type WMSOptions struct {
	Style   string
	SRS     string
	BBox    string
	Version string
	Width   int
	Height  int
	Format  string
	Tiled   bool
	// Opaque disables transparency.
	Opaque bool
}

// WMSURL builds a WMS GetMap URL for a layer.
func (e *Engine) WMSURL(layerID string, o WMSOptions) string {
	if o.SRS == "" {
		o.SRS = "EPSG:4326"
	}
	if o.BBox == "" {
		o.BBox = "-180,-90,180,90"
	}
	if o.Version == "" {
		o.Version = "1.1.0"
	}
	if o.Width == 0 {
		o.Width = 512
	}
	if o.Height == 0 {
		o.Height = 512
	}
	if o.Format == "" {
		o.Format = "image/png"
	}
	tiled := "no"
	if o.Tiled {
		tiled = "yes"
	}
	q := []string{
		"service=WMS",
		"version=" + o.Version,
		"request=GetMap",
		"layers=" + layerID,
		"styles=" + o.Style,
		"transparent=" + strconv.FormatBool(!o.Opaque),
		"tiled=" + tiled,
		"srs=" + o.SRS,
		"bbox=" + o.BBox,
		"width=" + strconv.Itoa(o.Width),
		"height=" + strconv.Itoa(o.Height),
		"format=" + o.Format,
	}
	return e.nonRestEndpoint(false) + "/wms?" + strings.Join(q, "&")
}

// WCSOptions are the GetCoverage parameters of WCSURL.
type WCSOptions struct {
	SRS       string
	BBox      string
	Format    string
	Namespace string
	Width     int
	Height    int
}

// WCSURL builds a WCS 1.1.0 GetCoverage URL for a coverage.
func (e *Engine) WCSURL(resourceID string, o WCSOptions) string {
	if o.SRS == "" {
		o.SRS = "EPSG:4326"
	}
	if o.BBox == "" {
		o.BBox = "-180,-90,180,90"
	}
	if o.Format == "" {
		o.Format = "png"
	}
	if o.Width == 0 {
		o.Width = 512
	}
	if o.Height == 0 {
		o.Height = 512
	}
	q := []string{
		"service=WCS",
		"version=1.1.0",
		"request=GetCoverage",
		"identifier=" + resourceID,
		"srs=" + o.SRS,
		"BoundingBox=" + o.BBox,
		"width=" + strconv.Itoa(o.Width),
		"height=" + strconv.Itoa(o.Height),
		"format=" + o.Format,
	}
	if o.Namespace != "" {
		q = append(q, "namespace="+o.Namespace)
	}
	return e.nonRestEndpoint(false) + "/wcs?" + strings.Join(q, "&")
}

// WFSURL builds a WFS GetFeature URL. GML3 is WFS 2.0.0's default output,
// GML2 needs WFS 1.0.0, and any other format is requested by name.
func (e *Engine) WFSURL(resourceID, outputFormat string) string {
	base := e.nonRestEndpoint(false) + "/wfs?service=WFS&request=GetFeature&typeNames=" + resourceID
	switch outputFormat {
	case "", "GML3":
		return base + "&version=2.0.0"
	case "GML2":
		return base + "&version=1.0.0&outputFormat=GML2"
	default:
		return base + "&version=2.0.0&outputFormat=" + outputFormat
	}
}

// GetFeatures fetches the features of a feature type as GeoJSON. The
// "cql_filter", "count" and "property_name" options narrow the query.
func (e *Engine) GetFeatures(ctx context.Context, resourceID string, opts dataset.Options) *dataset.Response {
	const op = "get_features"
	var o struct {
		CQLFilter    string   `mapstructure:"cql_filter"`
		Count        int      `mapstructure:"count"`
		PropertyName []string `mapstructure:"property_name"`
	}
	if _, err := opts.Decode(op, &o, true); err != nil {
		return dataset.Fail(err)
	}
	ws, name, err := e.resolve(ctx, resourceID)
	if err != nil {
		return dataset.Fail(err)
	}
	params := map[string]string{
		"service":      "WFS",
		"version":      "2.0.0",
		"request":      "GetFeature",
		"typeNames":    JoinID(ws, name),
		"outputFormat": "application/json",
	}
	if o.CQLFilter != "" {
		params["cql_filter"] = o.CQLFilter
	}
	if o.Count > 0 {
		params["count"] = strconv.Itoa(o.Count)
	}
	if len(o.PropertyName) > 0 {
		params["propertyName"] = strings.Join(o.PropertyName, ",")
	}
	resp, err := e.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		url:    e.nonRestEndpoint(false) + "/wfs",
		params: params,
		accept: "application/json",
	})
	if err != nil {
		return dataset.Fail(err)
	}
	// OGC services report errors as XML documents with status 200.
	if transport.IsFault(resp.Body()) {
		return dataset.Fail(transport.StatusError(op, http.StatusBadRequest, resp.Body()))
	}
	var fc map[string]interface{}
	if err := transport.DecodeJSON(op, resp, &fc); err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(fc)
}

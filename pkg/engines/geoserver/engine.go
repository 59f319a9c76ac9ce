// Package geoserver implements the spatial dataset engine for the GeoServer
// REST catalog, its OGC services and GeoWebCache.
package geoserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/go-resty/resty/v2"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

type Config struct {
	// Endpoint is the REST base, e.g. http://localhost:8181/geoserver/rest/.
	Endpoint string
	// PublicEndpoint is the REST base as seen by browsers. Defaults to Endpoint.
	PublicEndpoint string
	Username       string
	Password       string
	// NodePorts lists the ports of every node in a clustered deployment.
	NodePorts []int
	// CreateMissingParents creates a missing workspace when a store, layer
	// or style is created in it. Otherwise such calls fail with not_found.
	CreateMissingParents bool
	Timeout              time.Duration
	UserAgent            string
	HTTPClient           *http.Client
	Logger               logger.Logger
}

type Engine struct {
	endpoint       string
	publicEndpoint string
	nodePorts      []int
	createParents  bool
	http           *resty.Client
	logger         logger.Logger
}

var (
	_ dataset.Engine        = (*Engine)(nil)
	_ dataset.SpatialEngine = (*Engine)(nil)
)

func New(cfg Config) (*Engine, error) {
	endpoint, err := normalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	public := endpoint
	if cfg.PublicEndpoint != "" {
		if public, err = normalizeEndpoint(cfg.PublicEndpoint); err != nil {
			return nil, err
		}
	}

	log := logger.OrNop(cfg.Logger)
	return &Engine{
		endpoint:       endpoint,
		publicEndpoint: public,
		nodePorts:      cfg.NodePorts,
		createParents:  cfg.CreateMissingParents,
		http: transport.New(transport.Options{
			Timeout:    cfg.Timeout,
			UserAgent:  cfg.UserAgent,
			Username:   cfg.Username,
			Password:   cfg.Password,
			HTTPClient: cfg.HTTPClient,
			Logger:     log,
		}),
		logger: log,
	}, nil
}

// normalizeEndpoint validates a REST base and gives it a trailing slash.
func normalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("geoserver: endpoint is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("geoserver: invalid endpoint %q", raw)
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw, nil
}

func (e *Engine) Type() string {
	return dataset.EngineGeoServer
}

func (e *Engine) Endpoint() string {
	return e.endpoint
}

// PublicEndpoint returns the browser facing REST base.
func (e *Engine) PublicEndpoint() string {
	return e.publicEndpoint
}

// SplitID splits "workspace:name" identifiers. The workspace is empty when
// the identifier has none.
func SplitID(id string) (workspace, name string) {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// JoinID is the inverse of SplitID.
func JoinID(workspace, name string) string {
	if workspace == "" {
		return name
	}
	return workspace + ":" + name
}

// restURL joins path segments onto the REST base, escaping each one.
func (e *Engine) restURL(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return e.endpoint + strings.Join(escaped, "/")
}

// request is one REST call.
type request struct {
	op          string
	method      string
	url         string
	contentType string
	body        interface{}
	params      map[string]string
	accept      string
}

func (e *Engine) do(ctx context.Context, r request) (*resty.Response, error) {
	req := e.http.R().SetContext(ctx)
	if r.contentType != "" {
		req.SetHeader("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.SetHeader("Accept", r.accept)
	}
	if r.body != nil {
		req.SetBody(r.body)
	}
	if len(r.params) > 0 {
		req.SetQueryParams(r.params)
	}
	resp, err := req.Execute(r.method, r.url)
	if cerr := transport.Check(r.op, resp, err); cerr != nil {
		e.logger.Debug("GeoServer request failed", "op", r.op, "method", r.method, "url", r.url, "error", cerr)
		return resp, cerr
	}
	return resp, nil
}

// getJSON fetches a REST resource in its JSON representation.
func (e *Engine) getJSON(ctx context.Context, op string, out interface{}, parts ...string) error {
	u := e.restURL(parts...) + ".json"
	resp, err := e.do(ctx, request{op: op, method: http.MethodGet, url: u, accept: "application/json"})
	if err != nil {
		return err
	}
	return transport.DecodeJSON(op, resp, out)
}

// getObject fetches a REST resource and unwraps its single root key, e.g.
// {"workspace": {...}}.
func (e *Engine) getObject(ctx context.Context, op, root string, parts ...string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := e.getJSON(ctx, op, &doc, parts...); err != nil {
		return nil, err
	}
	obj, ok := doc[root].(map[string]interface{})
	if !ok {
		return nil, dataset.Errorf(dataset.KindResponseShape, op, "missing %q object", root)
	}
	return obj, nil
}

// exists reports whether a REST resource is present.
func (e *Engine) exists(ctx context.Context, op string, parts ...string) (bool, error) {
	var doc map[string]interface{}
	err := e.getJSON(ctx, op, &doc, parts...)
	if err == nil {
		return true, nil
	}
	if dataset.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// listEntries reads GeoServer collection documents such as
// {"workspaces":{"workspace":[{"name":"a"}]}}. Empty collections come back
// as an empty string and single entries sometimes as an object.
func listEntries(doc map[string]interface{}, outer, inner string) []map[string]interface{} {
	coll, ok := doc[outer].(map[string]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	switch v := coll[inner].(type) {
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
	case map[string]interface{}:
		out = append(out, v)
	}
	return out
}

func entryNames(entries []map[string]interface{}) []string {
	names := make([]string, 0, len(entries))
	for _, m := range entries {
		if n, ok := m["name"].(string); ok {
			names = append(names, n)
		}
	}
	return names
}

// list fetches a collection and returns its entry names, or the raw
// entries when withProperties is set.
func (e *Engine) list(ctx context.Context, op, outer, inner string, withProperties bool, parts ...string) (interface{}, error) {
	var doc map[string]interface{}
	if err := e.getJSON(ctx, op, &doc, parts...); err != nil {
		return nil, err
	}
	entries := listEntries(doc, outer, inner)
	if withProperties {
		out := make([]interface{}, 0, len(entries))
		for _, m := range entries {
			out = append(out, m)
		}
		return out, nil
	}
	return entryNames(entries), nil
}

// DefaultWorkspace returns the name of the catalog's default workspace.
func (e *Engine) DefaultWorkspace(ctx context.Context) (string, error) {
	ws, err := e.getObject(ctx, "default_workspace", "workspace", "workspaces", "default")
	if err != nil {
		return "", err
	}
	name, _ := ws["name"].(string)
	if name == "" {
		return "", dataset.NewError(dataset.KindResponseShape, "default_workspace", "default workspace has no name")
	}
	return name, nil
}

// resolve splits id and fills in the default workspace when none is given.
func (e *Engine) resolve(ctx context.Context, id string) (string, string, error) {
	ws, name := SplitID(id)
	if name == "" {
		return "", "", dataset.Errorf(dataset.KindInvalid, "identifier", "invalid identifier %q", id)
	}
	if ws != "" {
		return ws, name, nil
	}
	ws, err := e.DefaultWorkspace(ctx)
	if err != nil {
		return "", "", err
	}
	return ws, name, nil
}

// ensureWorkspace applies the parent policy before a child is created: a
// missing workspace is created when CreateMissingParents is set, otherwise
// the call fails with not_found and nothing is changed.
func (e *Engine) ensureWorkspace(ctx context.Context, op, workspace string) error {
	ok, err := e.exists(ctx, op, "workspaces", workspace)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if !e.createParents {
		return dataset.Errorf(dataset.KindNotFound, op, "parent workspace %q does not exist", workspace)
	}
	e.logger.Info("Creating missing parent workspace", "workspace", workspace)
	_, err = e.createWorkspace(ctx, workspace, "")
	return err
}

// Version returns the GeoServer release from /about/version.json.
func (e *Engine) Version(ctx context.Context) (semver.Version, error) {
	var doc struct {
		About struct {
			Resource []struct {
				Name    string      `json:"@name"`
				Version interface{} `json:"Version"`
			} `json:"resource"`
		} `json:"about"`
	}
	if err := e.getJSON(ctx, "version", &doc, "about", "version"); err != nil {
		return semver.Version{}, err
	}
	for _, r := range doc.About.Resource {
		if r.Name == "GeoServer" {
			raw := fmt.Sprint(r.Version)
			v, err := semver.ParseTolerant(raw)
			if err != nil {
				return semver.Version{}, dataset.Errorf(dataset.KindResponseShape, "version", "parsing version %q: %w", raw, err)
			}
			return v, nil
		}
	}
	return semver.Version{}, dataset.NewError(dataset.KindResponseShape, "version", "GeoServer version not reported")
}

// Validate checks credentials and that the endpoint is a GeoServer REST
// configuration API.
func (e *Engine) Validate(ctx context.Context) error {
	resp, err := e.http.R().SetContext(ctx).Get(e.endpoint)
	if err != nil {
		return fmt.Errorf("geoserver endpoint %s is unreachable: %w", e.endpoint, err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return fmt.Errorf("the username and password for geoserver endpoint %s are not valid", e.endpoint)
	}
	if resp.StatusCode() != http.StatusOK || !strings.Contains(resp.String(), "Geoserver Configuration API") {
		return fmt.Errorf("%s is not a valid geoserver rest endpoint", e.endpoint)
	}
	e.logger.Info("GeoServer endpoint validated", "endpoint", e.endpoint)
	return nil
}

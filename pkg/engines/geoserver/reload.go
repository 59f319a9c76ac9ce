package geoserver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-multierror"
	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// ReloadOptions select the nodes a reload is sent to. Ports defaults to the
// configured NodePorts; without either the endpoint itself is used.
type ReloadOptions struct {
	Ports  []int
	Public bool
}

// nodeEndpoints expands base into one endpoint per cluster node port.
func nodeEndpoints(base string, ports []int) []string {
	if len(ports) == 0 {
		return []string{base}
	}
	u, err := url.Parse(base)
	if err != nil {
		return []string{base}
	}
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, fmt.Sprintf("%s://%s:%d%s", u.Scheme, u.Hostname(), p, u.Path))
	}
	return out
}

func (o ReloadOptions) ports(defaults []int) []int {
	if o.Ports != nil {
		return o.Ports
	}
	return defaults
}

// Reload asks every node to reload the catalog from disk. Nodes that
// cannot be reached are skipped with a warning; rejected reloads are
// collected into the returned error.
func (e *Engine) Reload(ctx context.Context, o ReloadOptions) error {
	return e.reloadNodes(ctx, "reload", nodeEndpoints(e.base(o.Public), o.ports(e.nodePorts)), nil)
}

// GWCReload asks every node to reload the GeoWebCache configuration.
func (e *Engine) GWCReload(ctx context.Context, o ReloadOptions) error {
	return e.reloadNodes(ctx, "gwc_reload", nodeEndpoints(e.GWCEndpoint(o.Public), o.ports(e.nodePorts)),
		map[string]string{"reload_configuration": "1"})
}

func (e *Engine) reloadNodes(ctx context.Context, op string, endpoints []string, form map[string]string) error {
	e.logger.Debug("Reloading GeoServer nodes", "op", op, "endpoints", endpoints)
	var result *multierror.Error
	for _, ep := range endpoints {
		req := e.http.R().SetContext(ctx)
		if form != nil {
			req.SetFormData(form)
		}
		resp, err := req.Post(ep + "reload")
		err = transport.Check(op, resp, err)
		if err == nil {
			continue
		}
		if dataset.KindOf(err) == dataset.KindTransport {
			e.logger.Warn("GeoServer node could not be reloaded", "op", op, "endpoint", ep, "error", err)
			continue
		}
		e.logger.Error("GeoServer node rejected reload", "op", op, "endpoint", ep, "error", err)
		result = multierror.Append(result, fmt.Errorf("%s: %w", ep, err))
	}
	return result.ErrorOrNil()
}

// ReloadCatalog wraps Reload in a response envelope.
func (e *Engine) ReloadCatalog(ctx context.Context, o ReloadOptions, gwc bool) *dataset.Response {
	var err error
	if gwc {
		err = e.GWCReload(ctx, o)
	} else {
		err = e.Reload(ctx, o)
	}
	if err != nil {
		return dataset.Fail(dataset.Errorf(dataset.KindApplication, "reload", "%w", err))
	}
	return dataset.OK(nil)
}

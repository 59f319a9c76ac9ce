// Package engines builds dataset engines from service configuration.
package engines

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tethys-dataset-services/internal/common/config"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/tethys-dataset-services/pkg/dataset"
	"github.com/tethys-dataset-services/pkg/engines/ckan"
	"github.com/tethys-dataset-services/pkg/engines/geoserver"
	"github.com/tethys-dataset-services/pkg/engines/hydroshare"
)

// Options are settings shared by every engine built by New.
type Options struct {
	// Timeout applies when the service sets none.
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Logger     logger.Logger
}

type constructor func(svc config.ServiceConfig, opts Options) (dataset.Engine, error)

var constructors = map[string]constructor{
	dataset.EngineCKAN: func(svc config.ServiceConfig, opts Options) (dataset.Engine, error) {
		return ckan.New(ckan.Config{
			Endpoint:   svc.Endpoint,
			APIKey:     svc.APIKey,
			Timeout:    timeout(svc, opts),
			UserAgent:  opts.UserAgent,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		})
	},
	dataset.EngineGeoServer: func(svc config.ServiceConfig, opts Options) (dataset.Engine, error) {
		return geoserver.New(geoserver.Config{
			Endpoint:             svc.Endpoint,
			PublicEndpoint:       svc.PublicEndpoint,
			Username:             svc.Username,
			Password:             svc.Password,
			NodePorts:            svc.NodePorts,
			CreateMissingParents: svc.CreateMissingParents,
			Timeout:              timeout(svc, opts),
			UserAgent:            opts.UserAgent,
			HTTPClient:           opts.HTTPClient,
			Logger:               opts.Logger,
		})
	},
	dataset.EngineHydroShare: func(svc config.ServiceConfig, opts Options) (dataset.Engine, error) {
		return hydroshare.New(hydroshare.Config{
			Endpoint:     svc.Endpoint,
			Username:     svc.Username,
			Password:     svc.Password,
			Token:        svc.Token,
			ClientID:     svc.ClientID,
			ClientSecret: svc.ClientSecret,
			TokenURL:     svc.TokenURL,
			Timeout:      timeout(svc, opts),
			UserAgent:    opts.UserAgent,
			HTTPClient:   opts.HTTPClient,
			Logger:       opts.Logger,
		})
	},
}

func timeout(svc config.ServiceConfig, opts Options) time.Duration {
	if svc.Timeout > 0 {
		return svc.Timeout
	}
	return opts.Timeout
}

// Names returns the engine names New accepts, sorted.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New validates svc and builds its engine. Nothing is sent over the
// network; call Validate on the engine to check the endpoint.
func New(svc config.ServiceConfig, opts Options) (dataset.Engine, error) {
	if err := dataset.ValidateConfig(svc.Map()); err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(svc.Engine))
	build, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", dataset.ErrUnsupportedEngine, svc.Engine)
	}
	e, err := build(svc, opts)
	if err != nil {
		return nil, err
	}
	logger.OrNop(opts.Logger).Debug("Engine created", "service", svc.Name, "engine", name, "endpoint", e.Endpoint())
	return e, nil
}

// NewSpatial is New restricted to engines that publish map layers.
func NewSpatial(svc config.ServiceConfig, opts Options) (dataset.SpatialEngine, error) {
	e, err := New(svc, opts)
	if err != nil {
		return nil, err
	}
	se, ok := e.(dataset.SpatialEngine)
	if !ok {
		return nil, fmt.Errorf("engine %q does not publish layers", e.Type())
	}
	return se, nil
}

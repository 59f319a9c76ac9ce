// Package hydroshare implements the dataset engine for the HydroShare hsapi
// REST API. HydroShare resources are datasets and the files inside them are
// resources.
package hydroshare

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tethys-dataset-services/internal/common/download"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

type Config struct {
	// Endpoint is the hsapi base, e.g. https://www.hydroshare.org/hsapi.
	Endpoint string
	Username string
	Password string
	// Token is a bearer token used as is. It takes precedence over every
	// other credential.
	Token string
	// ClientID and ClientSecret enable the OAuth2 password grant with
	// Username and Password.
	ClientID     string
	ClientSecret string
	// TokenURL defaults to /o/token/ on the endpoint host.
	TokenURL   string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
	Logger     logger.Logger
}

type Engine struct {
	endpoint   string
	http       *resty.Client
	logger     logger.Logger
	downloader download.Downloader
	anonymous  bool
}

var _ dataset.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("hydroshare: endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("hydroshare: invalid endpoint %q", cfg.Endpoint)
	}

	log := logger.OrNop(cfg.Logger)
	mode := authMode(cfg)
	opts := transport.Options{
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Logger:    log,
	}
	switch mode {
	case authBasic:
		opts.Username, opts.Password = cfg.Username, cfg.Password
		opts.HTTPClient = cfg.HTTPClient
	case authNone:
		opts.HTTPClient = cfg.HTTPClient
	default:
		opts.HTTPClient = oauthClient(cfg, u, mode)
	}
	log.Debug("HydroShare engine configured", "endpoint", endpoint, "auth", mode.String())

	client := transport.New(opts)
	plain := transport.New(transport.Options{
		Timeout:    cfg.Timeout,
		UserAgent:  cfg.UserAgent,
		HTTPClient: cfg.HTTPClient,
		Logger:     log,
	})
	return &Engine{
		endpoint:   endpoint,
		http:       client,
		logger:     log,
		downloader: download.NewHTTPDownloader(plain, log).Trust(u.Host, client),
		anonymous:  mode == authNone,
	}, nil
}

func (e *Engine) Type() string {
	return dataset.EngineHydroShare
}

func (e *Engine) Endpoint() string {
	return e.endpoint
}

// apiURL joins path segments onto the endpoint. HydroShare routes end with
// a slash.
func (e *Engine) apiURL(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return e.endpoint + "/" + strings.Join(escaped, "/") + "/"
}

func (e *Engine) getJSON(ctx context.Context, op, u string, params map[string]string, out interface{}) error {
	req := e.http.R().SetContext(ctx).SetHeader("Accept", "application/json")
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(u)
	if err := transport.Check(op, resp, err); err != nil {
		e.logger.Debug("HydroShare request failed", "op", op, "url", u, "error", err)
		return err
	}
	return transport.DecodeJSON(op, resp, out)
}

// page is the paginated listing shape of hsapi.
type page struct {
	Count   int                      `json:"count"`
	Next    *string                  `json:"next"`
	Results []map[string]interface{} `json:"results"`
}

// listAll reads a paginated listing to the end by following "next".
func (e *Engine) listAll(ctx context.Context, op, u string, params map[string]string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	for u != "" {
		var p page
		if err := e.getJSON(ctx, op, u, params, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)
		u, params = "", nil
		if p.Next != nil {
			u = *p.Next
		}
	}
	return out, nil
}

// Validate checks the endpoint and credentials against userInfo. Without
// credentials only the public resource listing is checked.
func (e *Engine) Validate(ctx context.Context) error {
	var info map[string]interface{}
	u := e.apiURL("userInfo")
	if e.anonymous {
		u = e.apiURL("resource")
	}
	err := e.getJSON(ctx, "user_info", u, nil, &info)
	switch dataset.KindOf(err) {
	case "":
	case dataset.KindAuth:
		return fmt.Errorf("the credentials for hydroshare endpoint %s are not valid: %w", e.endpoint, err)
	case dataset.KindTransport:
		return fmt.Errorf("hydroshare endpoint %s is unreachable: %w", e.endpoint, err)
	default:
		return fmt.Errorf("%s is not a valid hydroshare api endpoint: %w", e.endpoint, err)
	}
	e.logger.Info("HydroShare endpoint validated", "endpoint", e.endpoint, "user", info["username"])
	return nil
}

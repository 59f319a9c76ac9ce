// Package ckan implements the dataset engine for the CKAN Action API.
package ckan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/go-resty/resty/v2"
	"github.com/tethys-dataset-services/internal/common/download"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/tethys-dataset-services/internal/common/transport"
	"github.com/tethys-dataset-services/pkg/dataset"
)

// MinVersion is the oldest CKAN release whose Action API this engine speaks.
var MinVersion = semver.MustParse("2.0.0")

type Config struct {
	// Endpoint is the Action API base, e.g. https://demo.ckan.org/api/3/action.
	Endpoint   string
	APIKey     string
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
}

var _ dataset.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("ckan: endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("ckan: invalid endpoint %q", cfg.Endpoint)
	}

	log := logger.OrNop(cfg.Logger)
	opts := transport.Options{
		Timeout:    cfg.Timeout,
		UserAgent:  cfg.UserAgent,
		HTTPClient: cfg.HTTPClient,
		Logger:     log,
	}
	client := transport.New(opts)
	if cfg.APIKey != "" {
		client.SetHeader("X-CKAN-API-Key", cfg.APIKey)
		client.SetHeader("Authorization", cfg.APIKey)
	}

	// Resource URLs may point anywhere; the API key only goes to the
	// catalog host.
	dl := download.NewHTTPDownloader(transport.New(opts), log).Trust(u.Host, client)

	return &Engine{
		endpoint:   endpoint,
		http:       client,
		logger:     log,
		downloader: dl,
	}, nil
}

func (e *Engine) Type() string {
	return dataset.EngineCKAN
}

func (e *Engine) Endpoint() string {
	return e.endpoint
}

func (e *Engine) actionURL(action string) string {
	return e.endpoint + "/" + action
}

// action posts a JSON body to one Action API function and returns its
// result.
func (e *Engine) action(ctx context.Context, action string, body map[string]interface{}) (interface{}, error) {
	if body == nil {
		body = map[string]interface{}{}
	}
	e.logger.Debug("Calling CKAN action", "action", action)

	resp, err := e.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(e.actionURL(action))
	return e.result(action, resp, err)
}

// actionUpload posts a multipart form carrying file content in the
// "upload" field.
func (e *Engine) actionUpload(ctx context.Context, action string, fields map[string]interface{}, fileName string, r io.Reader) (interface{}, error) {
	form := make(map[string]string, len(fields))
	for k, v := range fields {
		if s, ok := formValue(v); ok {
			form[k] = s
		}
	}
	e.logger.Debug("Calling CKAN action with upload", "action", action, "file", fileName)

	resp, err := e.http.R().
		SetContext(ctx).
		SetMultipartFormData(form).
		SetFileReader("upload", fileName, r).
		Post(e.actionURL(action))
	return e.result(action, resp, err)
}

func (e *Engine) result(action string, resp *resty.Response, err error) (interface{}, error) {
	if err != nil {
		e.logger.Error("Failed to execute request", "action", action, "error", err)
		return nil, transport.Check(action, resp, err)
	}

	var ar actionResponse
	if jerr := json.Unmarshal(resp.Body(), &ar); jerr != nil || ar.Success == nil {
		if resp.IsError() {
			e.logger.Error("API returned error status",
				"action", action,
				"status_code", resp.StatusCode())
			return nil, transport.StatusError(action, resp.StatusCode(), resp.Body())
		}
		return nil, dataset.NewError(dataset.KindResponseShape, action, "response is not a CKAN action envelope")
	}

	if !*ar.Success {
		e.logger.Warn("API returned success=false",
			"action", action,
			"status_code", resp.StatusCode(),
			"error_type", ar.errorType())
		return nil, &dataset.Error{Kind: ar.kind(), Op: action, Status: resp.StatusCode(), Message: ar.message()}
	}
	return ar.Result, nil
}

// call runs an action and wraps the outcome in an envelope.
func (e *Engine) call(ctx context.Context, action string, body map[string]interface{}) *dataset.Response {
	res, err := e.action(ctx, action, body)
	if err != nil {
		return dataset.Fail(err)
	}
	return dataset.OK(res)
}

// Version reports the CKAN version from status_show.
func (e *Engine) Version(ctx context.Context) (semver.Version, error) {
	res, err := e.action(ctx, "status_show", nil)
	if err != nil {
		return semver.Version{}, err
	}
	status, _ := res.(map[string]interface{})
	raw, _ := status["ckan_version"].(string)
	if raw == "" {
		return semver.Version{}, dataset.NewError(dataset.KindResponseShape, "status_show", "ckan_version missing")
	}
	v, err := semver.ParseTolerant(raw)
	if err != nil {
		return semver.Version{}, dataset.Errorf(dataset.KindResponseShape, "status_show", "parsing ckan_version %q: %w", raw, err)
	}
	return v, nil
}

func (e *Engine) Validate(ctx context.Context) error {
	v, err := e.Version(ctx)
	if err != nil {
		return fmt.Errorf("ckan endpoint %s: %w", e.endpoint, err)
	}
	if v.LT(MinVersion) {
		return fmt.Errorf("ckan endpoint %s runs %s, at least %s is required", e.endpoint, v, MinVersion)
	}
	e.logger.Info("CKAN endpoint validated", "endpoint", e.endpoint, "version", v.String())
	return nil
}

func formValue(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool, int, int64, float64:
		return fmt.Sprint(t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t), true
		}
		return string(b), true
	}
}

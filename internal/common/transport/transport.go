// Package transport builds the HTTP clients shared by the engines and maps
// vendor HTTP outcomes onto dataset errors.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/tethys-dataset-services/pkg/dataset"
	"golang.org/x/oauth2"
)

const DefaultUserAgent = "tethys-datasets/1.0"

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Username  string
	Password  string
	// HTTPClient replaces the underlying client, e.g. one built by oauth2.
	HTTPClient *http.Client
	Logger     logger.Logger
}

// New returns a resty client configured from opts. A zero Timeout leaves
// the client default in place.
func New(opts Options) *resty.Client {
	var c *resty.Client
	if opts.HTTPClient != nil {
		c = resty.NewWithClient(opts.HTTPClient)
	} else {
		c = resty.New()
	}
	if opts.BaseURL != "" {
		c.SetBaseURL(opts.BaseURL)
	}
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	c.SetHeader("User-Agent", ua)
	if opts.Username != "" || opts.Password != "" {
		c.SetBasicAuth(opts.Username, opts.Password)
	}

	log := logger.OrNop(opts.Logger)
	c.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		log.Debug("HTTP request completed",
			"method", r.Request.Method,
			"url", r.Request.URL,
			"status_code", r.StatusCode(),
			"elapsed_ms", r.Time().Milliseconds())
		return nil
	})
	return c
}

// Check converts the outcome of a resty call into a *dataset.Error. It
// returns nil for 2xx and 3xx responses.
func Check(op string, resp *resty.Response, err error) error {
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			return &dataset.Error{Kind: dataset.KindAuth, Op: op, Status: status,
				Message: "token request rejected: " + FaultText(re.Body), Err: err}
		}
		return &dataset.Error{Kind: dataset.KindTransport, Op: op, Message: err.Error(), Err: err}
	}
	if resp == nil {
		return dataset.NewError(dataset.KindTransport, op, "no response")
	}
	if resp.StatusCode() < http.StatusBadRequest {
		return nil
	}
	return StatusError(op, resp.StatusCode(), resp.Body())
}

// StatusError classifies a failed HTTP status and its body.
func StatusError(op string, status int, body []byte) *dataset.Error {
	msg := FaultText(body)
	if msg == "" {
		msg = fmt.Sprintf("%d %s", status, http.StatusText(status))
	}

	kind := dataset.KindApplication
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = dataset.KindAuth
	case status == http.StatusNotFound:
		kind = dataset.KindNotFound
	case status == http.StatusConflict:
		kind = dataset.KindAlreadyExists
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity ||
		status == http.StatusMethodNotAllowed:
		kind = dataset.KindInvalid
	}
	// Several catalogs report conflicts as 400/500 with a message.
	if kind == dataset.KindApplication || kind == dataset.KindInvalid {
		if IsAlreadyExistsText(msg) {
			kind = dataset.KindAlreadyExists
		} else if IsNotFoundText(msg) {
			kind = dataset.KindNotFound
		}
	}
	return &dataset.Error{Kind: kind, Op: op, Status: status, Message: msg}
}

// IsAlreadyExistsText reports whether a vendor message describes a conflict.
func IsAlreadyExistsText(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already exists") || strings.Contains(m, "already in use")
}

// IsNotFoundText reports whether a vendor message describes a missing object.
func IsNotFoundText(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not found") || strings.Contains(m, "no such") ||
		strings.Contains(m, "could not find")
}

// DecodeJSON decodes a response body. A body that is not JSON of the
// expected shape is a response_shape error.
func DecodeJSON(op string, resp *resty.Response, out interface{}) error {
	body := resp.Body()
	if len(body) == 0 {
		return dataset.NewError(dataset.KindResponseShape, op, "empty response body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return dataset.Errorf(dataset.KindResponseShape, op, "decoding response: %w", err)
	}
	return nil
}

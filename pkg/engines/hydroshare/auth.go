package hydroshare

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

type auth int

const (
	authNone auth = iota
	authBasic
	authToken
	authPassword
)

func (a auth) String() string {
	switch a {
	case authBasic:
		return "basic"
	case authToken:
		return "token"
	case authPassword:
		return "oauth2_password"
	}
	return "none"
}

func authMode(cfg Config) auth {
	switch {
	case cfg.Token != "":
		return authToken
	case cfg.ClientID != "" && cfg.Username != "":
		return authPassword
	case cfg.Username != "":
		return authBasic
	}
	return authNone
}

// tokenURL is the OAuth2 token endpoint, /o/token/ on the API host unless
// configured.
func tokenURL(cfg Config, endpoint *url.URL) string {
	if cfg.TokenURL != "" {
		return cfg.TokenURL
	}
	return endpoint.Scheme + "://" + endpoint.Host + "/o/token/"
}

// passwordTransport adds a bearer token from the resource owner password
// grant to every request. The token is fetched with the request's context
// and reused until it expires.
type passwordTransport struct {
	base     http.RoundTripper
	client   *http.Client
	conf     *oauth2.Config
	username string
	password string

	mu  sync.Mutex
	tok *oauth2.Token
}

func (t *passwordTransport) token(ctx context.Context) (*oauth2.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tok.Valid() {
		return t.tok, nil
	}
	if t.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	}
	tok, err := t.conf.PasswordCredentialsToken(ctx, t.username, t.password)
	if err != nil {
		return nil, err
	}
	t.tok = tok
	return tok, nil
}

func (t *passwordTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	tok, err := t.token(req.Context())
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	r := req.Clone(req.Context())
	tok.SetAuthHeader(r)
	return t.base.RoundTrip(r)
}

// oauthClient returns an *http.Client that adds a bearer token to every
// request. Requests, token requests included, go through cfg.HTTPClient's
// transport when one is set.
func oauthClient(cfg Config, endpoint *url.URL, mode auth) *http.Client {
	base := http.DefaultTransport
	var timeout time.Duration
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
		timeout = cfg.HTTPClient.Timeout
	}
	if mode == authToken {
		return &http.Client{Timeout: timeout, Transport: &oauth2.Transport{
			Base: base,
			Source: oauth2.StaticTokenSource(&oauth2.Token{
				AccessToken: cfg.Token,
				TokenType:   "Bearer",
			}),
		}}
	}
	return &http.Client{Timeout: timeout, Transport: &passwordTransport{
		base:   base,
		client: cfg.HTTPClient,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL(cfg, endpoint),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
	}}
}

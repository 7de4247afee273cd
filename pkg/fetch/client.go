package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/giacgbj/spid-cie-oidc-go/internal/federr"
)

// EntityStatementContentType is the expected Content-Type of a compact
// JWS entity statement or entity configuration response.
const EntityStatementContentType = "application/entity-statement+jwt"

// entityConfigurationPath is appended to an entity's identifier to reach
// its self-published well-known document.
const entityConfigurationPath = "/.well-known/openid-federation"

// Config controls the HTTP client's timeout and retry behavior.
type Config struct {
	// Timeout bounds a single HTTP round trip. Defaults to 10s.
	Timeout time.Duration
	// MaxAttempts bounds the total number of attempts, the first one
	// included, on retryable failures. Defaults to 3.
	MaxAttempts uint
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Client is the Entity Fetcher: it retrieves compact-JWS entity
// statements and plain JWKS documents over HTTP, bounded by a timeout
// and retried a limited number of times on network errors.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a Client with the given configuration.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		},
	}
}

// GetEntityConfiguration retrieves the entity configuration published by
// the entity identified by subjectURL, i.e. GET
// {subjectURL}/.well-known/openid-federation.
func (c *Client) GetEntityConfiguration(ctx context.Context, subjectURL string) (string, error) {
	u, err := url.Parse(subjectURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid subject url %q: %s", federr.ErrFetchFailed, subjectURL, err)
	}
	u.Path = trimTrailingSlash(u.Path) + entityConfigurationPath

	return c.getCompactJWS(ctx, u.String())
}

// GetEntityStatement retrieves a superior's statement about subject, i.e.
// GET {fetchEndpoint}?sub={subject}.
func (c *Client) GetEntityStatement(ctx context.Context, fetchEndpoint, subject string) (string, error) {
	u, err := url.Parse(fetchEndpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid fetch endpoint %q: %s", federr.ErrFetchFailed, fetchEndpoint, err)
	}
	q := u.Query()
	q.Set("sub", subject)
	u.RawQuery = q.Encode()

	return c.getCompactJWS(ctx, u.String())
}

// Get retrieves an arbitrary URL's body, used to resolve jwks_uri
// references. It satisfies jose.URLGetter.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.doGet(ctx, rawURL, "")
}

func (c *Client) getCompactJWS(ctx context.Context, rawURL string) (string, error) {
	body, err := c.doGet(ctx, rawURL, EntityStatementContentType)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// doGet performs a bounded, retried HTTP GET. When wantContentType is
// non-empty, a response whose Content-Type does not start with it is
// treated as a failure (malformed body).
func (c *Client) doGet(ctx context.Context, rawURL, wantContentType string) ([]byte, error) {
	var body []byte

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("%w: building request: %s", federr.ErrFetchFailed, err))
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %s", federr.ErrFetchFailed, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(fmt.Errorf("%w: status %d from %s", federr.ErrFetchFailed, resp.StatusCode, rawURL))
				}
				return fmt.Errorf("%w: status %d from %s", federr.ErrFetchFailed, resp.StatusCode, rawURL)
			}

			if wantContentType != "" {
				ct := resp.Header.Get("Content-Type")
				if !hasContentType(ct, wantContentType) {
					return retry.Unrecoverable(fmt.Errorf("%w: unexpected content-type %q from %s", federr.ErrFetchFailed, ct, rawURL))
				}
			}

			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("%w: reading body: %s", federr.ErrFetchFailed, err)
			}
			body = data
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.MaxAttempts),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func hasContentType(header, want string) bool {
	for i := 0; i < len(header); i++ {
		if header[i] == ';' {
			header = header[:i]
			break
		}
	}
	return header == want
}

func trimTrailingSlash(p string) string {
	if len(p) > 0 && p[len(p)-1] == '/' {
		return p[:len(p)-1]
	}
	return p
}

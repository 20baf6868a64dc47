// Package federation fans search queries out to one configured peer
// deployment. The peer target is restricted to an explicit host allow-list,
// or to loopback when no list is configured, so an override can never point
// the server at an arbitrary internal address.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/config"
)

// RemoteResult is one solution returned by the peer, kept as raw JSON plus
// the fields the merge step needs.
type RemoteResult struct {
	ID     string          `json:"id"`
	Score  float64         `json:"score"`
	Source string          `json:"source"`
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full payload alongside the parsed envelope.
func (r *RemoteResult) UnmarshalJSON(data []byte) error {
	type alias RemoteResult
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RemoteResult(a)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type searchResponse struct {
	Results []RemoteResult `json:"results"`
	Total   int            `json:"total"`
}

// Client queries the configured peer.
type Client struct {
	base          string
	apiKey        string
	allowOverride bool
	allowedHosts  []string
	client        *http.Client
}

// NewClient builds a federation client from configuration.
func NewClient(cfg config.FederationConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:          cfg.Base,
		apiKey:        cfg.APIKey,
		allowOverride: cfg.AllowOverride,
		allowedHosts:  cfg.AllowedHosts,
		client:        &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a peer target exists at all.
func (c *Client) Configured() bool { return c.base != "" }

// hostAllowed applies the allow-list; with no list only loopback passes.
func (c *Client) hostAllowed(host string) bool {
	if len(c.allowedHosts) == 0 {
		if host == "localhost" {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
	for _, allowed := range c.allowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

// Resolve picks the effective peer base and credential, honoring per-request
// overrides only when configuration permits them, and vets the target host.
func (c *Client) Resolve(overrideBase, overrideKey string) (base, apiKey string, err error) {
	base, apiKey = c.base, c.apiKey
	if c.allowOverride {
		if overrideBase != "" {
			base = overrideBase
		}
		if overrideKey != "" {
			apiKey = overrideKey
		}
	}
	if base == "" {
		return "", "", apperr.New(apperr.Invalid, "no federation peer configured")
	}
	u, err := url.Parse(base)
	if err != nil || u.Hostname() == "" {
		return "", "", apperr.New(apperr.Invalid, "invalid federation peer %q", base)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", apperr.New(apperr.Invalid, "federation peer must be http or https")
	}
	if !c.hostAllowed(u.Hostname()) {
		return "", "", apperr.New(apperr.Forbidden, "federation peer host %q is not allowed", u.Hostname())
	}
	return strings.TrimRight(base, "/"), apiKey, nil
}

// Search queries the peer's search endpoint with the forwarded credential.
func (c *Client) Search(ctx context.Context, base, apiKey, text string, limit int) ([]RemoteResult, int, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("limit", fmt.Sprintf("%d", limit))
	endpoint := fmt.Sprintf("%s/api/v1/solutions/search?%s", base, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Internal, err, "build federation request")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Upstream, err, "federation peer unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, 0, apperr.New(apperr.Upstream,
			"federation peer returned %d: %s", resp.StatusCode, snippet)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, apperr.Wrap(apperr.Upstream, err, "decode federation response")
	}
	for i := range out.Results {
		if out.Results[i].Source == "" {
			out.Results[i].Source = "remote"
		}
	}
	return out.Results, out.Total, nil
}

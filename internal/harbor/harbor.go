// Package harbor is a minimal client for the Harbor registry's REST API,
// used to verify connectivity and credentials before an import begins.
package harbor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/opdev/chartpack/errors"
	"github.com/opdev/chartpack/internal/log"
)

const apiVersion = "v2.0"

// DefaultTimeout bounds each API call.
const DefaultTimeout = 10 * time.Second

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type harborClient struct {
	Host     string
	Username string
	Password string
	Client   HTTPClient
}

// SystemInfo is the subset of Harbor's systeminfo response chartpack cares
// about.
type SystemInfo struct {
	HarborVersion        string `json:"harbor_version"`
	RegistryURL          string `json:"registry_url"`
	AuthMode             string `json:"auth_mode"`
	SelfRegistration     bool   `json:"self_registration"`
	HasCARoot            bool   `json:"has_ca_root"`
	ExternalURL          string `json:"external_url"`
	ProjectCreationRestr string `json:"project_creation_restriction"`
}

// NewHarborClient returns a client for the Harbor instance at host. The
// host may carry an https:// prefix or not; a custom httpClient supplies
// TLS policy and timeouts.
func NewHarborClient(host, username, password string, httpClient HTTPClient) *harborClient {
	if httpClient == nil {
		httpClient = DefaultHTTPClient(false)
	}
	return &harborClient{
		Host:     strings.TrimSuffix(host, "/"),
		Username: username,
		Password: password,
		Client:   httpClient,
	}
}

// DefaultHTTPClient returns the HTTP client used when no custom one is
// supplied. With insecure set, certificate verification is disabled for
// Harbor instances with self-signed certificates.
func DefaultHTTPClient(insecure bool) HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint: gosec
		}
	}
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: transport,
	}
}

func (h *harborClient) getHarborURL(path string) string {
	host := h.Host
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return fmt.Sprintf("%s/api/%s/%s", host, apiVersion, path)
}

func (h *harborClient) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	if h.Username != "" {
		req.SetBasicAuth(h.Username, h.Password)
	}
	return req, nil
}

// SystemInfo probes the instance. An authentication failure surfaces as
// ErrRegistryAuth so callers can distinguish bad credentials from an
// unreachable host.
func (h *harborClient) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	logger := logr.FromContextOrDiscard(ctx)

	req, err := h.newRequest(ctx, http.MethodGet, h.getHarborURL("systeminfo"))
	if err != nil {
		return nil, err
	}

	logger.V(log.TRC).Info("harbor URL", "url", req.URL)

	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach harbor: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status code: %d", errors.ErrRegistryAuth, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status code: %d: body: %s", resp.StatusCode, string(body))
	}

	var info SystemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("could not unmarshal systeminfo: %w", err)
	}

	return &info, nil
}

// CheckHealth verifies both reachability and credentials: the systeminfo
// endpoint answers anonymously, so a current-user lookup confirms the
// supplied credentials actually authenticate.
func (h *harborClient) CheckHealth(ctx context.Context) (*SystemInfo, error) {
	info, err := h.SystemInfo(ctx)
	if err != nil {
		return nil, err
	}

	if h.Username != "" {
		req, err := h.newRequest(ctx, http.MethodGet, h.getHarborURL("users/current"))
		if err != nil {
			return nil, err
		}

		resp, err := h.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cannot reach harbor: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: status code: %d", errors.ErrRegistryAuth, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status code: %d", resp.StatusCode)
		}
	}

	return info, nil
}

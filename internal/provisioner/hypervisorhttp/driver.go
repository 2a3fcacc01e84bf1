// Package hypervisorhttp implements the HTTP hypervisor driver: the
// bit-exact adapter contract from spec §6, wrapped in the control plane's
// circuit breaker and rate limiter.
package hypervisorhttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/R3E-Network/runtime-trust-plane/internal/httputil"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner"
	"github.com/R3E-Network/runtime-trust-plane/internal/ratelimit"
	"github.com/R3E-Network/runtime-trust-plane/internal/resilience"
)

// Driver is the HTTP hypervisor adapter.
type Driver struct {
	endpoint   string
	token      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	limiter    *ratelimit.RateLimiter
}

// New builds a hypervisor HTTP driver bound to endpoint, authenticating
// with an optional bearer token.
func New(endpoint, token string) *Driver {
	return &Driver{
		endpoint:   endpoint,
		token:      token,
		httpClient: httputil.CopyHTTPClientWithTimeout(nil, resilience.DefaultConfig().Timeout, true),
		breaker:    resilience.New(resilience.DefaultConfig()),
		limiter:    ratelimit.New(ratelimit.DefaultConfig()),
	}
}

var _ provisioner.Provisioner = (*Driver)(nil)

type provisionRequest struct {
	ServerID     string                 `json:"server_id"`
	Image        string                 `json:"image"`
	Tier         string                 `json:"tier,omitempty"`
	Capabilities []string               `json:"capabilities"`
	Config       map[string]interface{} `json:"config,omitempty"`
}

type provisionResponse struct {
	InstanceID    string          `json:"instance_id"`
	IsolationTier string          `json:"isolation_tier,omitempty"`
	Attestation   json.RawMessage `json:"attestation,omitempty"`
	Image         string          `json:"image,omitempty"`
}

// Provision implements POST /instances.
func (d *Driver) Provision(ctx context.Context, serverID string, decision provisioner.Decision, config provisioner.Config) (provisioner.ProvisionResult, error) {
	body := provisionRequest{
		ServerID:     serverID,
		Image:        decision.Image,
		Tier:         decision.Tier,
		Capabilities: decision.Capabilities,
		Config: map[string]interface{}{
			"network_template": config.NetworkTemplate,
			"volume_template":  config.VolumeTemplate,
			"gpu_policy":       config.GPUPolicy,
		},
	}

	var resp provisionResponse
	if err := d.doJSON(ctx, http.MethodPost, "/instances", body, &resp); err != nil {
		return provisioner.ProvisionResult{}, err
	}

	return provisioner.ProvisionResult{
		InstanceID:          resp.InstanceID,
		IsolationTier:       resp.IsolationTier,
		AttestationEvidence: []byte(resp.Attestation),
		RequestedImage:      firstNonEmpty(resp.Image, decision.Image),
	}, nil
}

// Start implements POST /instances/{id}/start.
func (d *Driver) Start(ctx context.Context, instanceID string) error {
	return d.doJSON(ctx, http.MethodPost, fmt.Sprintf("/instances/%s/start", instanceID), nil, nil)
}

// Stop implements POST /instances/{id}/stop.
func (d *Driver) Stop(ctx context.Context, instanceID string) error {
	return d.doJSON(ctx, http.MethodPost, fmt.Sprintf("/instances/%s/stop", instanceID), nil, nil)
}

// Teardown implements DELETE /instances/{id}.
func (d *Driver) Teardown(ctx context.Context, instanceID string) error {
	return d.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/instances/%s", instanceID), nil, nil)
}

// FetchLogs implements GET /instances/{id}/logs?tail=N.
func (d *Driver) FetchLogs(ctx context.Context, instanceID string, tail int) (string, error) {
	var logs string
	path := fmt.Sprintf("/instances/%s/logs?tail=%s", instanceID, strconv.Itoa(tail))
	err := d.breaker.Execute(ctx, func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+path, nil)
		if err != nil {
			return err
		}
		d.authorize(req)
		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("fetch logs: unexpected status %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		logs = string(raw)
		return nil
	})
	return logs, err
}

// StreamLogs implements GET /instances/{id}/logs/stream; a 204 response
// means the adapter does not support streaming.
func (d *Driver) StreamLogs(ctx context.Context, instanceID string) (<-chan string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+fmt.Sprintf("/instances/%s/logs/stream", instanceID), nil)
	if err != nil {
		return nil, err
	}
	d.authorize(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("stream logs: unexpected status %d", resp.StatusCode)
	}

	lines := make(chan string)
	go func() {
		defer resp.Body.Close()
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, nil
}

func (d *Driver) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return d.breaker.Execute(ctx, func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return err
			}
			reqBody = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, d.endpoint+path, reqBody)
		if err != nil {
			return err
		}
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		d.authorize(req)

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("hypervisor adapter: unexpected status %d for %s %s", resp.StatusCode, method, path)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (d *Driver) authorize(req *http.Request) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

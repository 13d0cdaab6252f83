// Package podprovider is the GPU pod lifecycle contract the autoscaler
// drives: create, start, stop, and get, plus a REST-backed
// implementation and a fake for tests, following the interface-plus-
// concrete-implementation split this lineage uses for pluggable
// side-effecting backends.
package podprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// PodInfo is a provider's view of one pod.
type PodInfo struct {
	ID          string
	Status      string // provisioning | running | stopping | stopped
	CostPerHour float64
	CreatedAt   time.Time
}

// PodSpec describes the pod the autoscaler wants provisioned: the GPU
// template to boot and the environment the runner process inside it
// needs to reach the dispatcher and claim work as itself.
type PodSpec struct {
	Template      string
	GPUType       string
	GPUCount      int
	NetworkVolume string            // optional, empty means none attached
	Env           map[string]string // e.g. FLOWSTATE_SERVER_URL, FLOWSTATE_RUNNER_TOKEN
}

// Provider is the contract the autoscaler needs from a GPU pod backend.
type Provider interface {
	Create(ctx context.Context, spec PodSpec) (PodInfo, error)
	Start(ctx context.Context, podID string) error
	Stop(ctx context.Context, podID string) error
	Get(ctx context.Context, podID string) (PodInfo, error)
}

// RESTProvider drives a pod-management REST API over HTTP.
type RESTProvider struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewRESTProvider builds a RESTProvider against baseURL, authenticating
// with apiKey as a bearer token.
func NewRESTProvider(baseURL, apiKey string) *RESTProvider {
	return &RESTProvider{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *RESTProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("podprovider: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Create provisions a new pod from spec.
func (p *RESTProvider) Create(ctx context.Context, spec PodSpec) (PodInfo, error) {
	var info PodInfo
	err := p.do(ctx, http.MethodPost, "/pods", spec, &info)
	return info, err
}

// Start starts a stopped pod.
func (p *RESTProvider) Start(ctx context.Context, podID string) error {
	return p.do(ctx, http.MethodPost, "/pods/"+podID+"/start", nil, nil)
}

// Stop stops a running pod.
func (p *RESTProvider) Stop(ctx context.Context, podID string) error {
	return p.do(ctx, http.MethodPost, "/pods/"+podID+"/stop", nil, nil)
}

// Get retrieves a pod's current state.
func (p *RESTProvider) Get(ctx context.Context, podID string) (PodInfo, error) {
	var info PodInfo
	err := p.do(ctx, http.MethodGet, "/pods/"+podID, nil, &info)
	return info, err
}

// FakeProvider is an in-memory Provider for autoscaler tests.
type FakeProvider struct {
	mu       sync.Mutex
	pods     map[string]PodInfo
	nextID   int
	LastSpec PodSpec
	CreateFn func() (PodInfo, error) // optional override, e.g. to simulate failure
}

// NewFakeProvider returns an empty FakeProvider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{pods: make(map[string]PodInfo)}
}

func (f *FakeProvider) Create(ctx context.Context, spec PodSpec) (PodInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LastSpec = spec
	if f.CreateFn != nil {
		info, err := f.CreateFn()
		if err != nil {
			return PodInfo{}, err
		}
		f.pods[info.ID] = info
		return info, nil
	}
	f.nextID++
	info := PodInfo{ID: fmt.Sprintf("pod-%d", f.nextID), Status: "running", CreatedAt: time.Now()}
	f.pods[info.ID] = info
	return info, nil
}

func (f *FakeProvider) Start(ctx context.Context, podID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.pods[podID]
	if !ok {
		return fmt.Errorf("podprovider: unknown pod %q", podID)
	}
	info.Status = "running"
	f.pods[podID] = info
	return nil
}

func (f *FakeProvider) Stop(ctx context.Context, podID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.pods[podID]
	if !ok {
		return fmt.Errorf("podprovider: unknown pod %q", podID)
	}
	info.Status = "stopped"
	f.pods[podID] = info
	return nil
}

func (f *FakeProvider) Get(ctx context.Context, podID string) (PodInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.pods[podID]
	if !ok {
		return PodInfo{}, fmt.Errorf("podprovider: unknown pod %q", podID)
	}
	return info, nil
}

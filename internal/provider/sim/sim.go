// Package sim is an in-memory CloudAPI used by the daemon's dev mode
// and the test suite. Failures and latency are scriptable per
// operation so gateway and lifecycle behavior can be exercised without
// a cloud account.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/opsforge/wpc/internal/core"
	"github.com/opsforge/wpc/internal/provider"
)

type resource struct {
	spec  provider.ResourceSpec
	state string
}

type plannedFailure struct {
	err   error
	times int
}

// Cloud implements provider.CloudAPI.
type Cloud struct {
	mu        sync.Mutex
	resources map[string]*resource
	failures  map[string]*plannedFailure
	calls     map[string]int
	seq       int
}

func New() *Cloud {
	return &Cloud{
		resources: make(map[string]*resource),
		failures:  make(map[string]*plannedFailure),
		calls:     make(map[string]int),
	}
}

// FailNext makes the next n calls of op return err.
func (c *Cloud) FailNext(op string, err error, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = &plannedFailure{err: err, times: n}
}

// CallCount returns how many times op was invoked, including failed
// calls.
func (c *Cloud) CallCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// TotalCalls returns the count across every operation.
func (c *Cloud) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *Cloud) begin(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	if f, ok := c.failures[op]; ok && f.times > 0 {
		f.times--
		return f.err
	}
	return nil
}

func (c *Cloud) Create(ctx context.Context, spec provider.ResourceSpec) (*provider.RemoteResource, error) {
	if err := c.begin("create"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := fmt.Sprintf("sim-%06d", c.seq)
	c.resources[id] = &resource{spec: spec, state: "running"}
	return &provider.RemoteResource{
		ProviderID:     id,
		Region:         spec.Region,
		State:          "running",
		ConnectionInfo: fmt.Sprintf("wss://%s.%s.desktops.internal/%s", id, spec.Region, core.NewID()),
	}, nil
}

func (c *Cloud) Describe(ctx context.Context, providerID string) (*provider.RemoteResource, error) {
	if err := c.begin("describe"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.resources[providerID]
	if !ok {
		return nil, provider.NewError(provider.ClassInvalid, "describe", "unknown resource "+providerID)
	}
	return &provider.RemoteResource{ProviderID: providerID, Region: r.spec.Region, State: r.state}, nil
}

func (c *Cloud) Start(ctx context.Context, providerID string) error {
	if err := c.begin("start"); err != nil {
		return err
	}
	return c.setState(providerID, "start", "running")
}

func (c *Cloud) Stop(ctx context.Context, providerID string) error {
	if err := c.begin("stop"); err != nil {
		return err
	}
	return c.setState(providerID, "stop", "stopped")
}

func (c *Cloud) Terminate(ctx context.Context, providerID string) error {
	if err := c.begin("terminate"); err != nil {
		return err
	}
	return c.setState(providerID, "terminate", "terminated")
}

func (c *Cloud) setState(providerID, op, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.resources[providerID]
	if !ok {
		return provider.NewError(provider.ClassInvalid, op, "unknown resource "+providerID)
	}
	r.state = state
	return nil
}

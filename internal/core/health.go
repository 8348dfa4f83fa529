package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds all probes together. A probe that has not
// answered by then counts as unhealthy.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one critical dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is anything with a connectivity check, such as *db.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a Pinger to HealthProbe.
type PingProbe struct {
	Component string
	Target    Pinger
}

func (p PingProbe) Name() string { return p.Component }

func (p PingProbe) Check(ctx context.Context) error { return p.Target.Ping(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently. 200 when all pass, 503 when
// any fails or times out.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: s.version()}
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	var (
		mu      sync.Mutex
		results = make(map[string]error, len(s.HealthProbes))
		wg      sync.WaitGroup
	)
	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			err := runProbe(ctx, p)
			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	resp.Components = make(map[string]componentStatus, len(s.HealthProbes))
	healthy := true
	for _, probe := range s.HealthProbes {
		name := probe.Name()
		err, finished := results[name]
		switch {
		case !finished:
			healthy = false
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			healthy = false
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			resp.Components[name] = componentStatus{Status: "ok"}
		}
	}

	if !healthy {
		resp.Status = "unhealthy"
		s.Logger.WarnContext(r.Context(), "health check failed", "components", resp.Components)
		JSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	JSON(w, r, http.StatusOK, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}

func (s *Server) version() string {
	if s.Config != nil && s.Config.Build.Version != "" {
		return s.Config.Build.Version
	}
	return "dev"
}

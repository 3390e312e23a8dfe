package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Probe is a named readiness check. A failing optional probe degrades the
// service instead of taking it out of rotation.
type Probe struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

// Checker performs health checks on various components
type Checker struct {
	probes       []Probe
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker. DB and Redis are
// only probed when set; the job store decides which backends the process
// depends on.
type CheckerConfig struct {
	DB           *sql.DB
	Redis        *redis.Client
	StorageCheck func(ctx context.Context) error
	// EncoderCheck resolves the ffmpeg binaries.
	EncoderCheck func(ctx context.Context) error
	Probes       []Probe
	Version      string
	Timeout      time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	var probes []Probe
	if cfg.DB != nil {
		probes = append(probes, Probe{Name: "database", Check: dbCheck(cfg.DB)})
	}
	if cfg.Redis != nil {
		probes = append(probes, Probe{Name: "redis", Check: func(ctx context.Context) error {
			return cfg.Redis.Ping(ctx).Err()
		}})
	}
	if cfg.StorageCheck != nil {
		probes = append(probes, Probe{Name: "storage", Check: cfg.StorageCheck})
	}
	if cfg.EncoderCheck != nil {
		probes = append(probes, Probe{Name: "encoder", Check: cfg.EncoderCheck})
	}
	probes = append(probes, cfg.Probes...)

	return &Checker{
		probes:       probes,
		version:      cfg.Version,
		checkTimeout: timeout,
	}
}

func dbCheck(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		var result int
		return db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
	}
}

func (c *Checker) run(ctx context.Context, p Probe) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := p.Check(ctx); err != nil {
		status := StatusUnhealthy
		if p.Optional {
			status = StatusDegraded
		}
		return ComponentHealth{
			Status:   status,
			Message:  p.Name + " check failed: " + err.Error(),
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck runs every probe in parallel (readiness).
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(c.probes)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, p := range c.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()
			result := c.run(ctx, p)
			mu.Lock()
			response.Components[p.Name] = result
			mu.Unlock()
		}(p)
	}

	wg.Wait()

	for _, comp := range response.Components {
		if comp.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
			break
		} else if comp.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// ProbeNames lists the registered probes in sorted order.
func (c *Checker) ProbeNames() []string {
	names := make([]string, 0, len(c.probes))
	for _, p := range c.probes {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler reports the process is up.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.checker.Check(r.Context()))
}

// ReadinessHandler reports whether dependencies are reachable. Degraded
// still answers 200.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.checker.DeepCheck(r.Context()))
}

// HealthHandler serves liveness, or readiness with ?deep=true.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}

func writeResponse(w http.ResponseWriter, response *HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

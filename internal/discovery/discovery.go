// Package discovery finds running Luna agent services by probing their
// status endpoints.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lefyd24/LunaEye/internal/backend"
)

// Agent is one discovered agent service.
type Agent struct {
	ID         string    `json:"id"` // url-based
	URL        string    `json:"url"`
	Status     string    `json:"status"` // "online", "offline"
	AgentReady bool      `json:"agentReady"`
	ToolsCount int       `json:"toolsCount"`
	Latency    int64     `json:"latency"` // ms
	LastSeen   time.Time `json:"lastSeen"`
}

// Config holds discovery configuration.
type Config struct {
	// Ports to scan on localhost.
	Ports []int
	// Custom URLs to check in addition to port scanning.
	CustomURLs []string
	// Probe timeout per endpoint.
	Timeout time.Duration
	// How often to refresh discovery.
	RefreshInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Ports: []int{
			8000, // default agent port
			8001,
			8080,
		},
		CustomURLs:      []string{},
		Timeout:         2 * time.Second,
		RefreshInterval: 30 * time.Second,
	}
}

// Service discovers and tracks reachable agent services.
type Service struct {
	cfg        *Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu     sync.RWMutex
	agents map[string]*Agent

	onUpdate func([]*Agent)

	stopCh  chan struct{}
	running bool
}

// NewService creates a discovery service.
func NewService(cfg *Config, logger zerolog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "discovery").Logger(),
		agents:     make(map[string]*Agent),
		stopCh:     make(chan struct{}),
	}
}

// SetOnUpdate sets the callback invoked after each scan.
func (s *Service) SetOnUpdate(fn func([]*Agent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// Start begins background discovery.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	go s.Scan()

	go func() {
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Scan()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts background discovery.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// Scan probes every candidate endpoint concurrently and returns the updated
// agent list.
func (s *Service) Scan() []*Agent {
	var wg sync.WaitGroup
	results := make(chan *Agent, len(s.cfg.Ports)+len(s.cfg.CustomURLs))

	for _, port := range s.cfg.Ports {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			if agent := s.probe(fmt.Sprintf("http://localhost:%d", p)); agent != nil {
				results <- agent
			}
		}(port)
	}
	for _, u := range s.cfg.CustomURLs {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if agent := s.probe(u); agent != nil {
				results <- agent
			}
		}(u)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	s.mu.Lock()
	for _, a := range s.agents {
		a.Status = "offline"
		a.AgentReady = false
	}
	for agent := range results {
		s.agents[agent.ID] = agent
	}
	list := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		list = append(list, a)
	}
	callback := s.onUpdate
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	if callback != nil {
		callback(list)
	}
	return list
}

// Best returns the ready agent with the lowest latency, or nil when nothing
// is reachable.
func (s *Service) Best() *Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Agent
	for _, a := range s.agents {
		if a.Status != "online" || !a.AgentReady {
			continue
		}
		if best == nil || a.Latency < best.Latency {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// Agents returns a snapshot of everything seen so far.
func (s *Service) Agents() []*Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// probe checks one base URL for an agent status endpoint.
func (s *Service) probe(baseURL string) *Agent {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return nil
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var status backend.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil
	}

	agent := &Agent{
		ID:         baseURL,
		URL:        baseURL,
		Status:     "online",
		AgentReady: status.AgentReady,
		ToolsCount: status.ToolsCount,
		Latency:    time.Since(start).Milliseconds(),
		LastSeen:   time.Now(),
	}
	s.logger.Debug().Str("url", baseURL).Bool("ready", agent.AgentReady).
		Int("tools", agent.ToolsCount).Int64("latency_ms", agent.Latency).
		Msg("Agent found")
	return agent
}

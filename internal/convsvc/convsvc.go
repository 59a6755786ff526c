// Package convsvc implements ConversationService from spec.md §4.H,
// binding an llmserver.Supervisor to a conversation.FSM. Grounded on
// original_source/Server/app/services/conversation_service.py's
// watchdog/auto-restart pattern, adapted to own the FSM goroutine
// directly per spec.md §4.H/§4.J instead of a bare LLM client proxy.
package convsvc

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/conversation"
	"github.com/edmoltom/FNK0050-sub000/internal/llmserver"
	"github.com/edmoltom/FNK0050-sub000/internal/observability"
	"github.com/edmoltom/FNK0050-sub000/internal/rclock"
)

// ManagerFactory builds a conversation.FSM bound to the given stop
// channel, mirroring spec.md §4.H's `manager_factory(F)`.
type ManagerFactory func(stop <-chan struct{}) *conversation.FSM

// Config configures a Service.
type Config struct {
	LLMBaseURL            string
	HealthTimeout         time.Duration
	HealthCheckInterval   time.Duration
	HealthCheckMaxRetries int
	HealthCheckBackoff    float64
	ReadinessTimeout      time.Duration
	ShutdownTimeout       time.Duration

	// AutoRestart recovers the watchdog/auto_restart feature from
	// conversation_service.py: when the child process exits
	// unexpectedly, wait RestartDelay and start() again.
	AutoRestart  bool
	RestartDelay time.Duration
}

// Service binds an llmserver.Supervisor (G) to a conversation.FSM (F).
type Service struct {
	cfg     Config
	process *llmserver.Supervisor
	factory ManagerFactory
	log     *zerolog.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	fsmDone   chan struct{}
	watchDone chan struct{}
}

// New constructs a Service; start() is not called yet.
func New(cfg Config, process *llmserver.Supervisor, factory ManagerFactory, log *zerolog.Logger) *Service {
	if log == nil {
		log = observability.For("conversation_service")
	}
	return &Service{cfg: cfg, process: process, factory: factory, log: log}
}

// Start launches the subprocess, waits for readiness and health, then
// runs the ConversationFSM on its own goroutine. Returns false (without
// panicking) if readiness or health checks fail, per spec.md §4.H.
func (s *Service) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	if err := s.process.Start(); err != nil {
		s.log.Error().Err(err).Msg("failed to start llama-server process")
		return false
	}

	ready, err := s.process.WaitReady(s.cfg.ReadinessTimeout)
	if err != nil || !ready {
		s.log.Error().Err(err).Bool("ready", ready).Msg("llama-server did not become ready in time")
		s.process.Stop(s.cfg.ShutdownTimeout, s.cfg.ShutdownTimeout)
		return false
	}

	if !s.process.PollHealth(s.cfg.LLMBaseURL, "/health", s.cfg.HealthTimeout, s.cfg.HealthCheckInterval, s.cfg.HealthCheckMaxRetries, s.cfg.HealthCheckBackoff) {
		s.log.Error().Msg("llama-server health check failed")
		s.process.Stop(s.cfg.ShutdownTimeout, s.cfg.ShutdownTimeout)
		return false
	}

	stopCh := make(chan struct{})
	fsm := s.factory(stopCh)
	fsmDone := make(chan struct{})
	watchDone := make(chan struct{})

	s.mu.Lock()
	s.running = true
	s.stopCh = stopCh
	s.fsmDone = fsmDone
	s.watchDone = watchDone
	s.mu.Unlock()

	go func() {
		fsm.Run(nil)
		close(fsmDone)
	}()
	go s.watchdog(stopCh, watchDone)

	return true
}

// watchdog restarts the subprocess if it exits unexpectedly and
// AutoRestart is enabled, mirroring conversation_service.py's
// _watchdog_loop.
func (s *Service) watchdog(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for {
		if rclock.WaitWithCancel(interval, stopCh).Canceled {
			return
		}
		if s.process.IsRunning() {
			continue
		}

		code := s.process.Poll()
		s.log.Warn().Interface("exit_code", code).Msg("llama-server process exited")

		if !s.cfg.AutoRestart {
			return
		}
		if rclock.WaitWithCancel(s.cfg.RestartDelay, stopCh).Canceled {
			return
		}
		if err := s.process.Start(); err != nil {
			s.log.Error().Err(err).Msg("failed to restart llama-server process")
			return
		}
		if ready, err := s.process.WaitReady(s.cfg.ReadinessTimeout); err != nil || !ready {
			s.log.Error().Err(err).Msg("restarted llama-server did not become ready")
			return
		}
	}
}

// Stop idempotently tears the service down: signal the FSM, await it up
// to ShutdownTimeout, then, when terminateProcess is true, stop the
// subprocess.
func (s *Service) Stop(terminateProcess bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh, fsmDone, watchDone := s.stopCh, s.fsmDone, s.watchDone
	s.running = false
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-fsmDone:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn().Msg("conversation FSM did not stop within shutdown timeout")
	}
	select {
	case <-watchDone:
	case <-time.After(s.cfg.ShutdownTimeout):
	}

	if terminateProcess {
		s.process.Stop(s.cfg.ShutdownTimeout, s.cfg.ShutdownTimeout)
	}
}

// Join blocks until the FSM goroutine exits or timeout elapses,
// reporting whether it terminated.
func (s *Service) Join(timeout time.Duration) bool {
	s.mu.Lock()
	fsmDone := s.fsmDone
	s.mu.Unlock()
	if fsmDone == nil {
		return true
	}
	select {
	case <-fsmDone:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Running reports whether Start has succeeded and Stop has not yet run.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

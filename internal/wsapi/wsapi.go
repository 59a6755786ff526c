// Package wsapi implements the WebSocket command surface from spec.md
// §6, grounded on original_source/Server/network/ws_server.py's
// per-connection JSON dispatch loop and
// original_source/Server/app/controllers/robot_controller.py's command
// set (ping/start/stop/capture/process/walk/movement_stop/
// load_profile/dynamic). The asyncio `async for message in websocket`
// loop translates to one goroutine per connection reading
// gorilla/websocket frames.
package wsapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/edmoltom/FNK0050-sub000/internal/observability"
)

// Vision is the subset of the vision loop the WS surface drives.
type Vision interface {
	Start() error
	Stop()
	IsRunning() bool
	// WaitSnapshot polls for a non-empty base64 JPEG snapshot up to
	// timeout, mirroring robot_controller.py's _wait_for_frame.
	WaitSnapshot(ctx context.Context, timeout time.Duration) (string, bool)
}

// Movement is the subset of the movement interface the WS surface
// drives. Walk is a velocity-based command distinct from
// tracker.Movement's turn/head primitives (original_source's
// MovementControl.walk(vx, vy, omega)).
type Movement interface {
	Walk(vx, vy, omega float64)
	Stop()
}

// ProcessingConfigurer accepts the {blur, edges, contours, ref_size}
// subset of a {cmd:"process"} request, mirroring robot_controller.py's
// allow-listed field filter.
type ProcessingConfigurer interface {
	SetProcessingConfig(cfg map[string]any)
}

// ProfileLoader implements {cmd:"load_profile"} and {cmd:"dynamic"}.
// Optional: a Server with no ProfileLoader answers both with an error.
type ProfileLoader interface {
	LoadProfile(which, path string) error
	UpdateDynamic(which string, params map[string]any) error
}

// Response is the stable {status, type, data} response shape from
// spec.md §6.
type Response struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Data   string `json:"data"`
}

func ok(data string) Response    { return Response{Status: "ok", Type: "text", Data: data} }
func okImage(b64 string) Response { return Response{Status: "ok", Type: "image", Data: b64} }
func wait(data string) Response  { return Response{Status: "wait", Type: "text", Data: data} }
func fail(data string) Response  { return Response{Status: "error", Type: "text", Data: data} }

// Request is an incoming command, fields a union of every command's
// parameters (only the ones relevant to cmd are read).
type Request struct {
	Cmd      string         `json:"cmd"`
	Interval float64        `json:"interval"`
	Timeout  float64        `json:"timeout"`
	Blur     *bool          `json:"blur,omitempty"`
	Edges    *bool          `json:"edges,omitempty"`
	Contours *bool          `json:"contours,omitempty"`
	RefSize  *float64       `json:"ref_size,omitempty"`
	Which    string         `json:"which"`
	Path     string         `json:"path"`
	Params   map[string]any `json:"params"`
	VX       float64        `json:"vx"`
	VY       float64        `json:"vy"`
	Omega    float64        `json:"omega"`
}

// Config configures a Server.
type Config struct {
	Host string
	Port int
}

// Server is the WS facade referenced by the RuntimeSupervisor.
type Server struct {
	cfg      Config
	vision   Vision
	movement Movement
	proc     ProcessingConfigurer // optional
	profiles ProfileLoader        // optional
	log      *zerolog.Logger

	upgrader websocket.Upgrader

	httpSrv *http.Server
	mu      sync.Mutex
	running bool
}

// New constructs a Server. proc and profiles may be nil if the wired
// pipeline doesn't support those commands.
func New(cfg Config, vision Vision, movement Movement, proc ProcessingConfigurer, profiles ProfileLoader) *Server {
	return &Server{
		cfg:      cfg,
		vision:   vision,
		movement: movement,
		proc:     proc,
		profiles: profiles,
		log:      observability.For("wsapi"),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Handler returns the HTTP handler that upgrades connections and
// dispatches commands, exposed so tests can drive it via httptest
// without binding a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConn)
	return mux
}

// Start binds the listener and serves in the background. Idempotent.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	addr := s.cfg.Host
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.httpSrv = &http.Server{Addr: addrWithPort(addr, s.cfg.Port), Handler: s.Handler()}
	s.running = true
	s.mu.Unlock()

	ln, err := newListener(s.httpSrv.Addr)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("ws server listening")
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("ws server exited")
		}
	}()
	return nil
}

// Stop shuts the HTTP server down within timeout. Idempotent.
func (s *Server) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	srv := s.httpSrv
	s.running = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("ws server did not shut down cleanly")
	}
}

func addrWithPort(host string, port int) string { return fmt.Sprintf("%s:%d", host, port) }

func newListener(addr string) (net.Listener, error) { return net.Listen("tcp", addr) }

func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	connID := uuid.NewString()
	log := s.log.With().Str("conn_id", connID).Logger()
	log.Info().Msg("client connected")
	defer func() {
		conn.Close()
		log.Info().Msg("client disconnected")
	}()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("ws read error")
			}
			return
		}

		resp := s.dispatch(r.Context(), req)
		if err := conn.WriteJSON(resp); err != nil {
			log.Warn().Err(err).Msg("ws write error")
			return
		}
	}
}

// dispatch mirrors robot_controller.py's RobotController.handle exactly.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case "ping":
		return ok("pong")

	case "start":
		interval := req.Interval
		if interval <= 0 {
			interval = 1.0
		}
		if s.vision == nil {
			return fail("vision not available")
		}
		if err := s.vision.Start(); err != nil {
			return fail(err.Error())
		}
		return ok("capture started")

	case "stop":
		if s.vision == nil {
			return fail("vision not available")
		}
		s.vision.Stop()
		return ok("capture stopped")

	case "capture":
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = 2.0
		}
		if s.vision == nil {
			return fail("vision not available")
		}
		img, has := s.vision.WaitSnapshot(ctx, time.Duration(timeout*float64(time.Second)))
		if !has {
			return wait("no frame yet")
		}
		return okImage(img)

	case "process":
		if s.proc == nil {
			return fail("processing config not supported")
		}
		cfg := map[string]any{}
		if req.Blur != nil {
			cfg["blur"] = *req.Blur
		}
		if req.Edges != nil {
			cfg["edges"] = *req.Edges
		}
		if req.Contours != nil {
			cfg["contours"] = *req.Contours
		}
		if req.RefSize != nil {
			cfg["ref_size"] = *req.RefSize
		}
		s.proc.SetProcessingConfig(cfg)
		return ok("processing config updated")

	case "load_profile":
		if s.profiles == nil {
			return fail("profile loading not supported")
		}
		which := req.Which
		if which == "" {
			which = "big"
		}
		if err := s.profiles.LoadProfile(which, req.Path); err != nil {
			return fail(err.Error())
		}
		return ok("profile " + which + " loaded")

	case "dynamic":
		if s.profiles == nil {
			return fail("dynamic params not supported")
		}
		which := req.Which
		if which == "" {
			which = "big"
		}
		if err := s.profiles.UpdateDynamic(which, req.Params); err != nil {
			return fail(err.Error())
		}
		return ok("dynamic params updated")

	case "walk":
		if s.movement == nil {
			return fail("movement not available")
		}
		s.movement.Walk(req.VX, req.VY, req.Omega)
		return ok("walk command dispatched")

	case "movement_stop":
		if s.movement == nil {
			return fail("movement not available")
		}
		s.movement.Stop()
		return ok("movement stopped")

	default:
		return fail("unknown command: " + req.Cmd)
	}
}

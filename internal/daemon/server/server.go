// Package server implements the daemon's panel API: native gRPC, grpc-web and
// a JSON/HTTP API, all served from one port.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/improbable-eng/grpc-web/go/grpcweb"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/autopanel-io/autopanel/internal/config"
	"github.com/autopanel-io/autopanel/internal/daemon/agent"
	"github.com/autopanel-io/autopanel/internal/daemon/device"
	"github.com/autopanel-io/autopanel/internal/daemon/watcher"
	"github.com/autopanel-io/autopanel/internal/models"
	"github.com/autopanel-io/autopanel/internal/replay"
	"github.com/autopanel-io/autopanel/internal/telemetry"
	"github.com/autopanel-io/autopanel/internal/trajectory"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Settings must have its paths resolved.
	Settings *models.Settings
	Host     string // defaults to localhost
	Port     int    // 0 = dynamic
	// Watcher feeds live session updates; nil disables them.
	Watcher   *watcher.Watcher
	Telemetry telemetry.Client
	Device    *device.Client
}

// Server is the daemon's panel server.
type Server struct {
	mu       sync.RWMutex
	settings *models.Settings

	host      string
	port      int
	pid       int
	startedAt time.Time

	listener   net.Listener
	grpcServer *grpc.Server
	httpServer *http.Server

	store        *trajectory.Store
	renderer     *replay.Renderer
	sessionLimit int
	agentManager *agent.Manager
	device       *device.Client
	watcher      *watcher.Watcher
	hub          *hub
	telemetry    telemetry.Client

	closing      chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a new server listening on the configured port.
func New(opts Options) (*Server, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}
	host := opts.Host
	if host == "" {
		host = "localhost"
	}

	listener, err := (&net.ListenConfig{}).Listen(context.TODO(), "tcp", net.JoinHostPort(host, fmt.Sprint(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	settings := opts.Settings
	store := trajectory.NewStore(settings.Paths.TracesDir, settings.Paths.ImagesDir)

	s := &Server{
		settings:     settings,
		host:         host,
		port:         listener.Addr().(*net.TCPAddr).Port,
		pid:          os.Getpid(),
		startedAt:    time.Now().UTC(),
		listener:     listener,
		grpcServer:   grpc.NewServer(),
		store:        store,
		renderer:     replay.NewRenderer(store, settings.Render.MaxImageEdge),
		sessionLimit: settings.Render.SessionLimit,
		agentManager: agent.NewManager(settings.Agent, settings.Paths.ConsoleDir),
		device:       opts.Device,
		watcher:      opts.Watcher,
		hub:          newHub(),
		telemetry:    opts.Telemetry,
		closing:      make(chan struct{}),
		shutdown:     make(chan struct{}),
	}
	if s.device == nil {
		s.device = device.New(settings.Device)
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.Noop{}
	}
	s.agentManager.SetOnFinish(s.onTaskFinished)

	RegisterPanelServiceServer(s.grpcServer, &panelService{server: s})

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer.RegisterOnShutdown(func() { close(s.closing) })

	return s, nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// URL returns the panel address.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s/", net.JoinHostPort(s.host, fmt.Sprint(s.port)))
}

// AgentManager returns the agent manager.
func (s *Server) AgentManager() *agent.Manager {
	return s.agentManager
}

// Handler routes native gRPC, grpc-web and plain HTTP requests. HTTP/2
// without TLS is accepted so native gRPC clients can share the port.
func (s *Server) Handler() http.Handler {
	web := grpcweb.WrapServer(s.grpcServer,
		grpcweb.WithOriginFunc(s.allowedOrigin),
	)
	api := s.withMetrics(s.routes())

	return h2c.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case web.IsGrpcWebRequest(r) || web.IsAcceptableGrpcCorsRequest(r):
			web.ServeHTTP(w, r)
		case r.ProtoMajor == 2 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc"):
			s.grpcServer.ServeHTTP(w, r)
		case !safeMethod(r.Method) && !s.allowedOrigin(r.Header.Get("Origin")):
			// Blocks form and text/plain posts that browsers send without a preflight.
			http.Error(w, "cross-origin request rejected", http.StatusForbidden)
		default:
			api.ServeHTTP(w, r)
		}
	}), &http2.Server{})
}

// allowedOrigin accepts requests without an Origin (CLI, curl) and browser
// requests from the panel's own address.
func (s *Server) allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme != "http" || u.Port() != strconv.Itoa(s.port) {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", s.host:
		return true
	}
	return false
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Serve starts serving requests. It blocks until ctx is cancelled, Stop or
// the Shutdown RPC is called, or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.httpServer.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if s.watcher != nil {
		g.Go(func() error {
			s.pumpWatcher(ctx)
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
		}
		return s.close()
	})

	log.Printf("[server] Serving panel on %s", s.URL())
	return g.Wait()
}

func (s *Server) close() error {
	if s.agentManager.Running() {
		log.Printf("[server] Stopping running task")
		_ = s.agentManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.grpcServer.Stop()
	if errors.Is(err, context.DeadlineExceeded) {
		return s.httpServer.Close()
	}
	return err
}

// Stop asks Serve to return. Safe to call more than once.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

// Done is closed once shutdown has been requested.
func (s *Server) Done() <-chan struct{} {
	return s.shutdown
}

// pumpWatcher fans watcher events out to stream subscribers.
func (s *Server) pumpWatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case ev, ok := <-s.watcher.Events():
			if !ok {
				return
			}
			if ev.Type == watcher.EventSettingsChanged {
				s.reloadPresets()
				continue
			}
			s.hub.publish(ev)
		}
	}
}

// reloadPresets picks up preset edits without a restart. Other settings
// apply on the next daemon start.
func (s *Server) reloadPresets() {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("[server] Failed to reload settings: %v", err)
		return
	}
	s.mu.Lock()
	s.settings.Presets = settings.Presets
	s.mu.Unlock()
	log.Printf("[server] Reloaded %d presets", len(settings.Presets))
}

// TrayState adapts a Server to the tray.DaemonState interface.
type TrayState struct {
	srv *Server
}

// NewTrayState creates a TrayState for the given server.
func NewTrayState(srv *Server) *TrayState {
	return &TrayState{srv: srv}
}

// PanelURL returns the panel address.
func (t *TrayState) PanelURL() string {
	return t.srv.URL()
}

// CurrentTask returns the running task, or nil.
func (t *TrayState) CurrentTask() *models.TaskStatus {
	st := t.srv.agentManager.Status()
	if !st.Running() {
		return nil
	}
	return st
}

// StopTask stops the running task.
func (t *TrayState) StopTask() {
	if err := t.srv.agentManager.Stop(); err != nil && !errors.Is(err, agent.ErrNoTask) {
		log.Printf("[server] Failed to stop task: %v", err)
	}
}

// RequestShutdown stops the server.
func (t *TrayState) RequestShutdown() {
	t.srv.Stop()
}

// Package server orchestrates all components: COMMS connection, hub, peer links, HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/capabilities-hub/internal/config"
	"github.com/morezero/capabilities-hub/pkg/bootstrap"
	"github.com/morezero/capabilities-hub/pkg/commsutil"
	"github.com/morezero/capabilities-hub/pkg/events"
	"github.com/morezero/capabilities-hub/pkg/hub"
	"github.com/morezero/capabilities-hub/pkg/transport"
)

const logPrefix = "server:server"

// Server is the capabilities-hub orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	hub        hubForServer
	closeHub   func()
	httpServer *http.Server
	listener   net.Listener
}

// Run starts the hub, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting capabilities-hub %s", logPrefix, cfg.COMMSName))

	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	s, err := Start(cfg, nc)
	if err != nil {
		nc.Close()
		return err
	}

	slog.Info(fmt.Sprintf("%s - Capabilities-hub is ready", logPrefix))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	s.Shutdown(context.Background())
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// setupLogging installs the default slog text handler at the given level.
func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

// Start builds the hub on an existing COMMS connection, links every
// configured peer and starts the HTTP server. The connection stays owned
// by the caller.
func Start(cfg *config.Config, nc *comms.Conn) (*Server, error) {
	publisherOpts := &events.CommsPublisherOpts{}
	if cfg.ChangeEventSubject != "" {
		publisherOpts.GlobalChangeSubject = cfg.ChangeEventSubject
	}

	h := hub.New(hub.NewHubParams{
		Name:      cfg.COMMSName,
		Engine:    cfg.EngineConfig(),
		Publisher: events.NewCommsPublisher(nc, publisherOpts),
	})
	h.AddClass(newHubClass(cfg.COMMSName, h))

	s := &Server{cfg: cfg, nc: nc, hub: h, closeHub: h.Close}

	links, err := loadLinks(cfg)
	if err != nil {
		h.Close()
		return nil, err
	}
	for _, link := range links {
		if err := linkPeer(h, nc, cfg, link); err != nil {
			h.Close()
			return nil, err
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, cfg.ListenAddr(), err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, ln.Addr()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	return s, nil
}

// Addr returns the HTTP listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the HTTP server and closes the hub and every peer link.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
		}
	}
	if s.closeHub != nil {
		s.closeHub()
	}
}

// loadLinks merges the peer-link file with HUB_PEERS.
func loadLinks(cfg *config.Config) ([]bootstrap.PeerLink, error) {
	fileCfg, err := bootstrap.LoadPeerLinks(cfg.PeersFile)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to load peer links: %w", logPrefix, err)
	}
	merged := bootstrap.MergePeerLinks(fileCfg, bootstrap.ParsePeerList(cfg.Peers))
	return merged.Enabled(), nil
}

func linkPeer(h *hub.Hub, nc *comms.Conn, cfg *config.Config, link bootstrap.PeerLink) error {
	rate, burst := cfg.PublishRate, cfg.PublishBurst
	if link.PublishRate > 0 {
		rate = link.PublishRate
	}
	if link.PublishBurst > 0 {
		burst = link.PublishBurst
	}

	ch := transport.NewNATSChannel(transport.NewNATSChannelParams{
		Conn:    nc,
		Local:   cfg.COMMSName,
		Remote:  link.RemoteName(),
		Limiter: transport.NewLimiter(rate, burst),
	})
	if _, err := h.CreateRemote(link.ID, ch); err != nil {
		return fmt.Errorf("%s - failed to link peer %s: %w", logPrefix, link.ID, err)
	}
	send, recv := ch.Subjects()
	slog.Info(fmt.Sprintf("%s - Linked peer %s (send %s, recv %s)", logPrefix, link.ID, send, recv))
	return nil
}

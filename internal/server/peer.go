package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/capabilities-hub/internal/config"
	"github.com/morezero/capabilities-hub/pkg/commsutil"
	"github.com/morezero/capabilities-hub/pkg/engine"
	"github.com/morezero/capabilities-hub/pkg/transport"
)

const peerLogPrefix = "server:peer"

// DemoMethods are the methods served by "hub peer <name>".
func DemoMethods(name string) engine.Methods {
	return engine.Methods{
		"echo": func(params json.RawMessage, respond engine.Responder) {
			respond(nil, params)
		},
		"time": func(_ json.RawMessage, respond engine.Responder) {
			respond(nil, map[string]string{"peer": name, "time": time.Now().UTC().Format(time.RFC3339Nano)})
		},
	}
}

// Peer is a single engine linked to a hub over COMMS.
type Peer struct {
	Engine  *engine.Engine
	channel *transport.NATSChannel
}

// StartPeer links a peer named name to the hub named hubName and starts its
// own handshake, so a peer started after the hub still gets routed.
func StartPeer(nc *comms.Conn, cfg *config.Config, name, hubName string, methods engine.Methods) (*Peer, error) {
	ch := transport.NewNATSChannel(transport.NewNATSChannelParams{
		Conn:    nc,
		Local:   name,
		Remote:  hubName,
		Limiter: transport.NewLimiter(cfg.PublishRate, cfg.PublishBurst),
	})
	eng := engine.New(engine.NewEngineParams{
		Name:        name,
		Config:      cfg.EngineConfig(),
		Transmitter: ch.Transmit,
	})
	eng.ExposeMap(methods)

	if err := ch.Listen(func(p []byte) { eng.Receive(p) }); err != nil {
		eng.Shutdown()
		return nil, fmt.Errorf("%s - failed to listen for hub %s: %w", peerLogPrefix, hubName, err)
	}
	eng.Upgrade(func(err error) {
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - [%s] handshake with %s failed: %v", peerLogPrefix, name, hubName, err))
			return
		}
		remote, _ := eng.RemoteCapabilities()
		slog.Info(fmt.Sprintf("%s - [%s] linked to %s, hub serves %v", peerLogPrefix, name, hubName, remote))
	})
	return &Peer{Engine: eng, channel: ch}, nil
}

// Close shuts the engine down and unsubscribes.
func (p *Peer) Close() {
	p.Engine.Shutdown()
	if err := p.channel.Close(); err != nil {
		slog.Warn(fmt.Sprintf("%s - closing channel: %v", peerLogPrefix, err))
	}
}

// RunPeer runs a demo peer until a shutdown signal. SERVICE_NAME names the
// hub to link to.
func RunPeer(name string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", peerLogPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	nc, err := commsutil.Connect(cfg.COMMSURL, name)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to COMMS: %w", peerLogPrefix, err)
	}
	defer nc.Close()

	p, err := StartPeer(nc, cfg, name, cfg.COMMSName, DemoMethods(name))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info(fmt.Sprintf("%s - [%s] shutting down", peerLogPrefix, name))
	p.Close()
	return nil
}

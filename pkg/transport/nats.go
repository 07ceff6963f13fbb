package transport

import (
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/morezero/capabilities-hub/pkg/commsutil"
)

const natsLogPrefix = "transport:nats"

// NewNATSChannelParams holds parameters for NewNATSChannel.
type NewNATSChannelParams struct {
	Conn *comms.Conn
	// Local and Remote name the two ends of the link. Payloads are
	// published on rpc.link.<Local>.<Remote> and read from
	// rpc.link.<Remote>.<Local>.
	Local  string
	Remote string
	// Limiter throttles publishes. Nil means unlimited.
	Limiter *rate.Limiter
}

// NATSChannel links two peers over a pair of COMMS subjects.
type NATSChannel struct {
	nc          *comms.Conn
	sendSubject string
	recvSubject string
	limiter     *rate.Limiter

	mu     sync.Mutex
	sub    *comms.Subscription
	closed bool
}

// NewNATSChannel creates a channel. Nothing is received until Listen.
func NewNATSChannel(params NewNATSChannelParams) *NATSChannel {
	return &NATSChannel{
		nc:          params.Conn,
		sendSubject: commsutil.BuildLinkSubject(params.Local, params.Remote),
		recvSubject: commsutil.BuildLinkSubject(params.Remote, params.Local),
		limiter:     params.Limiter,
	}
}

// NewLimiter builds a publish limiter from a rate in messages per second.
// A rate of zero or less disables limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Subjects returns the send and receive subjects.
func (c *NATSChannel) Subjects() (send, recv string) {
	return c.sendSubject, c.recvSubject
}

// Transmit publishes one payload and reports the outcome through done.
func (c *NATSChannel) Transmit(payload []byte, done func(err error)) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		done(ErrClosed)
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		done(ErrRateLimited)
		return
	}
	if err := c.nc.Publish(c.sendSubject, payload); err != nil {
		done(fmt.Errorf("%s - failed to publish to %s: %w", natsLogPrefix, c.sendSubject, err))
		return
	}
	done(nil)
}

// Listen subscribes to the receive subject and hands every message to
// receive, in arrival order.
func (c *NATSChannel) Listen(receive func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.sub != nil {
		return ErrAlreadyListening
	}

	sub, err := c.nc.Subscribe(c.recvSubject, func(msg *comms.Msg) {
		receive(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", natsLogPrefix, c.recvSubject, err)
	}
	// Make sure the server knows about the subscription before the first
	// handshake goes out.
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%s - failed to flush subscription on %s: %w", natsLogPrefix, c.recvSubject, err)
	}
	c.sub = sub
	slog.Debug(fmt.Sprintf("%s - listening on %s, sending on %s", natsLogPrefix, c.recvSubject, c.sendSubject))
	return nil
}

// Close unsubscribes. The underlying connection is left open.
func (c *NATSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.sub == nil {
		return nil
	}
	if err := c.sub.Unsubscribe(); err != nil && err != comms.ErrConnectionClosed {
		return fmt.Errorf("%s - failed to unsubscribe from %s: %w", natsLogPrefix, c.recvSubject, err)
	}
	return nil
}

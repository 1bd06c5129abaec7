package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AgentService is the host loop: it pumps the connection, publishes the
// periodic heartbeat and hands recovery to the reconnect engine when the
// session drops.
type AgentService interface {
	Run(ctx context.Context) error
}

type AgentServiceParams struct {
	Connection Connection
	Shadow     *ShadowSync
	Reconnect  *ReconnectEngine

	// PollTimeout bounds one event-pump iteration.
	PollTimeout time.Duration

	// HeartbeatInterval is how often the reported state is republished
	// while connected.
	HeartbeatInterval time.Duration

	// StatusInterval is how often connection statistics are logged.
	StatusInterval time.Duration

	// ShadowGetTimeout bounds the initial GET handshake after a connect.
	ShadowGetTimeout time.Duration

	Log zerolog.Logger

	NowFunc func() time.Time
}

func (p *AgentServiceParams) EnsureDefaults() {
	if p.PollTimeout == 0 {
		p.PollTimeout = time.Second
	}
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = 60 * time.Second
	}
	if p.StatusInterval == 0 {
		p.StatusInterval = 30 * time.Second
	}
	if p.ShadowGetTimeout == 0 {
		p.ShadowGetTimeout = 5 * time.Second
	}
	if p.NowFunc == nil {
		p.NowFunc = time.Now
	}
}

type agentService struct {
	params AgentServiceParams

	lastHeartbeat time.Time

	log zerolog.Logger
}

func NewAgentService(params AgentServiceParams) (AgentService, error) {
	if params.Connection == nil {
		return nil, fmt.Errorf("%w: Connection is nil", ErrInvalidParameter)
	}
	if params.Shadow == nil {
		return nil, fmt.Errorf("%w: Shadow is nil", ErrInvalidParameter)
	}
	if params.Reconnect == nil {
		return nil, fmt.Errorf("%w: Reconnect is nil", ErrInvalidParameter)
	}
	params.EnsureDefaults()

	a := &agentService{params: params, log: params.Log}
	params.Reconnect.RegisterActions(a)
	return a, nil
}

// RecoveryActions implementation handed to the reconnect engine. All calls
// originate from the poll loop goroutine.

func (a *agentService) Connect() error {
	return a.params.Connection.Connect()
}

func (a *agentService) Disconnect() {
	a.params.Connection.Disconnect()
}

func (a *agentService) RestartShadow() error {
	a.params.Shadow.Reset()
	if err := a.params.Shadow.Start(); err != nil {
		return err
	}
	if err := a.params.Shadow.WaitGetResponse(a.params.ShadowGetTimeout); err != nil {
		return err
	}
	return a.params.Shadow.UpdateReported(nil)
}

// Run drives the agent until ctx is cancelled or the retry budget is
// exhausted. All core calls happen on one goroutine; a second goroutine only
// logs periodic statistics.
func (a *agentService) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := errgroup.Group{}

	g.Go(func() error {
		// The status goroutine must not outlive the loop.
		defer cancel()
		defer a.shutdown()
		return a.runLoop(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(a.params.StatusInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				stats := a.params.Reconnect.Stats()
				a.log.Info().
					Stringer("state", a.params.Reconnect.State()).
					Uint32("total_reconnects", stats.TotalReconnects).
					Uint32("retry_count", stats.RetryCount).
					Msg("agent status")
			}
		}
	})

	return g.Wait()
}

func (a *agentService) runLoop(ctx context.Context) error {
	a.log.Info().Msg("entering agent loop")

	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("agent loop stopping")
			return nil
		default:
		}

		switch a.params.Reconnect.State() {
		case StateConnected:
			if err := a.params.Connection.Poll(a.params.PollTimeout); err != nil {
				if errors.Is(err, ErrConnectionLost) {
					a.log.Warn().Msg("connection lost, initiating reconnection")
					a.params.Reconnect.MarkDisconnected()
					continue
				}
				a.log.Error().Err(err).Msg("event pump failed")
				continue
			}
			a.heartbeat()

		case StateDisconnected, StateError:
			if !a.params.Reconnect.ShouldRetry() {
				a.log.Error().Msg("reconnection budget exhausted")
				return ErrRetriesExhausted
			}
			if err := a.params.Reconnect.Attempt(); err != nil {
				a.log.Error().Err(err).Msg("reconnection attempt failed")
			}

		default:
			// Reconnecting is transient inside Attempt; nothing to do
			// if observed here.
		}
	}
}

func (a *agentService) heartbeat() {
	now := a.params.NowFunc()
	if !a.lastHeartbeat.IsZero() && now.Sub(a.lastHeartbeat) < a.params.HeartbeatInterval {
		return
	}
	if err := a.params.Shadow.UpdateReported(nil); err != nil {
		a.log.Warn().Err(err).Msg("failed to publish heartbeat")
		return
	}
	a.lastHeartbeat = now
}

// shutdown marks the device offline before tearing the session down.
func (a *agentService) shutdown() {
	if a.params.Connection.IsConnected() {
		a.params.Shadow.MarkOffline()
		state := a.params.Shadow.ReportedSnapshot()
		if err := a.params.Shadow.UpdateReported(&state); err != nil {
			a.log.Warn().Err(err).Msg("failed to publish offline state")
		}
	}
	a.params.Connection.Disconnect()
	a.log.Info().Msg("agent stopped")
}

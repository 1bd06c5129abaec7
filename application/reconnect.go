package application

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RecoveryActions are the operations the ReconnectEngine drives during an
// attempt. It holds these injected references only, never the components'
// internal state.
type RecoveryActions interface {
	Connect() error
	Disconnect()
	RestartShadow() error
}

// ReconnectStats is a snapshot of the engine's retry state.
type ReconnectStats struct {
	RetryCount      uint32
	TotalReconnects uint32
	NextDelay       time.Duration
	LastConnectTime time.Time
}

type ReconnectEngineParams struct {
	// MaxAttempts is the retry budget. Once RetryCount reaches it the
	// engine stays in StateError until Init runs again.
	MaxAttempts uint32

	BaseDelay time.Duration
	MaxDelay  time.Duration

	// ClientID is the stable device identity the jitter seed is derived
	// from, once, at Init.
	ClientID string

	Log zerolog.Logger

	// Test seams.
	SleepFunc func(time.Duration)
	NowFunc   func() time.Time
}

func (p *ReconnectEngineParams) EnsureDefaults() {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 10
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 300 * time.Second
	}
	if p.SleepFunc == nil {
		p.SleepFunc = time.Sleep
	}
	if p.NowFunc == nil {
		p.NowFunc = time.Now
	}
}

// ReconnectEngine orchestrates transport recovery: disconnect, identity-
// jittered backoff wait, reconnect and shadow resynchronization. It owns the
// retry counters; the connection and shadow components are reached only
// through the registered RecoveryActions. Not safe for concurrent use except
// for Stats and State.
type ReconnectEngine struct {
	params       ReconnectEngineParams
	identitySeed string

	mu              sync.Mutex
	state           ConnectionState
	retryCount      uint32
	totalReconnects uint32
	nextDelay       time.Duration
	lastConnectTime time.Time

	actions RecoveryActions

	log zerolog.Logger
}

func NewReconnectEngine(params ReconnectEngineParams) *ReconnectEngine {
	params.EnsureDefaults()

	e := &ReconnectEngine{params: params, log: params.Log}
	e.Init()
	return e
}

// Init resets the engine to its initial state and re-derives the identity
// seed. Calling it twice is indistinguishable from calling it once.
func (e *ReconnectEngine) Init() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = StateDisconnected
	e.retryCount = 0
	e.totalReconnects = 0
	e.nextDelay = e.params.BaseDelay
	e.lastConnectTime = time.Time{}
	e.identitySeed = DeriveIdentitySeed(e.params.ClientID)
}

// RegisterActions injects the connect/disconnect/restart operations. There
// are no defaults; Attempt before registration fails.
func (e *ReconnectEngine) RegisterActions(actions RecoveryActions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions = actions
}

// ShouldRetry reports whether budget remains for another attempt.
func (e *ReconnectEngine) ShouldRetry() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryCount < e.params.MaxAttempts
}

// NextDelay computes the wait before the next attempt.
func (e *ReconnectEngine) NextDelay() time.Duration {
	e.mu.Lock()
	retry := e.retryCount
	e.mu.Unlock()
	return BackoffDelay(e.params.BaseDelay, e.params.MaxDelay, retry, e.identitySeed, e.params.NowFunc())
}

// Attempt runs one full recovery cycle: tear down, wait (never on the first
// try), reconnect, restart the shadow sync. Transport recovery is the
// primary signal; a shadow restart failure still counts as success, the
// sync self-heals on the next cycle.
func (e *ReconnectEngine) Attempt() error {
	e.mu.Lock()
	if e.actions == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: recovery actions not registered", ErrInvalidParameter)
	}
	e.state = StateReconnecting
	retry := e.retryCount
	delay := e.nextDelay
	actions := e.actions
	e.mu.Unlock()

	e.log.Info().
		Uint32("attempt", retry+1).
		Uint32("max_attempts", e.params.MaxAttempts).
		Msg("attempting reconnection")

	actions.Disconnect()

	if retry > 0 {
		e.log.Info().Dur("delay", delay).Msg("waiting before reconnection")
		e.params.SleepFunc(delay)
	}

	if err := actions.Connect(); err != nil {
		e.UpdateFailure()
		return fmt.Errorf("reconnect attempt %d: %w", retry+1, err)
	}

	if err := actions.RestartShadow(); err != nil {
		e.log.Warn().Err(err).Msg("reconnected but shadow restart failed")
	}

	e.ResetState()
	return nil
}

// UpdateFailure records a failed attempt and precomputes the next delay.
func (e *ReconnectEngine) UpdateFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = StateError
	e.retryCount++
	e.nextDelay = BackoffDelay(e.params.BaseDelay, e.params.MaxDelay, e.retryCount, e.identitySeed, e.params.NowFunc())

	if e.retryCount >= e.params.MaxAttempts {
		e.log.Error().
			Uint32("retry_count", e.retryCount).
			Msg("maximum reconnection attempts reached")
		return
	}
	e.log.Error().
		Uint32("retry_count", e.retryCount).
		Uint32("max_attempts", e.params.MaxAttempts).
		Dur("next_delay", e.nextDelay).
		Msg("reconnection failed")
}

// ResetState records a successful reconnection.
func (e *ReconnectEngine) ResetState() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = StateConnected
	e.retryCount = 0
	e.nextDelay = e.params.BaseDelay
	e.lastConnectTime = e.params.NowFunc()
	e.totalReconnects++

	e.log.Info().
		Uint32("total_reconnects", e.totalReconnects).
		Msg("connection restored")
}

// MarkDisconnected flags a lost session so the host loop knows to attempt
// recovery.
func (e *ReconnectEngine) MarkDisconnected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateConnected {
		e.state = StateDisconnected
	}
}

func (e *ReconnectEngine) State() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *ReconnectEngine) Stats() ReconnectStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ReconnectStats{
		RetryCount:      e.retryCount,
		TotalReconnects: e.totalReconnects,
		NextDelay:       e.nextDelay,
		LastConnectTime: e.lastConnectTime,
	}
}

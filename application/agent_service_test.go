package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type agentFixture struct {
	conn      *MockConnection
	engine    *ReconnectEngine
	service   AgentService
	clock     time.Time
	clockStep time.Duration
}

func newAgentFixture(t *testing.T, maxAttempts uint32) *agentFixture {
	t.Helper()

	f := &agentFixture{
		conn:  &MockConnection{},
		clock: time.Unix(1700000000, 0),
	}

	shadow, err := NewShadowSync(ShadowSyncParams{
		Connection: f.conn,
		Dispatcher: &MockCommandDispatcher{},
		Topics:     NewShadowTopics(testClientID),
		NowFunc:    f.now,
	})
	require.NoError(t, err)

	f.engine = NewReconnectEngine(ReconnectEngineParams{
		MaxAttempts: maxAttempts,
		BaseDelay:   2 * time.Second,
		MaxDelay:    300 * time.Second,
		ClientID:    testClientID,
		SleepFunc:   func(time.Duration) {},
		NowFunc:     f.now,
	})

	f.service, err = NewAgentService(AgentServiceParams{
		Connection:       f.conn,
		Shadow:           shadow,
		Reconnect:        f.engine,
		PollTimeout:      10 * time.Millisecond,
		ShadowGetTimeout: time.Millisecond,
		NowFunc:          f.now,
	})
	require.NoError(t, err)
	return f
}

// now advances the fixture clock by clockStep each call, so the deadline
// loops inside the service observe time passing.
func (f *agentFixture) now() time.Time {
	f.clock = f.clock.Add(f.clockStep)
	return f.clock
}

func TestNewAgentService_Validation(t *testing.T) {
	conn := &MockConnection{}
	shadow, err := NewShadowSync(ShadowSyncParams{
		Connection: conn,
		Dispatcher: &MockCommandDispatcher{},
	})
	require.NoError(t, err)
	engine := NewReconnectEngine(ReconnectEngineParams{ClientID: testClientID})

	_, err = NewAgentService(AgentServiceParams{Shadow: shadow, Reconnect: engine})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewAgentService(AgentServiceParams{Connection: conn, Reconnect: engine})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewAgentService(AgentServiceParams{Connection: conn, Shadow: shadow})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestAgentService_RunExhaustsRetryBudget(t *testing.T) {
	f := newAgentFixture(t, 3)

	f.conn.On("Disconnect").Return()
	f.conn.On("Connect").Return(ErrTransport)
	f.conn.On("IsConnected").Return(false)

	err := f.service.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	stats := f.engine.Stats()
	assert.Equal(t, uint32(3), stats.RetryCount)
	assert.Equal(t, uint32(0), stats.TotalReconnects)
}

func TestAgentService_RunStopsOnContextCancel(t *testing.T) {
	f := newAgentFixture(t, 10)
	f.clockStep = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.conn.On("IsConnected").Return(false)
	f.conn.On("Disconnect").Return()

	require.NoError(t, f.service.Run(ctx))
	f.conn.AssertCalled(t, "Disconnect")
}

func TestAgentService_RestartShadowSequence(t *testing.T) {
	f := newAgentFixture(t, 10)
	f.clockStep = time.Second

	actions, ok := f.service.(RecoveryActions)
	require.True(t, ok)

	topics := NewShadowTopics(testClientID)
	for _, topic := range topics.Subscriptions() {
		f.conn.On("Subscribe", topic, mock.Anything).Return(nil).Once()
	}
	f.conn.On("Poll", subscribeSettlePoll).Return(nil)
	f.conn.On("Publish", topics.Get, []byte("{}")).Return(nil).Once()
	f.conn.On("Poll", waitGetPollInterval).Return(nil).Maybe()

	// The GET deadline expires after the first clock reads, so the restart
	// surfaces the timeout.
	err := actions.RestartShadow()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAgentService_ShutdownPublishesOffline(t *testing.T) {
	f := newAgentFixture(t, 3)

	// Connect succeeds but the shadow restart times out; the loop then
	// polls and is immediately cancelled.
	ctx, cancel := context.WithCancel(context.Background())

	topics := NewShadowTopics(testClientID)
	f.conn.On("Disconnect").Return()
	f.conn.On("Connect").Return(nil)
	for _, topic := range topics.Subscriptions() {
		f.conn.On("Subscribe", topic, mock.Anything).Return(nil)
	}
	f.conn.On("Poll", mock.Anything).Return(nil)
	f.conn.On("Publish", mock.Anything, mock.Anything).Return(nil)
	f.conn.On("IsConnected").Return(true)

	f.clockStep = time.Second

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, f.service.Run(ctx))

	// The last publish before disconnecting carries the offline status.
	var lastPayload []byte
	for _, call := range f.conn.Calls {
		if call.Method == "Publish" && call.Arguments.String(0) == topics.Update {
			lastPayload = call.Arguments.Get(1).([]byte)
		}
	}
	require.NotEmpty(t, lastPayload)
	assert.Contains(t, string(lastPayload), `"status":"offline"`)
	assert.Contains(t, string(lastPayload), `"connected":false`)
}

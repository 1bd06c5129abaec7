package application

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockConnection struct {
	mock.Mock
}

func (m *MockConnection) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockConnection) Disconnect() {
	m.Called()
}

func (m *MockConnection) Publish(topic string, payload []byte) error {
	args := m.Called(topic, payload)
	return args.Error(0)
}

func (m *MockConnection) Subscribe(topic string, handler MessageHandler) error {
	args := m.Called(topic, handler)
	return args.Error(0)
}

func (m *MockConnection) Poll(timeout time.Duration) error {
	args := m.Called(timeout)
	return args.Error(0)
}

func (m *MockConnection) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockConnection) State() ConnectionState {
	args := m.Called()
	return args.Get(0).(ConnectionState)
}

var _ Connection = &MockConnection{}

type MockCommandDispatcher struct {
	mock.Mock
}

func (m *MockCommandDispatcher) Process(topic string, payload []byte) (Command, error) {
	args := m.Called(topic, payload)
	return args.Get(0).(Command), args.Error(1)
}

var _ CommandDispatcher = &MockCommandDispatcher{}

type MockSystemMetrics struct {
	mock.Mock
}

func (m *MockSystemMetrics) Collect() (SystemStats, error) {
	args := m.Called()
	return args.Get(0).(SystemStats), args.Error(1)
}

var _ SystemMetrics = &MockSystemMetrics{}

type MockRecoveryActions struct {
	mock.Mock
}

func (m *MockRecoveryActions) Connect() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRecoveryActions) Disconnect() {
	m.Called()
}

func (m *MockRecoveryActions) RestartShadow() error {
	args := m.Called()
	return args.Error(0)
}

var _ RecoveryActions = &MockRecoveryActions{}

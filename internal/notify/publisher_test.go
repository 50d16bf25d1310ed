package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/winlog-collector/winlog/internal/models"
)

// MockConn is a mock implementation of Conn
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Publish(subject string, data []byte) error {
	args := m.Called(subject, data)
	return args.Error(0)
}

func (m *MockConn) Drain() error {
	args := m.Called()
	return args.Error(0)
}

func testMessage() *SessionMessage {
	return NewSessionMessage(&models.Event{
		ID:              7,
		Username:        "alice",
		Hostname:        "PC1",
		Action:          models.ActionConnect,
		EventTime:       time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
		ServerTimestamp: time.Date(2024, 1, 10, 9, 0, 1, 0, time.UTC),
		SessionID:       "alice@PC1@ab12cd",
	})
}

func TestPublisher_Subjects(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		call    func(p *Publisher, msg *SessionMessage) error
	}{
		{"opened", SubjectSessionOpened, func(p *Publisher, m *SessionMessage) error { return p.SessionOpened(context.Background(), m) }},
		{"closed", SubjectSessionClosed, func(p *Publisher, m *SessionMessage) error { return p.SessionClosed(context.Background(), m) }},
		{"autoclosed", SubjectSessionAutoClosed, func(p *Publisher, m *SessionMessage) error { return p.SessionAutoClosed(context.Background(), m) }},
		{"orphaned", SubjectSessionOrphaned, func(p *Publisher, m *SessionMessage) error { return p.SessionOrphaned(context.Background(), m) }},
		{"hardware", SubjectHardwareReported, func(p *Publisher, m *SessionMessage) error { return p.HardwareReported(context.Background(), m) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := new(MockConn)
			var payload []byte
			conn.On("Publish", tt.subject, mock.Anything).
				Run(func(args mock.Arguments) { payload = args.Get(1).([]byte) }).
				Return(nil)

			require.NoError(t, tt.call(NewPublisher(conn), testMessage()))
			conn.AssertExpectations(t)

			var decoded map[string]interface{}
			require.NoError(t, json.Unmarshal(payload, &decoded))
			assert.Equal(t, "alice@PC1@ab12cd", decoded["session_uuid"])
			assert.Equal(t, "C", decoded["action"])
			assert.Equal(t, float64(7), decoded["event_id"])
		})
	}
}

func TestPublisher_Errors(t *testing.T) {
	conn := new(MockConn)
	conn.On("Publish", SubjectSessionOpened, mock.Anything).Return(errors.New("nats: connection closed"))

	err := NewPublisher(conn).SessionOpened(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectSessionOpened)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewPublisher(new(MockConn)).SessionOpened(ctx, testMessage())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_Close(t *testing.T) {
	conn := new(MockConn)
	conn.On("Drain").Return(nil)
	require.NoError(t, NewPublisher(conn).Close())
	conn.AssertExpectations(t)
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := Connect(cfg, nil)
	assert.Error(t, err)
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = NoopNotifier{}
	assert.NoError(t, n.SessionOpened(context.Background(), testMessage()))
	assert.NoError(t, n.Close())
}

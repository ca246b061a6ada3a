package notify

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of Notifier for testing.
type MockNotifier struct {
	mock.Mock
}

// Notify is the mock implementation of the Notify method.
func (m *MockNotifier) Notify(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	return args.Error(0) //nolint:wrapcheck
}

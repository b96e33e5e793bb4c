package usecase

import (
	"context"
	"time"

	"timbermart/internal/domain/entity"
)

// Notifier pushes committed state changes to live sessions. Delivery is best
// effort; implementations must not block on slow consumers.
type Notifier interface {
	DeliverMessage(threadID string, message *entity.Message, excludeSessionID string)
	DeliverReadAck(threadID string, byRole entity.Role, upto *time.Time)
	DeliverPresence(threadID, userID string, role entity.Role, online bool)
}

type nopNotifier struct{}

func (nopNotifier) DeliverMessage(string, *entity.Message, string) {}
func (nopNotifier) DeliverReadAck(string, entity.Role, *time.Time) {}
func (nopNotifier) DeliverPresence(string, string, entity.Role, bool) {}

func withStoreTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Package cache keeps the latest snapshot per channel and announces
// milestones in the number of cached channels.
package cache

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/metrics"
	"github.com/JakeFAU/channel-appraiser/internal/notify"
)

// DefaultMilestones are the cache sizes worth telling the admin about.
var DefaultMilestones = []int{10, 50, 100, 500, 1000}

// Cache implements appraiser.SnapshotSaver.
type Cache struct {
	store      appraiser.ChannelStore
	notifier   notify.Notifier
	milestones []int
	logger     *zap.Logger
}

// New wires a Cache. A nil notifier disables notifications and nil
// milestones use DefaultMilestones.
func New(store appraiser.ChannelStore, notifier notify.Notifier, milestones []int, logger *zap.Logger) *Cache {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if milestones == nil {
		milestones = DefaultMilestones
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, notifier: notifier, milestones: milestones, logger: logger}
}

// Save upserts snapshot. Only an insert that lands exactly on a milestone
// notifies, so overwrites never repeat an announcement. Notification errors
// are logged and dropped.
func (c *Cache) Save(ctx context.Context, snapshot appraiser.ChannelSnapshot) error {
	inserted, total, err := c.store.UpsertChannel(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	metrics.SetCachedChannels(total)

	if !inserted || !slices.Contains(c.milestones, total) {
		return nil
	}

	event := notify.Event{
		Kind:   notify.KindMilestone,
		Total:  total,
		Handle: snapshot.Handle,
		Title:  snapshot.Title,
		At:     snapshot.UpdatedAt,
	}
	if err := c.notifier.Notify(ctx, event); err != nil {
		metrics.ObserveNotification("error")
		c.logger.Warn("milestone notification failed",
			zap.Int("total", total),
			zap.String("handle", snapshot.Handle),
			zap.Error(err),
		)
		return nil
	}
	metrics.ObserveNotification("sent")
	c.logger.Info("milestone reached", zap.Int("total", total))
	return nil
}

// Get returns the cached snapshot for handle.
func (c *Cache) Get(ctx context.Context, handle string) (appraiser.ChannelSnapshot, error) {
	snap, err := c.store.GetChannel(ctx, appraiser.CacheKey(handle))
	if err != nil {
		return appraiser.ChannelSnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

var _ appraiser.SnapshotSaver = (*Cache)(nil)

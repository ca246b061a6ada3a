package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/notify"
	"github.com/JakeFAU/channel-appraiser/internal/storage/memory"
)

func TestSaveIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	c := New(repo, nil, []int{1}, nil)
	ctx := context.Background()

	snap := appraiser.ChannelSnapshot{Handle: "durov", MemberCount: 10}
	require.NoError(t, c.Save(ctx, snap))
	require.NoError(t, c.Save(ctx, snap))

	stats, err := repo.Stats(ctx, appraiser.Day(snap.UpdatedAt), snap.UpdatedAt)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CachedChannels)

	got, err := c.Get(ctx, "DUROV")
	require.NoError(t, err)
	assert.EqualValues(t, 10, got.MemberCount)
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()

	c := New(memory.New(), nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, appraiser.ChannelSnapshot{Handle: "durov", MemberCount: 10}))
	require.NoError(t, c.Save(ctx, appraiser.ChannelSnapshot{Handle: "durov", MemberCount: 20}))

	got, err := c.Get(ctx, "durov")
	require.NoError(t, err)
	assert.EqualValues(t, 20, got.MemberCount)
}

func TestMilestoneNotifiesOnce(t *testing.T) {
	t.Parallel()

	notifier := &notify.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(ev notify.Event) bool {
		return ev.Kind == notify.KindMilestone && ev.Total == 2 && ev.Handle == "b"
	})).Return(nil).Once()

	c := New(memory.New(), notifier, []int{2}, nil)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, appraiser.ChannelSnapshot{Handle: "a"}))
	require.NoError(t, c.Save(ctx, appraiser.ChannelSnapshot{Handle: "b"}))
	// Overwrites keep the total at the milestone but are not inserts.
	require.NoError(t, c.Save(ctx, appraiser.ChannelSnapshot{Handle: "b"}))
	require.NoError(t, c.Save(ctx, appraiser.ChannelSnapshot{Handle: "a"}))
	require.NoError(t, c.Save(ctx, appraiser.ChannelSnapshot{Handle: "c"}))

	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	notifier := &notify.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("bot blocked"))

	c := New(memory.New(), notifier, []int{1}, nil)
	require.NoError(t, c.Save(context.Background(), appraiser.ChannelSnapshot{Handle: "a"}))
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

type failingStore struct {
	appraiser.ChannelStore
}

func (failingStore) UpsertChannel(context.Context, appraiser.ChannelSnapshot) (bool, int, error) {
	return false, 0, errors.New("disk full")
}

func TestSavePropagatesStoreError(t *testing.T) {
	t.Parallel()

	err := New(failingStore{}, nil, nil, nil).Save(context.Background(), appraiser.ChannelSnapshot{Handle: "a"})
	require.ErrorContains(t, err, "disk full")
}

func TestDefaultMilestonesNotifyAtTen(t *testing.T) {
	t.Parallel()

	notifier := &notify.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	c := New(memory.New(), notifier, nil, nil)
	for i := range 12 {
		require.NoError(t, c.Save(context.Background(), appraiser.ChannelSnapshot{Handle: fmt.Sprintf("ch%d", i)}))
	}
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

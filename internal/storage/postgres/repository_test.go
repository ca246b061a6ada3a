package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
)

var (
	now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	day = appraiser.Day(now)
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo, err := NewWithPool(mock)
	require.NoError(t, err)
	return mock, repo
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS subscriptions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeDailyQuotaGranted(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectQuery("INSERT INTO daily_usage").
		WithArgs(int64(7), day, 3).
		WillReturnRows(pgxmock.NewRows([]string{"uses"}).AddRow(2))

	used, ok, err := repo.ConsumeDailyQuota(context.Background(), 7, day, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeDailyQuotaDenied(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectQuery("INSERT INTO daily_usage").
		WithArgs(int64(7), day, 3).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT uses FROM daily_usage").
		WithArgs(int64(7), day).
		WillReturnRows(pgxmock.NewRows([]string{"uses"}).AddRow(3))

	used, ok, err := repo.ConsumeDailyQuota(context.Background(), 7, day, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeDailyQuotaZeroCeilingNeverWrites(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectQuery("SELECT uses FROM daily_usage").
		WithArgs(int64(7), day).
		WillReturnError(pgx.ErrNoRows)

	used, ok, err := repo.ConsumeDailyQuota(context.Background(), 7, day, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, used)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendSubscription(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	want := now.AddDate(0, 0, 30)
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(1), now, 30).
		WillReturnRows(pgxmock.NewRows([]string{"expires_at"}).AddRow(want))

	got, err := repo.ExtendSubscription(context.Background(), 1, 30, now)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubscriptionMissing(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectQuery("SELECT expires_at FROM subscriptions").
		WithArgs(int64(1)).
		WillReturnError(pgx.ErrNoRows)

	_, found, err := repo.GetSubscription(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemGiftCodeSuccess(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	created := now.Add(-24 * time.Hour)
	want := now.AddDate(0, 0, 30)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE gift_codes").
		WithArgs(int64(5), now, "GIFT-1").
		WillReturnRows(pgxmock.NewRows([]string{"days", "created_at"}).AddRow(30, created))
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(5), now, 30).
		WillReturnRows(pgxmock.NewRows([]string{"expires_at"}).AddRow(want))
	mock.ExpectCommit()

	gift, exp, err := repo.RedeemGiftCode(context.Background(), "GIFT-1", 5, now)
	require.NoError(t, err)
	assert.Equal(t, want, exp)
	assert.Equal(t, 30, gift.Days)
	assert.True(t, gift.Used)
	require.NotNil(t, gift.UsedBy)
	assert.EqualValues(t, 5, *gift.UsedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemGiftCodeFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		lookup func(*pgxmock.ExpectedQuery)
		want   error
	}{
		{
			name: "already used",
			lookup: func(q *pgxmock.ExpectedQuery) {
				q.WillReturnRows(pgxmock.NewRows([]string{"used"}).AddRow(true))
			},
			want: appraiser.ErrGiftCodeAlreadyUsed,
		},
		{
			name: "unknown code",
			lookup: func(q *pgxmock.ExpectedQuery) {
				q.WillReturnError(pgx.ErrNoRows)
			},
			want: appraiser.ErrGiftCodeInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mock, repo := newMock(t)
			mock.ExpectBegin()
			mock.ExpectQuery("UPDATE gift_codes").
				WithArgs(int64(5), now, "GIFT-1").
				WillReturnError(pgx.ErrNoRows)
			tc.lookup(mock.ExpectQuery("SELECT used FROM gift_codes").WithArgs("GIFT-1"))
			mock.ExpectRollback()

			_, _, err := repo.RedeemGiftCode(context.Background(), "GIFT-1", 5, now)
			require.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreateGiftCode(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectExec("INSERT INTO gift_codes").
		WithArgs("GIFT-1", 30, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.CreateGiftCode(context.Background(), appraiser.GiftCode{Code: "GIFT-1", Days: 30, CreatedAt: now})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChannel(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	snap := appraiser.ChannelSnapshot{
		Handle:         "Durov",
		Title:          "Durov",
		MemberCount:    3_000_000,
		AverageViews:   700,
		EngagementRate: 0.0233,
		Niche:          "crypto",
		FairPriceLocal: 2100,
		FairPriceUSD:   23.3,
		PostsPerDay:    1,
		PostsSampled:   3,
		UpdatedAt:      now,
	}
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(channelsLock).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO channels").
		WithArgs("durov", snap.Title, snap.Description, snap.MemberCount, snap.AverageViews,
			snap.EngagementRate, snap.Niche, snap.FairPriceLocal, snap.FairPriceUSD,
			snap.PostsPerDay, snap.PostsSampled, snap.UpdatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM channels")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectCommit()

	inserted, total, err := repo.UpsertChannel(context.Background(), snap)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 10, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertChannelRollsBackOnCountFailure(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(channelsLock).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO channels").
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM channels")).
		WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	_, _, err := repo.UpsertChannel(context.Background(), appraiser.ChannelSnapshot{Handle: "durov", UpdatedAt: now})
	require.ErrorContains(t, err, "count channels")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChannelNotFound(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectQuery("FROM channels WHERE handle").
		WithArgs("durov").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetChannel(context.Background(), "Durov")
	require.ErrorIs(t, err, appraiser.ErrSnapshotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()

	mock, repo := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("(SELECT COUNT(*) FROM channels)")).
		WithArgs(now, day).
		WillReturnRows(pgxmock.NewRows([]string{"a", "b", "c", "d"}).AddRow(4, 2, 9, 1))

	stats, err := repo.Stats(context.Background(), day, now)
	require.NoError(t, err)
	assert.Equal(t, appraiser.Stats{
		CachedChannels:      4,
		ActiveSubscriptions: 2,
		AnalysesToday:       9,
		GiftCodesUnused:     1,
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

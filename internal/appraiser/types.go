// Package appraiser defines the channel appraisal pipeline and the types
// shared across its collaborators.
package appraiser

import (
	"strings"
	"time"
)

// ChannelType is the Bot API chat type.
type ChannelType string

// Chat types reported by getChat. Only channels and supergroups are analyzable.
const (
	ChannelTypeChannel    ChannelType = "channel"
	ChannelTypeSupergroup ChannelType = "supergroup"
	ChannelTypeGroup      ChannelType = "group"
	ChannelTypePrivate    ChannelType = "private"
)

// Analyzable reports whether the chat type can be appraised.
func (t ChannelType) Analyzable() bool {
	return t == ChannelTypeChannel || t == ChannelTypeSupergroup
}

// ChannelInfo is the metadata returned by the Bot API.
type ChannelInfo struct {
	Handle      string
	Title       string
	Description string
	Type        ChannelType
	MemberCount int64
}

// PostStats holds what the public preview page exposed. Views and Timestamps
// are independent sequences and may differ in length.
type PostStats struct {
	Views      []int64
	Timestamps []string
	// Public is false when the preview redirected away.
	Public bool
}

// ChannelSnapshot is the latest appraisal of a channel. One row per cache key.
type ChannelSnapshot struct {
	Handle         string    `json:"handle"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	MemberCount    int64     `json:"member_count"`
	AverageViews   float64   `json:"average_views"`
	EngagementRate float64   `json:"engagement_rate"`
	Niche          string    `json:"niche"`
	FairPriceLocal int64     `json:"fair_price_local"`
	FairPriceUSD   float64   `json:"fair_price_usd"`
	PostsPerDay    float64   `json:"posts_per_day"`
	PostsSampled   int       `json:"posts_sampled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CacheKey returns the key snapshots are stored under. Handles are
// case-insensitive on the platform, so the key is lower-cased.
func CacheKey(handle string) string {
	return strings.ToLower(handle)
}

// Subscription is a time-bound premium entitlement.
type Subscription struct {
	UserID    int64
	ExpiresAt time.Time
}

// Active reports whether the subscription is premium at now.
func (s Subscription) Active(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// GiftCode grants Days of premium to whoever redeems it first.
type GiftCode struct {
	Code      string     `json:"code"`
	Days      int        `json:"days"`
	Used      bool       `json:"used"`
	UsedBy    *int64     `json:"used_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Stats is the admin overview.
type Stats struct {
	CachedChannels      int `json:"cached_channels"`
	ActiveSubscriptions int `json:"active_subscriptions"`
	AnalysesToday       int `json:"analyses_today"`
	GiftCodesUnused     int `json:"gift_codes_unused"`
}

// Decision is the outcome of an entitlement check.
type Decision struct {
	Granted   bool
	Premium   bool
	Used      int
	Limit     int
	ExpiresAt time.Time
}

// Remaining is the number of free analyses left today.
func (d Decision) Remaining() int {
	if d.Premium || d.Used >= d.Limit {
		return 0
	}
	return d.Limit - d.Used
}

// Report is what the pipeline hands back to the transport.
type Report struct {
	Snapshot ChannelSnapshot
	// DisplayHandle keeps the casing the user typed.
	DisplayHandle string
	Tier          Tier
	CPM           int64
	ExchangeRate  float64
	// Partial is set when the preview yielded no view data.
	Partial  bool
	Decision Decision
}

// Tier buckets engagement rates.
type Tier int

// Engagement tiers by descending threshold.
const (
	TierLow Tier = iota
	TierAverage
	TierGood
	TierExcellent
)

func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierAverage:
		return "average"
	default:
		return "low"
	}
}

// ExtendExpiry applies the extension rule: max(current, now) + days.
func ExtendExpiry(current, now time.Time, days int) time.Time {
	base := current
	if now.After(base) {
		base = now
	}
	return base.AddDate(0, 0, days)
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-appraiser/internal/appraiser"
	"github.com/JakeFAU/channel-appraiser/internal/entitlement"
	"github.com/JakeFAU/channel-appraiser/internal/handle"
)

const (
	adminTimeout     = 5 * time.Second
	defaultGiftCount = 1
)

// Admin is the privileged entitlement surface the API drives.
type Admin interface {
	AdminGrant(ctx context.Context, principal, userID int64, days int) (time.Time, error)
	CreateGiftCodes(ctx context.Context, principal int64, days, count int) ([]appraiser.GiftCode, error)
	Stats(ctx context.Context, principal int64) (appraiser.Stats, error)
}

// SnapshotReader loads cached appraisals.
type SnapshotReader interface {
	Get(ctx context.Context, handle string) (appraiser.ChannelSnapshot, error)
}

// AdminHandler exposes snapshot lookups and entitlement administration.
// Callers that pass the API key act as entitlement.System.
type AdminHandler struct {
	admin     Admin
	snapshots SnapshotReader
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAdminHandler wires the collaborators and logger.
func NewAdminHandler(admin Admin, snapshots SnapshotReader, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		admin:     admin,
		snapshots: snapshots,
		timeout:   adminTimeout,
		logger:    logger,
	}
}

// GetChannel handles GET /v1/channels/{handle}. It returns {"channel": {...}}
// on success, 400 for an unusable handle, 404 when nothing is cached, or 500.
func (h *AdminHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	name, ok := handle.FromText(chi.URLParam(r, "handle"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.snapshots.Get(ctx, name)
	if err != nil {
		if errors.Is(err, appraiser.ErrSnapshotNotFound) {
			writeError(w, http.StatusNotFound, "channel not cached")
			return
		}
		h.logger.Error("get channel failed", zap.String("handle", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": snap})
}

// Stats handles GET /v1/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.admin.Stats(ctx, entitlement.System)
	if err != nil {
		h.writeAdminError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// CreateGifts handles POST /v1/gifts with body {"days": N, "count": K}.
// count defaults to one.
func (h *AdminHandler) CreateGifts(w http.ResponseWriter, r *http.Request) {
	var req createGiftsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be positive")
		return
	}
	count := valueOrDefault(req.Count, defaultGiftCount)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	codes, err := h.admin.CreateGiftCodes(ctx, entitlement.System, req.Days, count)
	if err != nil {
		h.writeAdminError(w, "create gifts", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}

// Grant handles POST /v1/subscriptions/{user_id}/grant with body {"days": N}.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Days <= 0 {
		writeError(w, http.StatusBadRequest, "days must be positive")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	exp, err := h.admin.AdminGrant(ctx, entitlement.System, userID, req.Days)
	if err != nil {
		h.writeAdminError(w, "grant", err)
		return
	}
	writeJSON(w, http.StatusOK, grantResponse{UserID: userID, ExpiresAt: exp})
}

func (h *AdminHandler) writeAdminError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, appraiser.ErrForbidden) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	h.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func parseUserID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if raw == "" {
		return 0, errors.New("user_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user_id")
	}
	return id, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

type createGiftsRequest struct {
	Days  int  `json:"days"`
	Count *int `json:"count"`
}

type grantRequest struct {
	Days int `json:"days"`
}

type grantResponse struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

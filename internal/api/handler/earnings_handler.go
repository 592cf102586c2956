package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/evetabi/lending/internal/domain"
	"github.com/evetabi/lending/internal/repository"
	"github.com/evetabi/lending/internal/service"
	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// EarningsHandler serves daily earnings query and settlement retry endpoints.
type EarningsHandler struct {
	earningsRepo  *repository.EarningsRepository
	settlementSvc *service.SettlementService
	currency      string
}

// NewEarningsHandler creates an EarningsHandler.
func NewEarningsHandler(earningsRepo *repository.EarningsRepository, settlementSvc *service.SettlementService, currency string) *EarningsHandler {
	return &EarningsHandler{
		earningsRepo:  earningsRepo,
		settlementSvc: settlementSvc,
		currency:      currency,
	}
}

// GetByDate godoc
// GET /api/earnings/:date
func (h *EarningsHandler) GetByDate(c *gin.Context) {
	date, err := time.Parse(dateLayout, c.Param("date"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "date must be YYYY-MM-DD")
		return
	}

	earnings, err := h.earningsRepo.GetByDate(c.Request.Context(), h.currency, date)
	if err != nil {
		if errors.Is(err, domain.ErrEarningsNotFound) {
			respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch earnings")
		return
	}
	respondSuccess(c, http.StatusOK, earnings)
}

// ListRange godoc
// GET /api/earnings?from=2026-08-01&to=2026-08-31
//
// Defaults to the trailing 30 days when no range is given.
func (h *EarningsHandler) ListRange(c *gin.Context) {
	to := time.Now().UTC().Truncate(24 * time.Hour)
	from := to.AddDate(0, 0, -30)

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "to must be YYYY-MM-DD")
			return
		}
		to = parsed
	}
	if to.Before(from) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_RANGE", "to must not precede from")
		return
	}

	rows, err := h.earningsRepo.ListRange(c.Request.Context(), h.currency, from, to)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch earnings range")
		return
	}
	respondList(c, rows, len(rows))
}

// RetrySettlement godoc
// POST /api/settlement/:date/retry
func (h *EarningsHandler) RetrySettlement(c *gin.Context) {
	date, err := time.Parse(dateLayout, c.Param("date"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_DATE", "date must be YYYY-MM-DD")
		return
	}

	result, err := h.settlementSvc.RetryFailedSettlement(c.Request.Context(), date)
	if err != nil {
		if errors.Is(err, domain.ErrSettlementNotFailed) {
			respondError(c, http.StatusConflict, "ERR_NOT_FAILED", err.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "settlement retry failed")
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

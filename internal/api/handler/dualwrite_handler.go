package handler

import (
	"net/http"

	"github.com/evetabi/lending/internal/service"
	"github.com/gin-gonic/gin"
)

// DualWriteHandler exposes migration coordinator controls to operators.
type DualWriteHandler struct {
	dualWriteSvc *service.DualWriteService
}

// NewDualWriteHandler creates a DualWriteHandler.
func NewDualWriteHandler(dualWriteSvc *service.DualWriteService) *DualWriteHandler {
	return &DualWriteHandler{dualWriteSvc: dualWriteSvc}
}

// GetStats godoc
// GET /api/dualwrite/stats
func (h *DualWriteHandler) GetStats(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.dualWriteSvc.Stats())
}

// Cutover godoc
// POST /api/dualwrite/cutover
//
// Flips reads to the new system when the error and inconsistency gates pass.
// A refused cutover returns 409 with the gate that blocked it.
func (h *DualWriteHandler) Cutover(c *gin.Context) {
	ok, reason := h.dualWriteSvc.FullCutover()
	if !ok {
		respondError(c, http.StatusConflict, "ERR_CUTOVER_REFUSED", reason)
		return
	}
	respondSuccess(c, http.StatusOK, h.dualWriteSvc.Stats())
}

// Status godoc
// GET /api/dualwrite/status
func (h *DualWriteHandler) Status(c *gin.Context) {
	status, err := h.dualWriteSvc.ReadAccountStatus(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", "could not read account status")
		return
	}
	respondSuccess(c, http.StatusOK, status)
}

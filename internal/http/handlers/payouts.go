package handlers

import (
	"net/http"

	"reward_platform/internal/domain"
	"reward_platform/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) RequestPayout(c *gin.Context) {
	var req service.PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	p, err := h.Payouts.RequestPayout(c.Request.Context(), currentUser(c).ID, req, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListMyPayouts(c *gin.Context) {
	userID := currentUser(c).ID
	f, ok := payoutFilter(c)
	if !ok {
		return
	}
	f.UserID = &userID
	list, err := h.Payouts.ListPayouts(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": list})
}

func (h *Handler) CancelPayout(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.Payouts.CancelPayout(c.Request.Context(), currentUser(c).ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) PayoutMethods(c *gin.Context) {
	u := currentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"country":     u.Country,
		"min_points":  domain.MinWithdrawPoints(u.Country),
		"methods":     h.Payouts.Methods(u.Country),
		"points_usd":  domain.PointsPerUSD,
		"balance":     u.Points,
		"can_request": u.Points >= domain.MinWithdrawPoints(u.Country),
	})
}

// payoutFilter: ?status=&page=&limit=
func payoutFilter(c *gin.Context) (domain.PayoutFilter, bool) {
	var f domain.PayoutFilter
	if s := c.Query("status"); s != "" {
		f.Status = domain.PayoutStatus(s)
		if !f.Status.Valid() {
			badRequest(c, "invalid status")
			return f, false
		}
	}
	f.Limit = queryInt(c, "limit", 20)
	if page := queryInt(c, "page", 1); page > 1 {
		f.Offset = (page - 1) * max(f.Limit, 1)
	}
	return f, true
}

func (h *Handler) AdminListPayouts(c *gin.Context) {
	f, ok := payoutFilter(c)
	if !ok {
		return
	}
	list, err := h.Payouts.ListPayouts(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": list})
}

// AdminTransitionPayout: POST /admin/payouts/:id/:action, action ∈ approve|reject|process|complete
func (h *Handler) AdminTransitionPayout(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Note                  string `json:"note"`
		ExternalTransactionID string `json:"external_transaction_id"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	actor := currentUser(c)
	p, err := h.Payouts.TransitionPayout(c.Request.Context(), service.TransitionRequest{
		PayoutID:              id,
		ActorID:               actor.ID,
		ActorRole:             actor.Role,
		Action:                domain.PayoutAction(c.Param("action")),
		Note:                  body.Note,
		ExternalTransactionID: body.ExternalTransactionID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) AdminPayoutStats(c *gin.Context) {
	stats, err := h.Payouts.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

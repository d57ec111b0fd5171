package handlers

import (
	"net/http"

	"reward_platform/internal/service"

	"github.com/gin-gonic/gin"
)

// AdjustBalance - ручное начисление или списание, только для admin
func (h *Handler) AdjustBalance(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	admin := currentUser(c)
	req.AdminID, req.AdminRole, req.UserID = admin.ID, admin.Role, userID

	e, err := h.Admin.AdjustBalance(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": e, "balance": e.NewBalance})
}

func (h *Handler) UserAudit(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	logs, err := h.Audit.GetUserAuditLogs(c.Request.Context(), userID, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "logs": logs})
}

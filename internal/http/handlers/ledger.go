package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// History - история пользователя, ?page=&page_size=
func (h *Handler) History(c *gin.Context) {
	page, err := h.Ledger.GetUserLedger(c.Request.Context(), currentUser(c).ID, queryInt(c, "page", 1), queryInt(c, "page_size", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	top, err := h.Ledger.GetLeaderboard(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": top})
}

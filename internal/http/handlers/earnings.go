package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (h *Handler) DailyBonus(c *gin.Context) {
	e, err := h.Earnings.ClaimDailyBonus(c.Request.Context(), currentUser(c).ID, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": e, "balance": e.NewBalance})
}

func (h *Handler) WatchVideo(c *gin.Context) {
	e, err := h.Earnings.RecordVideoWatch(c.Request.Context(), currentUser(c).ID, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": e, "balance": e.NewBalance})
}

// GetQuiz - вопросы без правильных ответов
func (h *Handler) GetQuiz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"questions": h.Earnings.GetQuiz()})
}

func (h *Handler) SubmitQuiz(c *gin.Context) {
	var req struct {
		Answers map[string]int `json:"answers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res, err := h.Earnings.SubmitQuiz(c.Request.Context(), currentUser(c).ID, req.Answers, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

const defaultSummaryWindow = 30 * 24 * time.Hour

// summaryRange: ?from=&to= в RFC3339 или YYYY-MM-DD, по умолчанию последние 30 дней
func summaryRange(c *gin.Context) (time.Time, time.Time, bool) {
	to := time.Now().UTC()
	from := to.Add(-defaultSummaryWindow)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			badRequest(c, "invalid "+p.name)
			return time.Time{}, time.Time{}, false
		}
		*p.dst = t
	}
	return from, to, true
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func (h *Handler) EarningsSummary(c *gin.Context) {
	from, to, ok := summaryRange(c)
	if !ok {
		return
	}
	s, err := h.Ledger.GetEarningsSummary(c.Request.Context(), currentUser(c).ID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) ReferralEarnings(c *gin.Context) {
	from, to, ok := summaryRange(c)
	if !ok {
		return
	}
	u := currentUser(c)
	s, err := h.Ledger.GetReferralEarnings(c.Request.Context(), u.ID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":           s,
		"referral_code":     u.ReferralCode,
		"referral_count":    u.ReferralCount,
		"referral_earnings": u.ReferralEarnings,
	})
}

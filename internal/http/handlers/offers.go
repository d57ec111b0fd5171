package handlers

import (
	"errors"
	"io"
	"net/http"

	"reward_platform/internal/domain"

	"github.com/gin-gonic/gin"
)

const maxProofSize = 5 << 20

func (h *Handler) GetOffer(c *gin.Context) {
	offerID, ok := paramID(c, "id")
	if !ok {
		return
	}
	o, err := h.Offers.GetOffer(c.Request.Context(), offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) OfferClick(c *gin.Context) {
	offerID, ok := paramID(c, "id")
	if !ok {
		return
	}
	counters, err := h.Offers.RecordOfferClick(c.Request.Context(), currentUser(c).ID, offerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offer_id": offerID, "clicks": counters.Clicks})
}

// CompleteOffer принимает JSON {"external_id"} или multipart с полями external_id и screenshot
func (h *Handler) CompleteOffer(c *gin.Context) {
	offerID, ok := paramID(c, "id")
	if !ok {
		return
	}
	proof, err := readProof(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	e, err := h.Offers.CompleteOffer(c.Request.Context(), currentUser(c).ID, offerID, proof, requestMeta(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": e, "balance": e.NewBalance})
}

func readProof(c *gin.Context) (domain.OfferProof, error) {
	var proof domain.OfferProof
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		if c.Request.ContentLength == 0 {
			return proof, nil
		}
		if err := c.ShouldBindJSON(&proof); err != nil {
			return proof, errors.New("invalid request body")
		}
		return proof, nil
	}

	proof.ExternalID = c.PostForm("external_id")
	fh, err := c.FormFile("screenshot")
	if errors.Is(err, http.ErrMissingFile) {
		return proof, nil
	}
	if err != nil {
		return proof, errors.New("invalid multipart body")
	}
	if fh.Size > maxProofSize {
		return proof, errors.New("screenshot is larger than 5MB")
	}
	f, err := fh.Open()
	if err != nil {
		return proof, errors.New("cannot read screenshot")
	}
	defer f.Close()
	body, err := io.ReadAll(io.LimitReader(f, maxProofSize+1))
	if err != nil {
		return proof, errors.New("cannot read screenshot")
	}
	proof.Screenshot = body
	proof.ContentType = fh.Header.Get("Content-Type")
	return proof, nil
}

// CreateOffer: лимиты, не переданные в теле, остаются без ограничений
func (h *Handler) CreateOffer(c *gin.Context) {
	if currentUser(c).Role != domain.RoleAdmin {
		respondError(c, domain.Forbidden("creating offers requires admin role"))
		return
	}
	o := domain.Offer{
		Provider:       domain.ProviderInternal,
		IsActive:       true,
		DailyLimit:     domain.Unlimited,
		TotalLimit:     domain.Unlimited,
		UserDailyLimit: domain.Unlimited,
		UserTotalLimit: domain.Unlimited,
	}
	if err := c.ShouldBindJSON(&o); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	o.ID = 0
	if err := h.Offers.CreateOffer(c.Request.Context(), currentUser(c).ID, &o); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

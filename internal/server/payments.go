package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type recordPaymentRequest struct {
	IdentityID int64   `json:"identity_id" binding:"required"`
	Note       *string `json:"note"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	payment, err := s.paymentSvc.Record(c.Request.Context(), snowflake.ID(req.IdentityID), req.Note)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) LatestPayments(c *gin.Context) {
	latest, err := s.paymentSvc.LatestPerIdentity(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	type entry struct {
		IdentityID int64  `json:"identity_id"`
		PaidAt     string `json:"paid_at"`
	}
	out := make([]entry, 0, len(latest))
	for id, at := range latest {
		out = append(out, entry{IdentityID: int64(id), PaidAt: at.UTC().Format(time.RFC3339)})
	}
	c.JSON(http.StatusOK, gin.H{"payments": out, "count": len(out)})
}

func (s *Server) PaymentHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("identity_id"), 10, 64)
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: identity_id must be numeric", ErrInvalidRequest))
		return
	}
	payments, err := s.paymentSvc.History(c.Request.Context(), snowflake.ID(id))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}

package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/nzrmohammad/panelbridge/internal/account/domain"
)

type touchAccountRequest struct {
	ID        int64  `json:"id" binding:"required"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// TouchAccount upserts a bot user; the dashboard calls it when a
// Telegram account first shows up or changes profile fields.
func (s *Server) TouchAccount(c *gin.Context) {
	var req touchAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	err := s.accountSvc.TouchUser(c.Request.Context(), accountdomain.User{
		ID:        req.ID,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListAccounts(c *gin.Context) {
	users, err := s.accountSvc.ListUsers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": users, "count": len(users)})
}

func (s *Server) GetAccount(c *gin.Context) {
	id, err := s.accountID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	user, err := s.accountSvc.GetUser(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if user == nil {
		AbortWithError(c, fmt.Errorf("%w: account %d", accountdomain.ErrNotFound, id))
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) UpdateAccountSettings(c *gin.Context) {
	id, err := s.accountID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var settings accountdomain.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := s.accountSvc.UpdateSettings(c.Request.Context(), id, settings); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

type birthdayRequest struct {
	Birthday *string `json:"birthday"` // YYYY-MM-DD, null clears it
}

func (s *Server) SetAccountBirthday(c *gin.Context) {
	id, err := s.accountID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req birthdayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	var birthday *time.Time
	if req.Birthday != nil {
		parsed, err := time.Parse("2006-01-02", *req.Birthday)
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: birthday must be YYYY-MM-DD", ErrInvalidRequest))
			return
		}
		birthday = &parsed
	}
	if err := s.accountSvc.SetBirthday(c.Request.Context(), id, birthday); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type noteRequest struct {
	Note *string `json:"note"` // null clears it
}

func (s *Server) SetAccountNote(c *gin.Context) {
	id, err := s.accountID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := s.accountSvc.SetAdminNote(c.Request.Context(), id, req.Note); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ListAccountIdentities(c *gin.Context) {
	id, err := s.accountID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	identities, err := s.accountSvc.IdentitiesForUser(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identities": identities, "count": len(identities)})
}

type registerIdentityRequest struct {
	UUID string `json:"uuid" binding:"required"`
	Name string `json:"name"`
}

// RegisterAccountIdentity links a subscriber UUID to a bot user, which
// is what makes the identity visible to snapshots and warnings.
func (s *Server) RegisterAccountIdentity(c *gin.Context) {
	id, err := s.accountID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req registerIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	identity, err := s.accountSvc.RegisterIdentity(c.Request.Context(), id, req.UUID, req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, identity)
}

func (s *Server) accountID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad account id %q", ErrInvalidRequest, c.Param("id"))
	}
	return id, nil
}

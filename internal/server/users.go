package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	paneldomain "github.com/nzrmohammad/panelbridge/internal/panel/domain"
	reconciledomain "github.com/nzrmohammad/panelbridge/internal/reconcile/domain"
)

func (s *Server) ListUsers(c *gin.Context) {
	users, err := s.reconcileSvc.All(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (s *Server) SearchUsers(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		AbortWithError(c, fmt.Errorf("%w: missing q parameter", ErrInvalidRequest))
		return
	}
	users, err := s.reconcileSvc.Search(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

func (s *Server) GetUser(c *gin.Context) {
	user, err := s.reconcileSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) GetDailyUsage(c *gin.Context) {
	identity, err := s.identityFor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	daily, err := s.usageSvc.DailyUsage(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, daily)
}

func (s *Server) GetWindowedUsage(c *gin.Context) {
	panel := c.DefaultQuery("panel", paneldomain.PanelHiddify)
	if panel != paneldomain.PanelHiddify && panel != paneldomain.PanelMarzban {
		AbortWithError(c, fmt.Errorf("%w: unknown panel %q", ErrInvalidRequest, panel))
		return
	}
	identity, err := s.identityFor(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	windows, err := s.usageSvc.WindowedUsage(c.Request.Context(), identity, panel)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"panel": panel, "windows_gb": windows})
}

type modifyRequest struct {
	AddGB   float64 `json:"add_gb"`
	AddDays int     `json:"add_days"`
	Target  string  `json:"target"` // both | hiddify | marzban, default both
}

func (s *Server) ModifyUser(c *gin.Context) {
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	delta := paneldomain.Delta{AddGB: req.AddGB, AddDays: req.AddDays}
	if delta.Empty() {
		AbortWithError(c, fmt.Errorf("%w: empty delta", ErrInvalidRequest))
		return
	}
	target := req.Target
	if target == "" {
		target = reconciledomain.TargetBoth
	}
	if err := s.reconcileSvc.Modify(c.Request.Context(), c.Param("id"), delta, target); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ResetUsage(c *gin.Context) {
	if err := s.reconcileSvc.ResetUsage(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) DeleteUser(c *gin.Context) {
	if err := s.reconcileSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ReloadIdentityMap(c *gin.Context) {
	if err := s.idMap.Reload(); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "entries": s.idMap.Len()})
}

// identityFor resolves the :id path parameter to a registered
// identity via the combined view.
func (s *Server) identityFor(c *gin.Context) (snowflake.ID, error) {
	user, err := s.reconcileSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		return 0, err
	}
	if user.IdentityID == 0 {
		return 0, fmt.Errorf("%w: %s is not registered", paneldomain.ErrNotFound, c.Param("id"))
	}
	return user.IdentityID, nil
}

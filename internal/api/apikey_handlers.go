package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/context8/context8-docker/internal/apperr"
)

type createKeyRequest struct {
	Name         string `json:"name"`
	DailyLimit   *int   `json:"daily_limit"`
	MonthlyLimit *int   `json:"monthly_limit"`
}

func (h *handlers) createKey(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	created, err := h.d.Keys.Create(c.Request.Context(), rc.UserID, req.Name, req.DailyLimit, req.MonthlyLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *handlers) listKeys(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	listings, err := h.d.Keys.List(c.Request.Context(), rc.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": listings})
}

func (h *handlers) updateKeyLimits(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	if err := h.d.Keys.UpdateLimits(c.Request.Context(), rc.UserID, c.Param("id"), req.DailyLimit, req.MonthlyLimit); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) revokeKey(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	if err := h.d.Keys.Revoke(c.Request.Context(), rc.UserID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createSubKeyRequest struct {
	Name         string `json:"name"`
	CanRead      bool   `json:"can_read"`
	CanWrite     bool   `json:"can_write"`
	DailyLimit   *int   `json:"daily_limit"`
	MonthlyLimit *int   `json:"monthly_limit"`
}

func (h *handlers) createSubKey(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var req createSubKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	created, err := h.d.Keys.CreateSub(c.Request.Context(), rc.UserID, c.Param("id"),
		req.Name, req.CanRead, req.CanWrite, req.DailyLimit, req.MonthlyLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type subKeyPermissionsRequest struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
}

func (h *handlers) updateSubKeyPermissions(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	var req subKeyPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	if err := h.d.Keys.UpdateSubPermissions(c.Request.Context(), rc.UserID, c.Param("id"), req.CanRead, req.CanWrite); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) revokeSubKey(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	if err := h.d.Keys.RevokeSub(c.Request.Context(), rc.UserID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

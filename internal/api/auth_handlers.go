package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/context8/context8-docker/internal/apperr"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) authStatus(c *gin.Context) {
	required, err := h.d.Auth.SetupRequired(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"setup_required": required})
}

func (h *handlers) authSetup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	session, err := h.d.Auth.Setup(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *handlers) authLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	session, err := h.d.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *handlers) authMe(c *gin.Context) {
	rc, ok := h.sessionUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": rc.UserID, "admin": rc.AllowAdmin})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/services"
)

func (h *handlers) createSolution(c *gin.Context) {
	wc, ok := h.writeContext(c)
	if !ok {
		return
	}
	var in services.CreateSolutionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	sol, err := h.d.Solutions.Create(c.Request.Context(), wc, &in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sol)
}

func (h *handlers) listSolutions(c *gin.Context) {
	rc, ok := h.readContext(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c)
	sols, total, err := h.d.Solutions.List(c.Request.Context(), rc, c.Query("visibility"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"solutions": sols,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *handlers) countSolutions(c *gin.Context) {
	rc, ok := h.readContext(c)
	if !ok {
		return
	}
	total, err := h.d.Solutions.Count(c.Request.Context(), rc, c.Query("visibility"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}

func (h *handlers) getSolution(c *gin.Context) {
	rc, ok := h.readContext(c)
	if !ok {
		return
	}
	sol, err := h.d.Solutions.Get(c.Request.Context(), rc, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	vote, err := h.d.Votes.UserVote(c.Request.Context(), rc.UserID, sol.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"solution": sol, "user_vote": vote})
}

func (h *handlers) deleteSolution(c *gin.Context) {
	wc, ok := h.writeContext(c)
	if !ok {
		return
	}
	if err := h.d.Solutions.Delete(c.Request.Context(), wc, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type visibilityRequest struct {
	Visibility string `json:"visibility"`
}

func (h *handlers) updateVisibility(c *gin.Context) {
	wc, ok := h.writeContext(c)
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	sol, err := h.d.Solutions.UpdateVisibility(c.Request.Context(), wc, c.Param("id"), req.Visibility)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sol)
}

type voteRequest struct {
	Value int `json:"value"`
}

func (h *handlers) setVote(c *gin.Context) {
	rc, ok := h.readContext(c)
	if !ok {
		return
	}
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}
	state, err := h.d.Votes.Set(c.Request.Context(), rc, c.Param("id"), req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handlers) clearVote(c *gin.Context) {
	rc, ok := h.readContext(c)
	if !ok {
		return
	}
	state, err := h.d.Votes.Clear(c.Request.Context(), rc, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *handlers) searchSolutions(c *gin.Context) {
	rc, ok := h.readContext(c)
	if !ok {
		return
	}
	limit, offset := pageParams(c)

	_, secrets := credentials(c)
	forwardKey := ""
	if len(secrets) > 0 {
		forwardKey = secrets[0]
	}

	out, err := h.d.Search.Search(c.Request.Context(), rc, services.SearchParams{
		Query:      c.Query("q"),
		Visibility: c.Query("visibility"),
		Limit:      limit,
		Offset:     offset,
		Scope:      c.Query("scope"),
		PeerBase:   c.Query("peer_base"),
		PeerKey:    c.Query("peer_key"),
		ForwardKey: forwardKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) systemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.Status.Check(c.Request.Context()))
}

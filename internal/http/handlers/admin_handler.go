package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-availability-engine/internal/breaker"
)

// ListBreakers godoc
// @ID          listBreakers
// @Summary     List provider circuit breakers
// @Tags        Admin
// @Produce     json
// @Success     200  {array}  breaker.Snapshot
// @Router      /admin/breakers [get]
func (h *Handlers) ListBreakers(c *gin.Context) {
	snaps := h.breakers.Snapshots()
	if snaps == nil {
		snaps = []breaker.Snapshot{}
	}
	ok(c, http.StatusOK, snaps)
}

// ResetBreakers godoc
// @ID          resetBreakers
// @Summary     Close every circuit breaker
// @Tags        Admin
// @Success     204  {string}  string  "No Content"
// @Router      /admin/breakers/reset [post]
func (h *Handlers) ResetBreakers(c *gin.Context) {
	h.breakers.ResetAll()
	noContent(c)
}

// ResetBreaker godoc
// @ID          resetBreaker
// @Summary     Close one circuit breaker
// @Tags        Admin
// @Param       key  path  string  true  "Breaker key (provider:integration)"  example(google:5f0c...)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown breaker"
// @Router      /admin/breakers/{key}/reset [post]
func (h *Handlers) ResetBreaker(c *gin.Context) {
	if !h.breakers.Reset(c.Param("key")) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "breaker not found")
		return
	}
	noContent(c)
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListItems(c *gin.Context) {
	items, err := s.itemSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) ListPrices(c *gin.Context) {
	prices, err := s.priceSvc.List(c.Request.Context(), strings.TrimSpace(c.Query("sku")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": prices})
}

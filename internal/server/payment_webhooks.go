package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerStripeSignature = "Stripe-Signature"
	// maxWebhookBody bounds the payload read before signature verification.
	maxWebhookBody = 1 << 20
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.ProcessWebhook(c.Request.Context(), provider, payload, c.GetHeader(headerStripeSignature))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

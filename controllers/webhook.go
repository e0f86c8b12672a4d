// controllers/webhook.go
package controllers

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"immune-me-backend/logger"
	"immune-me-backend/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallbackProcessor is the part of the webhook service the controller needs.
type CallbackProcessor interface {
	ProcessDeliveryStatus(ctx context.Context, raw []byte, source string)
	ProcessInbound(ctx context.Context, raw []byte, source string)
}

// WebhookController receives the gateway's callbacks. Apart from source
// validation, every request is answered with 200 so the provider never
// retry-storms us over internal failures.
type WebhookController struct {
	processor  CallbackProcessor
	allowedIPs []net.IP
	allowedNet []*net.IPNet
}

// NewWebhookController parses the allow-list of caller IPs and CIDR blocks.
// An empty list accepts all sources (local development).
func NewWebhookController(processor CallbackProcessor, allowedSources string) *WebhookController {
	ctrl := &WebhookController{processor: processor}

	for _, entry := range strings.Split(allowedSources, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			ctrl.allowedNet = append(ctrl.allowedNet, ipNet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			ctrl.allowedIPs = append(ctrl.allowedIPs, ip)
			continue
		}
		logger.Log.Warn("ignoring invalid webhook source entry", zap.String("entry", entry))
	}

	return ctrl
}

// DeliveryStatus handles POST /webhooks/sms/delivery.
func (ctrl *WebhookController) DeliveryStatus(c *gin.Context) {
	ctrl.handle(c, ctrl.processor.ProcessDeliveryStatus)
}

// InboundMessage handles POST /webhooks/sms/inbound.
func (ctrl *WebhookController) InboundMessage(c *gin.Context) {
	ctrl.handle(c, ctrl.processor.ProcessInbound)
}

func (ctrl *WebhookController) handle(c *gin.Context, process func(ctx context.Context, raw []byte, source string)) {
	source := c.ClientIP()
	if !ctrl.sourceAllowed(source) {
		utils.RespondWithError(c, http.StatusForbidden, "Source not allowed")
		return
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// Still acknowledged; an unreadable body is logged, not bounced.
		logger.Log.Warn("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	process(c.Request.Context(), raw, source)
	c.JSON(http.StatusOK, gin.H{})
}

func (ctrl *WebhookController) sourceAllowed(source string) bool {
	if len(ctrl.allowedIPs) == 0 && len(ctrl.allowedNet) == 0 {
		return true
	}

	ip := net.ParseIP(source)
	if ip == nil {
		return false
	}
	for _, allowed := range ctrl.allowedIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, ipNet := range ctrl.allowedNet {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

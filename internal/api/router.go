package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paymentsys/txnengine/internal/handlers"
	"github.com/paymentsys/txnengine/internal/offers"
	"github.com/paymentsys/txnengine/internal/service"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

func NewRouter(orchestrator *service.Orchestrator, catalog *offers.Catalog) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "transaction-engine"})
	})

	paymentHandler := handlers.NewPaymentHandler(orchestrator)
	r.POST("/transactions", paymentHandler.CreateTransaction)
	r.GET("/transactions/:id", paymentHandler.GetTransaction)
	r.POST("/transactions/:id/process", paymentHandler.ProcessPayment)
	r.POST("/transactions/:id/refund", paymentHandler.Refund)
	r.POST("/transactions/:id/cancel", paymentHandler.Cancel)

	offerHandler := handlers.NewOfferHandler(catalog)
	r.POST("/offers", offerHandler.RegisterOffer)
	r.GET("/offers", offerHandler.ListOffers)

	webhookHandler := handlers.NewWebhookHandler(orchestrator)
	r.POST("/webhooks/gateway", webhookHandler.HandleGatewayWebhook)

	return r
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/response"
)

type RegisterWebhookEndpointRequest struct {
	MerchantWallet string   `json:"merchant_wallet" binding:"required"`
	URL            string   `json:"url" binding:"required,url"`
	Events         []string `json:"events"`
}

type WebhookEndpointResponse struct {
	Endpoint *models.WebhookEndpoint `json:"endpoint"`
	// Secret is present only on registration and rotation.
	Secret string `json:"secret,omitempty"`
}

func ApiRegisterWebhookEndpoint(svc *webhook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterWebhookEndpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		endpoint, secret, err := svc.RegisterEndpoint(c.Request.Context(), req.MerchantWallet, req.URL, req.Events)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](webhookErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&WebhookEndpointResponse{Endpoint: endpoint, Secret: secret}))
	}
}

func ApiListWebhookEndpoints(svc *webhook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		merchant := c.Query("merchant_wallet")
		if merchant == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing merchant_wallet"))
			return
		}
		endpoints, err := svc.ListEndpoints(c.Request.Context(), merchant)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(endpoints))
	}
}

type UpdateWebhookEndpointRequest struct {
	MerchantWallet string   `json:"merchant_wallet" binding:"required"`
	URL            *string  `json:"url"`
	Events         []string `json:"events"`
	IsActive       *bool    `json:"is_active"`
}

func ApiUpdateWebhookEndpoint(svc *webhook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateWebhookEndpointRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		endpoint, err := svc.UpdateEndpoint(c.Request.Context(), req.MerchantWallet, c.Param("id"), webhook.EndpointUpdate{
			URL:      req.URL,
			Events:   req.Events,
			IsActive: req.IsActive,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](webhookErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&WebhookEndpointResponse{Endpoint: endpoint}))
	}
}

type merchantScopedRequest struct {
	MerchantWallet string `json:"merchant_wallet" binding:"required"`
}

func ApiDeleteWebhookEndpoint(svc *webhook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req merchantScopedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := svc.DeleteEndpoint(c.Request.Context(), req.MerchantWallet, c.Param("id")); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](webhookErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func ApiRotateWebhookSecret(svc *webhook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req merchantScopedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		secret, err := svc.RotateSecret(c.Request.Context(), req.MerchantWallet, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](webhookErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&WebhookEndpointResponse{Secret: secret}))
	}
}

func ApiTestWebhookEndpoint(svc *webhook.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req merchantScopedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := svc.SendTest(c.Request.Context(), req.MerchantWallet, c.Param("id")); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](webhookErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func webhookErrorCode(err error) response.APIResponseCode {
	if errors.Is(err, webhook.ErrEndpointNotFound) || errors.Is(err, webhook.ErrInvalidEvent) {
		return response.APIResponseCodeBadRequest
	}
	return response.APIResponseCodeError
}

func RegisterWebhookEndpointRoutes(r gin.IRouter, svc *webhook.Service) {
	r.POST("/webhooks", ApiRegisterWebhookEndpoint(svc))
	r.GET("/webhooks", ApiListWebhookEndpoints(svc))
	r.PATCH("/webhooks/:id", ApiUpdateWebhookEndpoint(svc))
	r.DELETE("/webhooks/:id", ApiDeleteWebhookEndpoint(svc))
	r.POST("/webhooks/:id/rotate_secret", ApiRotateWebhookSecret(svc))
	r.POST("/webhooks/:id/test", ApiTestWebhookEndpoint(svc))
}

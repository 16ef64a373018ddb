package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eventop/subsync/internal/app/service/checkout"
	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/response"
)

type CreateCheckoutSessionRequest struct {
	MerchantWallet string         `json:"merchant_wallet" binding:"required"`
	PlanPda        string         `json:"plan_pda" binding:"required"`
	CustomerEmail  string         `json:"customer_email" binding:"required,email"`
	CustomerID     *string        `json:"customer_id"`
	SuccessURL     string         `json:"success_url" binding:"required,url"`
	CancelURL      *string        `json:"cancel_url"`
	Metadata       map[string]any `json:"metadata"`
}

type CheckoutSessionResponse struct {
	Session     *models.CheckoutSession `json:"session"`
	CheckoutURL string                  `json:"checkout_url,omitempty"`
}

func ApiCreateCheckoutSession(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateCheckoutSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		session, url, err := svc.CreateSession(c.Request.Context(), checkout.CreateSessionInput{
			MerchantWallet: req.MerchantWallet,
			PlanPda:        req.PlanPda,
			CustomerEmail:  req.CustomerEmail,
			CustomerID:     req.CustomerID,
			SuccessURL:     req.SuccessURL,
			CancelURL:      req.CancelURL,
			Metadata:       req.Metadata,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](checkoutErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CheckoutSessionResponse{Session: session, CheckoutURL: url}))
	}
}

func ApiGetCheckoutSession(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := svc.GetSession(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](checkoutErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CheckoutSessionResponse{Session: session}))
	}
}

type CompleteCheckoutSessionRequest struct {
	SubscriptionPda string `json:"subscription_pda" binding:"required"`
	UserWallet      string `json:"user_wallet" binding:"required"`
	Signature       string `json:"signature" binding:"required"`
	Message         string `json:"message" binding:"required"`
	WalletSignature string `json:"wallet_signature" binding:"required"`
}

func ApiCompleteCheckoutSession(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CompleteCheckoutSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		session, err := svc.CompleteSession(c.Request.Context(), c.Param("sessionId"), checkout.CompleteRequest{
			SubscriptionPda: req.SubscriptionPda,
			UserWallet:      req.UserWallet,
			Signature:       req.Signature,
			Message:         req.Message,
			WalletSignature: req.WalletSignature,
		})
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](checkoutErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CheckoutSessionResponse{Session: session}))
	}
}

func ApiCancelCheckoutSession(svc *checkout.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := svc.CancelSession(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](checkoutErrorCode(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&CheckoutSessionResponse{Session: session}))
	}
}

// checkoutErrorCode maps service sentinels onto the response envelope codes:
// caller mistakes are bad requests, infrastructure faults are errors.
func checkoutErrorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, checkout.ErrSessionExpired),
		errors.Is(err, checkout.ErrSessionTerminal),
		errors.Is(err, checkout.ErrPlanNotFound),
		errors.Is(err, checkout.ErrPlanInactive),
		errors.Is(err, checkout.ErrBadWalletProof),
		errors.Is(err, checkout.ErrBadTransaction),
		errors.Is(err, checkout.ErrSubscriptionDrift),
		errors.Is(err, checkout.ErrAlreadyLinked):
		return response.APIResponseCodeBadRequest
	default:
		return response.APIResponseCodeError
	}
}

func RegisterCheckoutRoutes(r gin.IRouter, svc *checkout.Service) {
	r.POST("/checkout", ApiCreateCheckoutSession(svc))
	r.GET("/checkout/:sessionId", ApiGetCheckoutSession(svc))
	r.POST("/checkout/:sessionId/complete", ApiCompleteCheckoutSession(svc))
	r.POST("/checkout/:sessionId/cancel", ApiCancelCheckoutSession(svc))
}

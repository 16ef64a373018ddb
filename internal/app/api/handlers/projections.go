package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eventop/subsync/internal/app/service/scheduler"
	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/response"
	"github.com/eventop/subsync/pkg/types"
)

// Read accessors over the projection tables. These are plain queries with no
// invariants of their own; writes flow exclusively through the services.

func ApiListPlans(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := db.WithContext(c.Request.Context()).Order("created_at desc")
		if merchant := c.Query("merchant_wallet"); merchant != "" {
			q = q.Where("merchant_wallet = ?", merchant)
		}
		var plans []*models.MerchantPlan
		if err := q.Find(&plans).Error; err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(plans))
	}
}

func ApiListSubscriptions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		merchant, user := c.Query("merchant_wallet"), c.Query("user_wallet")
		if merchant == "" && user == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing merchant_wallet or user_wallet"))
			return
		}
		q := db.WithContext(c.Request.Context()).Order("created_at desc")
		if merchant != "" {
			q = q.Where("merchant_wallet = ?", merchant)
		}
		if user != "" {
			q = q.Where("user_wallet = ?", user)
		}
		var subs []*models.Subscription
		if err := q.Find(&subs).Error; err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(subs))
	}
}

func ApiGetSubscription(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sub models.Subscription
		err := db.WithContext(c.Request.Context()).First(&sub, "subscription_pda = ?", c.Param("pda")).Error
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "subscription not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&sub))
	}
}

func ApiGetWallet(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var wallet models.SubscriptionWallet
		err := db.WithContext(c.Request.Context()).First(&wallet, "wallet_pda = ?", c.Param("pda")).Error
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "wallet not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&wallet))
	}
}

type ListTransactionsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ListTransactionsResponse struct {
	Items []*models.TransactionRecord `json:"items"`
	Total int64                       `json:"total"`
}

// filtersWhere wraps a list of filters to a single clause.Expression.
type filtersWhere struct{ filters []*types.CommonFilter }

func (w filtersWhere) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, f := range w.filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		f.Build(builder)
	}
}

func ApiListTransactions(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListTransactionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.Size <= 0 || req.Size > 200 {
			req.Size = 50
		}
		sortBy := req.SortBy
		switch sortBy {
		case "slot", "block_time", "amount", "created_at":
		default:
			sortBy = "created_at"
		}
		order := sortBy + " desc"
		if req.SortOrder == "asc" {
			order = sortBy + " asc"
		}

		base := db.WithContext(c.Request.Context()).
			Model(&models.TransactionRecord{}).
			Clauses(clause.Where{Exprs: []clause.Expression{filtersWhere{filters: req.Filters}}})

		var total int64
		if err := base.Count(&total).Error; err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		var items []*models.TransactionRecord
		if err := base.Order(order).Offset(req.From).Limit(req.Size).Find(&items).Error; err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ListTransactionsResponse{Items: items, Total: total}))
	}
}

func ApiSchedulerStats(svc *scheduler.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := svc.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(stats))
	}
}

func RegisterProjectionRoutes(r gin.IRouter, db *gorm.DB, sched *scheduler.Service) {
	r.GET("/plans", ApiListPlans(db))
	r.GET("/subscriptions", ApiListSubscriptions(db))
	r.GET("/subscriptions/:pda", ApiGetSubscription(db))
	r.GET("/wallets/:pda", ApiGetWallet(db))
	r.POST("/transactions/query", ApiListTransactions(db))
	r.GET("/scheduler/stats", ApiSchedulerStats(sched))
}

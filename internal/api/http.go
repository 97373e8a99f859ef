// Package api is the HTTP inbound surface: POST /loan-applications,
// POST /collateral-top-ups and GET /loans, plus /healthz and /metrics,
// built on gin the way cmd/order-service builds its HTTP layer.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/coruscant-bank/beskar-liquidation/internal/lifecycle"
	apperrors "github.com/coruscant-bank/beskar-liquidation/pkg/errors"
	"github.com/coruscant-bank/beskar-liquidation/pkg/logger"
	"github.com/coruscant-bank/beskar-liquidation/pkg/metrics"
)

// defaultRequestTimeout is applied to inbound requests that don't carry
// their own deadline, per §5's "caller-supplied timeout (default 10s)".
const defaultRequestTimeout = 10 * time.Second

type applicationBody struct {
	RequestID  string `json:"requestId" binding:"required"`
	LoanID     string `json:"loanId" binding:"required"`
	BorrowerID string `json:"borrowerId" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
}

type topUpBody struct {
	RequestID  string `json:"requestId" binding:"required"`
	LoanID     string `json:"loanId" binding:"required"`
	BorrowerID string `json:"borrowerId" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
}

// NewRouter builds the gin engine exposing the service's HTTP contract.
func NewRouter(engine *lifecycle.Engine, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/loan-applications", submitApplicationHandler(engine, log))
	router.POST("/collateral-top-ups", submitTopUpHandler(engine, log))
	router.GET("/loans", listLoansHandler(engine))

	return router
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, c.FullPath()).Observe(time.Since(start).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, c.FullPath(), http.StatusText(c.Writer.Status())).Inc()
	}
}

func submitApplicationHandler(engine *lifecycle.Engine, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := contextWithTimeout(c)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		var body applicationBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal string"})
			return
		}

		loan, err := engine.SubmitApplication(lifecycle.ApplicationRequest{
			RequestID:  body.RequestID,
			LoanID:     body.LoanID,
			BorrowerID: body.BorrowerID,
			Amount:     amount,
		})
		if err != nil {
			writeAppError(c, log, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"requestId": body.RequestID,
			"timestamp": loan.CreatedAt.UTC(),
			"accepted":  true,
		})
	}
}

func submitTopUpHandler(engine *lifecycle.Engine, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := contextWithTimeout(c)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		var body topUpBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal string"})
			return
		}

		loan, err := engine.SubmitTopUp(lifecycle.TopUpRequest{
			RequestID:  body.RequestID,
			LoanID:     body.LoanID,
			BorrowerID: body.BorrowerID,
			Amount:     amount,
		})
		if err != nil {
			writeAppError(c, log, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"requestId": body.RequestID,
			"timestamp": loan.UpdatedAt.UTC(),
			"accepted":  true,
		})
	}
}

func listLoansHandler(engine *lifecycle.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.ListLoans())
	}
}

func contextWithTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), defaultRequestTimeout)
}

func writeAppError(c *gin.Context, log *logger.Logger, err error) {
	if appErr, ok := apperrors.As(err); ok {
		c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr.Message})
		return
	}
	log.WithError(err).Error("unclassified error reached the HTTP boundary")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

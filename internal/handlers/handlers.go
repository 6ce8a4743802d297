package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"points-service/internal/catalog"
	"points-service/internal/gateway"
	"points-service/internal/model"
	"points-service/internal/points"
)

type Handler struct {
	svc       *points.Service
	catalog   *catalog.Catalog
	jwtSecret string
	log       *logrus.Logger
}

func New(svc *points.Service, cat *catalog.Catalog, jwtSecret string, log *logrus.Logger) *Handler {
	return &Handler{
		svc:       svc,
		catalog:   cat,
		jwtSecret: jwtSecret,
		log:       log,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/points/packages", h.listPackages)

	authed := r.Group("/points", AuthMiddleware(h.jwtSecret))
	authed.POST("/checkout", h.checkout)
	authed.POST("/verify", h.verify)
	authed.POST("/spend", h.spend)
	authed.GET("/balance", h.balance)
	authed.GET("/transactions", h.listTransactions)
}

func (h *Handler) listPackages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.catalog.List()})
}

type checkoutReq struct {
	PackageID string `json:"package_id" binding:"required"`
}

func (h *Handler) checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Checkout(c.Request.Context(), currentUserID(c), req.PackageID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidPackage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown package"})
		case errors.Is(err, gateway.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider unavailable, please retry"})
		default:
			h.log.WithError(err).Error("checkout failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"redirect_url":    res.RedirectURL,
		"order_reference": res.OrderReference,
	})
}

type verifyReq struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (h *Handler) verify(c *gin.Context) {
	var req verifyReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.svc.Verify(c.Request.Context(), req.SessionID)
	if err != nil {
		switch {
		case errors.Is(err, points.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no order for this session"})
		case errors.Is(err, gateway.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment provider unavailable, please retry"})
		default:
			h.log.WithError(err).Error("verification failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed, please retry"})
		}
		return
	}

	body := gin.H{"verified": res.Verified}
	if res.Verified {
		body["points_awarded"] = res.PointsAwarded
		body["already_processed"] = res.AlreadyProcessed
	}
	c.JSON(http.StatusOK, body)
}

type spendReq struct {
	Amount      int64   `json:"amount" binding:"required"`
	ContestID   *string `json:"contest_id"`
	Description string  `json:"description"`
}

func (h *Handler) spend(c *gin.Context) {
	var req spendReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := currentUserID(c)
	description := req.Description
	if description == "" {
		description = "premium contest entry"
	}

	ok, err := h.svc.Spend(c.Request.Context(), userID, req.Amount,
		model.TransactionContestEntry, description, req.ContestID)
	if err != nil {
		if errors.Is(err, points.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
			return
		}
		h.log.WithError(err).Error("spend failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "spend failed"})
		return
	}

	balance, err := h.svc.Balance(c.Request.Context(), userID)
	if err != nil {
		h.log.WithError(err).Error("balance read after spend failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "spend failed"})
		return
	}

	if !ok {
		// Not enough points is an expected outcome, not a failure.
		c.JSON(http.StatusOK, gin.H{"ok": false, "reason": "insufficient_points", "balance": balance})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "balance": balance})
}

func (h *Handler) balance(c *gin.Context) {
	balance, err := h.svc.Balance(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.log.WithError(err).Error("balance read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": balance})
}

func (h *Handler) listTransactions(c *gin.Context) {
	page := 1
	pageSize := 20
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 200 {
			pageSize = v
		}
	}

	transactions, total, err := h.svc.Transactions(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		h.log.WithError(err).Error("transaction listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      transactions,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
	})
}

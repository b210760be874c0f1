package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/service"
	"inventory-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orders  *service.OrderService
	imports *service.ImportService
	reports *service.ReportService
	stock   *service.StockCache
	ready   func(ctx context.Context) error
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler. ready backs /ready and may be nil.
func NewHandler(
	orders *service.OrderService,
	imports *service.ImportService,
	reports *service.ReportService,
	stock *service.StockCache,
	ready func(ctx context.Context) error,
) *Handler {
	return &Handler{
		orders:  orders,
		imports: imports,
		reports: reports,
		stock:   stock,
		ready:   ready,
		logger:  util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.DELETE("/orders/:id", h.deleteOrder)
		v1.PUT("/orders/:id/payment", h.updatePayment)

		v1.POST("/stock/imports", h.createImport)
		v1.GET("/stock/imports", h.listImports)
		v1.GET("/stock/imports/:id", h.getImport)
		v1.PUT("/stock/imports/:id", h.updateImport)
		v1.DELETE("/stock/imports/:id", h.deleteImport)

		v1.GET("/products/:id/stock", h.productStock)

		v1.GET("/reports/stock", h.stockAsOf)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports whether the record store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"details": err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	from, to, ok := h.dateRange(c)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), models.OrderFilter{
		Keyword:    c.Query("q"),
		CustomerID: c.Query("customer_id"),
		From:       from,
		To:         to,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) deleteOrder(c *gin.Context) {
	if err := h.orders.DeleteOrder(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type paymentRequest struct {
	Status models.PaymentStatus `json:"status" binding:"required"`
}

func (h *Handler) updatePayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := c.Param("id")
	if err := h.orders.UpdatePaymentStatus(c.Request.Context(), id, req.Status); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "payment_status": req.Status})
}

func (h *Handler) createImport(c *gin.Context) {
	var req service.CreateImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	imp, err := h.imports.CreateImport(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, imp)
}

func (h *Handler) listImports(c *gin.Context) {
	from, to, ok := h.dateRange(c)
	if !ok {
		return
	}

	imports, err := h.imports.ListImports(c.Request.Context(), models.ImportFilter{From: from, To: to})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"imports": imports, "count": len(imports)})
}

func (h *Handler) getImport(c *gin.Context) {
	imp, err := h.imports.GetImport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, imp)
}

type supplierRequest struct {
	Supplier string `json:"supplier" binding:"required"`
}

func (h *Handler) updateImport(c *gin.Context) {
	var req supplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id := c.Param("id")
	if err := h.imports.UpdateImportSupplier(c.Request.Context(), id, req.Supplier); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "supplier": req.Supplier})
}

func (h *Handler) deleteImport(c *gin.Context) {
	if err := h.imports.DeleteImport(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// productStock handles GET /products/:id/stock from the stock cache
func (h *Handler) productStock(c *gin.Context) {
	level, err := h.stock.GetStock(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, level)
}

// stockAsOf handles GET /reports/stock?date=YYYY-MM-DD
func (h *Handler) stockAsOf(c *gin.Context) {
	date, err := h.reports.ParseDate(c.Query("date"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	snapshots, err := h.reports.GetStockAsOf(c.Request.Context(), date)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":     date.Format(service.DateLayout),
		"products": snapshots,
	})
}

// dateRange reads the optional from/to calendar dates of a listing. Both are
// inclusive days; to is turned into the start of the following day.
func (h *Handler) dateRange(c *gin.Context) (from, to *time.Time, ok bool) {
	if v := c.Query("from"); v != "" {
		d, err := h.reports.ParseDate(v)
		if err != nil {
			h.writeError(c, err)
			return nil, nil, false
		}
		from = &d
	}
	if v := c.Query("to"); v != "" {
		d, err := h.reports.ParseDate(v)
		if err != nil {
			h.writeError(c, err)
			return nil, nil, false
		}
		next := d.AddDate(0, 0, 1)
		to = &next
	}
	return from, to, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_input",
		"details": err.Error(),
	})
}

// writeError maps service errors onto HTTP responses
func (h *Handler) writeError(c *gin.Context, err error) {
	var stockErr *service.InsufficientStockError

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "insufficient_stock",
			"details":    err.Error(),
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
			"shortfall":  stockErr.Shortfall(),
		})
	case errors.Is(err, service.ErrImportNotReversible):
		c.JSON(http.StatusConflict, gin.H{"error": "import_not_reversible", "details": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "details": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "details": err.Error()})
	default:
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

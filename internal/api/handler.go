package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trade-ledger/internal/models"
	"trade-ledger/internal/service"
	"trade-ledger/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	products *service.ProductService
	resumes  *service.ResumeService
	trades   *service.TradeService
	wallets  *service.WalletService
	stats    *service.StatsService
	checks   map[string]ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(
	products *service.ProductService,
	resumes *service.ResumeService,
	trades *service.TradeService,
	wallets *service.WalletService,
	stats *service.StatsService,
) *Handler {
	return &Handler{
		products: products,
		resumes:  resumes,
		trades:   trades,
		wallets:  wallets,
		stats:    stats,
		checks:   map[string]ReadinessCheck{},
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, limit RateLimit) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", rateLimitMiddleware(limit), identify())
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.GET("/trades", h.listTrades)
		v1.GET("/trades/:id", h.getTrade)
	}

	// wallets belong to vendors
	vendor := v1.Group("", requireRole(models.RoleVendor))
	{
		vendor.POST("/trades", h.initiatePurchase)
		vendor.POST("/trades/wallet", h.purchaseWithWallet)
		vendor.POST("/trades/:id/proof", h.submitProof)
		vendor.POST("/trades/:id/sell", h.sellTrade)

		vendor.GET("/wallet", h.getWallet)
		vendor.GET("/wallet/balance", h.getBalance)
		vendor.GET("/wallet/transactions", h.listWalletTransactions)
		vendor.POST("/wallet/deposits", h.requestDeposit)
		vendor.POST("/wallet/withdrawals", h.requestWithdrawal)
	}

	admin := v1.Group("/admin", requireRole(models.RoleAdmin))
	{
		admin.POST("/products", h.addProduct)
		admin.PUT("/products/:id", h.updateProduct)
		admin.POST("/products/:id/restock", h.restockProduct)
		admin.DELETE("/products/:id", h.deleteProduct)

		admin.GET("/trades", h.listTrades)
		admin.POST("/trades/:id/review", h.reviewTrade)

		admin.GET("/wallet/transactions/pending", h.listPendingWalletTransactions)
		admin.POST("/wallet/transactions/:id/review", h.reviewWalletTransaction)

		admin.POST("/resumes", h.registerResumes)
		admin.GET("/resumes", h.listResumes)

		admin.GET("/dashboard", h.dashboard)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type reviewRequest struct {
	Decision models.Decision `json:"decision" binding:"required"`
	Comment  string          `json:"comment"`
}

type restockRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) listProducts(c *gin.Context) {
	inStock := c.Query("in_stock") == "true"
	products, err := h.products.ListProducts(c.Request.Context(), inStock)
	respond(c, http.StatusOK, products, err)
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	respond(c, http.StatusOK, product, err)
}

// addProduct takes a multipart form so the image can ride along
func (h *Handler) addProduct(c *gin.Context) {
	in := service.NewProduct{
		PaperType: c.PostForm("paper_type"),
		Size:      c.PostForm("size"),
	}

	var err error
	if in.GSM, err = strconv.Atoi(c.PostForm("gsm")); err != nil {
		badRequest(c, err)
		return
	}
	if stock := c.PostForm("available_stock"); stock != "" {
		if in.AvailableStock, err = strconv.Atoi(stock); err != nil {
			badRequest(c, err)
			return
		}
	}
	if in.PricePerSlot, err = formDecimal(c, "price_per_slot"); err != nil {
		badRequest(c, err)
		return
	}
	if in.SellingPrice, err = formDecimal(c, "selling_price"); err != nil {
		badRequest(c, err)
		return
	}

	image, err := readFile(c, "image", false)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	product, err := h.products.AddProduct(c.Request.Context(), in, image)
	respond(c, http.StatusCreated, product, err)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var upd service.ProductUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, err)
		return
	}
	product, err := h.products.UpdateProduct(c.Request.Context(), c.Param("id"), upd)
	respond(c, http.StatusOK, product, err)
}

func (h *Handler) restockProduct(c *gin.Context) {
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	product, err := h.products.Restock(c.Request.Context(), c.Param("id"), req.Quantity)
	respond(c, http.StatusOK, product, err)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.products.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) initiatePurchase(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.VendorID = callerFrom(c).ID

	summary, err := h.trades.InitiatePurchase(c.Request.Context(), req)
	respond(c, http.StatusCreated, summary, err)
}

func (h *Handler) purchaseWithWallet(c *gin.Context) {
	var req service.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.VendorID = callerFrom(c).ID

	summary, err := h.trades.PurchaseWithWallet(c.Request.Context(), req)
	respond(c, http.StatusCreated, summary, err)
}

func (h *Handler) submitProof(c *gin.Context) {
	proof, err := readFile(c, "screenshot", true)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	trade, err := h.trades.SubmitProof(c.Request.Context(), callerFrom(c).ID, c.Param("id"), c.PostForm("transaction_id"), proof)
	respond(c, http.StatusOK, trade, err)
}

func (h *Handler) reviewTrade(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	trade, err := h.trades.ReviewTrade(c.Request.Context(), c.Param("id"), req.Decision, req.Comment)
	respond(c, http.StatusOK, trade, err)
}

func (h *Handler) sellTrade(c *gin.Context) {
	sale, err := h.trades.SellTrade(c.Request.Context(), callerFrom(c).ID, c.Param("id"))
	respond(c, http.StatusOK, sale, err)
}

// listTrades lists the caller's trades; admins see everyone's, pending by default
func (h *Handler) listTrades(c *gin.Context) {
	caller := callerFrom(c)
	vendorID := caller.ID
	filter := store.TradesHistory
	if caller.IsAdmin() && strings.HasPrefix(c.FullPath(), "/api/v1/admin") {
		vendorID = c.Query("vendor_id")
		filter = store.TradesPending
	}
	if f := c.Query("filter"); f != "" {
		filter = store.TradeFilter(f)
	}

	trades, err := h.trades.ListTrades(c.Request.Context(), vendorID, filter)
	respond(c, http.StatusOK, trades, err)
}

func (h *Handler) getTrade(c *gin.Context) {
	caller := callerFrom(c)
	vendorID := caller.ID
	if caller.IsAdmin() {
		vendorID = ""
	}
	trade, err := h.trades.GetTrade(c.Request.Context(), vendorID, c.Param("id"))
	respond(c, http.StatusOK, trade, err)
}

func (h *Handler) getWallet(c *gin.Context) {
	wallet, err := h.wallets.GetWallet(c.Request.Context(), callerFrom(c).ID, models.RoleVendor)
	respond(c, http.StatusOK, wallet, err)
}

func (h *Handler) getBalance(c *gin.Context) {
	balance, err := h.wallets.GetBalance(c.Request.Context(), callerFrom(c).ID, models.RoleVendor)
	respond(c, http.StatusOK, gin.H{"balance": balance}, err)
}

func (h *Handler) listWalletTransactions(c *gin.Context) {
	txns, err := h.wallets.ListTransactions(c.Request.Context(), callerFrom(c).ID, models.RoleVendor)
	respond(c, http.StatusOK, txns, err)
}

// requestDeposit takes a multipart form with the payment screenshot
func (h *Handler) requestDeposit(c *gin.Context) {
	amount, err := formDecimal(c, "amount")
	if err != nil {
		writeError(c, err, nil)
		return
	}
	proof, err := readFile(c, "screenshot", true)
	if err != nil {
		writeError(c, err, nil)
		return
	}

	txn, err := h.wallets.RequestDeposit(c.Request.Context(), service.DepositRequest{
		OwnerID:          callerFrom(c).ID,
		Amount:           amount,
		UPITransactionID: c.PostForm("transaction_id"),
	}, proof)
	respond(c, http.StatusCreated, txn, err)
}

func (h *Handler) requestWithdrawal(c *gin.Context) {
	var req service.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.OwnerID = callerFrom(c).ID

	txn, err := h.wallets.RequestWithdrawal(c.Request.Context(), req)
	respond(c, http.StatusCreated, txn, err)
}

func (h *Handler) listPendingWalletTransactions(c *gin.Context) {
	txns, err := h.wallets.ListPendingTransactions(c.Request.Context())
	respond(c, http.StatusOK, txns, err)
}

func (h *Handler) reviewWalletTransaction(c *gin.Context) {
	transID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid transaction ID",
		})
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	txn, err := h.wallets.ReviewTransaction(c.Request.Context(), transID, req.Decision, req.Comment)
	respond(c, http.StatusOK, txn, err)
}

func (h *Handler) registerResumes(c *gin.Context) {
	files, err := readFiles(c, "resumes")
	if err != nil {
		writeError(c, err, nil)
		return
	}
	resumes, err := h.resumes.RegisterResumes(c.Request.Context(), files)
	respond(c, http.StatusCreated, resumes, err)
}

func (h *Handler) listResumes(c *gin.Context) {
	resumes, err := h.resumes.ListResumes(c.Request.Context())
	respond(c, http.StatusOK, resumes, err)
}

func (h *Handler) dashboard(c *gin.Context) {
	stats, err := h.stats.Dashboard(c.Request.Context())
	respond(c, http.StatusOK, stats, err)
}

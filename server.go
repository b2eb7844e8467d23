package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/middlewares"
	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
	"bitbucket.org/openscholar/ujmp_backend/payment/click"
	"bitbucket.org/openscholar/ujmp_backend/payment/payme"
	"bitbucket.org/openscholar/ujmp_backend/payment/paypal"
	"bitbucket.org/openscholar/ujmp_backend/utils"
	"bitbucket.org/openscholar/ujmp_backend/workflow"
)

const defaultPort = "8080"

var tracer = otel.Tracer("ujmp-backend")

// ready flips once DB and Redis connections are established; until then app
// endpoints answer 503 so a slow cold start never looks like data loss.
var ready atomic.Bool

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ready.Load() && c.FullPath() != "/healthz" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "starting up"})
			return
		}
		c.Next()
	}
}

// httpError maps the workflow error taxonomy onto transport codes. The
// payment gate and illegal transitions carry their blocking reason through
// the error message.
func httpError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, workflow.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, workflow.ErrPaymentRequired):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrAlreadyIssued), errors.Is(err, workflow.ErrAlreadyRevoked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
	case errors.Is(err, workflow.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
	case errors.Is(err, workflow.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
	case errors.Is(err, workflow.ErrInvoiceNotPayable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		config.LogError(config.GetLogger(), "server", "httpError", "unhandled error", nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func loginHandler() gin.HandlerFunc {
	type loginRequest struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
			return
		}
		user, err := models.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil || utils.ComparePassword(user.Password, req.Password) != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		token, err := utils.JwtGenerate(user.ID, user.Name, string(user.Role))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

func createArticleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)
		if models.Role(role) != models.RoleAuthor {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		var input models.NewArticle
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		article, err := models.CreateArticle(ctx, userId, &input)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusCreated, article)
	}
}

func listArticlesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)
		articles, err := models.ListArticlesForActor(ctx, userId, models.Role(role))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, articles)
	}
}

func getArticleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		article, err := models.GetArticleBySubmissionId(ctx, c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		role, _ := utils.GetUserRoleFromContext(ctx)
		userId, _ := utils.GetUserIdFromContext(ctx)
		if models.Role(role) == models.RoleAuthor && article.CorrespondingAuthorId != userId {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.JSON(http.StatusOK, article)
	}
}

func allowedActionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actions, err := workflow.AllowedActions(c.Request.Context(), c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"actions": actions})
	}
}

func applyTransitionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params workflow.TransitionParams
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&params); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		ctx, span := tracer.Start(c.Request.Context(), "workflow.apply_transition")
		defer span.End()
		article, err := workflow.ApplyTransition(ctx,
			c.Param("submissionId"), workflow.Action(c.Param("action")), &params)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, article)
	}
}

func uploadRevisionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.RevisionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		article, err := workflow.UploadRevision(c.Request.Context(), c.Param("submissionId"), &input)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, article)
	}
}

func listVersionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		article, err := models.GetArticleBySubmissionId(ctx, c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		versions, err := models.ListVersions(ctx, article.ID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, versions)
	}
}

func listReviewsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		article, err := models.GetArticleBySubmissionId(ctx, c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		role, _ := utils.GetUserRoleFromContext(ctx)
		includeConfidential := models.Role(role) == models.RoleAdmin || models.Role(role) == models.RoleReviewer
		reviews, err := models.ListReviews(ctx, article.ID, includeConfidential)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, reviews)
	}
}

func auditTrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		role, _ := utils.GetUserRoleFromContext(ctx)
		if models.Role(role) != models.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		article, err := models.GetArticleBySubmissionId(ctx, c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		trail, err := models.GetAuditTrail(ctx, models.EntityTypeArticle, article.ID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, trail)
	}
}

func listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)
		invoices, err := models.ListInvoicesForActor(ctx, userId, models.Role(role))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoices)
	}
}

func initiatePaymentHandler() gin.HandlerFunc {
	type initiateRequest struct {
		Provider  string `json:"provider" binding:"required"`
		ReturnUrl string `json:"return_url"`
	}
	return func(c *gin.Context) {
		var req initiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := workflow.InitiatePayment(c.Request.Context(), c.Param("invoiceNumber"), req.Provider, req.ReturnUrl)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func markInvoicePaidHandler() gin.HandlerFunc {
	type markPaidRequest struct {
		Provider              string `json:"provider"`
		ProviderTransactionId string `json:"provider_transaction_id"`
	}
	return func(c *gin.Context) {
		var req markPaidRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		provider := models.ProviderManual
		if req.Provider != "" {
			provider = models.PaymentProvider(strings.ToUpper(req.Provider))
		}
		invoice, err := workflow.MarkInvoicePaid(c.Request.Context(), c.Param("invoiceNumber"), provider, req.ProviderTransactionId)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func webhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		signature := c.GetHeader("X-Signature")
		ctx, span := tracer.Start(c.Request.Context(), "workflow.handle_provider_event")
		defer span.End()
		outcome, err := workflow.HandleProviderEvent(ctx, c.Param("provider"), rawBody, signature)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

func verifyCertificateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := workflow.VerifyCertificate(c.Request.Context(), c.Param("certificateId"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func revokeCertificateHandler() gin.HandlerFunc {
	type revokeRequest struct {
		Reason string `json:"reason" binding:"required"`
	}
	return func(c *gin.Context) {
		var req revokeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}
		cert, err := workflow.RevokeCertificate(c.Request.Context(), c.Param("certificateId"), req.Reason)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, cert)
	}
}

func regenerateCertificateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cert, err := workflow.RegenerateCertificate(c.Request.Context(), c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusCreated, cert)
	}
}

func currentUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		user, err := models.GetUserById(c.Request.Context(), userId)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func articleInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		article, err := models.GetArticleBySubmissionId(ctx, c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		role, _ := utils.GetUserRoleFromContext(ctx)
		userId, _ := utils.GetUserIdFromContext(ctx)
		if models.Role(role) == models.RoleAuthor && article.CorrespondingAuthorId != userId {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		invoice, err := models.GetInvoiceByArticleId(ctx, article.ID)
		if err != nil {
			httpError(c, err)
			return
		}
		payments, err := models.ListPaymentsForInvoice(ctx, invoice.ID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoice": invoice, "payments": payments})
	}
}

func articleCertificatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		article, err := models.GetArticleBySubmissionId(ctx, c.Param("submissionId"))
		if err != nil {
			httpError(c, err)
			return
		}
		certs, err := models.ListCertificatesForArticle(ctx, article.ID)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, certs)
	}
}

func requireAdmin(c *gin.Context) bool {
	role, _ := utils.GetUserRoleFromContext(c.Request.Context())
	if models.Role(role) != models.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func createJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		var input models.JournalInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		journal, err := models.CreateJournal(c.Request.Context(), &input)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusCreated, journal)
	}
}

func updateJournalAPCHandler() gin.HandlerFunc {
	type apcRequest struct {
		ApcEnabled bool            `json:"apc_enabled"`
		ApcAmount  decimal.Decimal `json:"apc_amount"`
		Currency   string          `json:"currency" binding:"required"`
	}
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		journalId, err := strconv.Atoi(c.Param("journalId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid journal id"})
			return
		}
		var req apcRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := models.UpdateJournalAPC(c.Request.Context(), journalId, req.ApcEnabled, req.ApcAmount, req.Currency); err != nil {
			httpError(c, err)
			return
		}
		apc, err := models.GetJournalAPC(c.Request.Context(), journalId)
		if err != nil {
			httpError(c, err)
			return
		}
		c.JSON(http.StatusOK, apc)
	}
}

func registerUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func registerPaymentChannels(logger *logrus.Logger) {
	payment.Register(payme.New())
	payment.Register(click.New())
	if ch, err := paypal.New(); err != nil {
		logger.WithFields(logrus.Fields{"field": "payment"}).Warn("paypal channel disabled: " + err.Error())
	} else {
		payment.Register(ch)
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(readinessGate())

	corsConfig := cors.DefaultConfig()
	if allowedOrigins := os.Getenv("ALLOWED_ORIGINS"); allowedOrigins != "" {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Signature", "X-Correlation-Id")
	corsConfig.AddExposeHeaders("Content-Length")
	r.Use(cors.New(corsConfig))
	r.Use(middlewares.AuthMiddleware())
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/auth/login", loginHandler())

	// Public: webhook deliveries authenticate by signature, verification by
	// certificate id alone.
	r.POST("/webhooks/:provider", webhookHandler())
	r.GET("/certificates/verify/:certificateId", verifyCertificateHandler())

	api := r.Group("/api", middlewares.RequireAuth())
	{
		api.GET("/me", currentUserHandler())

		api.POST("/articles", createArticleHandler())
		api.GET("/articles", listArticlesHandler())
		api.GET("/articles/:submissionId", getArticleHandler())
		api.GET("/articles/:submissionId/actions", allowedActionsHandler())
		api.POST("/articles/:submissionId/actions/:action", applyTransitionHandler())
		api.POST("/articles/:submissionId/versions", uploadRevisionHandler())
		api.GET("/articles/:submissionId/versions", listVersionsHandler())
		api.GET("/articles/:submissionId/reviews", listReviewsHandler())
		api.GET("/articles/:submissionId/audit", auditTrailHandler())
		api.GET("/articles/:submissionId/invoice", articleInvoiceHandler())
		api.GET("/articles/:submissionId/certificates", articleCertificatesHandler())
		api.POST("/articles/:submissionId/certificates/regenerate", regenerateCertificateHandler())

		api.GET("/invoices", listInvoicesHandler())
		api.POST("/invoices/:invoiceNumber/initiate-payment", initiatePaymentHandler())
		api.POST("/invoices/:invoiceNumber/mark-paid", markInvoicePaidHandler())

		api.POST("/certificates/:certificateId/revoke", revokeCertificateHandler())

		api.POST("/journals", createJournalHandler())
		api.PUT("/journals/:journalId/apc", updateJournalAPCHandler())
		api.POST("/users", registerUserHandler())
	}

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	registerPaymentChannels(logger)

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewRenderDispatcher().Run(dispatcherCtx)

	ready.Store(true)
	logger.WithFields(logrus.Fields{"info": "Connection Established"}).Info("listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"dealflow/internal/config"
	"dealflow/internal/handlers"
	"dealflow/internal/middleware"
	"dealflow/internal/models"
	"dealflow/internal/repositories"
	"dealflow/internal/services/auth"
	"dealflow/internal/services/commitment"
	"dealflow/internal/services/deal"
	"dealflow/internal/services/escrow"
	"dealflow/internal/services/notification"
	"dealflow/internal/services/user"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes.
// It groups routes by functionality and applies appropriate middleware.
func SetupRoutes(app *fiber.App, db *gorm.DB) {
	// Initialize repositories
	userRepo := repositories.NewUserRepository(db, repositories.CacheService)
	kycRepo := repositories.NewKYCRepository(db)
	dealRepo := repositories.NewDealRepository(db, repositories.CacheService)
	commitmentRepo := repositories.NewCommitmentRepository(db)
	escrowRepo := repositories.NewEscrowRepository(db)

	// Initialize services
	notifier := notification.NewService(notification.LogSender{}, repositories.CacheService)

	authService := auth.NewService(userRepo)
	userService := user.NewService(userRepo, kycRepo)
	dealService := deal.NewService(dealRepo)
	ledger := commitment.NewService(db, commitmentRepo, dealRepo, userRepo, notifier)
	reconciler := escrow.NewService(
		db,
		escrowRepo,
		commitmentRepo,
		dealRepo,
		notifier,
		config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	kycHandler := handlers.NewKYCHandler(userService)
	adminHandler := handlers.NewAdminHandler(userService, userRepo)
	dealHandler := handlers.NewDealHandler(dealService)
	commitmentHandler := handlers.NewCommitmentHandler(ledger, reconciler)
	webhookHandler := handlers.NewWebhookHandler(reconciler)

	api := app.Group("/api")

	// Public endpoints (no auth required)
	api.Post("/login", authHandler.Login)
	api.Post("/register", userHandler.Register)
	api.Post("/refresh", authHandler.RefreshToken)
	api.Get("/health", handlers.HealthCheck)

	// Payment processor webhook: authenticated by signature, not session.
	app.Post("/webhooks/payments", webhookHandler.HandlePaymentWebhook)

	// Create middleware instance
	authMiddleware := middleware.NewAuthMiddleware(authService)

	// Protected routes with auth middleware
	protected := api.Use(authMiddleware.Handler)

	setupUserRoutes(protected, authHandler, userHandler, kycHandler)
	setupDealRoutes(protected, dealHandler)
	setupCommitmentRoutes(protected, commitmentHandler)
	setupAdminRoutes(app, authMiddleware, adminHandler)
}

func setupUserRoutes(router fiber.Router, authHandler *handlers.AuthHandler, userHandler *handlers.UserHandler, kycHandler *handlers.KYCHandler) {
	router.Get("/profile", userHandler.GetProfile)
	router.Post("/change-password", authHandler.ChangePassword)
	router.Post("/logout", authHandler.Logout)

	kyc := router.Group("/kyc")
	kyc.Post("/", middleware.HasPermission(models.PermissionKYCSubmit), kycHandler.SubmitKYC)
	kyc.Get("/", kycHandler.GetStatus)
}

func setupDealRoutes(router fiber.Router, h *handlers.DealHandler) {
	deals := router.Group("/deals")
	deals.Post("/", middleware.RequireRole(models.RoleOperator), h.CreateDeal)
	deals.Get("/", h.ListDeals)
	deals.Get("/:id", h.GetDeal)
	deals.Patch("/:id", middleware.RequireRole(models.RoleOperator), h.UpdateDealStatus)
}

func setupCommitmentRoutes(router fiber.Router, h *handlers.CommitmentHandler) {
	commitments := router.Group("/commitments")
	commitments.Post("/", middleware.HasPermission(models.PermissionCommitmentWrite), h.CreateCommitment)
	commitments.Get("/", middleware.HasPermission(models.PermissionCommitmentRead), h.ListCommitments)
	commitments.Get("/:id", middleware.HasPermission(models.PermissionCommitmentRead), h.GetCommitment)
	commitments.Patch("/:id", h.UpdateCommitment)
	commitments.Post("/:id/fund", middleware.HasPermission(models.PermissionCommitmentWrite), h.InitiateFunding)
	commitments.Get("/:id/funding", middleware.HasPermission(models.PermissionCommitmentRead), h.ListFunding)
}

func setupAdminRoutes(app *fiber.App, authMiddleware *middleware.AuthMiddleware, h *handlers.AdminHandler) {
	admin := app.Group("/api/admin", authMiddleware.Handler, middleware.AdminAuthMiddleware)

	admin.Get("/users", middleware.HasPermission(models.PermissionReadAdmin), h.ListUsers)
	admin.Patch("/users/:id/verify", middleware.HasPermission(models.PermissionWriteAdmin), h.VerifyUser)
	admin.Patch("/kyc/:id", middleware.HasPermission(models.PermissionKYCReview), h.ReviewKYC)
}

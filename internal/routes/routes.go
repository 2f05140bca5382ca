package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/config"
	"therapy-scheduling-server/internal/handlers"
	"therapy-scheduling-server/internal/middleware"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/repository"
	"therapy-scheduling-server/internal/services"
)

// Dependencies are the collaborators the route table hands to its handlers.
type Dependencies struct {
	Config        *config.Config
	Logger        zerolog.Logger
	Store         *repository.Store
	Appointments  *services.AppointmentService
	Payments      *services.PaymentService
	Notifications *services.NotificationService
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config

	authHandler := handlers.NewAuthHandler(deps.Store.Users, cfg, deps.Logger)
	appointmentHandler := handlers.NewAppointmentHandler(deps.Appointments, deps.Logger)
	paymentHandler := handlers.NewPaymentHandler(deps.Payments, cfg.UploadDir, deps.Logger)
	adminPaymentHandler := handlers.NewAdminPaymentHandler(deps.Payments, deps.Logger)
	notificationHandler := handlers.NewNotificationHandler(deps.Notifications, deps.Logger)

	// Public routes (no authentication required)
	public := router.Group("/api")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
		}
	}

	// Authenticated routes
	private := router.Group("/api")
	private.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	{
		private.GET("/auth/profile", authHandler.GetProfile)

		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("", appointmentHandler.GetAppointmentsForUser)
			appointmentRoutes.GET("/booked", appointmentHandler.GetBookedTimes)
			appointmentRoutes.GET("/availability/:therapistUsername", appointmentHandler.GetTherapistAvailability)
			appointmentRoutes.PUT("/availability/:therapistUsername",
				middleware.RoleAuthMiddleware(models.RoleTherapist, models.RoleAdmin),
				appointmentHandler.SetTherapistAvailability)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)
			appointmentRoutes.PUT("/:id/accept", appointmentHandler.AcceptAppointment)
			appointmentRoutes.PUT("/:id/reject", appointmentHandler.RejectAppointment)
			appointmentRoutes.PUT("/:id/cancel", appointmentHandler.CancelAppointment)
			appointmentRoutes.PUT("/:id/reschedule", appointmentHandler.RescheduleAppointment)

			// Session notes are written by the treating therapist (or an admin)
			noteRoutes := appointmentRoutes.Group("/:id/session-note")
			noteRoutes.Use(middleware.RoleAuthMiddleware(models.RoleTherapist, models.RoleAdmin))
			{
				noteRoutes.PUT("", appointmentHandler.AddSessionNote)
				noteRoutes.DELETE("/:index", appointmentHandler.DeleteSessionNote)
			}
		}

		private.POST("/payments",
			middleware.RoleAuthMiddleware(models.RolePatient, models.RoleAdmin),
			paymentHandler.SubmitPayment)

		notificationRoutes := private.Group("/notifications/:username")
		{
			notificationRoutes.GET("", notificationHandler.GetNotifications)
			notificationRoutes.GET("/unread-count", notificationHandler.GetUnreadCount)
			notificationRoutes.PUT("/mark-read", notificationHandler.MarkAllRead)
		}

		adminRoutes := private.Group("/admin")
		adminRoutes.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
		{
			adminRoutes.PUT("/payments/:id/status", adminPaymentHandler.UpdatePaymentStatus)
			adminRoutes.PUT("/payments/:id/refund", adminPaymentHandler.MarkRefunded)
			adminRoutes.GET("/pending-payments", adminPaymentHandler.GetPendingPayments)
			adminRoutes.GET("/payment-history", adminPaymentHandler.GetPaymentHistory)
			adminRoutes.GET("/refund-requests", adminPaymentHandler.GetRefundRequests)
			adminRoutes.GET("/refund-requests-count", adminPaymentHandler.GetRefundRequestCount)
			adminRoutes.GET("/payment-stats", adminPaymentHandler.GetPaymentStats)
		}
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := deps.Store.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			deps.Logger.Warn().Err(err).Msg("health check: database unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

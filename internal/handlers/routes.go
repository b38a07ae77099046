package handlers

import (
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/middleware"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-gonic/gin"
)

// Deps are the engine components the HTTP surface is built on.
type Deps struct {
	Store       database.Store
	Machine     *services.BookingMachine
	Payments    *services.PaymentCoordinator
	Ledger      *services.InventoryLedger
	Assessments *services.AssessmentModule
	Partners    *services.PartnerApprovals
	Events      *services.EventHub
	Hub         *services.Hub
	Storage     *services.PhotoStorage
	Push        *services.PushNotifier
	JWTSecret   string
}

// Routes mounts the API under /api.
func Routes(r *gin.Engine, d Deps) {
	auth := middleware.AuthMiddleware(d.JWTSecret)
	riderOnly := middleware.RequireRole(models.RoleRider)
	partnerOnly := middleware.RequireRole(models.RolePartner)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	api := r.Group("/api")
	{
		// Gateway callbacks carry their own signature instead of a token
		api.POST("/webhooks/payments", PaymentWebhook(d.Payments))

		// WebSocket connection
		api.GET("/ws", auth, WebSocketHandler(d.Hub))

		protected := api.Group("/")
		protected.Use(auth)
		{
			protected.GET("/users/profile", GetProfile(d.Store))

			bookings := protected.Group("/bookings")
			{
				bookings.POST("", riderOnly, CreateBooking(d.Machine))
				bookings.GET("/mine", riderOnly, GetMyBookings(d.Machine))
				bookings.GET("/:id", GetBooking(d.Machine))
				bookings.GET("/:id/payments", GetBookingPayments(d.Payments))
				bookings.GET("/:id/assessment", GetAssessment(d.Assessments))
				bookings.POST("/:id/cancel", CancelBooking(d.Machine))
			}

			protected.GET("/bikes/:bikeId/availability", GetBikeAvailability(d.Ledger))

			payments := protected.Group("/payments")
			{
				payments.POST("/:requestId/initiate", riderOnly, InitiatePayment(d.Payments))
				payments.GET("/sessions/:sessionId", GetCheckoutStatus(d.Payments))
				payments.POST("/:requestId/reopen", ReopenPayment(d.Payments))
			}

			partner := protected.Group("/partner")
			partner.Use(partnerOnly)
			{
				partner.GET("/bookings", GetPartnerBookings(d.Machine))
				partner.POST("/bookings/:id/accept", AcceptBooking(d.Machine))
				partner.POST("/bookings/:id/reject", RejectBooking(d.Machine))
				partner.POST("/bookings/:id/complete", CompleteBooking(d.Machine))
				partner.POST("/bookings/:id/assessment", SubmitAssessment(d.Assessments, d.Payments))
				partner.POST("/bookings/:id/assessment/photos", UploadAssessmentPhoto(d.Machine, d.Storage))
				partner.DELETE("/bookings/:id/assessment/photos", DeleteAssessmentPhoto(d.Machine, d.Storage))
				partner.POST("/payments/:requestId/cash", ConfirmCashPayment(d.Payments))
				partner.PUT("/bikes/:bikeId/availability", UpdateBikeAvailability(d.Ledger))
			}

			admin := protected.Group("/admin")
			admin.Use(adminOnly)
			{
				admin.GET("/partners", ListPartners(d.Partners))
				admin.POST("/partners/:id/approve", ApplyPartnerAction(d.Partners, models.PartnerApprove))
				admin.POST("/partners/:id/reject", ApplyPartnerAction(d.Partners, models.PartnerReject))
				admin.POST("/partners/:id/suspend", ApplyPartnerAction(d.Partners, models.PartnerSuspend))
				admin.POST("/partners/:id/reactivate", ApplyPartnerAction(d.Partners, models.PartnerReactivate))
				admin.GET("/bookings", GetAllBookings(d.Machine))
				admin.POST("/bookings/:id/complete", CompleteBooking(d.Machine))
			}

			events := protected.Group("/events")
			{
				events.GET("", PollEvents(d.Events))
				events.POST("/:id/processed", MarkEventProcessed(d.Events))
			}

			notifications := protected.Group("/notifications")
			{
				notifications.POST("/register-token", RegisterFCMToken(d.Push))
				notifications.DELETE("/remove-token", RemoveFCMToken(d.Push))
			}
		}
	}
}

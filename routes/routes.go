package routes

import (
	"net/http"

	"immune-me-backend/config"
	"immune-me-backend/controllers"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Controllers struct {
	Webhook  *controllers.WebhookController
	Consent  *controllers.ConsentController
	Reminder *controllers.ReminderController
	Template *controllers.TemplateController
}

func SetupRouter(ctrl Controllers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.Use(config.PerformanceLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// Gateway callbacks. Source validation happens inside the controller.
	webhooks := r.Group("/webhooks/sms")
	{
		webhooks.POST("/delivery", ctrl.Webhook.DeliveryStatus)
		webhooks.POST("/inbound", ctrl.Webhook.InboundMessage)
	}

	api := r.Group("/api")
	{
		consent := api.Group("/consent")
		{
			consent.POST("", ctrl.Consent.RecordConsent)
			consent.GET("/check", ctrl.Consent.CheckConsent)
			consent.POST("/opt-out", ctrl.Consent.OptOut)
			consent.POST("/opt-in", ctrl.Consent.OptIn)
		}

		reminders := api.Group("/reminders")
		{
			reminders.POST("/schedule", ctrl.Reminder.ScheduleReminders)
		}

		api.GET("/messages", ctrl.Reminder.ListMessages)

		worker := api.Group("/worker")
		{
			worker.GET("/status", ctrl.Reminder.WorkerStatus)
			worker.POST("/run", ctrl.Reminder.RunWorker)
		}

		templates := api.Group("/templates")
		{
			templates.POST("", ctrl.Template.CreateTemplate)
			templates.GET("", ctrl.Template.GetTemplates)
			templates.PUT("/:kind/:lang", ctrl.Template.UpdateTemplate)
		}
	}

	return r
}

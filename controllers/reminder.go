// controllers/reminder.go
package controllers

import (
	"net/http"
	"strconv"
	"time"

	"immune-me-backend/models"
	"immune-me-backend/repository"
	"immune-me-backend/services"
	"immune-me-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ScheduleRemindersInput defines the expected JSON structure
type ScheduleRemindersInput struct {
	RecipientID string `json:"recipientId" binding:"required,uuid"`
	Phone       string `json:"phone" binding:"required"`
	DueDate     string `json:"dueDate" binding:"required"`
}

type ReminderController struct {
	scheduler *services.ReminderScheduler
	worker    *services.DeliveryWorker
	messages  repository.MessageRepository
}

func NewReminderController(scheduler *services.ReminderScheduler, worker *services.DeliveryWorker, messages repository.MessageRepository) *ReminderController {
	return &ReminderController{scheduler: scheduler, worker: worker, messages: messages}
}

// ScheduleReminders creates the reminder messages for a due-date event
func (ctrl *ReminderController) ScheduleReminders(c *gin.Context) {
	var input ScheduleRemindersInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	recipientUUID, err := uuid.Parse(input.RecipientID)
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid recipient ID format")
		return
	}

	dueDate, err := time.Parse(time.RFC3339, input.DueDate)
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid due date, expected RFC3339")
		return
	}

	created, err := ctrl.scheduler.ScheduleReminders(c.Request.Context(), recipientUUID, input.Phone, dueDate)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to schedule reminders")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"messages": created, "count": len(created)})
}

// ListMessages retrieves messages filtered by status, phone and kind
func (ctrl *ReminderController) ListMessages(c *gin.Context) {
	filter := models.MessageFilter{
		Status:   models.MessageStatus(c.Query("status")),
		Phone:    c.Query("phone"),
		Kind:     models.MessageKind(c.Query("kind")),
		Page:     parseIntQuery(c.Query("page"), 1),
		PageSize: parseIntQuery(c.Query("pageSize"), 20),
	}

	messages, total, err := ctrl.messages.List(c.Request.Context(), filter)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to retrieve messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": messages, "total": total})
}

// WorkerStatus reports whether a delivery tick is in progress
func (ctrl *ReminderController) WorkerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": ctrl.worker.IsRunning()})
}

// RunWorker triggers a delivery tick outside the cron cadence
func (ctrl *ReminderController) RunWorker(c *gin.Context) {
	stats := ctrl.worker.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"fetched":   stats.Fetched,
		"sent":      stats.Sent,
		"failed":    stats.Failed,
		"cancelled": stats.Cancelled,
		"skipped":   stats.Skipped,
	})
}

func parseIntQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

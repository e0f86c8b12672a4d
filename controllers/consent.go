// controllers/consent.go
package controllers

import (
	"net/http"

	"immune-me-backend/services"
	"immune-me-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RecordConsentInput defines the expected JSON structure
type RecordConsentInput struct {
	RecipientID string `json:"recipientId" binding:"required,uuid"`
	Phone       string `json:"phone" binding:"required"`
	Given       *bool  `json:"given" binding:"required"`
	Method      string `json:"method" binding:"required,oneof=verbal written sms_reply registration"`
}

// OptInOutInput defines the expected JSON structure
type OptInOutInput struct {
	Phone  string `json:"phone" binding:"required"`
	Method string `json:"method" binding:"required"`
}

type ConsentController struct {
	gate *services.ConsentGate
}

func NewConsentController(gate *services.ConsentGate) *ConsentController {
	return &ConsentController{gate: gate}
}

// RecordConsent captures or refreshes a recipient's SMS consent
func (ctrl *ConsentController) RecordConsent(c *gin.Context) {
	var input RecordConsentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	recipientUUID, err := uuid.Parse(input.RecipientID)
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid recipient ID format")
		return
	}

	if !utils.ValidatePhone(input.Phone) {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid phone number")
		return
	}

	record, err := ctrl.gate.RecordConsent(c.Request.Context(), recipientUUID, input.Phone, *input.Given, input.Method)
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to record consent")
		return
	}

	c.JSON(http.StatusCreated, record)
}

// CheckConsent answers whether a valid consent exists for the pair
func (ctrl *ConsentController) CheckConsent(c *gin.Context) {
	recipientID := c.Query("recipientId")
	phone := c.Query("phone")
	if recipientID == "" || phone == "" {
		utils.RespondWithError(c, http.StatusBadRequest, "recipientId and phone are required")
		return
	}

	recipientUUID, err := uuid.Parse(recipientID)
	if err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid recipient ID format")
		return
	}

	allowed, reason := ctrl.gate.CanSend(c.Request.Context(), recipientUUID, phone)
	c.JSON(http.StatusOK, gin.H{"valid": allowed, "reason": reason})
}

// OptOut opts a phone number out of all SMS reminders
func (ctrl *ConsentController) OptOut(c *gin.Context) {
	var input OptInOutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	if err := ctrl.gate.HandleOptOut(c.Request.Context(), input.Phone, input.Method); err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to process opt-out")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Opt-out processed"})
}

// OptIn re-enables SMS reminders for a phone number
func (ctrl *ConsentController) OptIn(c *gin.Context) {
	var input OptInOutInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	if err := ctrl.gate.HandleOptIn(c.Request.Context(), input.Phone, input.Method); err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to process opt-in")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Opt-in processed"})
}

// controllers/template.go
package controllers

import (
	"net/http"
	"unicode/utf8"

	"immune-me-backend/models"
	"immune-me-backend/repository"
	"immune-me-backend/utils"

	"github.com/gin-gonic/gin"
)

// CreateTemplateInput defines the expected JSON structure
type CreateTemplateInput struct {
	Kind         string `json:"kind" binding:"required,oneof=seven_day one_day overdue"`
	LanguageCode string `json:"languageCode" binding:"required,min=2,max=8"`
	Body         string `json:"body" binding:"required"`
}

// UpdateTemplateInput defines the expected JSON structure
type UpdateTemplateInput struct {
	Body     *string `json:"body"`
	IsActive *bool   `json:"isActive"`
}

type TemplateController struct {
	templates repository.TemplateRepository
}

func NewTemplateController(templates repository.TemplateRepository) *TemplateController {
	return &TemplateController{templates: templates}
}

// CreateTemplate creates a new message template
func (ctrl *TemplateController) CreateTemplate(c *gin.Context) {
	var input CreateTemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	kind := models.MessageKind(input.Kind)

	// One template per kind/language pair, active or not; a deactivated one
	// is re-enabled through update, not recreated.
	if _, err := ctrl.templates.Find(c.Request.Context(), kind, input.LanguageCode); err == nil {
		utils.RespondWithError(c, http.StatusConflict, "Template for this kind and language already exists")
		return
	} else if !repository.IsNotFound(err) {
		utils.RespondWithError(c, http.StatusInternalServerError, "Database error")
		return
	}

	template := models.MessageTemplate{
		Kind:           kind,
		LanguageCode:   input.LanguageCode,
		Body:           input.Body,
		RenderedLength: utf8.RuneCountInString(input.Body),
		IsActive:       true,
	}

	if err := ctrl.templates.Save(c.Request.Context(), &template); err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to create template")
		return
	}

	c.JSON(http.StatusCreated, template)
}

// GetTemplates retrieves all message templates
func (ctrl *TemplateController) GetTemplates(c *gin.Context) {
	templates, err := ctrl.templates.ListAll(c.Request.Context())
	if err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to retrieve templates")
		return
	}

	c.JSON(http.StatusOK, templates)
}

// UpdateTemplate updates an existing template's body or active flag
func (ctrl *TemplateController) UpdateTemplate(c *gin.Context) {
	kind := models.MessageKind(c.Param("kind"))
	lang := c.Param("lang")

	template, err := ctrl.templates.Find(c.Request.Context(), kind, lang)
	if err != nil {
		if repository.IsNotFound(err) {
			utils.RespondWithError(c, http.StatusNotFound, "Template not found")
		} else {
			utils.RespondWithError(c, http.StatusInternalServerError, "Database error")
		}
		return
	}

	var input UpdateTemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.RespondWithError(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}

	if input.Body != nil {
		template.Body = *input.Body
		template.RenderedLength = utf8.RuneCountInString(*input.Body)
	}
	if input.IsActive != nil {
		template.IsActive = *input.IsActive
	}

	if err := ctrl.templates.Save(c.Request.Context(), template); err != nil {
		utils.RespondWithError(c, http.StatusInternalServerError, "Failed to update template")
		return
	}

	c.JSON(http.StatusOK, template)
}

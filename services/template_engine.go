// services/template_engine.go
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"immune-me-backend/models"
	"immune-me-backend/repository"

	"go.uber.org/zap"
)

// MaxSMSLength is the single-segment character budget every rendered message
// must fit.
const MaxSMSLength = 160

// OptOutSuffix must survive every abbreviation and truncation step.
const OptOutSuffix = "Reply STOP to opt out"

// FallbackBody is sent when rendering fails, instead of malformed content.
const FallbackBody = "Immunization reminder: please contact your health facility. " + OptOutSuffix

// TemplateRenderError signals that a template could not be rendered from the
// supplied data. Callers fall back to FallbackBody.
type TemplateRenderError struct {
	Kind    models.MessageKind
	Missing string
}

func (e *TemplateRenderError) Error() string {
	return fmt.Sprintf("template %s: missing value for placeholder {%s}", e.Kind, e.Missing)
}

var placeholderRegex = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

// abbreviations are applied in order, one at a time, only until the message
// fits the budget.
var abbreviations = [][2]string{
	{"vaccination", "vaccine"},
	{"immunization", "vaccine"},
	{"Health Center", "HC"},
	{"Health Centre", "HC"},
	{"Hospital", "Hosp"},
	{"Community Clinic", "Clinic"},
	{"appointment", "appt"},
	{"Please visit", "Visit"},
	{"your child", "child"},
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

var defaultTemplates = map[models.MessageKind]string{
	models.KindSevenDay: "Hi {patient}, the {vaccine} vaccination for your child is due on {date} at {facility}. " + OptOutSuffix,
	models.KindOneDay:   "Reminder: {patient} has a {vaccine} vaccination tomorrow ({date}) at {facility}. " + OptOutSuffix,
	models.KindOverdue:  "{patient}'s {vaccine} vaccination was due on {date}. Please visit {facility} soon. " + OptOutSuffix,
}

// TemplateEngine renders reminder bodies and guarantees the result fits one
// SMS segment.
type TemplateEngine struct {
	templates repository.TemplateRepository
	log       *zap.Logger
}

func NewTemplateEngine(templates repository.TemplateRepository, log *zap.Logger) *TemplateEngine {
	return &TemplateEngine{templates: templates, log: log}
}

// Render produces the message body for the given kind and language. fields
// maps placeholder names to values; the conventional keys are patient,
// vaccine, facility, date and dateShort. dateShort is not a placeholder: it
// replaces the date value when the long form blows the budget.
func (e *TemplateEngine) Render(ctx context.Context, kind models.MessageKind, languageCode string, fields map[string]string) (string, error) {
	body := e.lookupBody(ctx, kind, languageCode)

	rendered, err := substitute(kind, body, fields)
	if err != nil {
		return "", err
	}

	return e.optimize(rendered, fields), nil
}

func (e *TemplateEngine) lookupBody(ctx context.Context, kind models.MessageKind, languageCode string) string {
	if languageCode == "" {
		languageCode = "en"
	}
	if e.templates != nil {
		if t, err := e.templates.FindActive(ctx, kind, languageCode); err == nil {
			return t.Body
		}
		// Fall back to English before the built-in default.
		if languageCode != "en" {
			if t, err := e.templates.FindActive(ctx, kind, "en"); err == nil {
				return t.Body
			}
		}
	}
	return defaultTemplates[kind]
}

func substitute(kind models.MessageKind, body string, fields map[string]string) (string, error) {
	var missing string
	out := placeholderRegex.ReplaceAllStringFunc(body, func(match string) string {
		name := strings.Trim(match, "{}")
		value, ok := fields[name]
		if !ok || value == "" {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", &TemplateRenderError{Kind: kind, Missing: missing}
	}
	return out, nil
}

// optimize applies the shrink pipeline step by step, stopping as soon as the
// message fits: abbreviations, whitespace collapse, date shortening, and as a
// last resort truncation at a word boundary with the opt-out suffix intact.
func (e *TemplateEngine) optimize(msg string, fields map[string]string) string {
	if fits(msg) {
		return msg
	}

	for _, pair := range abbreviations {
		msg = strings.ReplaceAll(msg, pair[0], pair[1])
		if fits(msg) {
			return msg
		}
	}

	msg = strings.TrimSpace(whitespaceRegex.ReplaceAllString(msg, " "))
	if fits(msg) {
		return msg
	}

	if long, short := fields["date"], fields["dateShort"]; long != "" && short != "" {
		msg = strings.ReplaceAll(msg, long, short)
		if fits(msg) {
			return msg
		}
	}

	return truncatePreservingOptOut(msg)
}

func fits(msg string) bool {
	return utf8.RuneCountInString(msg) <= MaxSMSLength
}

func truncatePreservingOptOut(msg string) string {
	content := strings.TrimSuffix(msg, OptOutSuffix)
	content = strings.TrimRight(content, " .")

	budget := MaxSMSLength - utf8.RuneCountInString(OptOutSuffix) - 1
	runes := []rune(content)
	if len(runes) > budget {
		runes = runes[:budget]
		// Cut at the last word boundary so no word is split mid-way.
		if idx := strings.LastIndex(string(runes), " "); idx > 0 {
			runes = []rune(string(runes)[:idx])
		}
	}

	return strings.TrimRight(string(runes), " .") + " " + OptOutSuffix
}

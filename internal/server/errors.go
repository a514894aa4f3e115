package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/accessportal/internal/audit/domain"
	authdomain "github.com/smallbiznis/accessportal/internal/auth/domain"
	"github.com/smallbiznis/accessportal/internal/authorization"
	"github.com/smallbiznis/accessportal/internal/config"
	devicedomain "github.com/smallbiznis/accessportal/internal/device/domain"
	tokendomain "github.com/smallbiznis/accessportal/internal/enrollmenttoken/domain"
	integrationdomain "github.com/smallbiznis/accessportal/internal/integration/domain"
	invitationdomain "github.com/smallbiznis/accessportal/internal/invitation/domain"
	"github.com/smallbiznis/accessportal/internal/onboarding"
	orgdomain "github.com/smallbiznis/accessportal/internal/organization/domain"
	"github.com/smallbiznis/accessportal/internal/poller"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/providers/apiclient"
	"github.com/smallbiznis/accessportal/internal/providers/gcp"
	"github.com/smallbiznis/accessportal/internal/providers/lxd"
	"github.com/smallbiznis/accessportal/internal/providers/tailscale"
	"github.com/smallbiznis/accessportal/internal/providers/zitadel"
	resourcedomain "github.com/smallbiznis/accessportal/internal/resource/domain"
	secretdomain "github.com/smallbiznis/accessportal/internal/secretstore/domain"
	sessiondomain "github.com/smallbiznis/accessportal/internal/session/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels are domain errors raised before any remote call is made.
var validationSentinels = []error{
	ErrInvalidRequest,
	auditdomain.ErrInvalidOrganization,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	authorization.ErrInvalidOrganization,
	authorization.ErrInvalidObject,
	authorization.ErrInvalidAction,
	devicedomain.ErrInvalidOrganization,
	devicedomain.ErrInvalidUser,
	devicedomain.ErrInvalidToken,
	devicedomain.ErrInvalidFingerprint,
	tokendomain.ErrInvalidOrganization,
	tokendomain.ErrInvalidUser,
	tokendomain.ErrInvalidTokenType,
	tokendomain.ErrInvalidExpiry,
	tokendomain.ErrInvalidToken,
	integrationdomain.ErrInvalidOrganization,
	integrationdomain.ErrInvalidProvider,
	invitationdomain.ErrEmptyBatch,
	onboarding.ErrInvalidRequest,
	orgdomain.ErrInvalidName,
	orgdomain.ErrInvalidOrganization,
	profiledomain.ErrInvalidRole,
	profiledomain.ErrInvalidEmail,
	profiledomain.ErrInvalidName,
	profiledomain.ErrInvalidOrganization,
	resourcedomain.ErrInvalidOrganization,
	resourcedomain.ErrInvalidName,
	resourcedomain.ErrInvalidConnectionType,
	resourcedomain.ErrInvalidHost,
	resourcedomain.ErrInvalidURL,
	resourcedomain.ErrInvalidPort,
	secretdomain.ErrInvalidOrganization,
	secretdomain.ErrInvalidKeyName,
	secretdomain.ErrInvalidSecretType,
	secretdomain.ErrEmptyValue,
	sessiondomain.ErrUnsupportedConnection,
	tailscale.ErrInvalidTailnet,
	tailscale.ErrInvalidAPIKey,
	zitadel.ErrInvalidProjectName,
	zitadel.ErrInvalidProjectID,
	zitadel.ErrInvalidUserID,
	zitadel.ErrInvalidEmail,
	gcp.ErrInvalidServiceAccount,
	gcp.ErrInvalidInstanceName,
	gcp.ErrInvalidZone,
	lxd.ErrInvalidEndpoint,
	lxd.ErrInvalidInstanceName,
	lxd.ErrInvalidCertificate,
	lxd.ErrEmptyCommand,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var apiErr *apiclient.APIError
	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isGoneError(err):
		return http.StatusGone, errorPayload{
			Type:    "gone",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.As(err, &apiErr), errors.Is(err, lxd.ErrOperationFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: err.Error(),
		}
	case errors.Is(err, poller.ErrExhausted):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "timeout",
			Message: "operation did not complete in time",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, config.ErrMissingConfig),
		errors.Is(err, sessiondomain.ErrGatewayNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with the mapped type and code.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrMissingToken),
		errors.Is(err, authdomain.ErrInvalidToken),
		errors.Is(err, authdomain.ErrTokenExpired),
		errors.Is(err, authdomain.ErrUnknownUser),
		errors.Is(err, sessiondomain.ErrInvalidToken):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, sessiondomain.ErrAccessDenied):
		return true
	default:
		return false
	}
}

func isGoneError(err error) bool {
	switch {
	case errors.Is(err, devicedomain.ErrTokenExpired),
		errors.Is(err, devicedomain.ErrInvalidOrExpired),
		errors.Is(err, invitationdomain.ErrInvalidInvitation),
		errors.Is(err, secretdomain.ErrSecretExpired),
		errors.Is(err, sessiondomain.ErrSessionExpired):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, orgdomain.ErrOrganizationExists),
		errors.Is(err, profiledomain.ErrProfileExists),
		errors.Is(err, resourcedomain.ErrGroupExists),
		errors.Is(err, onboarding.ErrInProgress),
		errors.Is(err, sessiondomain.ErrSessionEnded),
		errors.Is(err, integrationdomain.ErrMissingSecret):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, devicedomain.ErrNotFound),
		errors.Is(err, integrationdomain.ErrNotConfigured),
		errors.Is(err, orgdomain.ErrNotFound),
		errors.Is(err, profiledomain.ErrNotFound),
		errors.Is(err, resourcedomain.ErrNotFound),
		errors.Is(err, resourcedomain.ErrGroupNotFound),
		errors.Is(err, resourcedomain.ErrProfileNotFound),
		errors.Is(err, secretdomain.ErrSecretNotFound),
		errors.Is(err, sessiondomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if strings.HasPrefix(code, "empty_") {
		return strings.TrimPrefix(code, "empty_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "unsupported_connection_type":
		return "connection type not supported by resource"
	default:
		return "invalid value"
	}
}

package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/service"
	"github.com/dmehra2102/prod-golang-projects/securehealth/internal/session"
	"github.com/gin-gonic/gin"
)

type APIResponse[T any] struct {
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type ValidationErrorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Fields []string `json:"fields"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse[any]{Data: data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

// respondOutcome reports a settled mutation. A timed-out settlement that re-querying could
// not confirm is an unknown outcome and answers 202.
func respondOutcome(c *gin.Context, status int, out *service.Outcome, data any) {
	if !out.Applied() {
		c.JSON(http.StatusAccepted, APIResponse[any]{
			Data:    data,
			Message: "transaction submitted; outcome unknown, poll the transaction",
		})
		return
	}
	c.JSON(status, APIResponse[any]{Data: data})
}

func respondServiceError(c *gin.Context, err error) {
	var validErr *service.ValidationError
	if errors.As(err, &validErr) {
		c.JSON(http.StatusBadRequest, ValidationErrorResponse{
			Error:  "validation failed",
			Code:   domain.Kind(err),
			Fields: validErr.Fields,
		})
		return
	}

	var contractErr *domain.ContractError
	kind := domain.Kind(err)
	switch {
	case errors.Is(err, domain.ErrNotSignedIn):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "no wallet session", Code: kind})

	case errors.Is(err, service.ErrRoleNotPermitted):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "role_not_permitted"})

	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied by contract", Code: kind})

	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: kind})

	case errors.Is(err, domain.ErrAlreadyExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: kind})

	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: kind})

	case errors.As(err, &contractErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   err.Error(),
			Code:    kind,
			Details: map[string]string{"contract_code": "u" + strconv.FormatUint(contractErr.Code, 10)},
		})

	case errors.Is(err, domain.ErrNetworkFailure),
		errors.Is(err, domain.ErrDecode):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: kind})

	case errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: kind})

	case errors.Is(err, domain.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Error: err.Error(), Code: kind})

	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: kind})
	}
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error(), Code: "invalid_input"})
		return false
	}

	return true
}

func parsePrincipal(c *gin.Context, param string) (domain.Principal, bool) {
	p, err := session.ParsePrincipal(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + param + ": must be a Stacks address", Code: "invalid_input"})
		return "", false
	}
	return p, true
}

func parseQueryInt(c *gin.Context, key string, defaultVal int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultVal
}

package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/temcen/simrec/internal/validation"
	"github.com/temcen/simrec/pkg/models"
)

const maxBodyBytes = 1 << 20

// ValidationMiddleware rejects request bodies that do not match a JSON schema
// before they reach a handler.
type ValidationMiddleware struct {
	validator *validation.SchemaValidator
}

func NewValidationMiddleware(validator *validation.SchemaValidator) *ValidationMiddleware {
	return &ValidationMiddleware{
		validator: validator,
	}
}

func (vm *ValidationMiddleware) ValidateRecommendationRequest() gin.HandlerFunc {
	return vm.validateRequestBody(validation.RecommendationRequest)
}

func (vm *ValidationMiddleware) ValidateRevectorizeRequest() gin.HandlerFunc {
	return vm.validateRequestBody(validation.RevectorizeRequest)
}

func (vm *ValidationMiddleware) validateRequestBody(schemaName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err != nil {
			abortValidation(c, "Failed to read request body")
			return
		}
		if len(body) > maxBodyBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error: "Request body too large",
				Code:  "BODY_TOO_LARGE",
			})
			return
		}
		if len(bytes.TrimSpace(body)) == 0 {
			abortValidation(c, "Request body is required")
			return
		}

		// downstream handlers bind the body again
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		result := vm.validator.ValidateJSON(schemaName, body)
		if !result.Valid {
			abortValidation(c, result.Summary())
			return
		}

		c.Next()
	}
}

func abortValidation(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
		Error: message,
		Code:  "VALIDATION_ERROR",
	})
}

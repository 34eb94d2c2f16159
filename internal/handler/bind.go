package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-station/internal/response"
	"github.com/stemsi/exstem-station/internal/validator"
)

// bind decodes the JSON body into dst and answers 400 on failure. Malformed
// JSON is INVALID_PAYLOAD; rule violations are VALIDATION_ERROR with fields.
func bind(c *gin.Context, dst interface{}) bool {
	fields := validator.Bind(c, dst)
	if fields == nil {
		return true
	}
	if _, malformed := fields["detail"]; malformed && len(fields) == 1 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
		return false
	}
	response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
	return false
}

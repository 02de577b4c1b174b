package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned in ErrorBody.Code
const (
	CodeInvalidRequest            = "INVALID_REQUEST"
	CodeReceiptVerificationFailed = "RECEIPT_VERIFICATION_FAILED"
	CodeStoreUnavailable          = "STORE_UNAVAILABLE"
	CodeInternalError             = "INTERNAL_ERROR"
	CodeNotImplemented            = "NOT_IMPLEMENTED"
)

// ErrorBody is the JSON body of a failed request
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// DetailBody is the JSON body of an authentication or quota rejection
type DetailBody struct {
	Detail string `json:"detail"`
}

// Error sends an error JSON response and aborts the chain
func Error(c *gin.Context, statusCode int, message, code string) {
	c.AbortWithStatusJSON(statusCode, ErrorBody{Error: message, Code: code})
}

// Detail sends a {"detail": ...} response and aborts the chain
func Detail(c *gin.Context, statusCode int, detail string) {
	c.AbortWithStatusJSON(statusCode, DetailBody{Detail: detail})
}

// InternalError sends the generic server error response
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error", CodeInternalError)
}

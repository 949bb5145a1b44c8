package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// APIResponse wraps successful payloads.
type APIResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListDataResponse struct {
	Rows  interface{} `json:"rows"`
	Total int64       `json:"total"`
}

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Kind    string            `json:"error_kind"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Details []ValidationError `json:"details,omitempty"`
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, APIResponse{Status: http.StatusOK, Message: "OK", Data: data})
}

func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return SuccessResponse(c, ListDataResponse{Rows: rows, Total: total})
}

// BadRequestResponse writes a 400 BadInput body from validation details.
func BadRequestResponse(c echo.Context, details []ValidationError) error {
	body := ErrorBody{Kind: KindBadInput, Message: "invalid request", Details: details}
	if len(details) > 0 {
		body.Message = details[0].Message
		body.Field = details[0].Field
	}
	return c.JSON(http.StatusBadRequest, body)
}

// AppErrorResponse writes err as {error_kind, message}. Errors that are not
// an *AppError become an opaque 500.
func AppErrorResponse(c echo.Context, err error) error {
	var ae *AppError
	if !errors.As(err, &ae) {
		ae = NewAppError(KindInternal, "", "internal error", http.StatusInternalServerError)
	}
	return c.JSON(ae.Status, ErrorBody{Kind: ae.Code, Message: ae.Message, Field: ae.Field})
}

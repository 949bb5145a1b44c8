package api

import (
	"errors"
	"net/http"

	models "TradeLoop/internal/domain/models"
	xhttp "TradeLoop/pkg/http"
)

var kindStatus = map[models.ErrorKind]int{
	models.KindBadInput:         http.StatusBadRequest,
	models.KindInsufficientData: http.StatusUnprocessableEntity,
	models.KindLabelDegenerate:  http.StatusUnprocessableEntity,
	models.KindModelAbsent:      http.StatusNotFound,
	models.KindBrokerRejected:   http.StatusConflict,
	models.KindStoreUnavailable: http.StatusServiceUnavailable,
	models.KindTimeout:          http.StatusGatewayTimeout,
	models.KindInternal:         http.StatusInternalServerError,
}

// appError converts a domain error into the transport error.
func appError(err error) *xhttp.AppError {
	var ae *xhttp.AppError
	if errors.As(err, &ae) {
		return ae
	}
	kind := models.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := "internal error"
	var de *models.Error
	if errors.As(err, &de) && kind != models.KindInternal {
		msg = de.Message
		if rej, ok := models.AsRejection(err); ok {
			msg = rej.Error()
		}
	}
	return xhttp.NewAppError(string(kind), "", msg, status).WithError(err)
}

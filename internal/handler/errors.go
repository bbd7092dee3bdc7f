package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/domain/product"
	"github.com/xenking/harvest-fulfillment/internal/payment"
)

// statusOf maps a domain error to an HTTP status.
func statusOf(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthenticated), errors.Is(err, errBadSignature):
		return http.StatusUnauthorized
	case order.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, product.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrPaymentAlreadyProcessed),
		errors.Is(err, payment.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, order.ErrPaymentsDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// encodeError writes the error envelope fields of err into an open object.
func encodeError(e *jx.Encoder, code int, err error) {
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	if code == http.StatusInternalServerError {
		e.Str("internal error")
	} else {
		e.Str(publicMessage(err))
	}
	var lineErr *order.LineError
	if errors.As(err, &lineErr) {
		e.FieldStart("productId")
		e.Str(lineErr.ProductID)
	}
	var trErr *order.TransitionError
	if errors.As(err, &trErr) {
		e.FieldStart("from")
		e.Str(string(trErr.From))
		e.FieldStart("to")
		e.Str(string(trErr.To))
	}
}

// publicMessage strips wrapping context added inside the service and keeps
// the most specific domain message.
func publicMessage(err error) string {
	var lineErr *order.LineError
	if errors.As(err, &lineErr) {
		return lineErr.Error()
	}
	var trErr *order.TransitionError
	if errors.As(err, &trErr) {
		return trErr.Error()
	}
	var bad *badRequestError
	if errors.As(err, &bad) {
		return bad.Error()
	}
	for _, target := range []error{
		errUnauthenticated,
		errBadSignature,
		order.ErrEmptyItems,
		order.ErrInvalidQuantity,
		order.ErrInvalidDeliveryFee,
		order.ErrForbidden,
		order.ErrOrderNotFound,
		product.ErrNotFound,
		order.ErrInvalidState,
		order.ErrPaymentAlreadyProcessed,
		order.ErrPaymentsDisabled,
		payment.ErrInProgress,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	lg := zctx.From(r.Context())
	if code == http.StatusInternalServerError {
		lg.Error("Request failed", zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", code), zap.Error(err))
	}

	var e jx.Encoder
	e.ObjStart()
	encodeError(&e, code, err)
	e.ObjEnd()
	writeRaw(w, code, e.Bytes())
}

func writeRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

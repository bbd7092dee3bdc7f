package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
)

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeProduct(&e, p)
	writeRaw(w, http.StatusOK, e.Bytes())
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decodePlaceOrder(raw)
	if err != nil {
		writeError(w, r, badRequest("invalid order body", err))
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Buyer:           actor,
		Items:           body.Items,
		DeliveryAddress: body.DeliveryAddress,
		DeliveryFee:     body.DeliveryFee,
		Notes:           body.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodePlaceOrderResult(&e, res)
	writeRaw(w, http.StatusCreated, e.Bytes())
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := h.orders.List(r.Context(), actor, f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for i := range orders {
		encodeOrder(&e, &orders[i])
	}
	e.ArrEnd()
	e.ObjEnd()
	writeRaw(w, http.StatusOK, e.Bytes())
}

// parseFilter reads ?status=A,B&status=C&paymentStatus=&limit=&offset=.
func parseFilter(r *http.Request) (order.Filter, error) {
	q := r.URL.Query()
	var f order.Filter
	for _, v := range q["status"] {
		for s := range strings.SplitSeq(v, ",") {
			st := order.Status(strings.ToUpper(strings.TrimSpace(s)))
			if st == "" {
				continue
			}
			if !st.Valid() {
				return f, badRequest("unknown status "+string(st), nil)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := q.Get("paymentStatus"); v != "" {
		ps := order.PaymentStatus(strings.ToUpper(v))
		switch ps {
		case order.PaymentPending, order.PaymentPaid, order.PaymentFailed:
			f.PaymentStatus = ps
		default:
			return f, badRequest("unknown payment status "+v, nil)
		}
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, badRequest("invalid limit", err)
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, badRequest("invalid offset", err)
	}
	return f, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Get(r.Context(), r.PathValue("id"), actor)
	h.writeOrder(w, r, o, err)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decodeTransition(raw)
	if err != nil {
		writeError(w, r, badRequest("invalid status body", err))
		return
	}
	if !body.Status.Valid() {
		writeError(w, r, badRequest("unknown status "+string(body.Status), nil))
		return
	}

	o, err := h.orders.Transition(r.Context(), r.PathValue("id"), body.Status, actor, body.Note)
	h.writeOrder(w, r, o, err)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body transitionBody
	if len(strings.TrimSpace(string(raw))) > 0 {
		if body, err = decodeTransition(raw); err != nil {
			writeError(w, r, badRequest("invalid cancel body", err))
			return
		}
	}

	o, err := h.orders.Cancel(r.Context(), r.PathValue("id"), actor, body.Note)
	h.writeOrder(w, r, o, err)
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.orders.InitiatePayment(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("paymentUrl")
	e.Str(res.PaymentURL)
	e.FieldStart("transactionId")
	e.Str(res.TransactionID)
	e.ObjEnd()
	writeRaw(w, http.StatusOK, e.Bytes())
}

// paymentCallback accepts {"orderId","transactionId","status":"SUCCESS|FAILED"}
// signed by the gateway.
func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	if h.callback == nil {
		writeError(w, r, order.ErrPaymentsDisabled)
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.callback.Verify(raw, r.Header.Get(headerSignature)); err != nil {
		writeError(w, r, err)
		return
	}
	body, err := decodeCallback(raw)
	if err != nil {
		writeError(w, r, badRequest("invalid callback body", err))
		return
	}
	if body.OrderID == "" {
		writeError(w, r, badRequest("orderId required", nil))
		return
	}

	var paid bool
	switch strings.ToUpper(body.Status) {
	case "SUCCESS", "PAID":
		paid = true
	case "FAILED":
	default:
		writeError(w, r, badRequest("unknown payment status "+body.Status, nil))
		return
	}

	o, err := h.orders.RecordPayment(r.Context(), body.OrderID, body.TransactionID, paid)
	h.writeOrder(w, r, o, err)
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, o *order.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeRaw(w, http.StatusOK, e.Bytes())
}

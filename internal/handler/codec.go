package handler

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
	"github.com/xenking/harvest-fulfillment/internal/domain/product"
)

type placeOrderBody struct {
	Items           []order.Line
	DeliveryAddress string
	DeliveryFee     decimal.Decimal
	Notes           string
}

type transitionBody struct {
	Status order.Status
	Note   string
}

type callbackBody struct {
	OrderID       string
	TransactionID string
	Status        string
}

func decodePlaceOrder(raw []byte) (placeOrderBody, error) {
	var b placeOrderBody
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				b.Items = append(b.Items, l)
				return nil
			})
		case "deliveryAddress":
			return optStr(d, &b.DeliveryAddress)
		case "deliveryFee":
			fee, err := decodeMoney(d)
			b.DeliveryFee = fee
			return err
		case "notes":
			return optStr(d, &b.Notes)
		default:
			return d.Skip()
		}
	})
	return b, err
}

func decodeLine(d *jx.Decoder) (order.Line, error) {
	var l order.Line
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			l.ProductID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}

// decodeMoney accepts a JSON string or number.
func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	var s string
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		s = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		s = n.String()
	default:
		return decimal.Zero, errors.New("amount must be a string or number")
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse amount")
	}
	return v, nil
}

func decodeTransition(raw []byte) (transitionBody, error) {
	var b transitionBody
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			var s string
			err := optStr(d, &s)
			b.Status = order.Status(s)
			return err
		case "note", "reason":
			return optStr(d, &b.Note)
		default:
			return d.Skip()
		}
	})
	return b, err
}

func decodeCallback(raw []byte) (callbackBody, error) {
	var b callbackBody
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "orderId":
			return optStr(d, &b.OrderID)
		case "transactionId":
			return optStr(d, &b.TransactionID)
		case "status":
			return optStr(d, &b.Status)
		default:
			return d.Skip()
		}
	})
	return b, err
}

func optStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	*dst = v
	return err
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.StringFixed(2))
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("vendorId")
	e.Str(p.VendorID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("unitPrice")
	money(e, p.UnitPrice)
	e.FieldStart("quantityAvailable")
	e.Int(p.QuantityAvailable)
	e.FieldStart("minimumOrderQuantity")
	e.Int(p.MinimumOrderQuantity)
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("buyerId")
	e.Str(o.BuyerID)
	e.FieldStart("vendorId")
	e.Str(o.VendorID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("totalAmount")
	money(e, o.TotalAmount)
	e.FieldStart("deliveryFee")
	money(e, o.DeliveryFee)
	e.FieldStart("amountDue")
	money(e, o.AmountDue())
	e.FieldStart("deliveryAddress")
	e.Str(o.DeliveryAddress)
	e.FieldStart("paymentStatus")
	e.Str(string(o.PaymentStatus))
	if o.PaymentRefID != "" {
		e.FieldStart("paymentRefId")
		e.Str(o.PaymentRefID)
	}
	if o.Notes != "" {
		e.FieldStart("notes")
		e.Str(o.Notes)
	}
	e.FieldStart("version")
	e.Int(o.Version)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	if o.Items != nil {
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(it.ID)
			e.FieldStart("productId")
			e.Str(it.ProductID)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			e.FieldStart("priceAtOrder")
			money(e, it.PriceAtOrder)
			e.FieldStart("lineTotal")
			money(e, it.LineTotal())
			e.ObjEnd()
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

func encodePlaceOrderResult(e *jx.Encoder, res *order.PlaceOrderResult) {
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for _, o := range res.Orders {
		encodeOrder(e, o)
	}
	e.ArrEnd()
	e.FieldStart("failed")
	e.ArrStart()
	for _, f := range res.Failed {
		e.ObjStart()
		e.FieldStart("vendorId")
		e.Str(f.VendorID)
		e.FieldStart("productIds")
		e.ArrStart()
		for _, id := range f.ProductIDs {
			e.Str(id)
		}
		e.ArrEnd()
		encodeError(e, statusOf(f.Err), f.Err)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

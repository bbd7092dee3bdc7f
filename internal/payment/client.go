// Package payment talks to the external payment gateway.
package payment

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
)

// Config configures the gateway client.
type Config struct {
	URL         string
	Token       string
	CallbackURL string
	Timeout     time.Duration
}

// Client initiates payments with POST {URL}/payments.
type Client struct {
	url         string
	token       string
	callbackURL string
	http        *http.Client
}

var _ order.PaymentInitiator = (*Client)(nil)

// NewClient creates a gateway client with instrumented transport.
func NewClient(cfg Config, tp trace.TracerProvider, mp metric.MeterProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		url:         strings.TrimRight(cfg.URL, "/"),
		token:       cfg.Token,
		callbackURL: cfg.CallbackURL,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
	}
}

// Initiate asks the gateway to collect req.Amount. The order id doubles as
// the gateway idempotency key.
func (c *Client) Initiate(ctx context.Context, req order.PaymentRequest) (*order.PaymentResult, error) {
	var body jx.Encoder
	body.ObjStart()
	body.FieldStart("orderId")
	body.Str(req.OrderID)
	body.FieldStart("amount")
	body.Str(req.Amount.StringFixed(2))
	body.FieldStart("currency")
	body.Str(req.Currency)
	if req.PayerContact != "" {
		body.FieldStart("payerContact")
		body.Str(req.PayerContact)
	}
	if c.callbackURL != "" {
		body.FieldStart("callbackUrl")
		body.Str(c.callbackURL)
	}
	body.ObjEnd()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/payments", bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.OrderID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "send")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, errors.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	res, err := decodeInitiate(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if !res.success {
		return nil, errors.Errorf("gateway declined: %s", res.errMsg)
	}
	return &order.PaymentResult{
		PaymentURL:    res.paymentURL,
		TransactionID: res.transactionID,
	}, nil
}

type initiateResponse struct {
	success       bool
	paymentURL    string
	transactionID string
	errMsg        string
}

func decodeInitiate(raw []byte) (initiateResponse, error) {
	var r initiateResponse
	str := func(d *jx.Decoder, dst *string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		*dst = v
		return err
	}
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "success":
			v, err := d.Bool()
			r.success = v
			return err
		case "paymentUrl":
			return str(d, &r.paymentURL)
		case "transactionId":
			return str(d, &r.transactionID)
		case "error":
			return str(d, &r.errMsg)
		default:
			return d.Skip()
		}
	})
	return r, err
}

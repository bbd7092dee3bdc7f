// Package sms is a client for the SMS gateway.
package sms

import (
	"bytes"
	"context"
	"fmt"
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

// Config configures the SMS gateway client.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client sends order status messages through the gateway's
// POST {URL}/messages endpoint.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// New creates a gateway client with instrumented transport.
func New(cfg Config, tp trace.TracerProvider, mp metric.MeterProvider) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		url:   strings.TrimRight(cfg.URL, "/"),
		token: cfg.Token,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithMeterProvider(mp),
			),
		},
	}
}

// SendOrderStatus texts phone about the new status of an order. A response
// with success=false is returned as an error.
func (c *Client) SendOrderStatus(ctx context.Context, phone, orderID string, status order.Status) error {
	var body jx.Encoder
	body.ObjStart()
	body.FieldStart("to")
	body.Str(phone)
	body.FieldStart("reference")
	body.Str(orderID)
	body.FieldStart("message")
	body.Str(Message(orderID, status))
	body.ObjEnd()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/messages", bytes.NewReader(body.Bytes()))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "send")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	res, err := decodeResult(raw)
	if err != nil {
		return errors.Wrap(err, "decode response")
	}
	if !res.success {
		return errors.Errorf("gateway rejected message: %s", res.errMsg)
	}
	return nil
}

// Message is the text sent for a status change.
func Message(orderID string, status order.Status) string {
	ref := orderID
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return fmt.Sprintf("Order %s update: %s", ref, strings.ToLower(strings.ReplaceAll(string(status), "_", " ")))
}

type result struct {
	success bool
	errMsg  string
}

func decodeResult(raw []byte) (result, error) {
	var r result
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "success":
			v, err := d.Bool()
			r.success = v
			return err
		case "error":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			r.errMsg = v
			return err
		default:
			return d.Skip()
		}
	})
	return r, err
}

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paymentsys/txnengine/internal/interfaces"
	"github.com/paymentsys/txnengine/internal/metrics"
	"github.com/paymentsys/txnengine/internal/models"
	"github.com/paymentsys/txnengine/internal/telemetry"
)

// Config holds gateway credentials and call policy. OutboundSecret signs
// payment requests; InboundSecret verifies webhook notifications.
type Config struct {
	BaseURL        string
	MerchantLogin  string
	OutboundSecret string
	InboundSecret  string
	TestMode       bool
	Digest         Digest
	Timeout        time.Duration
	MaxRetries     uint64
}

// Client implements interfaces.GatewayClient for the Robokassa query-string
// protocol.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Digest == "" {
		cfg.Digest = DigestMD5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// BuildPaymentRequest assembles the outbound parameter set, signs it with
// the outbound secret and returns the redirect URL. The signature is
// appended last so the verification order stays reproducible.
func (c *Client) BuildPaymentRequest(amount decimal.Decimal, orderID, description string, contact *interfaces.Contact, extra map[string]string) (*interfaces.PaymentRequest, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", models.ErrValidation)
	}

	isTest := "0"
	if c.cfg.TestMode {
		isTest = "1"
	}

	params := []interfaces.Param{
		{Key: "MerchantLogin", Value: c.cfg.MerchantLogin},
		{Key: "Sum", Value: amount.StringFixed(2)},
		{Key: "InvId", Value: orderID},
		{Key: "Description", Value: description},
		{Key: "IsTest", Value: isTest},
	}
	if contact != nil {
		if contact.Email != "" {
			params = append(params, interfaces.Param{Key: "Email", Value: contact.Email})
		}
		if contact.Phone != "" {
			params = append(params, interfaces.Param{Key: "Phone", Value: contact.Phone})
		}
	}
	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			params = append(params, interfaces.Param{Key: k, Value: extra[k]})
		}
	}

	signature := Sign(SignatureFields{
		MerchantLogin: c.cfg.MerchantLogin,
		Amount:        amount,
		OrderID:       orderID,
		Extra:         extra,
	}, c.cfg.OutboundSecret, c.cfg.Digest)
	params = append(params, interfaces.Param{Key: "SignatureValue", Value: signature})

	telemetry.Logger.Info("Built payment request",
		zap.String("order_id", orderID),
		zap.String("sum", amount.StringFixed(2)),
	)

	return &interfaces.PaymentRequest{
		URL:       c.cfg.BaseURL + "/Basket.aspx?" + encodeOrdered(params),
		Params:    params,
		Signature: signature,
	}, nil
}

// BuildSBPPaymentRequest is the SBP variant: it adds PaymentMethod=SBP and
// an optional Phone to the extra parameter set. No other field changes.
func (c *Client) BuildSBPPaymentRequest(amount decimal.Decimal, orderID, description, phone string) (*interfaces.PaymentRequest, error) {
	extra := map[string]string{"PaymentMethod": "SBP"}
	if phone != "" {
		extra["Phone"] = phone
	}
	return c.BuildPaymentRequest(amount, orderID, description, nil, extra)
}

// ParseWebhook maps raw gateway fields into a WebhookEvent, failing with a
// validation error on missing or unparseable required fields.
func (c *Client) ParseWebhook(raw map[string]string) (*models.WebhookEvent, error) {
	for _, field := range []string{"InvId", "Sum", "SignatureValue", "MerchantLogin"} {
		if raw[field] == "" {
			return nil, fmt.Errorf("%w: missing required field %s", models.ErrValidation, field)
		}
	}

	invoiceID, err := strconv.ParseInt(raw["InvId"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid InvId format", models.ErrValidation)
	}
	amount, err := decimal.NewFromString(raw["Sum"])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Sum format", models.ErrValidation)
	}

	return &models.WebhookEvent{
		InvoiceID:     invoiceID,
		OrderID:       raw["InvId"],
		Amount:        amount,
		Signature:     raw["SignatureValue"],
		MerchantLogin: raw["MerchantLogin"],
		OperationID:   raw["OperationId"],
		IsTest:        raw["IsTest"] == "1",
	}, nil
}

// Authenticate verifies the webhook signature and merchant identity. On
// success the returned event records which secret matched.
func (c *Client) Authenticate(event *models.WebhookEvent) (*models.WebhookEvent, error) {
	role, err := Verify(SignatureFields{
		MerchantLogin: c.cfg.MerchantLogin,
		Amount:        event.Amount,
		OrderID:       event.OrderID,
	}, event.Signature, c.cfg.InboundSecret, c.cfg.OutboundSecret, c.cfg.Digest)
	if err != nil {
		telemetry.Logger.Warn("Webhook signature verification failed",
			zap.String("order_id", event.OrderID),
		)
		return nil, err
	}

	if event.MerchantLogin != c.cfg.MerchantLogin {
		telemetry.Logger.Warn("Webhook merchant mismatch",
			zap.String("order_id", event.OrderID),
			zap.String("merchant", event.MerchantLogin),
		)
		return nil, fmt.Errorf("%w: order %s", models.ErrMerchantMismatch, event.OrderID)
	}

	authenticated := *event
	authenticated.SecretUsed = role
	telemetry.Logger.Info("Webhook authenticated",
		zap.String("order_id", event.OrderID),
		zap.String("secret_used", string(role)),
	)
	return &authenticated, nil
}

// CheckStatus polls the gateway for an order's state. The call is retried
// with exponential backoff up to the configured cap; the final failure is
// reported as a gateway timeout.
func (c *Client) CheckStatus(ctx context.Context, orderID string) (string, error) {
	signature := Sign(SignatureFields{
		MerchantLogin: c.cfg.MerchantLogin,
		Amount:        decimal.Zero,
		OrderID:       orderID,
	}, c.cfg.OutboundSecret, c.cfg.Digest)

	query := url.Values{}
	query.Set("MerchantLogin", c.cfg.MerchantLogin)
	query.Set("InvId", orderID)
	query.Set("Signature", signature)
	statusURL := c.cfg.BaseURL + "/Merchant/WebService/Service.asmx/OpState?" + query.Encode()

	var body string
	operation := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		metrics.GatewayLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("gateway returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("gateway returned %d", resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = strings.TrimSpace(string(data))
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", fmt.Errorf("%w: status check for order %s: %v", models.ErrGatewayTimeout, orderID, err)
	}
	return body, nil
}

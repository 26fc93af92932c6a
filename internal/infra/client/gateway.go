package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/resilience"
)

// GatewayClient creates PIX charges at the payment provider.
// It implements port.PaymentGateway.
type GatewayClient struct {
	rest *resty.Client
	cb   *gobreaker.CircuitBreaker
	cfg  resilience.Config
}

// NewGatewayClient creates a GatewayClient sharing httpClient's transport and timeout.
func NewGatewayClient(httpClient *http.Client, baseURL, apiKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *GatewayClient {
	rest := resty.NewWithClient(httpClient).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		rest.SetAuthToken(apiKey)
	}
	return &GatewayClient{rest: rest, cb: cb, cfg: cfg}
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateCharge asks the gateway for a PIX charge. The transaction id is sent
// as the idempotency key, so a retried request never creates a second charge.
func (c *GatewayClient) CreateCharge(ctx context.Context, req *domain.ChargeRequest) (*domain.Charge, error) {
	ctx, span := tracer.Start(ctx, "GatewayClient.CreateCharge")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaction.id", req.TransactionID),
		attribute.String("amount", req.Amount.String()),
	)

	result, err := c.cb.Execute(func() (any, error) {
		var charge domain.Charge
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var apiErr gatewayError
			resp, err := c.rest.R().
				SetContext(ctx).
				SetHeader("Idempotency-Key", req.TransactionID).
				SetBody(req).
				SetResult(&charge).
				SetError(&apiErr).
				Post("/v1/charges")
			if err != nil {
				return err
			}

			switch status := resp.StatusCode(); {
			case status == http.StatusOK || status == http.StatusCreated:
				if charge.ID == "" {
					return resilience.Permanent(fmt.Errorf("gateway returned a charge without id"))
				}
				return nil
			case status == http.StatusTooManyRequests || status >= 500:
				return fmt.Errorf("gateway returned status %d", status)
			default:
				return resilience.Permanent(fmt.Errorf("gateway rejected charge (%d %s): %s", status, apiErr.Code, apiErr.Message))
			}
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return &charge, nil
	})
	if err != nil {
		return nil, translate("gateway", err)
	}
	return result.(*domain.Charge), nil
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// CatalogClient resolves seller accounts and products from the marketplace
// catalog API. It implements port.AccountDirectory and port.ProductCatalog.
type CatalogClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

// NewCatalogClient creates a new CatalogClient.
func NewCatalogClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *CatalogClient {
	return &CatalogClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

// GetAccount fetches a seller account with retry, circuit breaker, and tracing.
func (c *CatalogClient) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "CatalogClient.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	var account domain.Account
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(accountID), "account", accountID, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetProduct fetches a product with retry, circuit breaker, and tracing.
func (c *CatalogClient) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	ctx, span := tracer.Start(ctx, "CatalogClient.GetProduct")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID))

	var product domain.Product
	if err := c.get(ctx, "/v1/products/"+url.PathEscape(productID), "product", productID, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *CatalogClient) get(ctx context.Context, path, resource, id string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return resilience.Permanent(&domain.ErrNotFound{Resource: resource, ID: id})
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return resilience.Permanent(fmt.Errorf("catalog API returned status %d", resp.StatusCode))
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("catalog API returned status %d", resp.StatusCode)
			}

			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resilience.Permanent(fmt.Errorf("decoding %s: %w", resource, err))
			}
			return nil
		})
	})
	return translate("catalog", err)
}

// translate maps transport failures into domain errors, keeping NotFound intact.
func translate(service string, err error) error {
	if err == nil {
		return nil
	}
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		return nf
	}
	if resilience.IsOpen(err) {
		return &domain.ErrCircuitOpen{Service: service}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: service}
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}

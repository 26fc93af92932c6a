package domain

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================
// Catalog collaborators (read-only)
// ============================================================

// Account is a seller account as known by the surrounding application.
type Account struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Active bool   `json:"active"`
}

// Product is a listed product.
type Product struct {
	ID              string `json:"id"`
	SellerAccountID string `json:"seller_account_id"`
	Name            string `json:"name"`
	Price           Money  `json:"price"`
}

// ============================================================
// Sales
// ============================================================

// SaleStatus is the lifecycle state of a sale.
type SaleStatus string

const (
	SaleStatusPending SaleStatus = "pending"
	SaleStatusPaid    SaleStatus = "paid"
	SaleStatusFailed  SaleStatus = "failed"
	SaleStatusExpired SaleStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s SaleStatus) IsTerminal() bool {
	return s == SaleStatusPaid || s == SaleStatusFailed || s == SaleStatusExpired
}

// Buyer identifies who paid.
type Buyer struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Document string `json:"document,omitempty"` // CPF or CNPJ
}

// Sale is one payment attempt for a product.
type Sale struct {
	ID              string     `json:"id"`
	TransactionID   string     `json:"transaction_id"`
	ChargeID        string     `json:"charge_id"` // gateway reference; equals TransactionID on the direct path
	ProductID       string     `json:"product_id"`
	SellerAccountID string     `json:"seller_account_id"`
	Buyer           Buyer      `json:"buyer"`
	GrossAmount     Money      `json:"gross_amount"`
	Commission      Money      `json:"commission"`
	NetAmount       Money      `json:"net_amount"`
	Status          SaleStatus `json:"status"`
	PixCopyPaste    string     `json:"pix_copy_paste,omitempty"`
	ChargeExpiresAt *time.Time `json:"charge_expires_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreateSaleRequest is the input of both sale paths.
type CreateSaleRequest struct {
	ProductID       string `json:"product_id"`
	SellerAccountID string `json:"seller_account_id"`
	GrossAmount     Money  `json:"gross_amount"`
	Buyer           Buyer  `json:"buyer"`
}

// ============================================================
// Payment gateway (PIX charge creation)
// ============================================================

// ChargeRequest asks the gateway for a PIX charge.
type ChargeRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        Money  `json:"amount"`
	Description   string `json:"description,omitempty"`
	Buyer         Buyer  `json:"buyer"`
}

// Charge is the gateway's answer: an opaque id plus the PIX payload.
type Charge struct {
	ID         string    `json:"id"`
	CopyPaste  string    `json:"copy_paste"`
	QRCodeURL  string    `json:"qr_code_url,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	ProviderTS time.Time `json:"created_at"`
}

// ParseSaleStatus accepts the wire form used in query strings.
func ParseSaleStatus(s string) (SaleStatus, error) {
	switch st := SaleStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case SaleStatusPending, SaleStatusPaid, SaleStatusFailed, SaleStatusExpired:
		return st, nil
	}
	return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown sale status '%s'", s)}
}

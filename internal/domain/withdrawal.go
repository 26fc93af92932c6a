package domain

import (
	"fmt"
	"strings"
	"time"
)

// WithdrawalStatus is the state of a payout request.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalApproved || s == WithdrawalRejected
}

// ParseWithdrawalStatus accepts the wire form used in query strings.
func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	switch st := WithdrawalStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case WithdrawalPending, WithdrawalApproved, WithdrawalRejected:
		return st, nil
	}
	return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown withdrawal status '%s'", s)}
}

// Destination is where the seller wants the payout sent: a PIX key or bank data.
type Destination struct {
	PixKey     string `json:"pix_key,omitempty"`
	PixKeyType string `json:"pix_key_type,omitempty"` // cpf, cnpj, email, phone, random
	BankCode   string `json:"bank_code,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Account    string `json:"account,omitempty"`
	HolderName string `json:"holder_name,omitempty"`
}

// Validate requires either a PIX key or a complete bank account.
func (d Destination) Validate() error {
	if d.PixKey != "" {
		return nil
	}
	if d.BankCode == "" || d.Branch == "" || d.Account == "" {
		return &ErrValidation{Field: "destination", Message: "pix_key or bank_code/branch/account required"}
	}
	return nil
}

// WithdrawalRequest is one payout attempt.
type WithdrawalRequest struct {
	ID              string           `json:"id"`
	SellerAccountID string           `json:"seller_account_id"`
	Amount          Money            `json:"amount"`
	Destination     Destination      `json:"destination"`
	Status          WithdrawalStatus `json:"status"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	DecidedBy       string           `json:"decided_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// WithdrawalTransition describes a guarded status change. The store applies it
// only if the record is still in From.
type WithdrawalTransition struct {
	From            WithdrawalStatus
	To              WithdrawalStatus
	RejectionReason string
	DecidedBy       string
	At              time.Time
}

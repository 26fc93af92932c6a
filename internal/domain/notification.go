package domain

import "time"

// NotificationKind names the outbound message template.
type NotificationKind string

const (
	NotifySaleSettled        NotificationKind = "sale.settled"
	NotifyWithdrawalApproved NotificationKind = "withdrawal.approved"
	NotifyWithdrawalRejected NotificationKind = "withdrawal.rejected"
)

// Notification is a fire-and-forget message to a seller.
type Notification struct {
	Kind        NotificationKind  `json:"kind"`
	AccountID   string            `json:"account_id"`
	Email       string            `json:"email,omitempty"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	ReferenceID string            `json:"reference_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AdjustBalanceRequest is the body of POST /v1/dev/adjust-balance.
type AdjustBalanceRequest struct {
	AccountID string `json:"account_id"`
	Amount    Money  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// RejectWithdrawalRequest is the body of POST /v1/withdrawals/{id}/reject.
type RejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

// CreateWithdrawalRequest is the body of POST /v1/withdrawals.
type CreateWithdrawalRequest struct {
	SellerAccountID string      `json:"seller_account_id"`
	Amount          Money       `json:"amount"`
	Destination     Destination `json:"destination"`
}

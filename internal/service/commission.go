package service

import (
	"github.com/shopspring/decimal"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/domain"
)

// Commission is the platform fee rule: gross * Rate + FixedFee.
type Commission struct {
	Rate     decimal.Decimal
	FixedFee domain.Money
}

// DefaultCommission is 5% plus R$ 1,00.
var DefaultCommission = Commission{
	Rate:     decimal.RequireFromString("0.05"),
	FixedFee: domain.MoneyFromMinor(100),
}

// Split returns the platform commission and the seller's net amount.
// commission + net always equals gross exactly.
func (c Commission) Split(gross domain.Money) (commission, net domain.Money, err error) {
	if !gross.IsPositive() {
		return domain.Zero, domain.Zero, &domain.ErrInvalidAmount{Value: gross.String(), Reason: "gross amount must be greater than zero"}
	}
	commission = gross.MulRate(c.Rate).Add(c.FixedFee)
	net = gross.Sub(commission)
	if net.IsNegative() {
		return domain.Zero, domain.Zero, &domain.ErrInvalidAmount{
			Value:  gross.String(),
			Reason: "commission " + commission.String() + " exceeds gross amount",
		}
	}
	return commission, net, nil
}

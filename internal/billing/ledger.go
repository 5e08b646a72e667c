package billing

import "github.com/shopspring/decimal"

// Total sums line amounts.
func Total(lines []LineInput) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

// Balance is total minus everything paid so far.
func Balance(total, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(paid)
}

// ApplyPayment validates amount against the current balance and returns the
// balance after it. settled is true exactly when the new balance is zero.
func ApplyPayment(total, paid, amount decimal.Decimal) (balance decimal.Decimal, settled bool, err error) {
	if !amount.IsPositive() {
		return decimal.Zero, false, ErrInvalidAmount
	}
	if amount.Exponent() < -2 {
		return decimal.Zero, false, ErrInvalidAmount.WithMessage("amount has more than two decimal places")
	}
	current := Balance(total, paid)
	if amount.GreaterThan(current) {
		return current, false, ErrOverPayment.WithMessage("payment of " + amount.StringFixed(2) +
			" exceeds balance due of " + current.StringFixed(2))
	}
	balance = current.Sub(amount)
	return balance, balance.IsZero(), nil
}

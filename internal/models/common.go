package models

// Money is an amount in the currency's minor unit (kobo, cents).
// Ledger and order amounts never use floating point.
type Money = int64

// Currency is an ISO 4217 code
type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyGHS Currency = "GHS"
	CurrencyUSD Currency = "USD"
)

// PaymentProvider identifies the gateway that issued a reference
type PaymentProvider string

const (
	PaymentProviderPaystack PaymentProvider = "paystack"
)

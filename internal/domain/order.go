package domain

import "github.com/shopspring/decimal"

// OrderType is the venue order type. Only market orders are submitted.
type OrderType string

const OrderTypeMarket OrderType = "market"

// OrderRequest describes a single market order leg.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	Subaccount int
}

// OrderResult is the outcome of one submission. Submissions never return an
// error; every failure path collapses to Success == false.
type OrderResult struct {
	Success       bool
	ClientOrderID string
	StatusCode    int    // 0 when no HTTP response was received
	Message       string // response body or transport error on failure
}

// PairResult holds the outcome of a concurrently submitted buy/sell pair.
type PairResult struct {
	Buy  OrderResult
	Sell OrderResult
}

// Filled reports whether both legs succeeded.
func (p PairResult) Filled() bool {
	return p.Buy.Success && p.Sell.Success
}

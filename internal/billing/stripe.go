// Package billing mirrors token top-ups to Stripe so finance can reconcile
// the in-app ledger against customer balances. It is optional: when no API
// key is configured the rest of the system runs without it, and a Stripe
// failure never blocks a top-up.
package billing

import (
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// Reporter posts top-up events to Stripe.
type Reporter struct {
	client *client.API

	mu sync.Mutex
	// customersByUser caches the Stripe customer created for each user so
	// repeated top-ups reuse it.
	customersByUser map[int64]string
}

// NewReporter creates a Stripe reporter with the given API key.
func NewReporter(apiKey string) (*Reporter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}

	c := &client.API{}
	c.Init(apiKey, nil)

	return &Reporter{
		client:          c,
		customersByUser: make(map[int64]string),
	}, nil
}

// RecordTopUp credits the user's Stripe customer balance with the topped-up
// token amount. The customer is created on first use.
func (r *Reporter) RecordTopUp(userID int64, tokens int64) error {
	customerID, err := r.customerFor(userID)
	if err != nil {
		return fmt.Errorf("failed to resolve stripe customer: %w", err)
	}

	// Negative amounts credit the customer balance.
	params := &stripe.CustomerBalanceTransactionParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(-tokens),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(fmt.Sprintf("token top-up: %d tokens", tokens)),
	}
	if _, err := r.client.CustomerBalanceTransactions.New(params); err != nil {
		return fmt.Errorf("failed to record balance transaction: %w", err)
	}
	return nil
}

// customerFor returns the Stripe customer ID for userID, creating the
// customer on first call.
func (r *Reporter) customerFor(userID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.customersByUser[userID]; ok {
		return id, nil
	}

	customer, err := r.client.Customers.New(&stripe.CustomerParams{
		Description: stripe.String(fmt.Sprintf("chatmeter user %d", userID)),
	})
	if err != nil {
		return "", err
	}

	r.customersByUser[userID] = customer.ID
	return customer.ID, nil
}

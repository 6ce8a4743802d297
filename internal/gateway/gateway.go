package gateway

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the payment provider could not be reached or
// answered with a server error. Callers may retry; no local state is
// committed when it is returned.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Payment statuses reported by the provider.
const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// Session is the provider's representation of a checkout.
type Session struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// LineItem is a single priced position in a checkout session.
type LineItem struct {
	Name        string `json:"name"`
	AmountCents int64  `json:"amount_cents"`
	Quantity    int64  `json:"quantity"`
}

type CreateSessionParams struct {
	LineItems  []LineItem        `json:"line_items"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata"`
}

// Gateway is the narrow contract the points service needs from a payment
// provider. The live payment status returned by RetrieveSession is the
// source of truth for whether a session was paid.
type Gateway interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	RetrieveSession(ctx context.Context, id string) (*Session, error)
}

package adapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
)

type CheckoutRequest struct {
	PriceID    string `json:"price_id"`
	Quantity   int    `json:"quantity"`
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"customer_email,omitempty"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Payments creates hosted checkout sessions with the payment provider.
type Payments struct {
	c *Client
}

func NewPayments(c *Client) *Payments { return &Payments{c: c} }

func (p *Payments) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	var out CheckoutSession
	if err := p.c.Do(ctx, http.MethodPost, "/v1/checkout/sessions", req, &out); err != nil {
		return nil, classifyProvider(err, "checkout")
	}
	if out.ID == "" || out.URL == "" {
		return nil, apperr.Internal(errors.New("payment provider returned an empty checkout session"))
	}
	return &out, nil
}

// classifyProvider maps provider rejections that are the caller's fault to
// the taxonomy. Everything else stays unclassified and surfaces as a 500.
func classifyProvider(err error, what string) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperr.From(err, apperr.KindValidation, "Invalid "+what+" request")
	case http.StatusNotFound:
		return apperr.From(err, apperr.KindNotFound, "")
	case http.StatusConflict:
		return apperr.From(err, apperr.KindConflict, "")
	}
	return err
}

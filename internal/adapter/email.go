package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

type Message struct {
	From     string            `json:"from"`
	To       []string          `json:"to"`
	Subject  string            `json:"subject,omitempty"`
	Text     string            `json:"text,omitempty"`
	Template string            `json:"template,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

// Mailer sends transactional email and manages list membership with the
// email provider.
type Mailer struct {
	c    *Client
	from string
}

func NewMailer(c *Client, from string) *Mailer { return &Mailer{c: c, from: from} }

func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("mailer: message has no recipients")
	}
	if msg.From == "" {
		msg.From = m.from
	}
	return classifyProvider(m.c.Do(ctx, http.MethodPost, "/v1/messages", msg, nil), "email")
}

// Subscribe adds email to list. Re-subscribing an existing member is not an error.
func (m *Mailer) Subscribe(ctx context.Context, list, email string) error {
	body := map[string]string{"email": email}
	err := m.c.Do(ctx, http.MethodPost, "/v1/lists/"+url.PathEscape(list)+"/members", body, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return nil
	}
	return classifyProvider(err, "subscription")
}

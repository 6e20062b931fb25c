package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EmailChannel posts to a SendGrid-style v3 mail API.
type EmailChannel struct {
	Endpoint string
	APIKey   string
	From     string
	Client   *http.Client
}

func NewEmailChannel(endpoint, apiKey, from string) *EmailChannel {
	return &EmailChannel{
		Endpoint: endpoint,
		APIKey:   apiKey,
		From:     from,
		Client:   &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(ctx context.Context, e Event) error {
	if e.RiderEmail == "" {
		return fmt.Errorf("event has no rider email")
	}
	subject, body := subjectFor(e)
	return c.SendMail(ctx, e.RiderEmail, subject, body)
}

// SendMail delivers one message; also exposed directly via POST /notify/email.
func (c *EmailChannel) SendMail(ctx context.Context, to, subject, content string) error {
	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": to}}},
		},
		"from":    map[string]string{"email": c.From},
		"subject": subject,
		"content": []map[string]string{{"type": "text/plain", "value": content}},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("email provider returned %d", resp.StatusCode)
	}
	return nil
}

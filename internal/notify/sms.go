package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMSChannel posts to a Twilio-style messages API (form-encoded, basic auth).
type SMSChannel struct {
	Endpoint   string // .../Accounts/{sid}/Messages.json
	AccountSID string
	AuthToken  string
	From       string
	Client     *http.Client
}

func NewSMSChannel(endpoint, sid, token, from string) *SMSChannel {
	return &SMSChannel{
		Endpoint:   endpoint,
		AccountSID: sid,
		AuthToken:  token,
		From:       from,
		Client:     &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Send(ctx context.Context, e Event) error {
	if e.RiderPhone == "" {
		return fmt.Errorf("event has no rider phone")
	}
	_, body := subjectFor(e)
	return c.SendSMS(ctx, e.RiderPhone, body)
}

// SendSMS delivers one message; also exposed directly via POST /notify/sms.
func (c *SMSChannel) SendSMS(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.From)
	form.Set("Body", body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider returned %d", resp.StatusCode)
	}
	return nil
}

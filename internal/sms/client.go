package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/realtime-gateway/internal/config"
)

// OtpSender delivers one-time codes to phone numbers.
type OtpSender interface {
	SendOtp(ctx context.Context, phone, code string) error
}

// Client talks to the pattern-SMS provider.
type Client struct {
	cfg    config.SMSConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds an SMS client.
func NewClient(cfg config.SMSConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type patternRequest struct {
	Code      string            `json:"code"`
	Sender    string            `json:"sender"`
	Recipient string            `json:"recipient"`
	Variable  map[string]string `json:"variable"`
}

// SendOtp delivers a one-time code through the provider's pattern API.
// Without a configured provider the send is skipped and the code is logged
// at debug level instead, which keeps local development working.
func (c *Client) SendOtp(ctx context.Context, phone, code string) error {
	if c.cfg.BaseURL == "" {
		c.logger.Warn("sms provider not configured, skipping send", zap.String("phone", phone))
		c.logger.Debug("undelivered otp code", zap.String("phone", phone), zap.String("code", code))
		return nil
	}

	body, err := json.Marshal(patternRequest{
		Code:      c.cfg.OtpPatternID,
		Sender:    c.senderNumber(),
		Recipient: phone,
		Variable:  map[string]string{"code": code},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sms provider returned status %d", resp.StatusCode)
	}
	return nil
}

// senderNumber alternates between the configured line numbers.
func (c *Client) senderNumber() string {
	if c.cfg.Sender2 == "" {
		return c.cfg.Sender1
	}
	if rand.Intn(2) == 0 {
		return c.cfg.Sender1
	}
	return c.cfg.Sender2
}

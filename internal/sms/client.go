// Package sms предоставляет клиент SMS-шлюза Africa's Talking и асинхронную отправку уведомлений.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender отправляет одно SMS-сообщение.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// Client инкапсулирует HTTP-взаимодействие с SMS-шлюзом.
type Client struct {
	baseURL    string
	username   string
	apiKey     string
	from       string
	httpClient *http.Client
}

type sendResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// NewClient создаёт клиент шлюза по адресу baseURL с учётными данными username/apiKey.
func NewClient(baseURL, username, apiKey, from string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiKey:   apiKey,
		from:     from,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send отправляет сообщение на номер phone. Ошибка возвращается и при отказе шлюза по получателю.
func (c *Client) Send(ctx context.Context, phone, message string) error {
	if c == nil || c.baseURL == "" || c.apiKey == "" {
		return fmt.Errorf("sms client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("to", phone)
	form.Set("message", message)
	if c.from != "" {
		form.Set("from", c.from)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	for _, r := range result.SMSMessageData.Recipients {
		// 100-102: Processed, Sent, Queued
		if r.StatusCode < 100 || r.StatusCode > 102 {
			return fmt.Errorf("recipient %s rejected: %s", r.Number, r.Status)
		}
	}

	return nil
}

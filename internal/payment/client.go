package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gmartinezc/sorteapp/internal/models"
	"github.com/gmartinezc/sorteapp/internal/raffle"
)

type Config struct {
	BaseURL         string
	ClientID        string
	SecretKey       string
	WebhookSecret   string
	NotificationURL string
	BackURL         string
}

// Preference is a gateway checkout session: the buyer is redirected to
// RedirectURL and the gateway reports back referencing the order id.
type Preference struct {
	ID          string
	RedirectURL string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// CreatePreference opens a checkout session for a pending order. The order
// id travels as the external reference so callbacks can be reconciled.
func (c *Client) CreatePreference(order *models.Order, product *models.Product, payerEmail string) (*Preference, error) {
	numbers := order.SelectedNumbers()
	body := map[string]interface{}{
		"external_reference": order.ID.String(),
		"notification_url":   c.cfg.NotificationURL,
		"back_urls": map[string]string{
			"success": c.cfg.BackURL,
			"failure": c.cfg.BackURL,
			"pending": c.cfg.BackURL,
		},
		"items": []map[string]interface{}{
			{
				"id":         product.ID.String(),
				"title":      fmt.Sprintf("%s - %d numbers", product.Name, len(numbers)),
				"quantity":   1,
				"unit_price": order.TotalAmount,
			},
		},
		"payer": map[string]string{
			"email": payerEmail,
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	respBody, err := c.do(http.MethodPost, "/checkout/preferences", jsonBody)
	if err != nil {
		return nil, err
	}

	var response struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parsing preference response: %w", err)
	}
	if response.ID == "" || response.InitPoint == "" {
		return nil, fmt.Errorf("gateway returned an incomplete preference")
	}
	return &Preference{ID: response.ID, RedirectURL: response.InitPoint}, nil
}

// GetPayment fetches the authoritative status of a gateway payment.
func (c *Client) GetPayment(id string) (*raffle.ProviderPayment, error) {
	respBody, err := c.do(http.MethodGet, "/v1/payments/"+id, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		ExternalReference string `json:"external_reference"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parsing payment response: %w", err)
	}
	return &raffle.ProviderPayment{
		ID:                response.ID,
		Status:            response.Status,
		ExternalReference: response.ExternalReference,
	}, nil
}

func (c *Client) do(method, path string, jsonBody []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.cfg.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	signer := NewRequestSigner(c.cfg.ClientID, c.cfg.SecretKey, path)
	for key, value := range signer.Headers(string(jsonBody)) {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gateway responded %d on %s %s", resp.StatusCode, method, path)
	}
	return respBody, nil
}

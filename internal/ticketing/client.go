package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"busline/backend/internal/models"

	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL string
	// RPS caps outbound calls. Zero disables throttling.
	RPS float64
}

// Client talks to the ticket issuance service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenManager
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticket service status %d: %s", e.StatusCode, e.Body)
}

type Passenger struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
}

type IssueRequest struct {
	OrderID    string    `json:"orderId"`
	RouteID    string    `json:"routeId"`
	Passenger  Passenger `json:"passenger"`
	SeatNumber *int      `json:"seatNumber,omitempty"`
	Total      int64     `json:"total"`
}

type issueResponse struct {
	TicketID string `json:"ticketId"`
	URL      string `json:"url"`
}

func NewClient(cfg Config, tm *TokenManager, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: httpClient,
		tokens:     tm,
		limiter:    limiter,
		logger:     logger,
	}
}

// IssueTicket requests a ticket for a confirmed order.
func (c *Client) IssueTicket(ctx context.Context, order models.Order) (models.TicketInfo, error) {
	var out models.TicketInfo
	if c.baseURL == "" {
		return out, models.ErrDownstreamUnavailable
	}
	payload, err := json.Marshal(IssueRequest{
		OrderID: order.ID,
		RouteID: order.RouteID,
		Passenger: Passenger{
			FullName: order.FullName,
			Phone:    order.Phone,
			Email:    order.Email,
		},
		SeatNumber: order.SeatNumber,
		Total:      order.Total,
	})
	if err != nil {
		return out, err
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/tickets", order.ID, payload)
	if err != nil {
		return out, err
	}
	var resp issueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return out, fmt.Errorf("decode ticket response: %w", err)
	}
	if strings.TrimSpace(resp.TicketID) == "" {
		return out, errors.New("ticket response missing ticketId")
	}
	out.TicketID = strings.TrimSpace(resp.TicketID)
	out.URL = strings.TrimSpace(resp.URL)
	return out, nil
}

// do sends one request. The ticket service deduplicates by idempotencyKey, so a
// request rejected with 401 is resent once with a freshly fetched token.
func (c *Client) do(ctx context.Context, method, pathPart, idempotencyKey string, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, token, err := c.send(ctx, method, pathPart, idempotencyKey, payload)
		var apiErr *APIError
		if attempt == 0 && token != "" && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate(token)
			if c.logger != nil {
				c.logger.Warn("ticket_api_response", "status", "token_rejected", "path", pathPart)
			}
			continue
		}
		return body, err
	}
}

func (c *Client) send(ctx context.Context, method, pathPart, idempotencyKey string, payload []byte) ([]byte, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}
	}

	target := c.baseURL + path.Clean("/"+strings.TrimSpace(pathPart))
	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	var token string
	if c.tokens != nil {
		token, err = c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, token, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, token, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, token, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if c.logger != nil {
		c.logger.Debug("ticket_api_response", "method", method, "path", pathPart, "status", resp.StatusCode)
	}
	return body, token, nil
}

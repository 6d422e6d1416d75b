package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"omnichat-platform/internal/apperr"
	"omnichat-platform/internal/connections"
	"omnichat-platform/internal/contacts"

	"github.com/go-resty/resty/v2"
)

// GatewayClient talks to a wuzapi-style REST chat gateway. The connection
// token authenticates the session on every call.
type GatewayClient struct {
	http *resty.Client
	log  *slog.Logger
}

func NewGatewayClient(baseURL string, timeout time.Duration, log *slog.Logger) (*GatewayClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway baseURL cannot be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &GatewayClient{http: client, log: log}, nil
}

type sendTextRequest struct {
	Phone string `json:"Phone"`
	Body  string `json:"Body"`
}

type sendTextResponse struct {
	Success bool `json:"success"`
	Data    struct {
		ID string `json:"Id"`
	} `json:"data"`
}

func (g *GatewayClient) Send(ctx context.Context, conn connections.Connection, to Identity, body string) (MessageHandle, error) {
	const op = "transport.Send"
	if conn.Token == "" {
		return MessageHandle{}, apperr.Validation(op, "connection %s has no token", conn.ID)
	}
	if to.Address == "" {
		return MessageHandle{}, apperr.Validation(op, "recipient address is required")
	}

	var out sendTextResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader("Token", conn.Token).
		SetBody(sendTextRequest{Phone: to.Address, Body: body}).
		SetResult(&out).
		Post("/chat/send/text")
	if err != nil {
		g.log.Error("gateway send request failed", "connection_id", conn.ID, "err", err)
		return MessageHandle{}, apperr.Transport(op, err)
	}
	if resp.IsError() {
		g.log.Error("gateway send returned an error", "connection_id", conn.ID, "status", resp.StatusCode(), "body", resp.String())
		return MessageHandle{}, apperr.Transport(op, fmt.Errorf("status %s", resp.Status()))
	}
	if !out.Success {
		return MessageHandle{}, apperr.Transport(op, fmt.Errorf("gateway rejected message"))
	}
	return MessageHandle{ID: out.Data.ID}, nil
}

func (g *GatewayClient) ResolveIdentity(ctx context.Context, c contacts.Contact) (Identity, error) {
	return IdentityOf(c)
}

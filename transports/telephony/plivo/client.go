// Package plivo originates outbound calls through the Plivo Voice API and renders the
// answer markup Plivo fetches once the callee picks up.
package plivo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/runtime/provider/contracts"
	"github.com/tiger/discharge-followup/providers/common/httpadapter"
)

const (
	ProviderID = "plivo"

	DefaultBaseURL = "https://api.plivo.com/v1"
)

type Config struct {
	AuthID     string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

func ConfigFromEnv(env providerconfig.Env) Config {
	return Config{
		AuthID:     env.Value("PLIVO_AUTH_ID", ""),
		AuthToken:  env.Value("PLIVO_AUTH_TOKEN", ""),
		FromNumber: env.Value("PLIVO_FROM_NUMBER", ""),
		BaseURL:    env.Value("PLIVO_API_BASE", DefaultBaseURL),
		Timeout:    env.Duration("PLIVO_TIMEOUT", 15*time.Second),
	}
}

// Client is a contracts.Dialer backed by the Plivo Call API.
type Client struct {
	cfg    Config
	client *httpadapter.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	client, err := httpadapter.New(httpadapter.Config{
		ProviderID:    ProviderID,
		Endpoint:      fmt.Sprintf("%s/Account/%s/Call/", strings.TrimRight(cfg.BaseURL, "/"), cfg.AuthID),
		BasicAuthUser: cfg.AuthID,
		BasicAuthPass: cfg.AuthToken,
		Timeout:       cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, client: client}, nil
}

func (c *Client) ProviderID() string {
	return ProviderID
}

type dialRequest struct {
	From         string `json:"from"`
	To           string `json:"to"`
	AnswerURL    string `json:"answer_url"`
	AnswerMethod string `json:"answer_method"`
	HangupURL    string `json:"hangup_url,omitempty"`
	HangupMethod string `json:"hangup_method,omitempty"`
}

type dialResponse struct {
	Message     string `json:"message"`
	RequestUUID string `json:"request_uuid"`
}

// Dial originates one call. Plivo fetches req.AnswerURL when the callee answers and
// posts the final call state to req.HangupURL.
func (c *Client) Dial(ctx context.Context, req contracts.DialRequest) (contracts.DialResult, error) {
	if c.cfg.AuthID == "" || c.cfg.AuthToken == "" || c.cfg.FromNumber == "" {
		return contracts.DialResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonMissingConfig, errors.New("auth id, auth token and from number are required"))
	}
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.AnswerURL) == "" {
		return contracts.DialResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonClientError, errors.New("destination and answer url are required"))
	}
	body := dialRequest{
		From:         c.cfg.FromNumber,
		To:           req.To,
		AnswerURL:    req.AnswerURL,
		AnswerMethod: http.MethodPost,
	}
	if req.HangupURL != "" {
		body.HangupURL = req.HangupURL
		body.HangupMethod = http.MethodPost
	}
	resp, err := c.client.PostJSON(ctx, httpadapter.Request{}, body)
	if err != nil {
		return contracts.DialResult{}, err
	}
	var parsed dialResponse
	if err := c.client.DecodeJSON(resp, &parsed); err != nil {
		return contracts.DialResult{}, err
	}
	if strings.TrimSpace(parsed.RequestUUID) == "" {
		return contracts.DialResult{}, contracts.NewProviderError(ProviderID, contracts.ReasonParse, errors.New("response has no request_uuid"))
	}
	return contracts.DialResult{ProviderCallID: parsed.RequestUUID}, nil
}

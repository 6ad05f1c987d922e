// Package backend is the chat server REST client for call bookkeeping.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type Client struct {
	base  string
	token string
	hc    *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.URL, "/"),
		token: cfg.Token,
		hc:    &http.Client{Timeout: cfg.Timeout},
	}
}

type createCallRequest struct {
	ChatID domain.ChatID   `json:"chat_id"`
	Type   domain.CallType `json:"type"`
}

type createCallResponse struct {
	CallID      domain.CallID      `json:"call_id"`
	ChannelName domain.ChannelName `json:"channel_name"`
}

type joinCallResponse struct {
	Token       string             `json:"token"`
	ChannelName domain.ChannelName `json:"channel_name"`
	UID         uint32             `json:"uid"`
	ChatID      domain.ChatID      `json:"chat_id"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) CreateCall(ctx context.Context, chatID domain.ChatID, typ domain.CallType) (core.CallAllocation, error) {
	var resp createCallResponse
	if err := c.do(ctx, http.MethodPost, "/api/calls", createCallRequest{ChatID: chatID, Type: typ}, &resp); err != nil {
		return core.CallAllocation{}, domain.NewError(domain.KindBackendFailure, "create call", err)
	}
	if resp.CallID == "" {
		return core.CallAllocation{}, domain.NewError(domain.KindBackendFailure, "create call", fmt.Errorf("empty call id"))
	}
	return core.CallAllocation{CallID: resp.CallID, ChannelName: resp.ChannelName}, nil
}

func (c *Client) JoinCall(ctx context.Context, callID domain.CallID) (core.JoinCredentials, error) {
	var resp joinCallResponse
	path := "/api/calls/" + url.PathEscape(string(callID)) + "/join"
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return core.JoinCredentials{}, domain.NewError(domain.KindBackendFailure, "join call", err)
	}
	return core.JoinCredentials{
		Token:       resp.Token,
		ChannelName: resp.ChannelName,
		UID:         domain.ParticipantID(resp.UID),
		ChatID:      resp.ChatID,
	}, nil
}

func (c *Client) EndCall(ctx context.Context, callID domain.CallID) error {
	path := "/api/calls/" + url.PathEscape(string(callID)) + "/end"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return domain.NewError(domain.KindBackendFailure, "end call", err)
	}
	return nil
}

func (c *Client) FetchRelayToken(ctx context.Context) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodGet, "/api/relay/token", nil, &resp); err != nil {
		return "", domain.NewError(domain.KindBackendFailure, "relay token", err)
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	log.Debug().
		Str("module", "backend").
		Str("method", method).
		Str("path", path).
		Int("status", res.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if res.StatusCode >= 300 {
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, res.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: %d", method, path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

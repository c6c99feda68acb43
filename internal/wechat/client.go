// Package wechat talks to the WeChat mini-program auth API.
package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/t59688/btx/internal/config"
)

type Client struct {
	apiBase    string
	appID      string
	appSecret  string
	httpClient *http.Client
}

// Session is the identity WeChat resolves for a login code.
type Session struct {
	OpenID     string `json:"openid"`
	UnionID    string `json:"unionid"`
	SessionKey string `json:"session_key"`
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		apiBase:   strings.TrimRight(cfg.WechatAPIBase, "/"),
		appID:     cfg.WechatAppID,
		appSecret: cfg.WechatAppSecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CodeToSession exchanges a wx.login code for the user's openid.
func (c *Client) CodeToSession(ctx context.Context, code string) (*Session, error) {
	params := url.Values{}
	params.Set("appid", c.appID)
	params.Set("secret", c.appSecret)
	params.Set("js_code", code)
	params.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/sns/jscode2session?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build jscode2session request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jscode2session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jscode2session status %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode jscode2session response: %w", err)
	}
	if session.ErrCode != 0 {
		return nil, fmt.Errorf("jscode2session error %d: %s", session.ErrCode, session.ErrMsg)
	}
	if session.OpenID == "" {
		return nil, fmt.Errorf("jscode2session response missing openid")
	}
	return &session, nil
}

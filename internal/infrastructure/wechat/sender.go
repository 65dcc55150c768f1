package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/config"
	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/apiclient"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

const tokenSkew = 5 * time.Minute

// Sender delivers subscribe messages through the WeChat mini-program API.
type Sender struct {
	api      *apiclient.Client
	tokenURL string
	sendURL  string
	appID    string
	secret   string
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

var _ ports.PushSender = (*Sender)(nil)

// NewSender registers app credentials and endpoints.
func NewSender(cfg config.WeChatConfig, api *apiclient.Client) *Sender {
	return &Sender{
		api:      api,
		tokenURL: cfg.TokenURL,
		sendURL:  cfg.SendURL,
		appID:    cfg.AppID,
		secret:   cfg.Secret,
		now:      time.Now,
	}
}

type apiStatus struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (s apiStatus) err() error {
	if s.ErrCode != 0 {
		return fmt.Errorf("wechat errcode %d: %s", s.ErrCode, s.ErrMsg)
	}
	return nil
}

type tokenResponse struct {
	apiStatus
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type templateValue struct {
	Value string `json:"value"`
}

type sendPayload struct {
	ToUser     string                   `json:"touser"`
	TemplateID string                   `json:"template_id"`
	Data       map[string]templateValue `json:"data"`
}

// Send posts one templated message; a non-zero errcode is an upstream failure.
func (s *Sender) Send(ctx context.Context, msg domain.PushMessage) error {
	if s.appID == "" || s.secret == "" {
		return fmt.Errorf("wechat sender misconfigured")
	}
	if msg.Recipient == "" || msg.TemplateID == "" {
		return fmt.Errorf("wechat: recipient and template are required")
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	payload := sendPayload{
		ToUser:     msg.Recipient,
		TemplateID: msg.TemplateID,
		Data:       make(map[string]templateValue, len(msg.Data)),
	}
	for key, value := range msg.Data {
		payload.Data[key] = templateValue{Value: value}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	endpoint, err := withQuery(s.sendURL, url.Values{"access_token": {token}})
	if err != nil {
		return err
	}

	_, err = s.api.Call(ctx, apiclient.Request{
		Name:   "wechat.send",
		Method: http.MethodPost,
		URL:    endpoint,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
		Check: func(resp apiclient.Response) error {
			var status apiStatus
			if err := resp.DecodeJSON(&status); err != nil {
				return err
			}
			return status.err()
		},
	})
	return err
}

func (s *Sender) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Before(s.expiresAt) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	endpoint, err := withQuery(s.tokenURL, url.Values{
		"grant_type": {"client_credential"},
		"appid":      {s.appID},
		"secret":     {s.secret},
	})
	if err != nil {
		return "", err
	}

	var parsed tokenResponse
	_, err = s.api.Call(ctx, apiclient.Request{
		Name:   "wechat.token",
		Method: http.MethodGet,
		URL:    endpoint,
		Check: func(resp apiclient.Response) error {
			parsed = tokenResponse{}
			if err := resp.DecodeJSON(&parsed); err != nil {
				return err
			}
			if err := parsed.err(); err != nil {
				return err
			}
			if parsed.AccessToken == "" {
				return fmt.Errorf("wechat: empty access token")
			}
			return nil
		},
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.token = parsed.AccessToken
	s.expiresAt = s.now().Add(time.Duration(parsed.ExpiresIn)*time.Second - tokenSkew)
	s.mu.Unlock()
	return parsed.AccessToken, nil
}

func withQuery(base string, values url.Values) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid wechat url %s: %w", base, err)
	}
	query := parsed.Query()
	for key, vs := range values {
		for _, v := range vs {
			query.Set(key, v)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

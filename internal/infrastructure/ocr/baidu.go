package ocr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pangshuai227/ai-stocklink/internal/config"
	"github.com/pangshuai227/ai-stocklink/internal/infrastructure/apiclient"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

// tokenSkew refreshes the access token slightly before it expires.
const tokenSkew = 5 * time.Minute

// Client implements ports.Recognizer with Baidu's general OCR endpoint.
type Client struct {
	api       *apiclient.Client
	tokenURL  string
	endpoint  string
	apiKey    string
	secretKey string
	now       func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

var _ ports.Recognizer = (*Client)(nil)

// NewClient builds a recognizer from configuration.
func NewClient(cfg config.OCRConfig, api *apiclient.Client) *Client {
	return &Client{
		api:       api,
		tokenURL:  cfg.TokenURL,
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		now:       time.Now,
	}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type recognizeResponse struct {
	ErrorCode   int    `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
	WordsResult []struct {
		Words string `json:"words"`
	} `json:"words_result"`
}

// Recognize submits a base64 image (data-URL prefix allowed) and returns the
// recognized lines in reading order.
func (c *Client) Recognize(ctx context.Context, imageBase64 string) ([]string, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return nil, fmt.Errorf("ocr client misconfigured")
	}
	image := StripDataURL(imageBase64)
	if image == "" {
		return nil, fmt.Errorf("ocr: empty image")
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("ocr endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("access_token", token)
	endpoint.RawQuery = query.Encode()

	form := url.Values{}
	form.Set("image", image)

	var parsed recognizeResponse
	_, err = c.api.Call(ctx, apiclient.Request{
		Name:   "ocr.recognize",
		Method: http.MethodPost,
		URL:    endpoint.String(),
		Header: http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:   []byte(form.Encode()),
		Check: func(resp apiclient.Response) error {
			parsed = recognizeResponse{}
			if err := resp.DecodeJSON(&parsed); err != nil {
				return err
			}
			if parsed.ErrorCode != 0 {
				return fmt.Errorf("ocr error %d: %s", parsed.ErrorCode, parsed.ErrorMsg)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(parsed.WordsResult))
	for _, item := range parsed.WordsResult {
		lines = append(lines, item.Words)
	}
	return lines, nil
}

// accessToken returns a cached token or fetches a new one. The lock is never
// held across the network call.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	params := url.Values{}
	params.Set("grant_type", "client_credentials")
	params.Set("client_id", c.apiKey)
	params.Set("client_secret", c.secretKey)

	var parsed tokenResponse
	_, err := c.api.Call(ctx, apiclient.Request{
		Name:   "ocr.token",
		Method: http.MethodPost,
		URL:    c.tokenURL + "?" + params.Encode(),
		Check: func(resp apiclient.Response) error {
			parsed = tokenResponse{}
			if err := resp.DecodeJSON(&parsed); err != nil {
				return err
			}
			if parsed.AccessToken == "" {
				return fmt.Errorf("token error %s: %s", parsed.Error, parsed.ErrorDescription)
			}
			return nil
		},
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = parsed.AccessToken
	c.expiresAt = c.now().Add(time.Duration(parsed.ExpiresIn)*time.Second - tokenSkew)
	c.mu.Unlock()
	return parsed.AccessToken, nil
}

// StripDataURL removes a "data:image/...;base64," prefix if present.
func StripDataURL(image string) string {
	image = strings.TrimSpace(image)
	if idx := strings.Index(image, ","); idx >= 0 {
		return image[idx+1:]
	}
	return image
}

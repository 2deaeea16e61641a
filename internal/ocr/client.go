package ocr

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://rest-api.xfyun.cn"
	itrPath        = "/v2/itr"

	appIDEnv     = "FORMULACHAT_OCR_APP_ID"
	apiKeyEnv    = "FORMULACHAT_OCR_API_KEY"
	apiSecretEnv = "FORMULACHAT_OCR_API_SECRET"
)

// Client calls the formula recognition endpoint. One-shot request/response,
// no state of its own.
type Client struct {
	baseURL   string
	host      string
	appID     string
	apiKey    string
	apiSecret string
	http      *http.Client
}

// NewClientFromEnv reads credentials from the environment. baseURL may be
// empty for the production endpoint; tests point it at a local server.
func NewClientFromEnv(baseURL string) (*Client, error) {
	appID := strings.TrimSpace(os.Getenv(appIDEnv))
	apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv))
	apiSecret := strings.TrimSpace(os.Getenv(apiSecretEnv))
	if appID == "" || apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("%s, %s and %s must be set", appIDEnv, apiKeyEnv, apiSecretEnv)
	}
	return NewClient(baseURL, appID, apiKey, apiSecret)
}

// NewClient builds a client with explicit credentials.
func NewClient(baseURL, appID, apiKey, apiSecret string) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid ocr base url %q", baseURL)
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		host:      u.Host,
		appID:     appID,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type itrResponse struct {
	Data struct {
		Region []struct {
			Recog struct {
				Content string `json:"content"`
			} `json:"recog"`
		} `json:"region"`
	} `json:"data"`
}

// Recognize submits one base64-encoded image and returns the raw response.
func (c *Client) Recognize(ctx context.Context, imageBase64 string) (json.RawMessage, error) {
	payload := map[string]any{
		"common": map[string]string{
			"app_id": c.appID,
		},
		"business": map[string]string{
			"ent": "teach-photo-print",
			"aue": "raw",
		},
		"data": map[string]string{
			"image": imageBase64,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+itrPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	date := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	digest := "SHA-256=" + base64Sum(body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", c.host)
	req.Header.Set("Date", date)
	req.Header.Set("Digest", digest)
	req.Header.Set("Authorization", c.authorization(date, digest))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr endpoint returned status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return raw, nil
}

// ImageToLatex runs recognition and stitches the recognized lines into one
// latex string, swapping the engine's begin/end markers for `$` delimiters.
func (c *Client) ImageToLatex(ctx context.Context, imageBase64 string) (string, error) {
	raw, err := c.Recognize(ctx, imageBase64)
	if err != nil {
		return "", err
	}
	var parsed itrResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse ocr response: %w", err)
	}
	var text strings.Builder
	for _, region := range parsed.Data.Region {
		line := region.Recog.Content
		line = strings.ReplaceAll(line, " ifly-latex-begin ", "$")
		line = strings.ReplaceAll(line, " ifly-latex-end ", "$")
		text.WriteString(line)
	}
	return text.String(), nil
}

// authorization assembles the HMAC-SHA256 signature over the host, date,
// request line and body digest, in the exact header order the endpoint
// verifies.
func (c *Client) authorization(date, digest string) string {
	var source strings.Builder
	source.WriteString("host: " + c.host + "\n")
	source.WriteString("date: " + date + "\n")
	source.WriteString("POST " + itrPath + " HTTP/1.1\n")
	source.WriteString("digest: " + digest)

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(source.String()))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf(`api_key=%q, algorithm="hmac-sha256", headers="host date request-line digest", signature=%q`,
		c.apiKey, signature)
}

func base64Sum(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	YandexName         = "yandex"
	YandexOCRURL       = "https://ocr.api.cloud.yandex.net/ocr/v1/recognizeText"
	YandexIAMURL       = "https://iam.api.cloud.yandex.net/iam/v1/tokens"
	YandexDefaultModel = "handwritten"

	iamTokenTTL = 11 * time.Hour
)

// YandexConfig holds configuration for the Yandex Vision OCR client.
type YandexConfig struct {
	OAuthToken string
	FolderID   string
	Model      string   // "handwritten" (default), "page"
	Languages  []string // Default ["ko"]
	OCRURL     string   // Optional (tests)
	IAMURL     string   // Optional (tests)
	HTTPClient *http.Client
}

// YandexClient implements OCRProvider using Yandex Vision recognizeText.
type YandexClient struct {
	folderID  string
	model     string
	languages []string
	ocrURL    string
	client    *http.Client
	iam       *iamTokens
}

// NewYandexClient creates a Yandex OCR client.
func NewYandexClient(cfg YandexConfig) (*YandexClient, error) {
	if cfg.OAuthToken == "" || cfg.FolderID == "" {
		return nil, errors.New("yandex: oauth token and folder id are required")
	}
	if cfg.Model == "" {
		cfg.Model = YandexDefaultModel
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"ko"}
	}
	if cfg.OCRURL == "" {
		cfg.OCRURL = YandexOCRURL
	}
	if cfg.IAMURL == "" {
		cfg.IAMURL = YandexIAMURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &YandexClient{
		folderID:  cfg.FolderID,
		model:     cfg.Model,
		languages: cfg.Languages,
		ocrURL:    cfg.OCRURL,
		client:    client,
		iam:       &iamTokens{oauth: cfg.OAuthToken, url: cfg.IAMURL, client: client},
	}, nil
}

// Name returns the provider identifier.
func (c *YandexClient) Name() string {
	return YandexName
}

type yandexRequest struct {
	Content       string   `json:"content"`
	MimeType      string   `json:"mimeType,omitempty"`
	LanguageCodes []string `json:"languageCodes,omitempty"`
	Model         string   `json:"model,omitempty"`
}

type yandexResponse struct {
	Result *struct {
		TextAnnotation *struct {
			FullText string `json:"fullText,omitempty"`
			Blocks   []struct {
				Lines []struct {
					Text string `json:"text,omitempty"`
				} `json:"lines,omitempty"`
			} `json:"blocks,omitempty"`
		} `json:"textAnnotation,omitempty"`
	} `json:"result,omitempty"`
}

// Recognize sends the image to recognizeText. Lines become fragments.
func (c *YandexClient) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	start := time.Now()
	token, err := c.iam.get(ctx)
	if err != nil {
		return nil, err
	}

	mime := "PNG"
	if DetectImageMIME(image) == "image/jpeg" {
		mime = "JPEG"
	}
	body, err := json.Marshal(yandexRequest{
		Content:       base64.StdEncoding.EncodeToString(image),
		MimeType:      mime,
		LanguageCodes: c.languages,
		Model:         c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("yandex: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ocrURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("yandex: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-folder-id", c.folderID)
	req.Header.Set("x-data-logging-enabled", "false")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yandex: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yandex: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.iam.invalidate()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(YandexName, resp, respBody)
	}

	var parsed yandexResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("yandex: unmarshal response: %w", err)
	}

	var fragments []string
	if parsed.Result != nil && parsed.Result.TextAnnotation != nil {
		ta := parsed.Result.TextAnnotation
		for _, b := range ta.Blocks {
			for _, l := range b.Lines {
				fragments = append(fragments, l.Text)
			}
		}
		if len(fragments) == 0 && strings.TrimSpace(ta.FullText) != "" {
			fragments = strings.Fields(ta.FullText)
		}
	}
	return &OCRResult{
		Text:          JoinFragments(fragments),
		Fragments:     fragments,
		Provider:      YandexName,
		ExecutionTime: time.Since(start),
	}, nil
}

// iamTokens exchanges the OAuth token for an IAM token and caches it.
type iamTokens struct {
	oauth  string
	url    string
	client *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (t *iamTokens) get(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Now().Before(t.expires.Add(-time.Minute)) {
		return t.token, nil
	}

	body, _ := json.Marshal(map[string]string{"yandexPassportOauthToken": t.oauth})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("yandex iam: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("yandex iam: request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", statusError("yandex iam", resp, respBody)
	}

	var out struct {
		IamToken string `json:"iamToken"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("yandex iam: unmarshal response: %w", err)
	}
	if out.IamToken == "" {
		return "", errors.New("yandex iam: empty token")
	}
	t.token = out.IamToken
	t.expires = time.Now().Add(iamTokenTTL)
	return t.token, nil
}

func (t *iamTokens) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}

var _ OCRProvider = (*YandexClient)(nil)

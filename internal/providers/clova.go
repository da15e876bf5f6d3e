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
	"time"

	"github.com/google/uuid"
)

const ClovaName = "clova"

// ClovaConfig holds configuration for the CLOVA general OCR client.
type ClovaConfig struct {
	URL        string // Invoke URL of the CLOVA OCR domain
	Secret     string // X-OCR-SECRET
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ClovaClient implements OCRProvider using the NAVER CLOVA OCR V2 API.
type ClovaClient struct {
	url    string
	secret string
	client *http.Client
}

// NewClovaClient creates a CLOVA OCR client.
func NewClovaClient(cfg ClovaConfig) (*ClovaClient, error) {
	if cfg.URL == "" || cfg.Secret == "" {
		return nil, errors.New("clova: url and secret are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ClovaClient{url: cfg.URL, secret: cfg.Secret, client: client}, nil
}

// Name returns the provider identifier.
func (c *ClovaClient) Name() string {
	return ClovaName
}

type clovaImage struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	Data   string `json:"data"`
}

type clovaRequest struct {
	Images    []clovaImage `json:"images"`
	RequestID string       `json:"requestId"`
	Version   string       `json:"version"`
	Timestamp int64        `json:"timestamp"`
}

type clovaImageResult struct {
	InferResult string `json:"inferResult"`
	Message     string `json:"message"`
	Fields      []struct {
		InferText string `json:"inferText"`
	} `json:"fields"`
}

type clovaResponse struct {
	Images []clovaImageResult `json:"images"`
}

// Recognize sends the image and joins the inferred fields.
func (c *ClovaClient) Recognize(ctx context.Context, image []byte) (*OCRResult, error) {
	start := time.Now()
	requestID := uuid.NewString()

	body, err := json.Marshal(clovaRequest{
		Images: []clovaImage{{
			Format: imageFormat(DetectImageMIME(image)),
			Name:   "answer_sheet",
			Data:   base64.StdEncoding.EncodeToString(image),
		}},
		RequestID: requestID,
		Version:   "V2",
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("clova: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("clova: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OCR-SECRET", c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clova: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("clova: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ClovaName, resp, respBody)
	}

	var parsed clovaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("clova: unmarshal response: %w", err)
	}
	// No images means nothing was read; restoration still gets the crop.
	var img clovaImageResult
	if len(parsed.Images) > 0 {
		img = parsed.Images[0]
	}
	if img.InferResult != "" && img.InferResult != "SUCCESS" {
		return nil, permanent(fmt.Errorf("clova: inference %s: %s", img.InferResult, img.Message))
	}

	fragments := make([]string, 0, len(img.Fields))
	for _, f := range img.Fields {
		fragments = append(fragments, f.InferText)
	}
	return &OCRResult{
		Text:          JoinFragments(fragments),
		Fragments:     fragments,
		Provider:      ClovaName,
		RequestID:     requestID,
		ExecutionTime: time.Since(start),
	}, nil
}

var _ OCRProvider = (*ClovaClient)(nil)

// Package vision calls the external image-classification service that
// verifies report photos. The service is optional; callers must tolerate a
// nil client and treat failures as "unverified".
package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Result is the classification verdict for one image
type Result struct {
	DetectedCategory string  `json:"detectedCategory"`
	Verified         bool    `json:"verified"`
	Confidence       float64 `json:"confidence"`
}

// Client talks to the vision service over HTTP
type Client struct {
	http *resty.Client
}

// NewClient creates a vision client for the given base URL
func NewClient(baseURL, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(1)
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c}
}

// Classify asks the service whether the image at imageURL shows a real
// instance of the expected category.
func (c *Client) Classify(ctx context.Context, imageURL, expectedCategory string) (string, bool, float64, error) {
	var result Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"imageUrl": imageURL,
			"category": expectedCategory,
		}).
		SetResult(&result).
		Post("/v1/classify")
	if err != nil {
		return "", false, 0, fmt.Errorf("vision request failed: %w", err)
	}
	if resp.IsError() {
		return "", false, 0, fmt.Errorf("vision service returned %s", resp.Status())
	}
	return result.DetectedCategory, result.Verified, result.Confidence, nil
}

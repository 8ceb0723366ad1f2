// Package client is a small HTTP client for the prediction API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fire-detection-backend/pkg/api"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIError is returned when the server answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

type Client struct {
	client *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

func parseError(res *resty.Response) error {
	var body api.ErrorResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil || body.Error == "" {
		return &APIError{StatusCode: res.StatusCode(), Message: res.Status()}
	}
	return &APIError{StatusCode: res.StatusCode(), Message: body.Error, Details: body.Details}
}

// Predict uploads the image at path. modelType is yolo or cnn.
func (c *Client) Predict(ctx context.Context, path, modelType string, includeImage bool) (api.PredictResponse, error) {
	var out api.PredictResponse

	res, err := c.client.R().
		SetContext(ctx).
		SetFile("image", path).
		SetFormData(map[string]string{"model_type": modelType}).
		SetQueryParam("include_image", strconv.FormatBool(includeImage)).
		SetResult(&out).
		Post("/predict")
	if err != nil {
		return out, fmt.Errorf("error uploading %s: %w", filepath.Base(path), err)
	}
	if !res.IsSuccess() {
		return out, parseError(res)
	}
	return out, nil
}

func (c *Client) GetResult(ctx context.Context, id uint, includeImage bool) (api.ResultResponse, error) {
	var out api.ResultResponse

	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatUint(uint64(id), 10)).
		SetQueryParam("include_image", strconv.FormatBool(includeImage)).
		SetResult(&out).
		Get("/results/{id}")
	if err != nil {
		return out, fmt.Errorf("error fetching result %d: %w", id, err)
	}
	if !res.IsSuccess() {
		return out, parseError(res)
	}
	return out, nil
}

func (c *Client) GetImage(ctx context.Context, id uint) ([]byte, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", strconv.FormatUint(uint64(id), 10)).
		Get("/get_image/{id}")
	if err != nil {
		return nil, fmt.Errorf("error fetching image %d: %w", id, err)
	}
	if !res.IsSuccess() {
		return nil, parseError(res)
	}
	return res.Body(), nil
}

func (c *Client) Health(ctx context.Context) error {
	var out api.HealthResponse

	res, err := c.client.R().SetContext(ctx).SetResult(&out).Get("/health")
	if err != nil {
		return fmt.Errorf("error reaching server: %w", err)
	}
	if !res.IsSuccess() {
		return parseError(res)
	}
	if out.Status != "ok" {
		return errors.New("server reported unhealthy status: " + out.Status)
	}
	return nil
}

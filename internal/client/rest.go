// Package client is a Go client for the engine's HTTP API and event stream.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lottery-engine/internal/api"
	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"

	"github.com/go-resty/resty/v2"
)

const apiPrefix = "/api/v1"

type Client struct {
	base string
	rest *resty.Client
}

// New returns a client for the server at base, e.g. "http://localhost:8080".
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(2 * time.Minute) // training can be slow
	}
	r.SetHeader("Content-Type", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// errorFor turns a failed response back into an engine error of the matching kind.
func errorFor(status int, msg string) error {
	switch status {
	case http.StatusBadRequest:
		return lottery.InvalidParameter("%s", msg)
	case http.StatusNotFound:
		return lottery.NotFound("%s", msg)
	case http.StatusUnprocessableEntity:
		return lottery.AlgorithmError("%s", msg)
	}
	return fmt.Errorf("lottery-engine: status %d: %s", status, msg)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	env := &envelope{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(env).
		SetError(env)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = resp.String()
		}
		return errorFor(resp.StatusCode(), msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func variantPath(v lottery.Variant, suffix string) string {
	return apiPrefix + "/" + string(v) + suffix
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) Predict(ctx context.Context, req api.PredictionRequest) (*ml.PredictionOutput, error) {
	var out ml.PredictionOutput
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/predict", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Train returns the accuracy per algorithm, 0 for failures.
func (c *Client) Train(ctx context.Context, req api.TrainingRequest) (map[string]float64, error) {
	var out map[string]float64
	err := c.do(ctx, http.MethodPost, apiPrefix+"/train", req, &out)
	return out, err
}

func (c *Client) Collect(ctx context.Context, req api.DataCollectionRequest) (map[string]int, error) {
	var out map[string]int
	err := c.do(ctx, http.MethodPost, apiPrefix+"/collect", req, &out)
	return out, err
}

func (c *Client) Compare(ctx context.Context, v lottery.Variant) ([]api.AlgorithmComparison, error) {
	var out []api.AlgorithmComparison
	err := c.do(ctx, http.MethodGet, variantPath(v, "/compare"), nil, &out)
	return out, err
}

func (c *Client) Available(ctx context.Context, v lottery.Variant) ([]ml.AlgorithmType, error) {
	var out []ml.AlgorithmType
	err := c.do(ctx, http.MethodGet, variantPath(v, "/algorithms"), nil, &out)
	return out, err
}

func (c *Client) Trained(ctx context.Context, v lottery.Variant) ([]ml.AlgorithmType, error) {
	var out []ml.AlgorithmType
	err := c.do(ctx, http.MethodGet, variantPath(v, "/trained"), nil, &out)
	return out, err
}

func (c *Client) Rankings(ctx context.Context, v lottery.Variant) ([]ml.Ranking, error) {
	var out []ml.Ranking
	err := c.do(ctx, http.MethodGet, variantPath(v, "/rankings"), nil, &out)
	return out, err
}

func (c *Client) Metadata(ctx context.Context, v lottery.Variant, algo string) (ml.AlgorithmMetadata, error) {
	var out ml.AlgorithmMetadata
	err := c.do(ctx, http.MethodGet, variantPath(v, "/algorithms/"+algo), nil, &out)
	return out, err
}

// Drawings fetches the newest count drawings, oldest first.
func (c *Client) Drawings(ctx context.Context, v lottery.Variant, count int) ([]lottery.Drawing, error) {
	var out []lottery.Drawing
	err := c.do(ctx, http.MethodGet, variantPath(v, "/drawings?count="+strconv.Itoa(count)), nil, &out)
	return out, err
}

func (c *Client) Drift(ctx context.Context, v lottery.Variant) (api.DriftReport, error) {
	var out api.DriftReport
	err := c.do(ctx, http.MethodGet, variantPath(v, "/drift"), nil, &out)
	return out, err
}

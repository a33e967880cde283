// Package modelgateway is the HTTP client for the external document-AI
// services: OCR field recognition, model-assisted field matching,
// embedding and indexing. The pipeline treats all of them as opaque
// capabilities behind one gateway endpoint.
package modelgateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ragbridge/pipeline/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithResilienceExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecognizeFields runs OCR over the stored document and returns the raw
// source-field candidates the mapping engine works from.
func (c *Client) RecognizeFields(ctx context.Context, storageRef, fileType string) (map[string]string, error) {
	request := map[string]any{
		"storageRef": storageRef,
		"fileType":   fileType,
	}
	var response struct {
		Fields map[string]string `json:"fields"`
	}
	if err := c.postJSON(ctx, "/v1/ocr", request, &response, "ocr"); err != nil {
		return nil, err
	}
	if response.Fields == nil {
		return nil, fmt.Errorf("ocr returned no fields for %s", storageRef)
	}
	return response.Fields, nil
}

// MatchConfidence asks the model service how well a source value binds
// a source field to a target field, 0-100.
func (c *Client) MatchConfidence(ctx context.Context, sourceField, targetField, sourceValue string) (int, error) {
	request := map[string]any{
		"sourceField": sourceField,
		"targetField": targetField,
		"sourceValue": sourceValue,
	}
	var response struct {
		Confidence int `json:"confidence"`
	}
	if err := c.postJSON(ctx, "/v1/field-match", request, &response, "field-match"); err != nil {
		return 0, err
	}
	return response.Confidence, nil
}

func (c *Client) EmbedDocument(ctx context.Context, documentID string, fields map[string]string) error {
	request := map[string]any{
		"documentId": documentID,
		"fields":     fields,
	}
	var response struct {
		Vectors int `json:"vectors"`
	}
	return c.postJSON(ctx, "/v1/embeddings", request, &response, "embed")
}

func (c *Client) IndexDocument(ctx context.Context, documentID string, fields map[string]string) error {
	request := map[string]any{
		"documentId": documentID,
		"fields":     fields,
	}
	var response struct {
		Indexed bool `json:"indexed"`
	}
	return c.postJSON(ctx, "/v1/index", request, &response, "index")
}

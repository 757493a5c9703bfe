// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/northbound/reflect-index/internal/retry"
)

// VoyageDimension is the fixed embedding width of Voyage's voyage-3 family.
const VoyageDimension = 1024

const voyageEndpoint = "https://api.voyageai.com/v1/embeddings"

// VoyageEmbedder calls Voyage AI's hosted embeddings API. Document and
// query text use distinct models/input_type values per Voyage's asymmetric
// retrieval guidance, matching spec.md §4.E's VOYAGE_DOCUMENT_MODEL /
// VOYAGE_QUERY_MODEL split.
type VoyageEmbedder struct {
	apiKey        string
	documentModel string
	queryModel    string
	httpClient    *http.Client
}

// NewVoyageEmbedder constructs a remote Voyage embedder. Empty model names
// fall back to spec.md §6's documented defaults: voyage-3 for documents,
// voyage-3-lite for queries.
func NewVoyageEmbedder(apiKey, documentModel, queryModel string) *VoyageEmbedder {
	if documentModel == "" {
		documentModel = "voyage-3"
	}
	if queryModel == "" {
		queryModel = "voyage-3-lite"
	}
	return &VoyageEmbedder{
		apiKey:        apiKey,
		documentModel: documentModel,
		queryModel:    queryModel,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *VoyageEmbedder) Dimension() int { return VoyageDimension }
func (e *VoyageEmbedder) Suffix() string { return "voyage" }
func (e *VoyageEmbedder) Close() error   { return nil }

// EmbedText embeds a single query string using the query model.
func (e *VoyageEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text}, e.queryModel, "query")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds document chunks using the document model.
func (e *VoyageEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, texts, e.documentModel, "document")
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type voyageErrorBody struct {
	Detail string `json:"detail"`
}

func (e *VoyageEmbedder) embed(ctx context.Context, texts []string, model, inputType string) ([][]float32, error) {
	return retry.Do(ctx, retry.RemotePolicy(), func(ctx context.Context) ([][]float32, error) {
		return e.doRequest(ctx, texts, model, inputType)
	})
}

func (e *VoyageEmbedder) doRequest(ctx context.Context, texts []string, model, inputType string) ([][]float32, error) {
	payload, err := json.Marshal(voyageRequest{Input: texts, Model: model, InputType: inputType})
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("marshal voyage request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build voyage request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voyage request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read voyage response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := 2 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, parseErr := strconv.Atoi(ra); parseErr == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, &retry.RateLimitError{RetryAfter: wait, Err: fmt.Errorf("voyage rate limited: %s", string(body))}
	}

	if resp.StatusCode != http.StatusOK {
		var errBody voyageErrorBody
		_ = json.Unmarshal(body, &errBody)
		msg := errBody.Detail
		if msg == "" {
			msg = string(body)
		}
		err := fmt.Errorf("voyage returned status %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var parsed voyageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode voyage response: %w", err))
	}
	if len(parsed.Data) != len(texts) {
		return nil, retry.Permanent(fmt.Errorf("voyage returned %d embeddings for %d inputs", len(parsed.Data), len(texts)))
	}

	vectors := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}
	return vectors, nil
}

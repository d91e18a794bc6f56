package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesizeLongAudio = "/v1/text:synthesizeLongAudio"
	apiVersionPrefix       = "/v1/"
	apiHealth              = "/health"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// audioEncodingLinear16 asks the service for uncompressed WAV output.
const audioEncodingLinear16 = "LINEAR16"

// Error messages.
const (
	errTextCannotBeEmpty      = "text cannot be empty"
	errOutputKeyCannotBeEmpty = "output key cannot be empty"
	errOperationNameEmpty     = "operation name cannot be empty"
	errResponseMissingName    = "synthesis API returned an operation without a name"
)

// HTTPClient talks to a remote long-running synthesis API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// LongAudioRequest is the JSON payload that starts a synthesis operation.
type LongAudioRequest struct {
	Input       SynthesisInput `json:"input"`
	Voice       VoiceSelection `json:"voice"`
	AudioConfig AudioConfig    `json:"audioConfig"`
	// OutputKey names the staging object the service writes the WAV to.
	OutputKey string `json:"outputKey"`
}

// SynthesisInput carries the text to narrate.
type SynthesisInput struct {
	Text string `json:"text"`
}

// VoiceSelection picks the language and voice.
type VoiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
}

// AudioConfig selects the raw output encoding.
type AudioConfig struct {
	AudioEncoding string `json:"audioEncoding"`
}

// OperationResponse is the remote view of a long-running operation.
type OperationResponse struct {
	Name  string          `json:"name"`
	Done  bool            `json:"done"`
	Error *StatusResponse `json:"error,omitempty"`
}

// StatusResponse is a structured error from the service.
type StatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type errorEnvelope struct {
	Error StatusResponse `json:"error"`
}

// NewHTTPClient creates a client for the synthesis API at baseURL.
// The timeout applies to each HTTP request, not to the operation.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StartSynthesis submits a long-audio synthesis request and returns the
// operation handle. A 429 or RESOURCE_EXHAUSTED response matches
// ErrQuotaExhausted; other failures match ErrInvalidRequest.
func (c *HTTPClient) StartSynthesis(ctx context.Context, req core.SynthesisRequest) (core.Operation, error) {
	if req.Text == "" {
		return core.Operation{}, fmt.Errorf("%w: %s", ErrInvalidRequest, errTextCannotBeEmpty)
	}

	if req.OutputKey == "" {
		return core.Operation{}, fmt.Errorf("%w: %s", ErrInvalidRequest, errOutputKeyCannotBeEmpty)
	}

	payload := LongAudioRequest{
		Input:       SynthesisInput{Text: req.Text},
		Voice:       VoiceSelection{LanguageCode: req.LanguageCode, Name: req.VoiceName},
		AudioConfig: AudioConfig{AudioEncoding: audioEncodingLinear16},
		OutputKey:   req.OutputKey,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return core.Operation{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var opResp OperationResponse

	err = c.doJSON(ctx, http.MethodPost, apiSynthesizeLongAudio, requestBody, &opResp)
	if err != nil {
		return core.Operation{}, err
	}

	if opResp.Name == "" {
		return core.Operation{}, errors.New(errResponseMissingName)
	}

	return toOperation(opResp), nil
}

// GetOperation fetches the current state of a running operation.
func (c *HTTPClient) GetOperation(ctx context.Context, name string) (core.Operation, error) {
	if name == "" {
		return core.Operation{}, errors.New(errOperationNameEmpty)
	}

	var opResp OperationResponse

	err := c.doJSON(ctx, http.MethodGet, apiVersionPrefix+strings.TrimPrefix(name, "/"), nil, &opResp)
	if err != nil {
		return core.Operation{}, err
	}

	if opResp.Name == "" {
		opResp.Name = name
	}

	return toOperation(opResp), nil
}

// HealthCheck verifies that the synthesis service is reachable.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	url := c.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body []byte, target any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	if body != nil {
		httpReq.Header.Set(headerContentType, contentTypeJSON)
	}

	if c.apiKey != "" {
		httpReq.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to synthesis service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	err = json.Unmarshal(respBody, target)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw
// body so diagnostic information is preserved.
func parseErrorResponse(statusCode int, body []byte) error {
	var envelope errorEnvelope

	err := json.Unmarshal(body, &envelope)
	if err == nil && (envelope.Error.Message != "" || envelope.Error.Status != "") {
		return &APIError{
			StatusCode: statusCode,
			Status:     envelope.Error.Status,
			Message:    envelope.Error.Message,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Status:     "",
		Message:    strings.TrimSpace(string(body)),
	}
}

func toOperation(resp OperationResponse) core.Operation {
	op := core.Operation{
		Name:         resp.Name,
		Done:         resp.Done,
		ErrorMessage: "",
	}

	if resp.Error != nil {
		op.ErrorMessage = resp.Error.Message
		if op.ErrorMessage == "" {
			op.ErrorMessage = resp.Error.Status
		}

		if op.ErrorMessage == "" {
			op.ErrorMessage = fmt.Sprintf("operation failed with code %d", resp.Error.Code)
		}
	}

	return op
}

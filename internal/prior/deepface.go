package prior

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
	"time"
)

const defaultDeepFaceURL = "http://localhost:5005"

// DeepFace queries the emotion action of a DeepFace API server.
type DeepFace struct {
	baseURL string
	client  *http.Client
}

// NewDeepFace creates a DeepFace provider.
func NewDeepFace(baseURL string) *DeepFace {
	if baseURL == "" {
		baseURL = defaultDeepFaceURL
	}
	return &DeepFace{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// analyzeRequest for POST /analyze.
type analyzeRequest struct {
	Img              string   `json:"img"`
	Actions          []string `json:"actions"`
	Detector         string   `json:"detector_backend"`
	EnforceDetection bool     `json:"enforce_detection"`
}

// analyzeResponse from POST /analyze.
type analyzeResponse struct {
	Results []struct {
		Emotion         map[string]float64 `json:"emotion"`
		DominantEmotion string             `json:"dominant_emotion"`
	} `json:"results"`
}

// Name implements Provider.
func (d *DeepFace) Name() string { return "deepface" }

// Predict implements Provider. Scores are the percentages DeepFace reports.
func (d *DeepFace) Predict(ctx context.Context, imageJPEG []byte) (map[string]float64, error) {
	reqBody, err := json.Marshal(analyzeRequest{
		Img:      "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageJPEG),
		Actions:  []string{"emotion"},
		Detector: "skip",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/analyze", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out analyzeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Results) == 0 || len(out.Results[0].Emotion) == 0 {
		return nil, errors.New("no emotion scores returned")
	}
	return out.Results[0].Emotion, nil
}

package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/facemotion/internal/geometry"
	"github.com/kozaktomas/facemotion/internal/preprocess"
)

const defaultLandmarkURL = "http://localhost:8000"

// HTTP calls a landmark service that accepts a multipart image upload on /landmarks.
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP creates an HTTP backend.
func NewHTTP(baseURL string) *HTTP {
	if baseURL == "" {
		baseURL = defaultLandmarkURL
	}
	return &HTTP{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// landmarkResponse is the JSON body returned by /landmarks.
type landmarkResponse struct {
	FacesCount int `json:"faces_count"`
	Faces      []struct {
		// Landmarks are [x, y] or [x, y, z] triples.
		Landmarks [][]float64 `json:"landmarks"`
		DetScore  float64     `json:"det_score"`
	} `json:"faces"`
	Model string `json:"model"`
}

// Name implements Detector.
func (h *HTTP) Name() string { return KindHTTP }

// Close implements Detector.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// Detect implements Detector.
func (h *HTTP) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if img == nil {
		return nil, ErrInvalidInput
	}
	data, err := preprocess.EncodeJPEG(img, 0)
	if err != nil {
		return nil, err
	}

	body, err := h.postMultipartImage(ctx, "/landmarks", data)
	if err != nil {
		return nil, err
	}

	var resp landmarkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for i, f := range resp.Faces {
		points := make([]geometry.Point, len(f.Landmarks))
		for j, p := range f.Landmarks {
			if len(p) < 2 {
				return nil, fmt.Errorf("face %d landmark %d has %d components", i, j, len(p))
			}
			points[j] = geometry.Point{X: p[0], Y: p[1]}
		}
		faces = append(faces, Face{Landmarks: points, Score: f.DetScore})
	}
	return faces, nil
}

// postMultipartImage posts JPEG imageData as the "file" form field and returns the body.
func (h *HTTP) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
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
	return body, nil
}

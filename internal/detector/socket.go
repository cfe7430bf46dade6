package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kozaktomas/facemotion/internal/geometry"
)

const defaultSocketTimeout = 5 * time.Second

// socketRequest is sent to the landmark worker.
type socketRequest struct {
	Height int    `msgpack:"h"`
	Width  int    `msgpack:"w"`
	Data   []byte `msgpack:"d"` // RGB uint8, row-major, shape (H, W, 3)
}

// socketFace is one face in the worker's reply.
type socketFace struct {
	Confidence float32 `msgpack:"c"`
	// Stride is the number of values per landmark (2 for x,y or 3 for x,y,z).
	Stride    int       `msgpack:"s"`
	Landmarks []float32 `msgpack:"l"`
}

// socketResponse is received from the landmark worker.
type socketResponse struct {
	Faces       []socketFace `msgpack:"faces"`
	Error       string       `msgpack:"error"`
	InferenceMs float32      `msgpack:"inference_ms"`
}

// Socket talks to an out-of-process landmark worker over a unix socket using msgpack.
type Socket struct {
	socketPath string
	timeout    time.Duration
}

// NewSocket creates a socket backend. A zero timeout selects the default.
func NewSocket(socketPath string, timeout time.Duration) *Socket {
	if timeout <= 0 {
		timeout = defaultSocketTimeout
	}
	return &Socket{socketPath: socketPath, timeout: timeout}
}

// Name implements Detector.
func (s *Socket) Name() string { return KindSocket }

// Close implements Detector. Connections are per request.
func (s *Socket) Close() error { return nil }

// Detect implements Detector.
func (s *Socket) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if img == nil {
		return nil, ErrInvalidInput
	}

	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to landmark worker: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	bounds := img.Bounds()
	reqData, err := msgpack.Marshal(socketRequest{
		Height: bounds.Dy(),
		Width:  bounds.Dx(),
		Data:   rgbBytes(img),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	respData, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp socketResponse
	if err := msgpack.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	faces := make([]Face, 0, len(resp.Faces))
	for i, f := range resp.Faces {
		points, err := flatPoints(f.Landmarks, f.Stride)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, Face{Landmarks: points, Score: float64(f.Confidence)})
	}
	return faces, nil
}

// flatPoints converts [x1,y1,(z1),x2,y2,...] into points, dropping any extra components.
func flatPoints(values []float32, stride int) ([]geometry.Point, error) {
	if stride == 0 {
		stride = 2
	}
	if stride < 2 {
		return nil, fmt.Errorf("invalid landmark stride %d", stride)
	}
	if len(values)%stride != 0 {
		return nil, fmt.Errorf("%d landmark values do not divide into stride %d", len(values), stride)
	}
	points := make([]geometry.Point, len(values)/stride)
	for i := range points {
		points[i] = geometry.Point{X: float64(values[i*stride]), Y: float64(values[i*stride+1])}
	}
	return points, nil
}

// rgbBytes flattens img into packed RGB triplets.
func rgbBytes(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return out
}

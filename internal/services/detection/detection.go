package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/Capitan-Parrot/theft-detection/internal/imageproc"
	"github.com/Capitan-Parrot/theft-detection/internal/models"
)

// ErrMalformed marks a detector response that could not be interpreted
var ErrMalformed = errors.New("malformed detector response")

type Client struct {
	URL         string
	JPEGQuality int
	httpClient  *http.Client
}

func NewClient(baseURL string, timeout time.Duration, jpegQuality int) *Client {
	return &Client{
		URL:         strings.TrimSuffix(baseURL, "/"),
		JPEGQuality: jpegQuality,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Check verifies the inference server is up and has a model loaded
func (c *Client) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("detector health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("detector health: bad status: %s, error: %s", resp.Status, bodyBytes)
	}
	return nil
}

// Detect отправляет кадр JPEG байтами на /predict и возвращает найденные объекты
func (c *Client) Detect(ctx context.Context, frame image.Image, confidence float64) ([]models.RawDetection, error) {
	imageData, err := imageproc.EncodeJPEG(frame, c.JPEGQuality)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Создаем form field с правильным Content-Type
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form part: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}

	if err := writer.WriteField("conf", strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
		return nil, fmt.Errorf("write conf field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+"/predict", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status: %s, error: %s", resp.Status, bodyBytes)
	}

	var detections []models.RawDetection
	if err := json.NewDecoder(resp.Body).Decode(&detections); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	for i, d := range detections {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("%w: detection %d: %v", ErrMalformed, i, err)
		}
	}

	return detections, nil
}

func validate(d models.RawDetection) error {
	if len(d.Box) != 4 {
		return fmt.Errorf("box has %d coordinates", len(d.Box))
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]", d.Confidence)
	}
	if d.ClassIndex < 0 {
		return fmt.Errorf("negative class index %d", d.ClassIndex)
	}
	return nil
}

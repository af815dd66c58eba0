package ocr

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/vision/v1"
)

// VisionOCR uses Google Cloud Vision text detection
type VisionOCR struct {
	svc *vision.Service
}

// NewVisionOCR creates a Vision client. An empty key falls back to
// application default credentials.
func NewVisionOCR(ctx context.Context, apiKey string) (*VisionOCR, error) {
	var opts []option.ClientOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	svc, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vision client: %w", err)
	}
	return &VisionOCR{svc: svc}, nil
}

// Name returns the engine name
func (v *VisionOCR) Name() string { return "vision" }

// ExtractText returns the full text annotation of the image
func (v *VisionOCR) ExtractText(ctx context.Context, imageBytes []byte) (string, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{{
			Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(imageBytes)},
			Features: []*vision.Feature{{Type: "TEXT_DETECTION"}},
		}},
	}

	resp, err := v.svc.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", nil
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("vision annotate: %s", r.Error.Message)
	}
	if r.FullTextAnnotation != nil {
		return r.FullTextAnnotation.Text, nil
	}
	if len(r.TextAnnotations) > 0 {
		return r.TextAnnotations[0].Description, nil
	}
	return "", nil
}

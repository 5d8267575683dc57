package recognition

import (
	"context"
	"fmt"
	"os"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
)

// Vision implements Engine using Google Cloud Vision document text detection
type Vision struct {
	opts   []option.ClientOption
	client *vision.ImageAnnotatorClient
	hints  []string
}

// NewVision creates a Vision engine. Credentials come from opts, or else
// from GOOGLE_CREDENTIALS (inline JSON), GOOGLE_APPLICATION_CREDENTIALS (file)
// or the default credential chain.
func NewVision(opts ...option.ClientOption) *Vision {
	if len(opts) == 0 {
		if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
		} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
			opts = append(opts, option.WithCredentialsFile(credFile))
		}
	}
	return &Vision{opts: opts}
}

// Init opens the Vision client
func (v *Vision) Init(ctx context.Context, languageHint string) error {
	if v.client != nil {
		return nil
	}
	client, err := vision.NewImageAnnotatorClient(ctx, v.opts...)
	if err != nil {
		return fmt.Errorf("creating vision client: %w", err)
	}
	v.client = client
	if languageHint != "" {
		v.hints = []string{languageHint}
	}
	return nil
}

// Recognize sends the image for DOCUMENT_TEXT_DETECTION
func (v *Vision) Recognize(ctx context.Context, png []byte, progress func(int)) (string, error) {
	if v.client == nil {
		return "", fmt.Errorf("vision client not initialized")
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: png},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: v.hints},
			},
		},
	}
	progress(10)

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling vision API: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("no response from vision API")
	}

	imgResp := resp.Responses[0]
	if imgResp.Error != nil {
		return "", fmt.Errorf("vision API error: %s", imgResp.Error.GetMessage())
	}
	progress(100)

	if imgResp.FullTextAnnotation == nil {
		return "", nil
	}
	return imgResp.FullTextAnnotation.Text, nil
}

// Close closes the Vision client
func (v *Vision) Close() error {
	if v.client == nil {
		return nil
	}
	err := v.client.Close()
	v.client = nil
	return err
}

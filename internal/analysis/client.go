package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/example/medscan/internal/capture"
	"github.com/example/medscan/internal/fault"
)

// instruction is the fixed prompt sent with every image. The output language
// and structure are configuration, not runtime-variable.
const instruction = `You are a medical imaging assistant. Examine the attached medical photograph and respond in English with a single JSON object describing it. Set "imagingType" to the imaging modality and body region (for example "X-Ray, hand"), "organName" to the organ or anatomical structure shown, "findings" to a short diagnostic narrative, and "professionalDetails" to an array of concise professional observations ordered from most to least relevant. Do not include any text outside the JSON object.`

// reportSchema constrains the model output to the four mandatory fields.
var reportSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"imagingType": {"type": "string"},
		"organName": {"type": "string"},
		"findings": {"type": "string"},
		"professionalDetails": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["imagingType", "organName", "findings", "professionalDetails"]
}`)

// defaultTimeout bounds the remote call when the caller did not set a
// deadline. Vision models on CPU can be slow.
const defaultTimeout = 300 * time.Second

// Analyzer is the remote analysis boundary consumed by the session
// controller.
type Analyzer interface {
	Analyze(ctx context.Context, image *capture.EncodedImage) (*Report, error)
}

// chatFunc matches the Ollama client's Chat signature so tests can swap in
// a fake transport.
type chatFunc func(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error

// Client performs single-attempt structured analysis against an Ollama
// vision model. It carries no retry policy; that decision belongs to the
// orchestrator.
type Client struct {
	chat   chatFunc
	model  string
	logger *zap.Logger
}

// NewClient builds a Client for the given Ollama host and model. The host
// is explicit configuration; the client never reads ambient process state.
func NewClient(host, model string, logger *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}

	inner := api.NewClient(base, http.DefaultClient)
	return &Client{
		chat:   inner.Chat,
		model:  model,
		logger: logger.Named("analysis"),
	}, nil
}

// Analyze sends the image with the fixed instruction and strict output
// schema, then parses the response fail-closed. The call has no side
// effects on the caller's state when it fails.
func (c *Client) Analyze(ctx context.Context, image *capture.EncodedImage) (*Report, error) {
	if image.Empty() {
		return nil, fault.New(fault.InvalidInput, "no image bytes to analyze")
	}
	if image.MIME != capture.MIMEJPEG {
		return nil, fault.New(fault.InvalidInput,
			fmt.Sprintf("unsupported image type %q", image.MIME))
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	stream := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: instruction,
				Images:  []api.ImageData{api.ImageData(image.Bytes)},
			},
		},
		Stream: &stream,
		Format: reportSchema,
	}

	started := time.Now()
	var content string
	err := c.chat(ctx, req, func(resp api.ChatResponse) error {
		content = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.ServiceUnavailable, "analysis service call failed", err)
	}
	if content == "" {
		return nil, fault.New(fault.ServiceUnavailable, "analysis service returned an empty response")
	}

	report, err := parseReport(content)
	if err != nil {
		c.logger.Warn("rejecting malformed model response",
			zap.String("model", c.model), zap.Error(err))
		return nil, err
	}

	c.logger.Info("analysis completed",
		zap.String("model", c.model),
		zap.Duration("latency", time.Since(started)),
		zap.Int("detail_count", len(report.ProfessionalDetails)))
	return report, nil
}

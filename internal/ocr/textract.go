package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/bonvision/receipt-processor/config"
)

// TextractRecognizer sends images to AWS Textract and keeps LINE blocks
// whose confidence clears the configured floor. Receipts only need line
// text, so the tables and forms analysis features stay off.
type TextractRecognizer struct {
	client        *textract.Client
	minConfidence float64
}

func NewTextractRecognizer(ctx context.Context, cfg *config.TextractConfig) (*TextractRecognizer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &TextractRecognizer{
		client:        client,
		minConfidence: cfg.MinConfidence,
	}, nil
}

func (t *TextractRecognizer) RecognizeText(ctx context.Context, img image.Image) (string, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	output, err := t.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: buf.Bytes()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to analyze document: %w", err)
	}

	return joinLineBlocks(output.Blocks, t.minConfidence), nil
}

// joinLineBlocks keeps confident LINE blocks in reading order. Textract
// already orders blocks top to bottom within a page.
func joinLineBlocks(blocks []types.Block, minConfidence float64) string {
	var lines []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine {
			continue
		}
		if block.Confidence == nil || float64(*block.Confidence) < minConfidence {
			continue
		}
		if block.Text != nil {
			lines = append(lines, *block.Text)
		}
	}
	return strings.Join(lines, "\n")
}

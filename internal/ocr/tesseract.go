package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/bonvision/receipt-processor/config"
)

// TesseractRecognizer runs a local Tesseract engine via gosseract. A fresh
// client is created per call; gosseract clients carry per-image state and
// are not safe for concurrent use.
type TesseractRecognizer struct {
	langs []string
}

func NewTesseractRecognizer(cfg *config.OCRConfig) *TesseractRecognizer {
	return &TesseractRecognizer{langs: cfg.TesseractLangs}
}

func (t *TesseractRecognizer) RecognizeText(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(t.langs) > 0 {
		if err := client.SetLanguage(strings.Join(t.langs, "+")); err != nil {
			return "", fmt.Errorf("failed to set language: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to get text: %w", err)
	}
	return text, nil
}

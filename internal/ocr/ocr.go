// Package ocr acquires raw text from receipt images and PDF documents.
//
// Images go through a Recognizer, either a local Tesseract engine or AWS
// Textract. PDFs are read page by page: pages with a trustworthy embedded
// text layer keep it, pages without one are rasterized and handed back as
// images for the detect-and-recognize path.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"unicode/utf8"

	"github.com/bonvision/receipt-processor/config"
)

// ErrInsufficientText reports that acquisition produced too little text to
// attempt extraction. Callers record the region with null fields and keep
// going; it never fails the job.
var ErrInsufficientText = errors.New("insufficient text for extraction")

// ErrUnreadableDocument reports input that cannot be opened or decoded at
// all. This is the only acquisition failure that is fatal for a job.
var ErrUnreadableDocument = errors.New("document cannot be read")

// Recognizer turns a single image into plain text.
type Recognizer interface {
	RecognizeText(ctx context.Context, img image.Image) (string, error)
}

// NewRecognizer builds the configured OCR provider.
func NewRecognizer(ctx context.Context, provider string, ocrCfg *config.OCRConfig, textractCfg *config.TextractConfig) (Recognizer, error) {
	switch provider {
	case "tesseract":
		return NewTesseractRecognizer(ocrCfg), nil
	case "textract":
		return NewTextractRecognizer(ctx, textractCfg)
	default:
		return nil, fmt.Errorf("unknown OCR provider: %s", provider)
	}
}

// AcquireText runs the recognizer over a region image and enforces the
// minimum usable length, counted in runes after trimming whitespace.
func AcquireText(ctx context.Context, rec Recognizer, img image.Image, minRunes int) (string, error) {
	text, err := rec.RecognizeText(ctx, img)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minRunes {
		return "", ErrInsufficientText
	}
	return text, nil
}

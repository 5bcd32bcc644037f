package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/reanm09/intellidocs/internal/models"
)

type ExtractorConfig struct {
	OCR           bool // rasterise and OCR pages with no extractable text
	DPI           int
	PdftoppmPath  string
	TesseractPath string
	Runner        CommandRunner
	Logger        *slog.Logger
}

// Extractor turns a PDF file into per-page text.
type Extractor struct {
	config ExtractorConfig
	// directText returns the embedded text of every page, in page order.
	directText func(path string) ([]string, error)
}

func NewWithConfig(config ExtractorConfig) *Extractor {
	if config.DPI == 0 {
		config.DPI = 150
	}
	if config.PdftoppmPath == "" {
		config.PdftoppmPath = "pdftoppm"
	}
	if config.TesseractPath == "" {
		config.TesseractPath = "tesseract"
	}
	if config.Runner == nil {
		config.Runner = ExecRunner{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Extractor{
		config:     config,
		directText: readPageTexts,
	}
}

// Extract returns one Page per PDF page, 1-indexed. Either every page is
// produced or an error is returned.
func (e *Extractor) Extract(ctx context.Context, path string) ([]models.Page, error) {
	texts, err := e.directText(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", filepath.Base(path), err)
	}

	pages := make([]models.Page, 0, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index := i + 1
		text = strings.TrimSpace(text)
		if text == "" && e.config.OCR {
			text, err = e.ocrPage(ctx, path, index)
			if err != nil {
				return nil, fmt.Errorf("failed to OCR page %d: %w", index, err)
			}
			e.config.Logger.Debug("OCR fallback used", slog.Int("page", index), slog.Int("chars", len(text)))
		}

		pages = append(pages, models.Page{Index: index, Text: text})
	}

	return pages, nil
}

// ocrPage renders a single page to PNG with pdftoppm and runs tesseract on it.
func (e *Extractor) ocrPage(ctx context.Context, path string, page int) (string, error) {
	dir, err := os.MkdirTemp("", "intellidocs-ocr-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	if _, err := e.config.Runner.Run(ctx, e.config.PdftoppmPath,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(e.config.DPI),
		"-png", "-singlefile",
		path, prefix,
	); err != nil {
		return "", fmt.Errorf("failed to rasterize page: %w", err)
	}

	out, err := e.config.Runner.Run(ctx, e.config.TesseractPath, prefix+".png", "stdout")
	if err != nil {
		return "", fmt.Errorf("failed to recognize text: %w", err)
	}

	return string(out), nil
}

func readPageTexts(path string) (texts []string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			texts = nil
			err = fmt.Errorf("corrupt PDF: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pageCount := reader.NumPage()
	texts = make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			texts = append(texts, "")
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Treated like a page without a text layer.
			text = ""
		}
		texts = append(texts, text)
	}

	return texts, nil
}

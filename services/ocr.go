package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"civic-ingest/internal/config"
)

// ErrNotPDF is returned when OCR is requested for a file without pages
var ErrNotPDF = errors.New("ocr requires a PDF")

// PageRasterizer renders one page of a PDF to an image and returns its path
type PageRasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, page int, outPrefix string) (string, error)
}

// TextRecognizer turns one page image into text
type TextRecognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// PageMarker separates per-page OCR output
func PageMarker(page int) string {
	return fmt.Sprintf("--- PAGE %d ---", page)
}

// OCRWorker rasterizes and recognizes pages one at a time inside a disposable
// working directory.
type OCRWorker struct {
	rasterizer  PageRasterizer
	recognizer  TextRecognizer
	pageCount   func(path string) (int, error)
	pageTimeout time.Duration
	tempRoot    string
	logger      *slog.Logger
}

func NewOCRWorker(rasterizer PageRasterizer, recognizer TextRecognizer, pageTimeout time.Duration, logger *slog.Logger) *OCRWorker {
	return &OCRWorker{
		rasterizer:  rasterizer,
		recognizer:  recognizer,
		pageCount:   api.PageCountFile,
		pageTimeout: pageTimeout,
		logger:      logger,
	}
}

// OCR returns the recognized text of every page joined with page markers. The
// working directory is removed on every exit path.
func (w *OCRWorker) OCR(ctx context.Context, filePath string) (string, error) {
	if MimeTypeFor(filePath) != MimePDF {
		return "", fmt.Errorf("%s: %w", filepath.Base(filePath), ErrNotPDF)
	}

	workDir, err := os.MkdirTemp(w.tempRoot, "ocr-*")
	if err != nil {
		return "", fmt.Errorf("failed to create OCR working dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pages, err := w.pageCount(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to count pages: %w", err)
	}
	if pages < 1 {
		return "", fmt.Errorf("pdf has no pages")
	}

	logCtx := w.logger.With("file", filepath.Base(filePath), "pages", pages)
	logCtx.Info("Starting OCR")

	var b strings.Builder
	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := w.ocrPage(ctx, filePath, workDir, page)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		if page > 1 {
			b.WriteString("\n\n")
		}
		b.WriteString(PageMarker(page))
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(text))
	}

	logCtx.Info("OCR complete", "chars", b.Len())
	return b.String(), nil
}

func (w *OCRWorker) ocrPage(ctx context.Context, filePath, workDir string, page int) (string, error) {
	pageCtx := ctx
	if w.pageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, w.pageTimeout)
		defer cancel()
	}

	image, err := w.rasterizer.Rasterize(pageCtx, filePath, page, filepath.Join(workDir, "page-"+strconv.Itoa(page)))
	if err != nil {
		return "", fmt.Errorf("rasterize: %w", err)
	}
	// One page image on disk at a time.
	defer os.Remove(image)

	text, err := w.recognizer.Recognize(pageCtx, image)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return text, nil
}

// PopplerRasterizer shells out to pdftoppm
type PopplerRasterizer struct {
	Bin string
	DPI int
}

func (p PopplerRasterizer) Rasterize(ctx context.Context, pdfPath string, page int, outPrefix string) (string, error) {
	n := strconv.Itoa(page)
	args := []string{"-f", n, "-l", n, "-r", strconv.Itoa(p.DPI), "-png", "-singlefile", pdfPath, outPrefix}
	if err := runCommand(ctx, p.Bin, args, nil); err != nil {
		return "", err
	}
	return outPrefix + ".png", nil
}

// TesseractRecognizer shells out to tesseract
type TesseractRecognizer struct {
	Bin      string
	Language string
}

func (t TesseractRecognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	var stdout bytes.Buffer
	if err := runCommand(ctx, t.Bin, []string{imagePath, "stdout", "-l", t.Language}, &stdout); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

func runCommand(ctx context.Context, bin string, args []string, stdout *bytes.Buffer) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %v, stderr: %s", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// NewDefaultOCRWorker wires the subprocess rasterizer with the configured engine
func NewDefaultOCRWorker(cfg *config.Config, recognizer TextRecognizer, logger *slog.Logger) *OCRWorker {
	if recognizer == nil {
		recognizer = TesseractRecognizer{Bin: cfg.TesseractBin, Language: cfg.OCRLanguage}
	}
	return NewOCRWorker(PopplerRasterizer{Bin: cfg.PdftoppmBin, DPI: cfg.OCRDPI}, recognizer, cfg.OCRTimeout, logger)
}

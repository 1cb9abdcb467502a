// Package ocr is the OCR worker's engine: tesseract for tier 2 and an
// external high-accuracy recognizer for tier 3.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-pipeline/constants"
	"github.com/joseph-ayodele/invoice-pipeline/internal/extract"
	"github.com/joseph-ayodele/invoice-pipeline/internal/worker"
)

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "eng"
	TessdataDir   string
	PSM           int // e.g., 6 is good for uniform block of text
	OEM           int // 1 = LSTM; leave 0 to use default

	// DeepCommand is run as `DeepCommand DeepArgs... <image>` and must print
	// the page text on stdout. Empty disables tier 3.
	DeepCommand string
	DeepArgs    []string
	DeepTimeout time.Duration
}

type Engine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewEngine(cfg Config, runner Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner(logger)
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DeepTimeout <= 0 {
		cfg.DeepTimeout = 5 * time.Minute
	}
	return &Engine{cfg: cfg, runner: runner, logger: logger}
}

var rePageNum = regexp.MustCompile(`page_(\d+)\.`)

// Recognize reads every page image in req.ImageDir. Tier 2 output that fails
// the quality gate is escalated to tier 3 when a deep recognizer is configured.
func (e *Engine) Recognize(ctx context.Context, req worker.OCRRequest) (worker.Result, error) {
	images, err := PageImages(req.ImageDir)
	if err != nil {
		return worker.Result{}, err
	}
	if len(images) == 0 {
		return worker.Result{}, fmt.Errorf("no page images in %s", req.ImageDir)
	}

	if req.ForceTier == constants.TierOCRDeep {
		return e.deep(ctx, images)
	}

	res, words, err := e.tesseract(ctx, images)
	if err != nil {
		return worker.Result{}, err
	}
	if req.ForceTier == constants.TierOCR {
		return res, nil
	}

	q := extract.AssessOCR(res.FullText, words, req.TextLayerRef)
	e.logger.Info("ocr.tier2.assessed",
		"accept", q.Accept,
		"reason", q.Reason,
		"mean_conf", q.MeanConfidence,
		"low_conf_ratio", q.LowConfRatio,
		"number_match", q.NumberMatchRate,
		"pages", res.TotalPages,
	)
	if q.Accept || e.cfg.DeepCommand == "" {
		return res, nil
	}

	deep, err := e.deep(ctx, images)
	if err != nil {
		e.logger.Warn("ocr.tier3.failed", "error", err, "fallback", "tier2")
		return res, nil
	}
	return deep, nil
}

func (e *Engine) tesseract(ctx context.Context, images []string) (worker.Result, []extract.WordConfidence, error) {
	pages := make([]string, 0, len(images))
	var words []extract.WordConfidence
	for _, img := range images {
		args := []string{img, "stdout", "-l", e.cfg.TesseractLang}
		if e.cfg.PSM > 0 {
			args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
		}
		if e.cfg.OEM > 0 {
			args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
		}
		if e.cfg.TessdataDir != "" {
			args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
		}
		args = append(args, "tsv")

		out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
		if err != nil {
			return worker.Result{}, nil, fmt.Errorf("tesseract %s: %w", filepath.Base(img), err)
		}
		text, w := parseTSV(string(out))
		pages = append(pages, Normalize(text))
		words = append(words, w...)
	}
	return worker.Result{
		FullText:   extract.JoinPages(pages),
		Pages:      pages,
		TotalPages: len(pages),
		OCRTier:    constants.TierOCR,
	}, words, nil
}

func (e *Engine) deep(ctx context.Context, images []string) (worker.Result, error) {
	if e.cfg.DeepCommand == "" {
		return worker.Result{}, errors.New("tier 3 recognizer not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DeepTimeout)
	defer cancel()

	pages := make([]string, 0, len(images))
	for _, img := range images {
		args := append(append([]string{}, e.cfg.DeepArgs...), img)
		out, _, err := e.runner.Run(ctx, e.cfg.DeepCommand, args...)
		if err != nil {
			return worker.Result{}, fmt.Errorf("%s %s: %w", e.cfg.DeepCommand, filepath.Base(img), err)
		}
		pages = append(pages, Normalize(string(out)))
	}
	return worker.Result{
		FullText:   extract.JoinPages(pages),
		Pages:      pages,
		TotalPages: len(pages),
		OCRTier:    constants.TierOCRDeep,
	}, nil
}

// PageImages lists page_N.* images in dir ordered by page number.
func PageImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}
	type page struct {
		n    int
		path string
	}
	var pages []page
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if _, ok := constants.ImageExtensions[constants.NormalizeExt(filepath.Ext(name))]; !ok {
			continue
		}
		m := rePageNum.FindStringSubmatch(name)
		if m == nil || !strings.HasPrefix(name, "page_") {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		pages = append(pages, page{n: n, path: filepath.Join(dir, name)})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}

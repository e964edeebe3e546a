// Package pipeline implements the transform and extraction sequence applied
// to every submitted image: decode, grayscale, conditional upscale, sharpen,
// contrast normalization, binarization, then one or two recognition passes
// with ASCII cleanup. Transform stages past decoding are best effort: a stage
// that cannot handle the image reports an error and the pipeline continues
// with the previous stage's output.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"time"

	// Registered decoders for the formats clients submit.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wudi/ocrserve/observability"
	"github.com/wudi/ocrserve/ocr"
)

// Recoverable per-image failures surface as fixed sentinel strings in the
// extracted text instead of errors. Front ends match on these exact values,
// so they are part of the wire contract.
const (
	TextDecodeFailed = "[ERROR: Unable to open image]"
	TextEngineFailed = "[ERROR: Tesseract initialization failed]"
	TextUnreadable   = "[UNREADABLE]"
)

// Transform parameters, tuned for small scanned snippets of printed text.
const (
	// Recognition accuracy drops sharply below these dimensions, so smaller
	// images are upscaled until both minimums hold.
	minWidth  = 500
	minHeight = 250

	sharpenHalfwidth = 5
	sharpenAmount    = 2.5

	contrastTile    = 50
	contrastMinDiff = 130

	backgroundTile = 10
)

// Result is the outcome of one pipeline run.
type Result struct {
	// Text is the cleaned extracted text, or a sentinel describing a
	// recoverable failure.
	Text string

	// ElapsedMS is the wall time spent transforming and recognizing, in
	// milliseconds.
	ElapsedMS float64

	// Processed is the PNG encoding of the most processed image available
	// when recognition ran. Empty when decoding or engine setup failed.
	Processed []byte
}

// Pipeline turns raw encoded image bytes into machine-readable text plus the
// processed image recognition ran on. It is stateless apart from its engine
// and safe for concurrent use by multiple workers.
type Pipeline struct {
	engine ocr.Engine
	log    observability.Logger
}

// New builds a pipeline around the given recognition engine. The engine must
// be non-nil; a nil logger disables logging.
func New(engine ocr.Engine, log observability.Logger) *Pipeline {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Pipeline{engine: engine, log: log}
}

// Run applies the full sequence to one image. Recoverable failures degrade to
// sentinel text, so Run always produces a usable Result. Running the same
// bytes twice yields the same text.
func (p *Pipeline) Run(ctx context.Context, data []byte) Result {
	start := time.Now()

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		p.log.Debug("image decode failed", observability.Error("err", err))
		return Result{Text: TextDecodeFailed, ElapsedMS: millisSince(start)}
	}

	gray := toGray(src)
	gray = upscaleToMin(gray, minWidth, minHeight)

	if sharpened, err := unsharpGray(gray, sharpenHalfwidth, sharpenAmount); err == nil {
		gray = sharpened
	} else {
		p.log.Debug("sharpen skipped", observability.Error("err", err))
	}

	if normalized, err := contrastNormGray(gray, contrastTile, contrastMinDiff); err == nil {
		gray = normalized
	} else {
		p.log.Debug("contrast normalization skipped", observability.Error("err", err))
	}

	final := gray
	if binary, err := binarizeGray(gray, backgroundTile); err == nil {
		final = binary
	} else {
		p.log.Debug("binarization skipped", observability.Error("err", err))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, final); err != nil {
		p.log.Warn("processed image encode failed", observability.Error("err", err))
	}
	processed := buf.Bytes()

	text, err := p.extract(ctx, processed)
	if err != nil {
		p.log.Warn("recognition engine unavailable",
			observability.String("engine", p.engine.Name()),
			observability.Error("err", err))
		return Result{Text: TextEngineFailed, ElapsedMS: millisSince(start)}
	}

	text = cleanText(text)
	if text == "" {
		text = TextUnreadable
	}

	res := Result{Text: text, ElapsedMS: millisSince(start), Processed: processed}
	p.log.Debug("pipeline finished",
		observability.String("format", format),
		observability.Float64("elapsed_ms", res.ElapsedMS),
		observability.Int("text_len", len(res.Text)))
	return res
}

// extract opens one recognition session for the image and runs the
// extraction passes over it. It fails only when the engine never started,
// whether that surfaced at session construction or lazily on the first
// recognition call.
func (p *Pipeline) extract(ctx context.Context, img []byte) (string, error) {
	client, err := p.engine.NewClient()
	if err != nil {
		return "", err
	}
	defer client.Close()
	return p.extractText(ctx, client, img)
}

// extractText runs the block-mode pass and, when it yields fewer than two
// usable characters, a single-word retry whose outcome replaces the first
// pass entirely. Engine-start failures propagate; every other recognition
// problem degrades to an empty string.
func (p *Pipeline) extractText(ctx context.Context, client ocr.Client, img []byte) (string, error) {
	if err := client.SetMode(ocr.ModeSingleBlock); err != nil {
		p.log.Debug("set block mode failed", observability.Error("err", err))
	}
	if err := client.SetImage(img); err != nil {
		p.log.Debug("bind image failed", observability.Error("err", err))
		return "", nil
	}
	text, err := p.recognize(client)
	if err != nil {
		return "", err
	}
	text = filterPrintable(text)
	if len(text) >= 2 {
		return text, nil
	}
	if ctx.Err() != nil {
		// The caller is gone, nobody will read a better answer.
		return text, nil
	}
	if err := client.SetMode(ocr.ModeSingleWord); err != nil {
		p.log.Debug("set word mode failed", observability.Error("err", err))
		return text, nil
	}
	retry, err := p.recognize(client)
	if err != nil {
		return "", err
	}
	return filterPrintable(retry), nil
}

// recognize runs one extraction pass. An engine that never started reports
// ocr.ErrEngineInit and propagates; any other failure degrades to an empty
// result.
func (p *Pipeline) recognize(client ocr.Client) (string, error) {
	text, err := client.Text()
	if err != nil {
		if errors.Is(err, ocr.ErrEngineInit) {
			return "", err
		}
		p.log.Debug("recognition pass failed", observability.Error("err", err))
		return "", nil
	}
	return text, nil
}

func millisSince(start time.Time) float64 {
	return time.Since(start).Seconds() * 1000
}

// Package tesseract implements ocr.Engine on top of the Tesseract OCR engine
// through the gosseract CGo bindings.
package tesseract

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/wudi/ocrserve/ocr"
)

// backend abstracts *gosseract.Client so sessions can be exercised in tests
// without a native tesseract installation.
type backend interface {
	SetImageFromBytes(data []byte) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	SetLanguage(langs ...string) error
	SetTessdataPrefix(prefix string) error
	Text() (string, error)
	Close() error
}

// Engine opens gosseract-backed recognition sessions. One Engine is shared by
// all workers; each session it opens is single-use per image and owned by the
// caller. The zero value is not usable, construct with NewEngine.
type Engine struct {
	tessdataPrefix string
	languages      []string
	factory        func() backend
}

var _ ocr.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithTessdataPrefix points the engine at a non-default traineddata
// directory. Empty keeps the library's compiled-in default.
func WithTessdataPrefix(prefix string) Option {
	return func(e *Engine) { e.tessdataPrefix = prefix }
}

// WithLanguages sets the recognition languages, for example "eng" or "deu".
// Calling it with no arguments keeps the current set.
func WithLanguages(langs ...string) Option {
	return func(e *Engine) {
		if len(langs) > 0 {
			e.languages = langs
		}
	}
}

// NewEngine constructs a tesseract-backed engine. The default configuration
// recognizes English using the system tessdata directory.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		languages: []string{"eng"},
		factory:   func() backend { return gosseract.NewClient() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ocr.Engine.
func (e *Engine) Name() string { return "tesseract" }

// NewClient opens a recognition session and applies the engine's tessdata and
// language configuration to it. Failures wrap ocr.ErrEngineInit so callers
// can degrade instead of aborting.
func (e *Engine) NewClient() (ocr.Client, error) {
	c := e.factory()
	if c == nil {
		return nil, ocr.ErrEngineInit
	}
	if e.tessdataPrefix != "" {
		if err := c.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: tessdata prefix %q: %v", ocr.ErrEngineInit, e.tessdataPrefix, err)
		}
	}
	if err := c.SetLanguage(e.languages...); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: languages %v: %v", ocr.ErrEngineInit, e.languages, err)
	}
	return &session{client: c}, nil
}

// session adapts one gosseract client to ocr.Client.
type session struct {
	client backend
}

func (s *session) SetImage(data []byte) error {
	return s.client.SetImageFromBytes(data)
}

func (s *session) SetMode(mode ocr.Mode) error {
	return s.client.SetPageSegMode(pageSegMode(mode))
}

// Text runs one recognition pass. gosseract constructs the native engine
// lazily on the first recognition call, so a failure here means the engine
// never started and is reported as ocr.ErrEngineInit.
func (s *session) Text() (string, error) {
	text, err := s.client.Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ocr.ErrEngineInit, err)
	}
	return text, nil
}

func (s *session) Close() error {
	return s.client.Close()
}

// pageSegMode maps the engine-neutral mode onto tesseract's page segmentation
// enum. Unknown modes fall back to single-block, the pipeline's first pass.
func pageSegMode(mode ocr.Mode) gosseract.PageSegMode {
	switch mode {
	case ocr.ModeSingleWord:
		return gosseract.PSM_SINGLE_WORD
	default:
		return gosseract.PSM_SINGLE_BLOCK
	}
}

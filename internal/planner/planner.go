package planner

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"image-shrinker-go/internal/codec"
)

// Target is the immutable byte-budget configuration for one compression run.
type Target struct {
	MaxBytes       int64   // budget: maximum acceptable output size
	MinQuality     int     // lossy quality floor
	QualityStep    int     // quality decrement per attempt
	StartQuality   int     // quality the search (re)starts at
	DownscaleRatio float64 // per-step multiplicative factor for both dimensions
	AllowPNGToWebP bool    // permit converting transparent PNGs to lossy WebP
}

// DefaultTarget returns the standard compression target.
func DefaultTarget() Target {
	return Target{
		MaxBytes:       512 * 1024,
		MinQuality:     20,
		QualityStep:    5,
		StartQuality:   95,
		DownscaleRatio: 0.9,
		AllowPNGToWebP: true,
	}
}

// Candidate is one in-memory encoding produced during the search.
type Candidate struct {
	Data    []byte
	Size    int64
	Quality int // 0 for formats without a quality parameter
	Width   int
	Height  int
	Format  codec.Format
}

// Outcome is the single accepted result for one input file. At most one
// Outcome per input is ever written to disk.
type Outcome struct {
	Candidate
	OutputPath     string
	RemoveOriginal bool // output path differs from the input (format conversion)
	WithinBudget   bool
}

// Class is the format/transparency classification that drives the policy.
// It is determined once per file, before the search starts.
type Class int

const (
	ClassJPEG Class = iota
	ClassPNGOpaque
	ClassPNGAlpha
	ClassWebP
	ClassOther
)

// String returns a readable name for the class.
func (c Class) String() string {
	switch c {
	case ClassJPEG:
		return "jpeg"
	case ClassPNGOpaque:
		return "png-opaque"
	case ClassPNGAlpha:
		return "png-alpha"
	case ClassWebP:
		return "webp"
	}
	return "other"
}

// searchState is the phase of the convergence loop.
type searchState int

const (
	stateQualitySearch searchState = iota
	stateDownscale
	stateTerminal
)

// Planner runs the quality-then-scale convergence search against a codec.
type Planner struct {
	codec  codec.Codec
	target Target
}

// New returns a Planner bound to the given codec and target.
func New(c codec.Codec, t Target) *Planner {
	return &Planner{codec: c, target: t}
}

// Target returns the planner's compression target.
func (p *Planner) Target() Target {
	return p.target
}

// Classify determines the policy class for img based on its source extension
// and alpha channel.
func (p *Planner) Classify(img image.Image, path string) Class {
	switch codec.FormatFromExtension(filepath.Ext(path)) {
	case codec.FormatJPEG:
		return ClassJPEG
	case codec.FormatPNG:
		if p.codec.HasAlpha(img) {
			return ClassPNGAlpha
		}
		return ClassPNGOpaque
	case codec.FormatWebP:
		return ClassWebP
	}
	return ClassOther
}

// Compress classifies img and applies the format policy, returning the single
// result to persist. The search runs entirely in memory; the planner never
// touches the filesystem.
func (p *Planner) Compress(img image.Image, srcPath string) (*Outcome, error) {
	switch p.Classify(img, srcPath) {
	case ClassJPEG:
		return p.searchInPlace(codec.FlattenOpaque(img), srcPath, codec.FormatJPEG)

	case ClassPNGOpaque:
		// Opaque PNGs compress far better as JPEG; write under the new
		// extension and mark the original for removal.
		return p.searchConverted(codec.FlattenOpaque(img), srcPath, codec.FormatJPEG)

	case ClassPNGAlpha:
		return p.compressTransparentPNG(img, srcPath)

	case ClassWebP:
		return p.searchInPlace(img, srcPath, codec.FormatWebP)

	default:
		return p.compressOther(img, srcPath)
	}
}

// searchInPlace converges in format and overwrites the source path.
func (p *Planner) searchInPlace(img image.Image, srcPath string, format codec.Format) (*Outcome, error) {
	cand, fit, err := p.converge(img, format)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Candidate:    cand,
		OutputPath:   srcPath,
		WithinBudget: fit,
	}, nil
}

// searchConverted converges in format and targets a sibling path with the
// format's extension, removing the original.
func (p *Planner) searchConverted(img image.Image, srcPath string, format codec.Format) (*Outcome, error) {
	cand, fit, err := p.converge(img, format)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Candidate:      cand,
		OutputPath:     replaceExt(srcPath, format.Extension()),
		RemoveOriginal: true,
		WithinBudget:   fit,
	}, nil
}

// compressTransparentPNG applies the PNG-with-alpha policy: one lossless
// full-resolution try, then a lossless downscale loop, then — if permitted —
// a full lossy WebP search that preserves the alpha channel.
func (p *Planner) compressTransparentPNG(img image.Image, srcPath string) (*Outcome, error) {
	// Lossless pass at full resolution first.
	best, err := p.encodeCandidate(img, codec.FormatPNG, 0)
	if err != nil {
		return nil, err
	}
	if best.Size <= p.target.MaxBytes {
		return &Outcome{Candidate: best, OutputPath: srcPath, WithinBudget: true}, nil
	}

	// Lossless downscale loop until the budget is met or the dimensions
	// stop shrinking.
	work := img
	for {
		w, h := dims(work)
		nw, nh := p.scaled(w, h)
		if nw == w && nh == h {
			break
		}
		work = p.codec.Resize(work, nw, nh)
		best, err = p.encodeCandidate(work, codec.FormatPNG, 0)
		if err != nil {
			return nil, err
		}
		if best.Size <= p.target.MaxBytes {
			return &Outcome{Candidate: best, OutputPath: srcPath, WithinBudget: true}, nil
		}
	}

	if !p.target.AllowPNGToWebP {
		// Conversion forbidden: accept the smallest lossless PNG even though
		// it exceeds the budget.
		return &Outcome{Candidate: best, OutputPath: srcPath, WithinBudget: false}, nil
	}

	// Lossy WebP keeps the alpha channel and restarts from the original
	// resolution, not the shrunken lossless attempt.
	return p.searchConverted(img, srcPath, codec.FormatWebP)
}

// compressOther attempts the search in the source's own format and falls back
// to an opaque JPEG conversion when that format cannot be encoded.
func (p *Planner) compressOther(img image.Image, srcPath string) (*Outcome, error) {
	format := codec.FormatFromExtension(filepath.Ext(srcPath))
	if format != codec.FormatUnknown {
		out, err := p.searchInPlace(img, srcPath, format)
		if err == nil {
			return out, nil
		}
	}
	return p.searchConverted(codec.FlattenOpaque(img), srcPath, codec.FormatJPEG)
}

// converge runs the quality-then-scale search in format. It returns the first
// candidate at or under the budget, or — when the image has shrunk to its
// 1x1 floor without fitting — the best-effort terminal candidate with
// fit=false. Every candidate is produced in memory only.
func (p *Planner) converge(img image.Image, format codec.Format) (Candidate, bool, error) {
	work := img
	hasQuality := p.codec.SupportsQuality(format)

	var last Candidate
	state := stateQualitySearch
	for state != stateTerminal {
		switch state {
		case stateQualitySearch:
			cand, fit, err := p.searchQualities(work, format, hasQuality)
			if err != nil {
				return Candidate{}, false, err
			}
			if fit {
				return cand, true, nil
			}
			last = cand
			state = stateDownscale

		case stateDownscale:
			w, h := dims(work)
			nw, nh := p.scaled(w, h)
			if nw == w && nh == h {
				state = stateTerminal
				break
			}
			work = p.codec.Resize(work, nw, nh)
			state = stateQualitySearch
		}
	}

	return last, false, nil
}

// searchQualities runs one resolution level: a non-increasing quality descent
// from StartQuality to the floor for quality-capable formats, or a single
// encoding otherwise. Returns the last candidate and whether it met the budget.
func (p *Planner) searchQualities(img image.Image, format codec.Format, hasQuality bool) (Candidate, bool, error) {
	if !hasQuality {
		cand, err := p.encodeCandidate(img, format, 0)
		if err != nil {
			return Candidate{}, false, err
		}
		return cand, cand.Size <= p.target.MaxBytes, nil
	}

	quality := p.target.StartQuality
	for {
		cand, err := p.encodeCandidate(img, format, quality)
		if err != nil {
			return Candidate{}, false, err
		}
		if cand.Size <= p.target.MaxBytes {
			return cand, true, nil
		}
		if quality <= p.target.MinQuality {
			return cand, false, nil
		}
		quality -= p.target.QualityStep
		if quality < p.target.MinQuality {
			quality = p.target.MinQuality
		}
	}
}

// encodeCandidate produces one in-memory encoding of img.
func (p *Planner) encodeCandidate(img image.Image, format codec.Format, quality int) (Candidate, error) {
	data, err := p.codec.Encode(img, format, codec.EncodeOptions{Quality: quality})
	if err != nil {
		return Candidate{}, fmt.Errorf("candidate at quality %d: %w", quality, err)
	}
	w, h := dims(img)
	return Candidate{
		Data:    data,
		Size:    int64(len(data)),
		Quality: quality,
		Width:   w,
		Height:  h,
		Format:  format,
	}, nil
}

// scaled applies the downscale ratio to both dimensions, rounding down and
// never going below one pixel.
func (p *Planner) scaled(w, h int) (int, int) {
	nw := int(float64(w) * p.target.DownscaleRatio)
	nh := int(float64(h) * p.target.DownscaleRatio)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

func dims(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// Copyright 2026 The imagemanip authors.
// SPDX-License-Identifier: Apache-2.0

package imagemanip

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
	"github.com/muesli/smartcrop/nfnt"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // register webp format
	"willnorris.com/go/gifresize"
)

// default compression quality of jpegs
const defaultQuality = 95

// maximum number of pixels in a source image
const defaultMaxPixels = 100 * 1000 * 1000

// Hint is a client hint request header passed along to a Transformer.
type Hint struct {
	Name  string // canonical header name, e.g. "Viewport-Width"
	Value string
}

// Image is the result of a transformation.
type Image struct {
	Bytes       []byte
	ContentType string // detected MIME type of Bytes
}

// A Transformer applies a transform spec to an encoded image.
type Transformer interface {
	Transform(img []byte, spec string, hints []Hint) (*Image, error)
}

// ErrInvalidTransform is returned for operations whose arguments are out of
// range.
var ErrInvalidTransform = errors.New("invalid transform")

// maxBlurSigma bounds the blur kernel size.
const maxBlurSigma = 100

// ErrUnsupportedFormat is returned when an image cannot be encoded in the
// requested format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// resizer scales an image to exactly w x h pixels.
type resizer interface {
	Resize(m image.Image, w, h int) image.Image
}

type imagingResizer struct {
	filter imaging.ResampleFilter
}

func (r imagingResizer) Resize(m image.Image, w, h int) image.Image {
	return imaging.Resize(m, w, h, r.filter)
}

type xdrawResizer struct {
	scaler xdraw.Scaler
}

func (r xdrawResizer) Resize(m image.Image, w, h int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	r.scaler.Scale(dst, dst.Bounds(), m, m.Bounds(), xdraw.Src, nil)
	return dst
}

// backends lists the resizing libraries that may be selected by name.
var backends = map[string]resizer{
	"":        imagingResizer{imaging.Lanczos},
	"imaging": imagingResizer{imaging.Lanczos},
	"xdraw":   xdrawResizer{xdraw.CatmullRom},
}

// Engine is the default Transformer, built on the imaging package.
type Engine struct {
	resizer resizer

	// MaxPixels is the largest source image, in pixels, that will be
	// decoded.  Animated GIFs count every frame at full canvas size.  Zero
	// means a default of 100 megapixels.
	MaxPixels int
}

// NewEngine returns an Engine using the named resizing backend: "imaging"
// (the default) or "xdraw".
func NewEngine(backend string) (*Engine, error) {
	r, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("unknown image backend %q", backend)
	}
	return &Engine{resizer: r}, nil
}

// Transform the provided image.  img should contain the raw bytes of an
// encoded image in one of the supported formats (gif, jpeg, png, bmp, tiff
// or webp).  The bytes of the transformed image are returned along with
// their MIME type.
func (e *Engine) Transform(img []byte, spec string, hints []Hint) (*Image, error) {
	defer func(start time.Time) {
		transformDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	cfg, srcFormat, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	maxPixels := e.MaxPixels
	if maxPixels == 0 {
		maxPixels = defaultMaxPixels
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	ops := ParseTransform(spec)
	if err := checkOps(ops); err != nil {
		return nil, err
	}
	format, quality := outputOptions(ops)
	if format == "" {
		format = srcFormat
		if format == "webp" {
			format = "png"
		}
	}
	if quality == 0 {
		quality = defaultQuality
	}
	mime, ok := contentTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	t := &transformer{resizer: e.resizer, ops: ops}
	t.dpr, t.maxWidth = hintLimits(hints)
	if t.resizer == nil {
		t.resizer = backends[""]
	}

	buf := new(bytes.Buffer)
	if srcFormat == "gif" && format == "gif" {
		// keep animated gifs animated; every frame is decoded at full size
		frames, err := gifFrames(bytes.NewReader(img))
		if err != nil {
			return nil, err
		}
		if frames*cfg.Width*cfg.Height > maxPixels {
			return nil, fmt.Errorf("image too large: %d frames of %dx%d", frames, cfg.Width, cfg.Height)
		}
		if err := gifresize.Process(buf, bytes.NewReader(img), t.apply); err != nil {
			return nil, err
		}
		return &Image{Bytes: buf.Bytes(), ContentType: mime}, nil
	}

	m, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	if srcFormat == "jpeg" || srcFormat == "tiff" {
		m = orient(m, exifOrientation(bytes.NewReader(img)))
	}
	m = t.apply(m)

	if err := encode(buf, m, format, quality); err != nil {
		return nil, err
	}
	return &Image{Bytes: buf.Bytes(), ContentType: mime}, nil
}

// checkOps rejects operations that would be unreasonably expensive to apply.
func checkOps(ops []Operation) error {
	for _, op := range ops {
		if op.Name != "blur" {
			continue
		}
		if s, err := strconv.ParseFloat(op.arg(0), 64); err == nil && s > maxBlurSigma {
			return fmt.Errorf("%w: %s exceeds sigma %d", ErrInvalidTransform, op, maxBlurSigma)
		}
	}
	return nil
}

// gifFrames counts the image descriptors in a GIF stream without decoding
// any pixel data.
func gifFrames(r io.Reader) (int, error) {
	br := bufio.NewReader(r)
	var hdr [13]byte // header and logical screen descriptor
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return 0, err
	}
	if hdr[10]&0x80 != 0 {
		if _, err := br.Discard(3 << (hdr[10]&7 + 1)); err != nil {
			return 0, err
		}
	}

	n := 0
	for {
		c, err := br.ReadByte()
		if err != nil {
			return n, err
		}
		switch c {
		case 0x21: // extension
			if _, err := br.ReadByte(); err != nil {
				return n, err
			}
			if err := skipSubBlocks(br); err != nil {
				return n, err
			}
		case 0x2c: // image descriptor
			var d [9]byte
			if _, err := io.ReadFull(br, d[:]); err != nil {
				return n, err
			}
			if d[8]&0x80 != 0 {
				if _, err := br.Discard(3 << (d[8]&7 + 1)); err != nil {
					return n, err
				}
			}
			if _, err := br.ReadByte(); err != nil { // LZW minimum code size
				return n, err
			}
			if err := skipSubBlocks(br); err != nil {
				return n, err
			}
			n++
		case 0x3b: // trailer
			return n, nil
		default:
			return n, fmt.Errorf("gif: unknown block type 0x%02x", c)
		}
	}
}

func skipSubBlocks(br *bufio.Reader) error {
	for {
		size, err := br.ReadByte()
		if err != nil {
			return err
		}
		if size == 0 {
			return nil
		}
		if _, err := br.Discard(int(size)); err != nil {
			return err
		}
	}
}

var contentTypes = map[string]string{
	"bmp":  "image/bmp",
	"gif":  "image/gif",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"tiff": "image/tiff",
}

func encode(w io.Writer, m image.Image, format string, quality int) error {
	switch format {
	case "bmp":
		return bmp.Encode(w, m)
	case "gif":
		return gif.Encode(w, m, nil)
	case "jpeg":
		return jpeg.Encode(w, m, &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(w, m)
	case "tiff":
		return tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// hintLimits returns the device pixel ratio and maximum width implied by
// the client hints.  Zero values mean no limit.
func hintLimits(hints []Hint) (dpr float64, maxWidth int) {
	var width, viewport int
	for _, h := range hints {
		switch strings.ToLower(h.Name) {
		case "dpr", "sec-ch-dpr":
			if f, err := strconv.ParseFloat(h.Value, 64); err == nil && f > 0 {
				dpr = f
			}
		case "width", "sec-ch-width":
			width, _ = strconv.Atoi(h.Value)
		case "viewport-width", "sec-ch-viewport-width":
			viewport, _ = strconv.Atoi(h.Value)
		}
	}
	if viewport > 0 {
		v := float64(viewport)
		if dpr > 0 {
			v *= dpr
		}
		maxWidth = int(v)
	}
	if width > 0 && (maxWidth == 0 || width < maxWidth) {
		maxWidth = width
	}
	return dpr, maxWidth
}

// transformer applies parsed operations to decoded images.
type transformer struct {
	resizer  resizer
	ops      []Operation
	dpr      float64
	maxWidth int
}

func (t *transformer) apply(m image.Image) image.Image {
	for _, op := range t.ops {
		switch op.Name {
		case "resize":
			w, h := t.size(op, m)
			m = t.resize(m, w, h, strings.EqualFold(op.arg(2), "cover"))
		case "resizeCrop":
			w, h := t.size(op, m)
			m = t.resizeCrop(m, w, h, op.arg(2), op.arg(3))
		case "crop":
			b := m.Bounds()
			w, h := parseSize(op.arg(0), b.Dx()), parseSize(op.arg(1), b.Dy())
			m = crop(m, w, h, op.arg(2), op.arg(3))
		case "rotate":
			m = rotate(m, op.arg(0))
		case "flip":
			m = imaging.FlipV(m)
		case "flop":
			m = imaging.FlipH(m)
		case "blur":
			if s, err := strconv.ParseFloat(op.arg(0), 64); err == nil && s > 0 {
				m = imaging.Blur(m, s)
			}
		}
	}
	return m
}

// size returns the target width and height of a sizing operation, adjusted
// for client hints.
func (t *transformer) size(op Operation, m image.Image) (w, h int) {
	b := m.Bounds()
	w, h = parseSize(op.arg(0), b.Dx()), parseSize(op.arg(1), b.Dy())
	if t.dpr > 0 {
		w, h = int(float64(w)*t.dpr+0.5), int(float64(h)*t.dpr+0.5)
	}
	if t.maxWidth > 0 && w > t.maxWidth {
		h = h * t.maxWidth / w
		w = t.maxWidth
	}
	return w, h
}

// resize scales m to fit inside w x h, or to cover it if cover is set.  A
// zero dimension is computed from the aspect ratio.  Images are never
// scaled up.
func (t *transformer) resize(m image.Image, w, h int, cover bool) image.Image {
	b := m.Bounds()
	imgW, imgH := b.Dx(), b.Dy()
	if imgW == 0 || imgH == 0 || (w == 0 && h == 0) {
		return m
	}

	rw, rh := float64(w)/float64(imgW), float64(h)/float64(imgH)
	var ratio float64
	switch {
	case w == 0:
		ratio = rh
	case h == 0:
		ratio = rw
	case cover:
		ratio = math.Max(rw, rh)
	default:
		ratio = math.Min(rw, rh)
	}
	if ratio >= 1 {
		return m
	}

	nw := int(math.Max(1, math.Round(float64(imgW)*ratio)))
	nh := int(math.Max(1, math.Round(float64(imgH)*ratio)))
	return t.resizer.Resize(m, nw, nh)
}

// resizeCrop scales m to cover w x h and crops it to that size.  An x of
// "smart" selects the crop region by content.
func (t *transformer) resizeCrop(m image.Image, w, h int, x, y string) image.Image {
	if w == 0 || h == 0 {
		return t.resize(m, w, h, false)
	}
	if strings.EqualFold(x, "smart") {
		return t.smartCrop(m, w, h)
	}
	m = t.resize(m, w, h, true)
	return crop(m, w, h, x, y)
}

func (t *transformer) smartCrop(m image.Image, w, h int) image.Image {
	analyzer := smartcrop.NewAnalyzer(nfnt.NewDefaultResizer())
	r, err := analyzer.FindBestCrop(m, w, h)
	if err != nil || r.Empty() {
		return crop(t.resize(m, w, h, true), w, h, "", "")
	}
	m = imaging.Crop(m, r)
	return t.resize(m, w, h, false)
}

// crop cuts a w x h region out of m at the position given by x and y.
// Zero dimensions keep the full image size.
func crop(m image.Image, w, h int, x, y string) image.Image {
	b := m.Bounds()
	if w <= 0 || w > b.Dx() {
		w = b.Dx()
	}
	if h <= 0 || h > b.Dy() {
		h = b.Dy()
	}
	if w == b.Dx() && h == b.Dy() {
		return m
	}
	x0 := b.Min.X + parsePosition(x, b.Dx(), w)
	y0 := b.Min.Y + parsePosition(y, b.Dy(), h)
	return imaging.Crop(m, image.Rect(x0, y0, x0+w, y0+h))
}

// rotate turns m clockwise by deg degrees.  Only multiples of 90 are
// supported; other values are ignored.
func rotate(m image.Image, deg string) image.Image {
	d, err := strconv.Atoi(deg)
	if err != nil {
		return m
	}
	switch ((d % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate270(m)
	case 180:
		return imaging.Rotate180(m)
	case 270:
		return imaging.Rotate90(m)
	}
	return m
}

// exifOrientation returns the EXIF orientation tag of the image in r, or 0
// if there is none.
func exifOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	o, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return o
}

// orient applies an EXIF orientation to m so that it displays upright.
// See http://sylvana.net/jpegcrop/exif_orientation.html
func orient(m image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(m)
	case 3:
		return imaging.Rotate180(m)
	case 4:
		return imaging.FlipV(m)
	case 5:
		return imaging.Transpose(m)
	case 6:
		return imaging.Rotate270(m)
	case 7:
		return imaging.Transverse(m)
	case 8:
		return imaging.Rotate90(m)
	}
	return m
}

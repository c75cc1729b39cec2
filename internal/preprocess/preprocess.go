// Package preprocess turns decoded images into model input: the largest
// centered square is cropped, converted to grayscale, resized and scaled to
// [0, 1], then stacked into an [N, 1, S, S] batch.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	// Registered decoders for Decode.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

var (
	// ErrNoImages is returned by Batch for an empty input.
	ErrNoImages = errors.New("preprocess: no images")
	// ErrDecode wraps every failure to decode an image.
	ErrDecode = errors.New("preprocess: decode")
	// ErrTooLarge is returned by DecodeLimit for images over the pixel limit.
	ErrTooLarge = errors.New("preprocess: image too large")
)

// Frame maps a point in the resized model input back to the source image.
type Frame struct {
	OffsetX float32 // left edge of the crop in source pixels
	OffsetY float32 // top edge of the crop in source pixels
	Scale   float32 // source pixels per model input pixel
}

// ToSource converts model-input pixel coordinates to source coordinates.
func (f Frame) ToSource(x, y float32) (float32, float32) {
	return f.OffsetX + x*f.Scale, f.OffsetY + y*f.Scale
}

// Pipeline prepares images for a model with a fixed square input size.
type Pipeline struct {
	size   int
	interp draw.Interpolator
	par    parallel.Config
}

// New creates a pipeline producing size×size inputs with bilinear
// resampling.
func New(size int) *Pipeline {
	if size <= 0 {
		panic(fmt.Sprintf("preprocess: invalid size %d", size))
	}
	return &Pipeline{size: size, interp: draw.BiLinear, par: parallel.DefaultConfig().Coarse()}
}

// WithInterpolator returns a copy of p using interp for resizing.
func (p *Pipeline) WithInterpolator(interp draw.Interpolator) *Pipeline {
	c := *p
	c.interp = interp
	return &c
}

// Size returns the output height and width.
func (p *Pipeline) Size() int {
	return p.size
}

// Gray crops the centered square of img, converts it to grayscale and
// resizes it to Size×Size.
func (p *Pipeline) Gray(img image.Image) (*image.Gray, Frame) {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	crop := image.Rect(0, 0, side, side).Add(image.Pt(
		b.Min.X+(b.Dx()-side)/2,
		b.Min.Y+(b.Dy()-side)/2,
	))

	gray := image.NewGray(image.Rect(0, 0, side, side))
	draw.Draw(gray, gray.Bounds(), img, crop.Min, draw.Src)

	out := image.NewGray(image.Rect(0, 0, p.size, p.size))
	if side == p.size {
		copy(out.Pix, gray.Pix)
	} else {
		p.interp.Scale(out, out.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	}

	return out, Frame{
		OffsetX: float32(crop.Min.X),
		OffsetY: float32(crop.Min.Y),
		Scale:   float32(side) / float32(p.size),
	}
}

// Pixels writes the prepared image into dst (length Size*Size) as row-major
// intensities in [0, 1].
func (p *Pipeline) Pixels(img image.Image, dst []float32) Frame {
	if len(dst) != p.size*p.size {
		panic(fmt.Sprintf("preprocess: destination holds %d values, want %d", len(dst), p.size*p.size))
	}
	gray, frame := p.Gray(img)
	for y := 0; y < p.size; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+p.size]
		for x, v := range row {
			dst[y*p.size+x] = float32(v) / 255
		}
	}
	return frame
}

// Batch prepares imgs into a [N, 1, Size, Size] tensor on backend and
// returns the frame of each image.
func Batch[B tensor.Backend](p *Pipeline, imgs []image.Image, backend B) (*tensor.Tensor[float32, B], []Frame, error) {
	if len(imgs) == 0 {
		return nil, nil, ErrNoImages
	}
	for i, img := range imgs {
		if img == nil || img.Bounds().Empty() {
			return nil, nil, fmt.Errorf("preprocess: image %d is empty", i)
		}
	}

	plane := p.size * p.size
	out := tensor.Zeros[float32](tensor.Shape{len(imgs), 1, p.size, p.size}, backend)
	data := out.Data()
	frames := make([]Frame, len(imgs))
	parallel.For(len(imgs), func(i int) {
		frames[i] = p.Pixels(imgs[i], data[i*plane:(i+1)*plane])
	}, p.par)
	return out, frames, nil
}

// Decode reads a PNG, JPEG, GIF, BMP, TIFF or WebP image of any size.
func Decode(r io.Reader) (image.Image, string, error) {
	return DecodeLimit(r, 0)
}

// DecodeLimit is Decode for untrusted input: the header is read first and
// images declaring more than maxPixels pixels fail with ErrTooLarge before
// any pixel buffer is allocated. maxPixels <= 0 disables the check.
func DecodeLimit(r io.Reader, maxPixels int64) (image.Image, string, error) {
	if maxPixels > 0 {
		var head bytes.Buffer
		cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
		}
		if n := int64(cfg.Width) * int64(cfg.Height); n > maxPixels {
			return nil, "", fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
		}
		r = io.MultiReader(&head, r)
	}

	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}

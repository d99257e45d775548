package ocr

import (
	"image"
	"math"
	"sort"

	"golang.org/x/image/draw"
)

// PreprocessConfig tunes Preprocess. Zero fields take the defaults.
type PreprocessConfig struct {
	// BlockSize is the odd side of the Gaussian neighbourhood.
	BlockSize int
	// C is subtracted from the weighted mean to form the threshold.
	C float64
	// MedianSize is the odd side of the median filter; 1 disables it.
	MedianSize int
	// MinWidth upscales narrower images before thresholding; 0 disables.
	MinWidth int
}

var DefaultPreprocess = PreprocessConfig{BlockSize: 31, C: 2, MedianSize: 3}

// Preprocess binarizes img with the default parameters.
func Preprocess(img image.Image) *image.Gray {
	return PreprocessWith(img, DefaultPreprocess)
}

// PreprocessWith converts img to grayscale, applies an adaptive Gaussian
// threshold and then a median filter. Pixels brighter than their local
// threshold become white, the rest black.
func PreprocessWith(img image.Image, cfg PreprocessConfig) *image.Gray {
	if cfg.BlockSize < 3 {
		cfg.BlockSize = DefaultPreprocess.BlockSize
	}
	if cfg.BlockSize%2 == 0 {
		cfg.BlockSize++
	}
	if cfg.MedianSize == 0 {
		cfg.MedianSize = DefaultPreprocess.MedianSize
	}

	gray := toGray(img, cfg.MinWidth)
	out := adaptiveThreshold(gray, cfg.BlockSize, cfg.C)
	if cfg.MedianSize > 1 {
		out = medianFilter(out, cfg.MedianSize|1)
	}
	return out
}

func toGray(img image.Image, minWidth int) *image.Gray {
	b := img.Bounds()
	if minWidth > 0 && b.Dx() > 0 && b.Dx() < minWidth {
		h := b.Dy() * minWidth / b.Dx()
		dst := image.NewGray(image.Rect(0, 0, minWidth, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	}
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return dst
}

// gaussianKernel matches the sigma heuristic used for adaptive thresholds
// when no sigma is given.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		x := float64(i - half)
		k[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func adaptiveThreshold(src *image.Gray, block int, c float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	k := gaussianKernel(block)
	half := block / 2

	// Separable blur with replicated borders.
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(row[clamp(x+i-half, 0, w-1)])
			}
			tmp[y*w+x] = acc
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var mean float64
			for i, kv := range k {
				mean += kv * tmp[clamp(y+i-half, 0, h-1)*w+x]
			}
			if float64(src.Pix[y*src.Stride+x]) > mean-c {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

func medianFilter(src *image.Gray, size int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	half := size / 2
	window := make([]int, 0, size*size)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -half; dy <= half; dy++ {
				yy := clamp(y+dy, 0, h-1)
				for dx := -half; dx <= half; dx++ {
					window = append(window, int(src.Pix[yy*src.Stride+clamp(x+dx, 0, w-1)]))
				}
			}
			sort.Ints(window)
			out.Pix[y*out.Stride+x] = uint8(window[len(window)/2])
		}
	}
	return out
}

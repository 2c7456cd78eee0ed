package provider

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// Per-channel normalization used by the common ViT-style image encoders.
var (
	imageMean = [3]float32{0.485, 0.456, 0.406}
	imageStd  = [3]float32{0.229, 0.224, 0.225}
)

// imageTensor decodes an encoded frame and writes a normalized 1x3xSxS CHW
// tensor into dst. The frame is resized with nearest-neighbour sampling.
func imageTensor(data []byte, size int, dst []float32) error {
	if len(dst) != 3*size*size {
		return fmt.Errorf("image tensor has %d elements, want %d", len(dst), 3*size*size)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return fmt.Errorf("image has zero size")
	}

	plane := size * size
	for y := 0; y < size; y++ {
		sy := b.Min.Y + y*h/size
		for x := 0; x < size; x++ {
			sx := b.Min.X + x*w/size
			r, g, bl, _ := img.At(sx, sy).RGBA()
			i := y*size + x
			dst[i] = (float32(r)/65535 - imageMean[0]) / imageStd[0]
			dst[plane+i] = (float32(g)/65535 - imageMean[1]) / imageStd[1]
			dst[2*plane+i] = (float32(bl)/65535 - imageMean[2]) / imageStd[2]
		}
	}
	return nil
}

// byteTokens encodes text as UTF-8 byte ids offset by one, so 0 stays the
// padding id. The result is truncated or zero-padded to seqLen.
func byteTokens(text string, seqLen int, dst []int64) {
	for i := range dst {
		dst[i] = 0
	}
	n := len(text)
	if n > seqLen {
		n = seqLen
	}
	for i := 0; i < n; i++ {
		dst[i] = int64(text[i]) + 1
	}
}

// unnormalize maps model outputs in [-1,1] onto [low,high] per component.
// Missing or mismatched bounds leave the values unchanged.
func unnormalize(raw []float32, low, high []float64) []float64 {
	out := make([]float64, len(raw))
	scale := len(low) == len(raw) && len(high) == len(raw)
	for i, v := range raw {
		f := float64(v)
		if scale && !math.IsNaN(f) && !math.IsInf(f, 0) {
			f = low[i] + (f+1)/2*(high[i]-low[i])
		}
		out[i] = f
	}
	return out
}

func parseNonFinite(s string) (float64, bool) {
	switch s {
	case "NaN":
		return math.NaN(), true
	case "Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	return 0, false
}

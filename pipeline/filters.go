package pipeline

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// toGray flattens any decoded image into an 8-bit grayscale image anchored at
// the origin. Later filters rely on the origin anchoring.
func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// upscaleToMin enlarges the image uniformly until both dimensions meet the
// given minimums, using the smallest factor that satisfies both. Images that
// already meet the minimums pass through untouched.
func upscaleToMin(src *image.Gray, minW, minH int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w >= minW && h >= minH {
		return src
	}
	scale := math.Max(float64(minW)/float64(w), float64(minH)/float64(h))
	targetW := int(math.Round(float64(w) * scale))
	targetH := int(math.Round(float64(h) * scale))
	dst := image.NewGray(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// boxBlurGray computes a box-filter average with a (2*halfwidth+1) square
// window, replicating edge pixels beyond the borders. Two separable passes
// with running sums keep it linear in the pixel count.
func boxBlurGray(src *image.Gray, halfwidth int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	window := 2*halfwidth + 1

	// Horizontal pass.
	tmp := make([]uint16, w*h)
	for y := 0; y < h; y++ {
		base := src.PixOffset(b.Min.X, b.Min.Y+y)
		row := src.Pix[base : base+w]
		sum := 0
		for x := -halfwidth; x <= halfwidth; x++ {
			sum += int(row[clampInt(x, 0, w-1)])
		}
		out := tmp[y*w : y*w+w]
		for x := 0; x < w; x++ {
			out[x] = uint16((sum + window/2) / window)
			sum -= int(row[clampInt(x-halfwidth, 0, w-1)])
			sum += int(row[clampInt(x+halfwidth+1, 0, w-1)])
		}
	}

	// Vertical pass.
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		sum := 0
		for y := -halfwidth; y <= halfwidth; y++ {
			sum += int(tmp[clampInt(y, 0, h-1)*w+x])
		}
		for y := 0; y < h; y++ {
			dst.Pix[y*dst.Stride+x] = uint8((sum + window/2) / window)
			sum -= int(tmp[clampInt(y-halfwidth, 0, h-1)*w+x])
			sum += int(tmp[clampInt(y+halfwidth+1, 0, h-1)*w+x])
		}
	}
	return dst
}

// unsharpGray sharpens by adding back a scaled difference between the image
// and a box-smoothed copy: out = in + amount*(in - smoothed). It reports an
// error when the image is smaller than the smoothing window, in which case
// the caller keeps the unsharpened image.
func unsharpGray(src *image.Gray, halfwidth int, amount float64) (*image.Gray, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	window := 2*halfwidth + 1
	if halfwidth < 1 {
		return nil, fmt.Errorf("halfwidth %d out of range", halfwidth)
	}
	if w < window || h < window {
		return nil, fmt.Errorf("image %dx%d smaller than %dx%d smoothing window", w, h, window, window)
	}

	smoothed := boxBlurGray(src, halfwidth)
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		base := src.PixOffset(b.Min.X, b.Min.Y+y)
		srow := src.Pix[base : base+w]
		brow := smoothed.Pix[y*smoothed.Stride : y*smoothed.Stride+w]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			v := float64(srow[x]) + amount*(float64(srow[x])-float64(brow[x]))
			drow[x] = clampByte(v)
		}
	}
	return dst, nil
}

// contrastNormGray stretches local contrast tile by tile. Each tile's
// smoothed min/max range is mapped to the full 0..255 range, but only where
// the local range is at least minDiff; flatter tiles pass through unchanged
// so uniform regions are not amplified into noise. It reports an error when
// the image is smaller than a single tile.
func contrastNormGray(src *image.Gray, tile, minDiff int) (*image.Gray, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if tile < 2 {
		return nil, fmt.Errorf("tile size %d out of range", tile)
	}
	if w < tile || h < tile {
		return nil, fmt.Errorf("image %dx%d smaller than %dx%d tile", w, h, tile, tile)
	}

	tilesX := (w + tile - 1) / tile
	tilesY := (h + tile - 1) / tile
	minMap := make([]uint8, tilesX*tilesY)
	maxMap := make([]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			lo, hi := uint8(255), uint8(0)
			for y := ty * tile; y < (ty+1)*tile && y < h; y++ {
				base := src.PixOffset(b.Min.X, b.Min.Y+y)
				row := src.Pix[base : base+w]
				for x := tx * tile; x < (tx+1)*tile && x < w; x++ {
					v := row[x]
					if v < lo {
						lo = v
					}
					if v > hi {
						hi = v
					}
				}
			}
			minMap[ty*tilesX+tx] = lo
			maxMap[ty*tilesX+tx] = hi
		}
	}
	minMap = smoothTileMap(minMap, tilesX, tilesY)
	maxMap = smoothTileMap(maxMap, tilesX, tilesY)

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		base := src.PixOffset(b.Min.X, b.Min.Y+y)
		srow := src.Pix[base : base+w]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		ty := y / tile
		for x := 0; x < w; x++ {
			lo := minMap[ty*tilesX+x/tile]
			hi := maxMap[ty*tilesX+x/tile]
			v := srow[x]
			if int(hi)-int(lo) < minDiff {
				drow[x] = v
				continue
			}
			switch {
			case v <= lo:
				drow[x] = 0
			case v >= hi:
				drow[x] = 255
			default:
				drow[x] = uint8(int(v-lo) * 255 / int(hi-lo))
			}
		}
	}
	return dst, nil
}

// binarizeGray separates foreground from background. The background level is
// estimated per tile (bright-background assumption), smoothed across tiles,
// and divided out before a global Otsu threshold splits the normalized image
// into pure black and white. It reports an error when the image is smaller
// than a tile or when the histogram has no separable classes, for example a
// completely uniform image; callers then keep the last grayscale stage.
func binarizeGray(src *image.Gray, tile int) (*image.Gray, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if tile < 2 {
		return nil, fmt.Errorf("tile size %d out of range", tile)
	}
	if w < tile || h < tile {
		return nil, fmt.Errorf("image %dx%d smaller than %dx%d tile", w, h, tile, tile)
	}

	tilesX := (w + tile - 1) / tile
	tilesY := (h + tile - 1) / tile
	bgMap := make([]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			hi := uint8(0)
			for y := ty * tile; y < (ty+1)*tile && y < h; y++ {
				base := src.PixOffset(b.Min.X, b.Min.Y+y)
				row := src.Pix[base : base+w]
				for x := tx * tile; x < (tx+1)*tile && x < w; x++ {
					if row[x] > hi {
						hi = row[x]
					}
				}
			}
			bgMap[ty*tilesX+tx] = hi
		}
	}
	bgMap = smoothTileMap(bgMap, tilesX, tilesY)

	norm := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		base := src.PixOffset(b.Min.X, b.Min.Y+y)
		srow := src.Pix[base : base+w]
		nrow := norm.Pix[y*norm.Stride : y*norm.Stride+w]
		ty := y / tile
		for x := 0; x < w; x++ {
			bg := int(bgMap[ty*tilesX+x/tile])
			if bg < 1 {
				bg = 1
			}
			v := int(srow[x]) * 255 / bg
			if v > 255 {
				v = 255
			}
			nrow[x] = uint8(v)
		}
	}

	threshold, ok := otsuThreshold(norm)
	if !ok {
		return nil, fmt.Errorf("histogram has no separable classes")
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		nrow := norm.Pix[y*norm.Stride : y*norm.Stride+w]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			if nrow[x] <= threshold {
				drow[x] = 0
			} else {
				drow[x] = 255
			}
		}
	}
	return dst, nil
}

// otsuThreshold picks the threshold that maximizes between-class variance.
// It reports false when every pixel has the same value, since no threshold
// separates anything then.
func otsuThreshold(img *image.Gray) (uint8, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var hist [256]int
	for y := 0; y < h; y++ {
		base := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[base : base+w]
		for x := 0; x < w; x++ {
			hist[row[x]]++
		}
	}
	total := w * h

	occupied := 0
	sum := 0
	for i, n := range hist {
		if n > 0 {
			occupied++
		}
		sum += i * n
	}
	if occupied < 2 {
		return 0, false
	}

	best, bestVar := -1, 0.0
	wB, sumB := 0, 0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += t * hist[t]
		mB := float64(sumB) / float64(wB)
		mF := float64(sum-sumB) / float64(wF)
		v := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if v > bestVar {
			bestVar = v
			best = t
		}
	}
	if best < 0 {
		return 0, false
	}
	return uint8(best), true
}

// smoothTileMap averages each tile value with its available neighbors in a
// 3x3 neighborhood, damping outlier tiles before their ranges are applied.
func smoothTileMap(m []uint8, tilesX, tilesY int) []uint8 {
	out := make([]uint8, len(m))
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			sum, n := 0, 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					ny, nx := ty+dy, tx+dx
					if ny < 0 || ny >= tilesY || nx < 0 || nx >= tilesX {
						continue
					}
					sum += int(m[ny*tilesX+nx])
					n++
				}
			}
			out[ty*tilesX+tx] = uint8((sum + n/2) / n)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

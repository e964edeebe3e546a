package pipeline

import (
	"image"
	"image/color"
	"testing"
)

func uniformGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestToGrayNormalizesBoundsAndColor(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 20, 60, 70))
	for y := 20; y < 70; y++ {
		for x := 10; x < 60; x++ {
			src.Set(x, y, color.White)
		}
	}
	src.Set(10, 20, color.Black)

	gray := toGray(src)
	if got := gray.Bounds(); got != image.Rect(0, 0, 50, 50) {
		t.Fatalf("bounds = %v, want (0,0)-(50,50)", got)
	}
	if v := gray.GrayAt(0, 0).Y; v != 0 {
		t.Errorf("black pixel = %d, want 0", v)
	}
	if v := gray.GrayAt(1, 0).Y; v != 255 {
		t.Errorf("white pixel = %d, want 255", v)
	}
}

func TestUpscaleToMin(t *testing.T) {
	cases := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{"both below minimums", 50, 50, 500, 500},
		{"height ratio dominates", 300, 100, 750, 250},
		{"width already sufficient", 600, 100, 1500, 250},
		{"height alone below", 600, 200, 750, 250},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := upscaleToMin(uniformGray(tc.w, tc.h, 200), minWidth, minHeight)
			b := got.Bounds()
			if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
				t.Fatalf("upscaled to %dx%d, want %dx%d", b.Dx(), b.Dy(), tc.wantW, tc.wantH)
			}
		})
	}
}

func TestUpscaleToMinPassThrough(t *testing.T) {
	src := uniformGray(800, 600, 128)
	if got := upscaleToMin(src, minWidth, minHeight); got != src {
		t.Fatal("image meeting minimums was copied instead of passed through")
	}
}

func TestBoxBlurUniformStaysUniform(t *testing.T) {
	blurred := boxBlurGray(uniformGray(64, 64, 100), 5)
	for i, v := range blurred.Pix {
		if v != 100 {
			t.Fatalf("pixel %d = %d, want 100", i, v)
		}
	}
}

func TestUnsharpFlatImageUnchanged(t *testing.T) {
	out, err := unsharpGray(uniformGray(64, 64, 100), sharpenHalfwidth, sharpenAmount)
	if err != nil {
		t.Fatalf("unsharpGray() error = %v", err)
	}
	for i, v := range out.Pix {
		if v != 100 {
			t.Fatalf("pixel %d = %d, want 100", i, v)
		}
	}
}

func TestUnsharpIncreasesEdgeContrast(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 40, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			if x < 20 {
				src.SetGray(x, y, color.Gray{Y: 100})
			} else {
				src.SetGray(x, y, color.Gray{Y: 150})
			}
		}
	}

	out, err := unsharpGray(src, sharpenHalfwidth, sharpenAmount)
	if err != nil {
		t.Fatalf("unsharpGray() error = %v", err)
	}
	if v := out.GrayAt(19, 10).Y; v >= 100 {
		t.Errorf("dark side of edge = %d, want < 100", v)
	}
	if v := out.GrayAt(20, 10).Y; v <= 150 {
		t.Errorf("bright side of edge = %d, want > 150", v)
	}
}

func TestUnsharpRejectsTinyImage(t *testing.T) {
	if _, err := unsharpGray(uniformGray(5, 5, 100), sharpenHalfwidth, sharpenAmount); err == nil {
		t.Fatal("expected error for image smaller than the smoothing window")
	}
}

func TestContrastNormStretchesWideRange(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 60, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			if (x+y)%2 == 0 {
				src.SetGray(x, y, color.Gray{Y: 20})
			} else {
				src.SetGray(x, y, color.Gray{Y: 200})
			}
		}
	}

	out, err := contrastNormGray(src, contrastTile, contrastMinDiff)
	if err != nil {
		t.Fatalf("contrastNormGray() error = %v", err)
	}
	sawBlack, sawWhite := false, false
	for _, v := range out.Pix {
		switch v {
		case 0:
			sawBlack = true
		case 255:
			sawWhite = true
		default:
			t.Fatalf("pixel %d not stretched to full range", v)
		}
	}
	if !sawBlack || !sawWhite {
		t.Fatalf("stretched image missing extremes: black=%v white=%v", sawBlack, sawWhite)
	}
}

func TestContrastNormLeavesFlatImageAlone(t *testing.T) {
	src := uniformGray(60, 60, 128)
	out, err := contrastNormGray(src, contrastTile, contrastMinDiff)
	if err != nil {
		t.Fatalf("contrastNormGray() error = %v", err)
	}
	for i, v := range out.Pix {
		if v != 128 {
			t.Fatalf("pixel %d = %d, want 128 untouched", i, v)
		}
	}
}

func TestContrastNormRejectsTinyImage(t *testing.T) {
	if _, err := contrastNormGray(uniformGray(30, 30, 128), contrastTile, contrastMinDiff); err == nil {
		t.Fatal("expected error for image smaller than one tile")
	}
}

func TestBinarizeSeparatesForeground(t *testing.T) {
	src := uniformGray(40, 40, 220)
	for y := 16; y < 24; y++ {
		for x := 16; x < 24; x++ {
			src.SetGray(x, y, color.Gray{Y: 30})
		}
	}

	out, err := binarizeGray(src, backgroundTile)
	if err != nil {
		t.Fatalf("binarizeGray() error = %v", err)
	}
	for _, v := range out.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("pixel %d is not binary", v)
		}
	}
	if v := out.GrayAt(20, 20).Y; v != 0 {
		t.Errorf("foreground pixel = %d, want 0", v)
	}
	if v := out.GrayAt(2, 2).Y; v != 255 {
		t.Errorf("background pixel = %d, want 255", v)
	}
}

func TestBinarizeRejectsUniformImage(t *testing.T) {
	if _, err := binarizeGray(uniformGray(40, 40, 255), backgroundTile); err == nil {
		t.Fatal("expected error for uniform image with no separable classes")
	}
}

func TestOtsuThreshold(t *testing.T) {
	src := uniformGray(32, 32, 50)
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			src.SetGray(x, y, color.Gray{Y: 200})
		}
	}

	th, ok := otsuThreshold(src)
	if !ok {
		t.Fatal("otsuThreshold() found no split in a bimodal image")
	}
	if th < 50 || th >= 200 {
		t.Fatalf("threshold = %d, want within [50,200)", th)
	}

	if _, ok := otsuThreshold(uniformGray(32, 32, 77)); ok {
		t.Fatal("otsuThreshold() reported a split for a uniform image")
	}
}

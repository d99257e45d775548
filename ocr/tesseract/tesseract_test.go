package tesseract

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"os/exec"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/referto-app/referto/ocr"
)

func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func TestParseLanguages(t *testing.T) {
	if got := ParseLanguages("ita+eng"); !reflect.DeepEqual(got, []string{"ita", "eng"}) {
		t.Fatalf("unexpected languages %v", got)
	}
	if got := ParseLanguages(" deu, fra "); !reflect.DeepEqual(got, []string{"deu", "fra"}) {
		t.Fatalf("unexpected languages %v", got)
	}
}

func TestInitRegistersEngine(t *testing.T) {
	if ocr.DefaultEngine().Name() != "tesseract" {
		t.Fatalf("expected tesseract default engine, got %s", ocr.DefaultEngine().Name())
	}
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString("REFERTO MEDICO")

	eng := New(Config{Languages: []string{"eng"}})
	results, err := ocr.RecognizeImages(context.Background(), eng, 0, []image.Image{img}, ocr.DefaultPreprocess, ocr.WithDPI(300))
	if err != nil {
		t.Fatalf("RecognizeImages() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	got := strings.ToUpper(results[0].PlainText)
	if !strings.Contains(got, "REFERTO") {
		t.Fatalf("unexpected OCR output: %q", results[0].PlainText)
	}
	if results[0].InputID != "page-0-img-0" || results[0].Language != "eng" {
		t.Fatalf("unexpected result %+v", results[0])
	}
	if eng.Version() == "" {
		t.Fatalf("expected a library version")
	}
}

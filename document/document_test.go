package document

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rc4"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/fumiama/go-docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/ocr"
	"github.com/referto-app/referto/writer"
)

// stubEngine returns a fixed text and counts calls.
type stubEngine struct {
	mu     sync.Mutex
	text   string
	calls  int
	inputs []ocr.Input
	err    error
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Recognize(_ context.Context, in ocr.Input) (ocr.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return ocr.Result{}, s.err
	}
	return ocr.Result{InputID: in.ID, PlainText: s.text, Confidence: 0.9}, nil
}

func newExtractor(eng ocr.Engine, cache *Cache) *Extractor {
	return New(Config{Engine: eng, Cache: cache}, observability.NopLogger{}, observability.NopTracer())
}

func scan() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 60, 30))
	for i := range img.Pix {
		img.Pix[i] = 230
	}
	for x := 5; x < 55; x++ {
		img.SetGray(x, 15, color.Gray{Y: 10})
	}
	return img
}

func pdfBytes(t *testing.T, build func(d *writer.Document)) []byte {
	t.Helper()
	d := writer.New(writer.Config{})
	build(d)
	data, err := d.Bytes()
	require.NoError(t, err)
	return data
}

func TestFormatOf(t *testing.T) {
	cases := map[string]Format{
		"referto.PDF":  FormatPDF,
		"scan.jpeg":    FormatImage,
		"scan.TIFF":    FormatImage,
		"foto.webp":    FormatImage,
		"note.txt":     FormatText,
		"lettera.docx": FormatDOCX,
		"esami.xlsx":   FormatXLSX,
	}
	for name, want := range cases {
		got, err := FormatOf(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := FormatOf("archivio.zip")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.Equal(t, "Formato non supportato.", err.Error())
}

func TestExtractPDFTextLayer(t *testing.T) {
	eng := &stubEngine{text: "non usato"}
	data := pdfBytes(t, func(d *writer.Document) {
		d.Title("Referto")
		d.Paragraph("Emocromo completo nella norma, glicemia 92 mg/dl.")
	})

	res, err := newExtractor(eng, nil).Extract(context.Background(), "referto.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, "Referto\nEmocromo completo nella norma, glicemia 92 mg/dl.", res.Text)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, MethodTextLayer, res.Pages[0].Method)
	assert.Zero(t, eng.calls)
	assert.Equal(t, FormatPDF, res.Format)
	assert.Len(t, res.Digest, 64)
}

func TestExtractPDFFallsBackToOCR(t *testing.T) {
	eng := &stubEngine{text: "Diagnosi: frattura composta"}
	data := pdfBytes(t, func(d *writer.Document) {
		d.Paragraph("Pagina uno con testo sufficiente.")
		d.PageBreak()
		d.Paragraph("p. 2")
		d.Image(scan())
		d.PageBreak()
		d.Paragraph("p. 3")
	})

	res, err := newExtractor(eng, nil).Extract(context.Background(), "scansione.pdf", data)
	require.NoError(t, err)
	require.Len(t, res.Pages, 3)
	assert.Equal(t, MethodTextLayer, res.Pages[0].Method)
	assert.Equal(t, MethodOCR, res.Pages[1].Method)
	assert.Equal(t, "Diagnosi: frattura composta", res.Pages[1].Text)
	assert.InDelta(t, 0.9, res.Pages[1].Confidence, 1e-9)
	// A short text layer without images to recognize is dropped.
	assert.Equal(t, MethodTextLayer, res.Pages[2].Method)
	assert.Empty(t, res.Pages[2].Text)
	assert.Equal(t, "Pagina uno con testo sufficiente.\nDiagnosi: frattura composta", res.Text)
	require.Equal(t, 1, eng.calls)
	assert.Equal(t, ocr.ImageFormatPNG, eng.inputs[0].Format)
	assert.Equal(t, 1, eng.inputs[0].PageIndex)
}

// rc4PDF builds a 40-bit RC4 (R2) PDF with an empty user password whose
// page content is text.
func rc4PDF(t *testing.T, text string) []byte {
	t.Helper()
	pad := []byte{
		0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41, 0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
		0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80, 0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
	}
	crypt := func(key, data []byte) []byte {
		c, err := rc4.NewCipher(key)
		require.NoError(t, err)
		out := make([]byte, len(data))
		c.XORKeyStream(out, data)
		return out
	}
	owner := bytes.Repeat([]byte{0x5A}, 32)
	id := []byte("0123456789abcdef")
	perms := int32(-44)

	seed := append(append([]byte{}, pad...), owner...)
	seed = binary.LittleEndian.AppendUint32(seed, uint32(perms))
	seed = append(seed, id...)
	sum := md5.Sum(seed)
	fileKey := sum[:5]
	user := crypt(fileKey, pad)

	objKey := md5.Sum(append(append([]byte{}, fileKey...), 4, 0, 0, 0, 0))
	content := crypt(objKey[:10], []byte(fmt.Sprintf("BT /F1 12 Tf 72 700 Td (%s) Tj ET", text)))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	buf.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n")
	fmt.Fprintf(&buf, "4 0 obj\n<< /Length %d >>\nstream\n", len(content))
	buf.Write(content)
	buf.WriteString("\nendstream\nendobj\n")
	buf.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")
	fmt.Fprintf(&buf, "6 0 obj\n<< /Filter /Standard /V 1 /R 2 /Length 40 /O <%X> /U <%X> /P %d >>\nendobj\n", owner, user, perms)
	fmt.Fprintf(&buf, "trailer\n<< /Root 1 0 R /Encrypt 6 0 R /ID [<%X> <%X>] >>\n%%%%EOF\n", id, id)
	return buf.Bytes()
}

func TestExtractEncryptedPDF(t *testing.T) {
	eng := &stubEngine{text: "non usato"}
	res, err := newExtractor(eng, nil).Extract(context.Background(), "protetto.pdf", rc4PDF(t, "Emocromo completo nella norma"))
	require.NoError(t, err)
	assert.Equal(t, "Emocromo completo nella norma", res.Text)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, MethodTextLayer, res.Pages[0].Method)
	assert.Zero(t, eng.calls)
}

func TestExtractPDFOCRError(t *testing.T) {
	eng := &stubEngine{err: errors.New("tesseract failed")}
	data := pdfBytes(t, func(d *writer.Document) { d.Image(scan()) })
	_, err := newExtractor(eng, nil).Extract(context.Background(), "scan.pdf", data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract failed")
}

func TestExtractNotAPDF(t *testing.T) {
	_, err := newExtractor(&stubEngine{}, nil).Extract(context.Background(), "finto.pdf", []byte("ciao"))
	require.Error(t, err)
}

func TestExtractImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, scan()))
	eng := &stubEngine{text: "  Esito negativo \n"}

	res, err := newExtractor(eng, nil).Extract(context.Background(), "foto.PNG", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Esito negativo", res.Text)
	assert.Equal(t, FormatImage, res.Format)
	require.Len(t, eng.inputs, 1)
	assert.Equal(t, ocr.ImageFormatPNG, eng.inputs[0].Format)
}

func TestExtractUndecodableImageSendsRawBytes(t *testing.T) {
	eng := &stubEngine{text: "grezzo"}
	res, err := newExtractor(eng, nil).Extract(context.Background(), "rotta.jpg", []byte("not an image"))
	require.NoError(t, err)
	assert.Equal(t, "grezzo", res.Text)
	require.Len(t, eng.inputs, 1)
	assert.Equal(t, ocr.ImageFormatUnknown, eng.inputs[0].Format)
	assert.Equal(t, []byte("not an image"), eng.inputs[0].Image)
}

func TestExtractText(t *testing.T) {
	res, err := newExtractor(nil, nil).Extract(context.Background(), "note.txt", []byte("\xEF\xBB\xBF  Perché no?\n"))
	require.NoError(t, err)
	assert.Equal(t, "Perché no?", res.Text)

	// Windows-1252 "città".
	res, err = newExtractor(nil, nil).Extract(context.Background(), "vecchio.txt", []byte("citt\xe0"))
	require.NoError(t, err)
	assert.Equal(t, "città", res.Text)
}

func TestExtractDOCX(t *testing.T) {
	doc := docx.New().WithDefaultTheme()
	doc.AddParagraph().AddText("Paziente: Mario Rossi")
	doc.AddParagraph().AddText("Esito: negativo")
	var buf bytes.Buffer
	_, err := doc.WriteTo(&buf)
	require.NoError(t, err)

	res, err := newExtractor(nil, nil).Extract(context.Background(), "lettera.docx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Paziente: Mario Rossi\nEsito: negativo", res.Text)
}

func TestExtractXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Esame"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Valore"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Glicemia"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 92))
	_, err := f.NewSheet("Note")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Note", "A1", "nessuna"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := newExtractor(nil, nil).Extract(context.Background(), "esami.xlsx", buf.Bytes())
	require.NoError(t, err)
	want := "--- Foglio: Sheet1 ---\nEsame\tValore\nGlicemia\t92\n\n--- Foglio: Note ---\nnessuna"
	assert.Equal(t, want, res.Text)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, "Note", res.Pages[1].Label)
}

func TestExtractCorruptOffice(t *testing.T) {
	ex := newExtractor(nil, nil)
	_, err := ex.Extract(context.Background(), "rotto.docx", []byte("PK"))
	assert.Error(t, err)
	_, err = ex.Extract(context.Background(), "rotto.xlsx", []byte("PK"))
	assert.Error(t, err)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := newExtractor(nil, nil).Extract(context.Background(), "file.zip", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractCache(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, scan()))
	eng := &stubEngine{text: "memo"}
	cache := NewCache(8)
	ex := newExtractor(eng, cache)

	first, err := ex.Extract(context.Background(), "a.png", buf.Bytes())
	require.NoError(t, err)
	second, err := ex.Extract(context.Background(), "b.png", buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 1, eng.calls)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, "b.png", second.Name)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, cache.Len())

	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestDigestDependsOnExtension(t *testing.T) {
	assert.NotEqual(t, Digest("a.txt", []byte("x")), Digest("a.pdf", []byte("x")))
	assert.Equal(t, Digest("a.TXT", []byte("x")), Digest("b.txt", []byte("x")))
	var nilCache *Cache
	nilCache.Put("k", Result{})
	_, ok := nilCache.Get("k")
	assert.False(t, ok)
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/referto.txt"
	require.NoError(t, os.WriteFile(path, []byte("contenuto"), 0o644))
	res, err := newExtractor(nil, nil).ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "referto.txt", res.Name)
	assert.True(t, strings.HasPrefix(res.Text, "contenuto"))
}

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referto-app/referto/archive"
	"github.com/referto-app/referto/document"
	"github.com/referto-app/referto/summarize"
	"github.com/referto-app/referto/tasks"
)

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *fakeGenerator) Model() string { return "fake-model" }

type fixture struct {
	srv   *Server
	h     http.Handler
	store *archive.Store
	gen   *fakeGenerator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := archive.Open(filepath.Join(root, "uploads"), filepath.Join(root, "archive"))
	require.NoError(t, err)

	queue := tasks.NewQueue(tasks.Config{Workers: 1}, nil)
	t.Cleanup(func() { queue.Close(context.Background()) })

	gen := &fakeGenerator{reply: "**Diagnosi**: nella norma\n\n- emoglobina 14"}
	cache := document.NewCache(8)
	srv, err := New(opts, Deps{
		Extractor:  document.New(document.Config{Cache: cache}, nil, nil),
		Summarizer: summarize.NewService(summarize.DefaultPresets(), gen, nil, nil),
		Store:      store,
		Queue:      queue,
		Cache:      cache,
		OCRName:    "tesseract",
		OCRVersion: "5.3.0",
	}, nil)
	require.NoError(t, err)
	return &fixture{srv: srv, h: srv.Handler(), store: store, gen: gen}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

type upload struct {
	name string
	body string
}

func uploadRequest(t *testing.T, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		w, err := mw.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func formRequest(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestIndex(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Analisi Referti Medici")
	assert.Contains(t, rec.Body.String(), `<option value="intermediate">`)
	assert.Contains(t, rec.Body.String(), `<option value="custom">`)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadWithoutFile(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(uploadRequest(t, map[string]string{"note": "x"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Nessun file inviato", decode(t, rec)["error"])

	rec = f.do(formRequest("/upload", url.Values{"a": {"b"}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Nessun file inviato", decode(t, rec)["error"])
}

func TestUploadExtractsAndRemovesFiles(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(uploadRequest(t, nil,
		upload{"referto.txt", "Referto di test\nPaziente: Mario Rossi"},
		upload{"programma.exe", "MZ"},
		upload{"esami.txt", "Esami del sangue: nella norma\n"},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t,
		"Referto di test\nPaziente: Mario Rossi\n\nFormato non supportato.\n\nEsami del sangue: nella norma",
		res.FullText)
	require.Len(t, res.Files, 3)
	assert.Equal(t, document.FormatText, res.Files[0].Format)
	assert.NotEmpty(t, res.Files[0].Digest)
	assert.NotEmpty(t, res.Files[1].Error)

	entries, err := os.ReadDir(f.store.UploadDir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The same content again is served from the cache.
	rec = f.do(uploadRequest(t, nil, upload{"referto.txt", "Referto di test\nPaziente: Mario Rossi"}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Files[0].Cached)
}

func TestUploadAsync(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(uploadRequest(t, map[string]string{"async": "true"}, upload{"referto.txt", "Referto asincrono"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id, _ := decode(t, rec)["task_id"].(string)
	require.NotEmpty(t, id)

	var body map[string]any
	require.Eventually(t, func() bool {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/check_status/"+id, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		body = decode(t, rec)
		return body["status"] == string(tasks.StateCompleted)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "Referto asincrono", body["result"])
	files, ok := body["files"].([]any)
	require.True(t, ok, body)
	require.Len(t, files, 1)
	assert.Equal(t, "referto.txt", files[0].(map[string]any)["name"])
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixture(t, Options{MaxUploadBytes: 1024})
	rec := f.do(uploadRequest(t, nil, upload{"grande.txt", strings.Repeat("x", 4096)}))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "File troppo grande", decode(t, rec)["error"])

	entries, err := os.ReadDir(f.store.UploadDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckStatusUnknown(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(httptest.NewRequest(http.MethodGet, "/check_status/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeAndDownload(t *testing.T) {
	f := newFixture(t, Options{})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/download-summary", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File non disponibile", decode(t, rec)["error"])

	rec = f.do(formRequest("/analyze", url.Values{"extracted_text": {"  "}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Nessun testo ricevuto", decode(t, rec)["error"])

	rec = f.do(formRequest("/analyze", url.Values{
		"extracted_text": {"Emocromo completo"},
		"prompt_type":    {"detailed"},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, f.gen.reply, body["summary"])
	assert.Contains(t, body["summary_html"], "<strong>Diagnosi</strong>")
	assert.Equal(t, "fake-model", body["model"])
	assert.Equal(t, "detailed", body["prompt_type"])
	require.Len(t, f.gen.prompts, 1)
	assert.Equal(t, "Analisi medica dettagliata per specialisti:\n\nEmocromo completo", f.gen.prompts[0])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/download-summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "riassunto_referto.docx")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/download-summary?format=pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/download-summary?format=odt", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeDefaultsToSimplePrompt(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(formRequest("/analyze", url.Values{"extracted_text": {"Referto"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Riassunto semplice e comprensibile:\n\nReferto", f.gen.prompts[0])
}

func TestAnalyzeGeneratorFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.err = errors.New("quota exceeded")
	rec := f.do(formRequest("/analyze", url.Values{"extracted_text": {"Referto"}}))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "Errore generazione riassunto.", decode(t, rec)["error"])

	_, err := f.store.OpenReport("docx")
	assert.ErrorIs(t, err, archive.ErrNoReport)
}

func TestReset(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.do(formRequest("/analyze", url.Values{"extracted_text": {"Referto"}}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reset ok", decode(t, rec)["status"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/download-summary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTestAndHealth(t *testing.T) {
	f := newFixture(t, Options{})
	fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return fixed }

	rec := f.do(httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "2025-03-01T09:30:00Z", body["timestamp"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "tesseract", body["ocr_engine"])
	assert.Equal(t, "5.3.0", body["ocr_version"])
	assert.Equal(t, "fake-model", body["model"])
}

func TestHousekeeping(t *testing.T) {
	f := newFixture(t, Options{UploadRetention: time.Hour})
	old, err := f.store.SaveUpload("vecchio.txt", strings.NewReader("x"))
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	f.srv.housekeep()
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	root := t.TempDir()
	store, err := archive.Open(filepath.Join(root, "u"), filepath.Join(root, "a"))
	require.NoError(t, err)
	queue := tasks.NewQueue(tasks.Config{}, nil)
	defer queue.Close(context.Background())

	_, err = New(Options{Housekeeping: "every sometimes"}, Deps{
		Extractor:  document.New(document.Config{}, nil, nil),
		Summarizer: summarize.NewService(summarize.DefaultPresets(), &fakeGenerator{}, nil, nil),
		Store:      store,
		Queue:      queue,
	}, nil)
	assert.ErrorContains(t, err, "housekeeping schedule")

	_, err = New(Options{}, Deps{}, nil)
	assert.Error(t, err)
}

func TestServeAndShutdown(t *testing.T) {
	f := newFixture(t, Options{MaxConnections: 2, Housekeeping: DefaultHousekeeping})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/test")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Shutdown(ctx))
	require.NoError(t, <-done)
}

func TestServeLimitsConnections(t *testing.T) {
	f := newFixture(t, Options{MaxConnections: 1})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = f.srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.srv.Shutdown(ctx)
	})
	addr := "http://" + ln.Addr().String() + "/test"

	// A kept-alive connection occupies the only slot.
	held, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = io.WriteString(held, "GET /test HTTP/1.1\r\nHost: referto\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(held), nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	client := func(timeout time.Duration) *http.Client {
		return &http.Client{Timeout: timeout, Transport: &http.Transport{DisableKeepAlives: true}}
	}
	_, err = client(200 * time.Millisecond).Get(addr)
	require.Error(t, err, "second connection was served while the first was open")

	require.NoError(t, held.Close())
	resp, err = client(5 * time.Second).Get(addr)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

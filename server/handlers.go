package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/referto-app/referto/archive"
	"github.com/referto-app/referto/document"
	"github.com/referto-app/referto/observability"
	"github.com/referto-app/referto/report"
	"github.com/referto-app/referto/summarize"
	"github.com/referto-app/referto/tasks"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Texts placed in full_text for files that could not be read.
const (
	unsupportedText = "Formato non supportato."
	extractFailText = "Errore estrazione testo."
)

// FileResult describes one uploaded file in an upload response.
type FileResult struct {
	Name   string          `json:"name"`
	Format document.Format `json:"format,omitempty"`
	Pages  int             `json:"pages"`
	Digest string          `json:"digest,omitempty"`
	Cached bool            `json:"cached,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UploadResult is the body of a synchronous upload and the result of an
// asynchronous one.
type UploadResult struct {
	FullText string       `json:"full_text"`
	Files    []FileResult `json:"files"`
}

type savedFile struct {
	name string
	path string
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /check_status/{id}", s.handleStatus)
	s.mux.HandleFunc("POST /analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /download-summary", s.handleDownload)
	s.mux.HandleFunc("POST /reset", s.handleReset)
	s.mux.HandleFunc("GET /test", s.handleTest)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var presets []summarize.PromptType
	if p, ok := s.deps.Summarizer.(interface{ Presets() summarize.Presets }); ok {
		presets = p.Presets().Types()
	}
	data := struct {
		PromptTypes []summarize.PromptType
		MaxUploadMB int64
	}{presets, s.opts.MaxUploadBytes >> 20}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		s.logger.Error("render index", observability.Error("error", err))
		respondError(w, http.StatusInternalServerError, "Errore interno")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "File troppo grande")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			s.logger.Warn("parse upload", observability.Error("error", err))
		}
		respondError(w, http.StatusBadRequest, "Nessun file inviato")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		respondError(w, http.StatusBadRequest, "Nessun file inviato")
		return
	}

	files, err := s.saveUploads(headers)
	if err != nil {
		s.logger.Error("save upload", observability.Error("error", err))
		respondError(w, http.StatusInternalServerError, "Errore durante upload")
		return
	}

	if r.FormValue("async") == "true" {
		id, err := s.deps.Queue.Submit(func(ctx context.Context) (any, error) {
			return s.extractAll(ctx, files), nil
		})
		if err != nil {
			s.removeUploads(files)
			if errors.Is(err, tasks.ErrQueueFull) {
				respondError(w, http.StatusServiceUnavailable, "Coda piena, riprovare più tardi")
				return
			}
			s.logger.Error("submit upload", observability.Error("error", err))
			respondError(w, http.StatusInternalServerError, "Errore durante upload")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"task_id": id, "status": string(tasks.StatePending)})
		return
	}

	respondJSON(w, http.StatusOK, s.extractAll(r.Context(), files))
}

func (s *Server) saveUploads(headers []*multipart.FileHeader) ([]savedFile, error) {
	files := make([]savedFile, 0, len(headers))
	for _, h := range headers {
		path, err := s.saveUpload(h)
		if err != nil {
			s.removeUploads(files)
			return nil, err
		}
		files = append(files, savedFile{name: h.Filename, path: path})
	}
	return files, nil
}

func (s *Server) saveUpload(h *multipart.FileHeader) (string, error) {
	f, err := h.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return s.deps.Store.SaveUpload(h.Filename, f)
}

// extractAll extracts every saved file in order and removes it afterwards.
func (s *Server) extractAll(ctx context.Context, files []savedFile) UploadResult {
	out := UploadResult{Files: make([]FileResult, 0, len(files))}
	texts := make([]string, 0, len(files))
	for _, f := range files {
		text, fr := s.extractOne(ctx, f)
		texts = append(texts, text)
		out.Files = append(out.Files, fr)
	}
	out.FullText = strings.Join(texts, "\n\n")
	return out
}

func (s *Server) extractOne(ctx context.Context, f savedFile) (string, FileResult) {
	defer func() {
		if err := s.deps.Store.Remove(f.path); err != nil {
			s.logger.Warn("remove upload", observability.String("path", f.path), observability.Error("error", err))
		}
	}()

	fr := FileResult{Name: archive.SanitizeName(f.name)}
	data, err := os.ReadFile(f.path)
	if err != nil {
		s.logger.Error("read upload", observability.String("file", fr.Name), observability.Error("error", err))
		fr.Error = err.Error()
		return extractFailText, fr
	}
	res, err := s.deps.Extractor.Extract(ctx, f.name, data)
	if err != nil {
		fr.Error = err.Error()
		if errors.Is(err, document.ErrUnsupportedFormat) {
			return unsupportedText, fr
		}
		s.logger.Error("extract upload", observability.String("file", fr.Name), observability.Error("error", err))
		return extractFailText, fr
	}
	fr.Format = res.Format
	fr.Pages = len(res.Pages)
	fr.Digest = res.Digest
	fr.Cached = res.Cached
	return res.Text, fr
}

func (s *Server) removeUploads(files []savedFile) {
	for _, f := range files {
		_ = s.deps.Store.Remove(f.path)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Queue.Get(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Task non trovato")
		return
	}
	// result is always text: the extracted text once completed, the error
	// message on failure.
	body := map[string]any{"status": task.State, "result": ""}
	if res, ok := task.Result.(UploadResult); ok {
		body["result"] = res.FullText
		body["files"] = res.Files
	}
	if task.Err != nil {
		body["result"] = task.Err.Error()
		body["error"] = task.Err.Error()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	text := r.FormValue("extracted_text")
	if strings.TrimSpace(text) == "" {
		respondError(w, http.StatusBadRequest, "Nessun testo ricevuto")
		return
	}
	kind := summarize.PromptType(r.FormValue("prompt_type"))
	if kind == "" {
		kind = summarize.PromptSimple
	}

	sum, err := s.deps.Summarizer.Summarize(r.Context(), summarize.Request{
		Type:   kind,
		Custom: r.FormValue("custom_prompt"),
		Text:   text,
	})
	if err != nil {
		s.logger.Error("summarize", observability.String("prompt_type", string(kind)), observability.Error("error", err))
		respondError(w, http.StatusBadGateway, "Errore generazione riassunto.")
		return
	}

	for _, f := range []report.Format{report.FormatDOCX, report.FormatPDF} {
		if err := s.saveReport(r.Context(), f, sum.Text, text); err != nil {
			s.logger.Error("write report", observability.String("format", string(f)), observability.Error("error", err))
			respondError(w, http.StatusInternalServerError, "Errore analisi")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"summary":      sum.Text,
		"summary_html": sum.HTML,
		"model":        sum.Model,
		"prompt_type":  sum.Type,
	})
}

func (s *Server) saveReport(ctx context.Context, f report.Format, summary, fullText string) error {
	data, err := s.deps.Renderer.Render(ctx, f, summary, fullText)
	if err != nil {
		return err
	}
	_, err = s.deps.Store.SaveReport(f, data)
	return err
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	f, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondError(w, http.StatusBadRequest, unsupportedText)
		return
	}
	file, err := s.deps.Store.OpenReport(f)
	if err != nil {
		if !errors.Is(err, archive.ErrNoReport) {
			s.logger.Error("open report", observability.Error("error", err))
		}
		respondError(w, http.StatusNotFound, "File non disponibile")
		return
	}
	defer file.Close()

	var modTime time.Time
	if info, err := file.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Filename()+`"`)
	http.ServeContent(w, r, f.Filename(), modTime, file)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Reset(); err != nil {
		s.logger.Error("reset", observability.Error("error", err))
		respondError(w, http.StatusInternalServerError, "Errore reset")
		return
	}
	s.deps.Cache.Purge()
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset ok"})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"ocr_engine":  s.deps.OCRName,
		"ocr_version": s.deps.OCRVersion,
		"model":       s.deps.Summarizer.Model(),
		"tasks":       s.deps.Queue.Stats(),
		"cache_size":  s.deps.Cache.Len(),
	})
}

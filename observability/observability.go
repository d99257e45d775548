// Package observability defines the logging and tracing hooks shared by the
// extraction pipeline and the HTTP service.
package observability

import (
	"context"
	"time"
)

type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type field struct {
	key string
	val interface{}
}

func (f field) Key() string        { return f.key }
func (f field) Value() interface{} { return f.val }

func String(key, value string) Field      { return field{key, value} }
func Int(key string, value int) Field     { return field{key, value} }
func Int64(key string, value int64) Field { return field{key, value} }
func Bool(key string, value bool) Field   { return field{key, value} }
func Error(key string, err error) Field   { return field{key, err} }

// Duration records d in milliseconds.
func Duration(key string, d time.Duration) Field {
	return field{key, float64(d.Microseconds()) / 1000}
}

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger   { return NopLogger{} }

// Tracer provides tracing hooks around pipeline stages.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// LogTracer returns a tracer that logs every finished span at debug level,
// or at warn level when the span recorded an error.
func LogTracer(l Logger) Tracer { return logTracer{log: l} }

type logTracer struct{ log Logger }

func (t logTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{log: t.log, name: name, start: time.Now()}
}

type logSpan struct {
	log    Logger
	name   string
	start  time.Time
	fields []Field
	err    error
}

func (s *logSpan) SetTag(key string, value interface{}) {
	s.fields = append(s.fields, field{key, value})
}

func (s *logSpan) SetError(err error) { s.err = err }

func (s *logSpan) Finish() {
	fields := append([]Field{String("span", s.name), Duration("duration_ms", time.Since(s.start))}, s.fields...)
	if s.err != nil {
		s.log.Warn("span failed", append(fields, Error("error", s.err))...)
		return
	}
	s.log.Debug("span finished", fields...)
}

// Span names emitted by the service.
const (
	SpanExtract   = "document.extract"
	SpanPDFParse  = "pdf.parse"
	SpanPDFDecode = "pdf.decode"
	SpanOCR       = "ocr.recognize"
	SpanSummarize = "summary.generate"
	SpanReport    = "report.render"
)

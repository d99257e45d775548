package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/referto-app/referto/config"
	"github.com/referto-app/referto/document"
	"github.com/referto-app/referto/extractor"
	"github.com/referto-app/referto/ir"
	"github.com/referto-app/referto/observability"
)

type extractFlags struct {
	json      bool
	imagesDir string
	languages string
	password  string
}

func newExtractCommand() *cobra.Command {
	flags := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract <file>...",
		Short: "Print the text of one or more reports",
		Long: `Extract prints the text of each file the way the upload endpoint does:
the PDF text layer, with OCR for scanned pages, images, text, DOCX and XLSX.

Examples:
  refertod extract referto.pdf
  refertod extract --json scansione.png esami.xlsx
  refertod extract --images out/ referto.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, flags, args)
		},
	}
	cmd.Flags().BoolVar(&flags.json, "json", false, "Emit one JSON result per file")
	cmd.Flags().StringVar(&flags.imagesDir, "images", "", "Also write the embedded images of PDFs as PNG into this directory")
	cmd.Flags().StringVar(&flags.password, "password", "", "Password to open encrypted PDFs")
	cmd.Flags().StringVar(&flags.languages, "lang", "", "OCR languages, e.g. ita+eng (default $OCR_LANGUAGES)")
	return cmd
}

func runExtract(cmd *cobra.Command, flags *extractFlags, paths []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flags.languages != "" {
		cfg.OCRLanguages = flags.languages
	}
	logger := observability.NewLogrus(cfg.LogLevel, cmd.ErrOrStderr())
	ext := document.New(document.Config{
		Engine:      newOCREngine(cfg),
		Workers:     cfg.Workers,
		PDFPassword: flags.password,
	}, logger, nil)

	out := cmd.OutOrStdout()
	for _, path := range paths {
		res, err := ext.ExtractFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := emit(out, path, res, flags.json); err != nil {
			return err
		}
		if flags.imagesDir != "" && res.Format == document.FormatPDF {
			written, err := writePDFImages(cmd, path, flags.imagesDir, flags.password)
			if err != nil {
				return err
			}
			logger.Info("images written", observability.String("file", path), observability.Int("count", written))
		}
	}
	return nil
}

func emit(w io.Writer, path string, res document.Result, asJSON bool) error {
	if asJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintf(w, "== %s ==\n%s\n\n", path, res.Text)
	return err
}

func writePDFImages(cmd *cobra.Command, path, dir, password string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	dec, err := ir.NewDefault().WithPassword(password).Parse(cmd.Context(), bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	ext, err := extractor.New(dec)
	if err != nil {
		return 0, fmt.Errorf("new extractor: %w", err)
	}
	assets, err := ext.ExtractImages()
	if err != nil {
		return 0, fmt.Errorf("extract images: %w", err)
	}
	if len(assets) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create image dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	written := 0
	for idx, asset := range assets {
		png, err := asset.ToPNG()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skip image %d of page %d: %v\n", idx+1, asset.Page+1, err)
			continue
		}
		name := asset.ResourceName
		if name == "" {
			name = fmt.Sprintf("img_%d", idx+1)
		}
		filename := fmt.Sprintf("%s-page-%03d-%s.png", safeName(base), asset.Page+1, safeName(name))
		if err := os.WriteFile(filepath.Join(dir, filename), png, 0o644); err != nil {
			return written, fmt.Errorf("write image %q: %w", filename, err)
		}
		written++
	}
	return written, nil
}

func safeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

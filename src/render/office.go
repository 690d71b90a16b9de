package render

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"git.handmade.network/hmn/assetpipe/src/oops"
)

// Converter turns an office document into a PDF.
type Converter interface {
	ConvertToPDF(ctx context.Context, srcPath, outDir string) (string, error)
}

// LibreOffice converts documents with a headless soffice.
type LibreOffice struct {
	SofficePath string
}

var _ Converter = &LibreOffice{}

func (l *LibreOffice) ConvertToPDF(ctx context.Context, srcPath, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", oops.New(err, "failed to create office output directory")
	}

	_, err := runTool(ctx, l.SofficePath, "--headless", "--convert-to", "pdf", "--outdir", outDir, srcPath)
	if err != nil {
		return "", oops.Render(err, "failed to convert document to pdf")
	}

	return expectConverted(srcPath, outDir)
}

// soffice names its output after the input file with the extension replaced,
// and exits 0 even when it could not convert.
func expectConverted(srcPath, outDir string) (string, error) {
	base := filepath.Base(srcPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	outPath := filepath.Join(outDir, base+".pdf")

	info, err := os.Stat(outPath)
	if err != nil {
		return "", oops.Render(err, "document converter produced no pdf for %s", filepath.Base(srcPath))
	}
	if info.Size() == 0 {
		return "", oops.Render(nil, "document converter produced an empty pdf for %s", filepath.Base(srcPath))
	}
	return outPath, nil
}

// OfficeRenderer converts a document to PDF and renders the result as a PDF.
type OfficeRenderer struct {
	Converter Converter
	PDF       *PDFRenderer
}

var _ Renderer = &OfficeRenderer{}

func (r *OfficeRenderer) Render(ctx context.Context, srcPath string, out *Emitter) error {
	outDir := filepath.Join(filepath.Dir(srcPath), "office")
	pdfPath, err := r.Converter.ConvertToPDF(ctx, srcPath, outDir)
	if err != nil {
		return err
	}
	return r.PDF.Render(ctx, pdfPath, out)
}

package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
)

var PDFWidths = []int{512, 1024, 2048}

// The width at which page rasters are recorded as thumbnails instead of pages.
const PDFThumbWidth = 512

type Rasterizer interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	// Writes a PNG of one page scaled to the given width into outDir and
	// returns its path.
	RasterizePage(ctx context.Context, pdfPath string, page, width int, outDir string) (string, error)
}

type PDFRenderer struct {
	Rasterizer Rasterizer
	Widths     []int
	Isolation  Isolation
}

var _ Renderer = &PDFRenderer{}

func NewPDFRenderer(r Rasterizer) *PDFRenderer {
	return &PDFRenderer{
		Rasterizer: r,
		Widths:     PDFWidths,
		Isolation:  FailFast,
	}
}

func (r *PDFRenderer) Render(ctx context.Context, srcPath string, out *Emitter) error {
	pages, err := r.Rasterizer.PageCount(ctx, srcPath)
	if err != nil {
		return err
	}

	outDir, err := os.MkdirTemp(filepath.Dir(srcPath), "pages")
	if err != nil {
		return oops.New(err, "failed to create page raster directory")
	}
	defer os.RemoveAll(outDir)

	logger := logging.ExtractLogger(ctx)
	logger.Debug().Int("pages", pages).Msg("rendering pdf")

	for page := 1; page <= pages; page++ {
		for _, width := range r.Widths {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := r.renderPage(ctx, srcPath, page, width, outDir, out)
			if err := r.Isolation.Contain(ctx, err, "failed to render pdf page", nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *PDFRenderer) renderPage(ctx context.Context, srcPath string, page, width int, outDir string, out *Emitter) error {
	rasterPath, err := r.Rasterizer.RasterizePage(ctx, srcPath, page, width, outDir)
	if err != nil {
		return err
	}
	defer os.Remove(rasterPath)

	data, err := os.ReadFile(rasterPath)
	if err != nil {
		return oops.Render(err, "failed to read raster of page %d at width %d", page, width)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return oops.Render(err, "raster of page %d at width %d is not a valid png", page, width)
	}

	kind := models.RenditionKindPage
	if width == PDFThumbWidth {
		kind = models.RenditionKindThumb
	}
	_, err = out.Emit(ctx, Artifact{
		Kind:   kind,
		Name:   fmt.Sprintf("page-%d-%d.png", page, width),
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
		Page:   intPtr(page),
	})
	return err
}

// Poppler rasterizes PDFs with the pdfinfo and pdftoppm tools from
// poppler-utils.
type Poppler struct {
	PdfInfoPath  string
	PdfToPpmPath string
}

var _ Rasterizer = &Poppler{}

var REPdfPages = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

func (p *Poppler) PageCount(ctx context.Context, pdfPath string) (int, error) {
	stdout, err := runTool(ctx, p.PdfInfoPath, pdfPath)
	if err != nil {
		return 0, oops.Render(err, "failed to probe pdf")
	}

	match := REPdfPages.FindSubmatch(stdout)
	if match == nil {
		// pdfinfo omits the page count for some malformed files that still
		// rasterize.
		return 1, nil
	}
	pages, err := strconv.Atoi(string(match[1]))
	if err != nil || pages < 1 {
		return 0, oops.Render(err, "pdfinfo reported a bad page count %q", match[1])
	}
	return pages, nil
}

func (p *Poppler) RasterizePage(ctx context.Context, pdfPath string, page, width int, outDir string) (string, error) {
	outBase := filepath.Join(outDir, fmt.Sprintf("page-%d-%d", page, width))
	_, err := runTool(ctx, p.PdfToPpmPath,
		"-png",
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-scale-to-x", strconv.Itoa(width),
		"-scale-to-y", "-1",
		"-singlefile",
		pdfPath,
		outBase,
	)
	if err != nil {
		return "", oops.Render(err, "failed to rasterize page %d at width %d", page, width)
	}

	outPath := outBase + ".png"
	if _, err := os.Stat(outPath); err != nil {
		return "", oops.Render(err, "pdftoppm produced no output for page %d", page)
	}
	return outPath, nil
}

func runTool(ctx context.Context, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	var output bytes.Buffer
	var errorOut bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &errorOut
	err := cmd.Run()
	if err != nil {
		logging.ExtractLogger(ctx).Error().
			Str("tool", path).
			Str("output", errorOut.String()).
			Msg("external tool returned an error")
		return nil, oops.New(err, "%s failed", filepath.Base(path))
	}
	return output.Bytes(), nil
}

package pipeline

import (
	"strings"

	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/render"
)

// Dispatcher picks a renderer for a normalized mime type.
type Dispatcher struct {
	PDF    render.Renderer
	Image  render.Renderer
	Office render.Renderer
}

func NewDispatcher(cfg config.RenderConfig) *Dispatcher {
	pdf := render.NewPDFRenderer(&render.Poppler{
		PdfInfoPath:  cfg.PdfInfoPath,
		PdfToPpmPath: cfg.PdfToPpmPath,
	})
	return &Dispatcher{
		PDF:   pdf,
		Image: render.NewImageRenderer(cfg.TileConcurrency),
		Office: &render.OfficeRenderer{
			Converter: &render.LibreOffice{SofficePath: cfg.SofficePath},
			PDF:       pdf,
		},
	}
}

// Returns the renderer for mime and a short name for it, or nil if the type is
// not supported.
func (d *Dispatcher) RendererFor(mime string) (render.Renderer, string) {
	mime = models.NormalizeMime(mime)
	switch {
	case mime == "application/pdf":
		return d.PDF, "pdf"
	case strings.HasPrefix(mime, "image/"):
		return d.Image, "image"
	case models.IsOfficeMime(mime):
		return d.Office, "office"
	}
	return nil, ""
}

package website

import (
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/google/uuid"
)

type RenditionJson struct {
	ID     uuid.UUID            `json:"id"`
	Kind   models.RenditionKind `json:"kind"`
	Width  int                  `json:"width"`
	Height int                  `json:"height"`
	Page   *int                 `json:"page,omitempty"`
	Zoom   *int                 `json:"zoom,omitempty"`
	TileX  *int                 `json:"tileX,omitempty"`
	TileY  *int                 `json:"tileY,omitempty"`
	URL    string               `json:"url"`
}

type RenditionsResponse struct {
	VersionID  uuid.UUID       `json:"versionId"`
	Renditions []RenditionJson `json:"renditions"`
}

// Lists the ready renditions of a version with short-lived download URLs.
func (r *assetpipeRoutes) ListRenditions(c *RequestContext) ResponseData {
	versionID, err := uuidParam(c, "versionId")
	if err != nil {
		return c.ErrorFor(err)
	}

	if _, err := r.Renditions.GetVersion(c, versionID); err != nil {
		return c.ErrorFor(err)
	}

	renditions, err := r.Renditions.ListRenditions(c, versionID, true)
	if err != nil {
		return c.ErrorFor(oops.New(err, "failed to list renditions"))
	}

	result := RenditionsResponse{
		VersionID:  versionID,
		Renditions: make([]RenditionJson, 0, len(renditions)),
	}
	for _, rendition := range renditions {
		url, err := r.Gateway.PresignGetURL(c, rendition.Key, r.PresignTTL)
		if err != nil {
			return c.ErrorFor(err)
		}
		result.Renditions = append(result.Renditions, RenditionJson{
			ID:     rendition.ID,
			Kind:   rendition.Kind,
			Width:  rendition.Width,
			Height: rendition.Height,
			Page:   rendition.Page,
			Zoom:   rendition.Zoom,
			TileX:  rendition.TileX,
			TileY:  rendition.TileY,
			URL:    url,
		})
	}

	var res ResponseData
	res.WriteJson(result)
	return res
}

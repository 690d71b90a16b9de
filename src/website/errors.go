package website

import (
	"net/http"

	"git.handmade.network/hmn/assetpipe/src/oops"
)

// Problem is an RFC 7807 problem document.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func StatusForError(err error) int {
	switch oops.KindOf(err) {
	case oops.KindValidation:
		return http.StatusBadRequest
	case oops.KindNotFound:
		return http.StatusNotFound
	case oops.KindConflict:
		return http.StatusConflict
	case oops.KindStorage:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (c *RequestContext) ErrorResponse(status int, errs ...error) ResponseData {
	res := ResponseData{
		StatusCode: status,
		Errors:     errs,
	}

	problem := Problem{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Instance: c.Req.URL.Path,
	}
	if len(errs) > 0 {
		kind := oops.KindOf(errs[0])
		if kind != oops.KindInternal {
			problem.Type = "urn:assetpipe:problem:" + kind.String()
		}
		// Internal errors may carry details we don't want to leak.
		if status < http.StatusInternalServerError || kind == oops.KindStorage {
			problem.Detail = errs[0].Error()
		}
	}

	res.WriteJson(problem)
	res.Header().Set("Content-Type", "application/problem+json")
	return res
}

// Responds with the status that corresponds to the error's kind.
func (c *RequestContext) ErrorFor(err error) ResponseData {
	return c.ErrorResponse(StatusForError(err), err)
}

func FourOhFour(c *RequestContext) ResponseData {
	return c.ErrorResponse(http.StatusNotFound, oops.NotFound("no route for %s %s", c.Req.Method, c.Req.URL.Path))
}

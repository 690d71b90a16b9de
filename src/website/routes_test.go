package website

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogContextErrors(t *testing.T) {
	err1 := errors.New("test error 1")
	err2 := errors.New("test error 2")

	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Print("sanity check")

	assert.Contains(t, buf.String(), "sanity check")

	router := &Router{}
	routes := RouteBuilder{
		Router: router,
		Middlewares: []Middleware{
			func(h Handler) Handler {
				return func(c *RequestContext) (res ResponseData) {
					c.Logger = &logger
					return logContextErrorsMiddleware(h)(c)
				}
			},
		},
	}

	routes.GET(regexp.MustCompile("^/test$"), func(c *RequestContext) ResponseData {
		return c.ErrorResponse(http.StatusInternalServerError, err1, err2)
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/test")
	if assert.Nil(t, err) {
		defer res.Body.Close()

		t.Logf("Log contents: %s", buf.String())

		assert.Equal(t, http.StatusInternalServerError, res.StatusCode)

		assert.Contains(t, buf.String(), err1.Error())
		assert.Contains(t, buf.String(), err2.Error())
	}
}

func TestPathParams(t *testing.T) {
	router := &Router{}
	routes := RouteBuilder{Router: router}

	var got map[string]string
	routes.POST(REPartURL, func(c *RequestContext) ResponseData {
		got = c.PathParams
		return ResponseData{StatusCode: http.StatusNoContent}
	})
	routes.AnyMethod(REAnything, FourOhFour)

	srv := httptest.NewServer(router)
	defer srv.Close()

	res, err := http.Post(srv.URL+"/uploads/abc/parts/", "application/json", nil)
	require.Nil(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "abc", got["id"])

	res, err = http.Get(srv.URL + "/uploads/abc/parts")
	require.Nil(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "application/problem+json", res.Header.Get("Content-Type"))
}

func TestErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{oops.Validation("bad"), http.StatusBadRequest},
		{oops.NotFound("gone"), http.StatusNotFound},
		{oops.Conflict("busy"), http.StatusConflict},
		{oops.New(oops.Storage(nil, "s3 down"), "failed to commit"), http.StatusBadGateway},
		{oops.Render(nil, "corrupt"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.status, StatusForError(c.err), c.err.Error())
	}
}

func TestPanicsBecomeProblems(t *testing.T) {
	router := &Router{}
	routes := RouteBuilder{
		Router:      router,
		Middlewares: []Middleware{panicCatcherMiddleware},
	}
	routes.GET(regexp.MustCompile("^/boom$"), func(c *RequestContext) ResponseData {
		panic("secret internals")
	})

	srv := httptest.NewServer(router)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/boom")
	require.Nil(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	var problem Problem
	require.Nil(t, json.Unmarshal(body, &problem))
	assert.Equal(t, http.StatusInternalServerError, problem.Status)
	assert.NotContains(t, string(body), "secret internals")
}

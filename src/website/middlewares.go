package website

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func panicCatcherMiddleware(h Handler) Handler {
	return func(c *RequestContext) (res ResponseData) {
		defer func() {
			if recovered := recover(); recovered != nil {
				maybeError, ok := recovered.(*error)
				var err error
				if ok {
					err = *maybeError
				} else if asErr, ok := recovered.(error); ok {
					err = oops.New(asErr, "recovered from panic")
				} else {
					err = oops.New(nil, fmt.Sprintf("Recovered from panic with value: %v", recovered))
				}
				res = c.ErrorResponse(http.StatusInternalServerError, err)
			}
		}()

		return h(c)
	}
}

type RequestMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	factory := promauto.With(reg)
	return &RequestMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assetpipe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method, and status code.",
		}, []string{"route", "method", "code"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assetpipe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Time spent in request handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func trackRequestMetrics(m *RequestMetrics) Middleware {
	return func(h Handler) Handler {
		return func(c *RequestContext) ResponseData {
			start := time.Now()
			res := h(c)
			elapsed := time.Since(start)

			status := res.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			m.Requests.WithLabelValues(c.Route, c.Req.Method, strconv.Itoa(status)).Inc()
			m.Duration.WithLabelValues(c.Route, c.Req.Method).Observe(elapsed.Seconds())

			c.Logger.Debug().
				Str("method", c.Req.Method).
				Str("path", c.Req.URL.Path).
				Int("status", status).
				Dur("elapsed", elapsed).
				Msg("served request")
			return res
		}
	}
}

const UserIDHeader = "X-User-Id"

// Identity is established upstream; we only require that the caller was
// identified.
func needsIdentity(h Handler) Handler {
	return func(c *RequestContext) ResponseData {
		userID := c.Req.Header.Get(UserIDHeader)
		if userID == "" {
			return c.ErrorResponse(http.StatusUnauthorized)
		}

		c.UserID = userID
		logger := c.Logger.With().Str("userId", userID).Logger()
		c.Logger = &logger
		c.ctx = logging.AttachLoggerToContext(&logger, c.ctx)

		return h(c)
	}
}

func logContextErrors(c *RequestContext, status int, errs ...error) {
	for _, err := range errs {
		if status >= http.StatusInternalServerError {
			c.Logger.Error().Timestamp().Stack().Str("Requested", c.FullUrl()).Err(err).Msg("error occurred during request")
		} else {
			c.Logger.Debug().Str("Requested", c.FullUrl()).Err(err).Msg("request rejected")
		}
	}
}

func logContextErrorsMiddleware(h Handler) Handler {
	return func(c *RequestContext) ResponseData {
		res := h(c)
		logContextErrors(c, res.StatusCode, res.Errors...)
		return res
	}
}

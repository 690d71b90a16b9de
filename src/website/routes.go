package website

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"git.handmade.network/hmn/assetpipe/src/assetdata"
	"git.handmade.network/hmn/assetpipe/src/devstorage"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"git.handmade.network/hmn/assetpipe/src/uploads"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services are the handles the HTTP surface needs. They are built by the
// command that starts the server.
type Services struct {
	Uploads    *uploads.Manager
	Renditions assetdata.RenditionStore
	Gateway    storage.Gateway
	PresignTTL time.Duration

	// Reports whether the process can reach its dependencies.
	Health func(ctx context.Context) error

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type assetpipeRoutes struct {
	Services
}

var (
	RECreateUpload   = regexp.MustCompile(`^/uploads$`)
	REPartURL        = regexp.MustCompile(`^/uploads/(?P<id>[^/]+)/parts$`)
	RECompleteUpload = regexp.MustCompile(`^/uploads/(?P<id>[^/]+)/complete$`)
	REAbortUpload    = regexp.MustCompile(`^/uploads/(?P<id>[^/]+)/abort$`)
	RERenditions     = regexp.MustCompile(`^/renditions/(?P<versionId>[^/]+)$`)
	REHealthz        = regexp.MustCompile(`^/healthz$`)
	REMetrics        = regexp.MustCompile(`^/metrics$`)
	REDevStorage     = regexp.MustCompile(`^/devstorage`)
	REAnything       = regexp.MustCompile(`^`)
)

func NewAssetpipeRoutes(svc Services) http.Handler {
	router := &Router{}
	routes := RouteBuilder{
		Router: router,
		Middlewares: []Middleware{
			trackRequestMetrics(NewRequestMetrics(svc.Registerer)),
			logContextErrorsMiddleware,
			panicCatcherMiddleware,
		},
	}
	r := &assetpipeRoutes{Services: svc}

	routes.GET(REHealthz, r.Healthz)
	metricsHandler := promhttpHandler(svc.Gatherer)
	routes.GET(REMetrics, func(c *RequestContext) ResponseData {
		return c.Forward(metricsHandler)
	})

	// Presigned URLs of the in-memory backend point back at this server.
	if memGateway, ok := svc.Gateway.(*storage.MemoryGateway); ok {
		devHandler := http.StripPrefix("/devstorage", devstorage.NewHandler(memGateway))
		routes.Handle([]string{http.MethodGet, http.MethodPut}, REDevStorage, func(c *RequestContext) ResponseData {
			return c.Forward(devHandler)
		})
	}

	identified := routes.WithMiddleware(needsIdentity)
	identified.POST(RECreateUpload, r.CreateUpload)
	identified.POST(REPartURL, r.RequestPartURL)
	identified.POST(RECompleteUpload, r.CompleteUpload)
	identified.POST(REAbortUpload, r.AbortUpload)
	identified.GET(RERenditions, r.ListRenditions)

	routes.AnyMethod(REAnything, FourOhFour)

	return router
}

func (r *assetpipeRoutes) Healthz(c *RequestContext) ResponseData {
	if r.Health != nil {
		if err := r.Health(c); err != nil {
			c.Logger.Warn().Err(err).Msg("health check failed")
			return c.ErrorResponse(http.StatusServiceUnavailable, err)
		}
	}

	var res ResponseData
	res.WriteJson(map[string]string{"status": "ok"})
	return res
}

func promhttpHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

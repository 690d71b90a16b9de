package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"git.handmade.network/hmn/assetpipe/src/assetdata"
	"git.handmade.network/hmn/assetpipe/src/config"
	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/queue"
	"git.handmade.network/hmn/assetpipe/src/render"
	"git.handmade.network/hmn/assetpipe/src/storage"
	"git.handmade.network/hmn/assetpipe/src/utils"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

type Options struct {
	WorkQueue       string
	DeadLetterQueue string
	DequeueTimeout  time.Duration
	ErrorBackoffMin time.Duration
	ErrorBackoffMax time.Duration
	ScratchDir      string
	UnsupportedMime config.UnsupportedMimePolicy
}

func OptionsFromConfig(cfg config.AssetpipeConfig) Options {
	return Options{
		WorkQueue:       cfg.Queue.WorkQueue,
		DeadLetterQueue: cfg.Queue.DeadLetterQueue,
		DequeueTimeout:  cfg.Worker.DequeueTimeout,
		ErrorBackoffMin: cfg.Worker.ErrorBackoffMin,
		ErrorBackoffMax: cfg.Worker.ErrorBackoffMax,
		ScratchDir:      cfg.Worker.ScratchDir,
		UnsupportedMime: cfg.Worker.UnsupportedMime,
	}
}

type Outcome string

const (
	OutcomeRendered    Outcome = "rendered"
	OutcomeUnsupported Outcome = "unsupported"
	OutcomeFailed      Outcome = "failed"
)

/*
Worker pops render jobs off the work queue one at a time and renders them.
Every failure, including a panic, ends the job: the error is pushed to the
dead-letter queue and the worker moves on. A message popped by a worker that
then dies is lost; there is no acknowledgement.
*/
type Worker struct {
	Queue      queue.Queue
	Store      assetdata.RenditionStore
	Gateway    storage.Gateway
	Dispatcher *Dispatcher
	Metrics    *Metrics
	Options    Options

	now func() time.Time
}

func NewWorker(q queue.Queue, store assetdata.RenditionStore, gateway storage.Gateway, dispatcher *Dispatcher, metrics *Metrics, opts Options) *Worker {
	return &Worker{
		Queue:      q,
		Store:      store,
		Gateway:    gateway,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Options:    opts,
		now:        time.Now,
	}
}

// Runs the loop until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	logger := logging.ExtractLogger(ctx)
	logger.Info().Str("queue", w.Options.WorkQueue).Msg("worker started")

	boff := backoff.Backoff{
		Min: utils.OrDefault(w.Options.ErrorBackoffMin, time.Second),
		Max: utils.OrDefault(w.Options.ErrorBackoffMax, time.Second),
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return nil
		default:
		}

		payload, err := w.Queue.Dequeue(ctx, w.Options.WorkQueue, w.Options.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.Metrics.QueueErrors.Inc()
			wait := boff.Duration()
			logger.Error().Err(err).Dur("retryIn", wait).Msg("failed to dequeue render job")
			_ = utils.SleepContext(ctx, wait)
			continue
		}
		boff.Reset()

		if payload == nil {
			continue
		}
		w.HandleMessage(ctx, payload)
	}
}

// HandleMessage processes one work queue payload to completion, dead-lettering
// it on failure.
func (w *Worker) HandleMessage(ctx context.Context, payload []byte) Outcome {
	start := time.Now()

	var job queue.RenderJob
	var versionID string
	var outcome Outcome
	err := json.Unmarshal(payload, &job)
	if err != nil {
		var loose struct {
			VersionID string `json:"versionId"`
		}
		_ = json.Unmarshal(payload, &loose)
		versionID = loose.VersionID
		err = oops.Validation("malformed render job %q", payload)
	} else {
		versionID = job.VersionID.String()
	}

	logger := logging.ExtractLogger(ctx).With().Str("versionId", versionID).Logger()
	ctx = logging.AttachLoggerToContext(&logger, ctx)

	if err == nil {
		logger.Info().Msg("processing render job")
		outcome, err = w.processSafely(ctx, job.VersionID)
	}
	if err != nil {
		outcome = OutcomeFailed
		logger.Error().Err(err).Msg("render job failed")
		w.deadLetter(ctx, versionID, err)
	} else {
		logger.Info().Str("outcome", string(outcome)).Dur("took", time.Since(start)).Msg("render job finished")
	}

	w.Metrics.Jobs.WithLabelValues(string(outcome)).Inc()
	w.Metrics.JobDuration.Observe(time.Since(start).Seconds())
	return outcome
}

func (w *Worker) processSafely(ctx context.Context, versionID uuid.UUID) (outcome Outcome, err error) {
	defer utils.RecoverPanicAsError(&err)
	return w.Process(ctx, versionID)
}

func (w *Worker) deadLetter(ctx context.Context, versionID string, jobErr error) {
	msg := queue.DeadLetter{
		VersionID: versionID,
		Error:     jobErr.Error(),
		Stack:     oops.StackOf(jobErr).String(),
		Timestamp: w.now().UTC().Format(time.RFC3339),
	}
	if err := queue.EnqueueJSON(ctx, w.Queue, w.Options.DeadLetterQueue, msg); err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("failed to dead-letter render job")
		return
	}
	w.Metrics.DeadLetters.Inc()
}

// Process renders every rendition for one asset version.
func (w *Worker) Process(ctx context.Context, versionID uuid.UUID) (Outcome, error) {
	logger := logging.ExtractLogger(ctx)

	version, err := w.Store.GetVersion(ctx, versionID)
	if err != nil {
		return OutcomeFailed, err
	}

	scratch, err := os.MkdirTemp(w.Options.ScratchDir, "render-"+versionID.String()+"-")
	if err != nil {
		return OutcomeFailed, oops.New(err, "failed to create scratch directory")
	}
	defer os.RemoveAll(scratch)

	srcPath := filepath.Join(scratch, "source"+filepath.Ext(version.Key))
	if err := w.download(ctx, version, srcPath); err != nil {
		return OutcomeFailed, err
	}

	renderer, name := w.Dispatcher.RendererFor(version.Mime)
	if renderer == nil {
		mime := models.NormalizeMime(version.Mime)
		if w.Options.UnsupportedMime == config.UnsupportedDeadLetter {
			return OutcomeFailed, oops.Render(nil, "unsupported mime type %q", mime)
		}
		logger.Info().Str("mime", mime).Msg("no renderer for mime type, skipping")
		return OutcomeUnsupported, nil
	}

	logger.Debug().Str("renderer", name).Msg("dispatching")
	err = renderer.Render(ctx, srcPath, &render.Emitter{
		VersionID: version.ID,
		Gateway:   w.Gateway,
		Store:     w.Store,
		Hooks:     w.Metrics,
		Now:       w.now,
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeRendered, nil
}

func (w *Worker) download(ctx context.Context, version *models.AssetVersion, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return oops.New(err, "failed to create scratch file")
	}
	defer f.Close()

	n, err := w.Gateway.GetObject(ctx, version.Key, f)
	if err != nil {
		return err
	}
	if n == 0 {
		return oops.Storage(nil, "object %s for version %s is empty", version.Key, version.ID)
	}
	if err := f.Close(); err != nil {
		return oops.New(err, "failed to write scratch file")
	}
	return nil
}

package uploads

import (
	"context"
	"time"

	"git.handmade.network/hmn/assetpipe/src/jobs"
	"git.handmade.network/hmn/assetpipe/src/logging"
	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"git.handmade.network/hmn/assetpipe/src/utils"
)

type ReapResult struct {
	Deleted       int
	RemoteAborted int
}

// ReapExpired deletes every session whose expiry has passed. When
// AbortRemoteOnExpiry is set, the storage-side upload of each unfinished
// session is cancelled first; failures there are logged and the session is
// deleted anyway.
func (m *Manager) ReapExpired(ctx context.Context) (ReapResult, error) {
	logger := logging.ExtractLogger(ctx)

	expired, err := m.Store.ListExpiredSessions(ctx, m.now())
	if err != nil {
		return ReapResult{}, oops.New(err, "failed to list expired upload sessions")
	}

	var res ReapResult
	for _, sess := range expired {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		aborted := false
		err := m.Store.WithSessionLock(ctx, sess.ID, func(ctx context.Context) error {
			if m.Options.AbortRemoteOnExpiry && !sess.State.IsTerminal() && !sess.Progress.Reached(models.UploadProgressCommitted) {
				if err := m.Gateway.AbortMultipartUpload(ctx, sess.TempKey, sess.StorageUploadID); err != nil {
					logger.Warn().Err(err).Str("uploadId", sess.ID.String()).Msg("failed to abort multipart upload of expired session")
				} else {
					aborted = true
				}
			}
			return m.Store.DeleteSession(ctx, sess.ID)
		})
		if err != nil {
			return res, oops.New(err, "failed to delete expired upload session %s", sess.ID)
		}

		res.Deleted++
		remote := "kept"
		if aborted {
			res.RemoteAborted++
			remote = "aborted"
		}
		if m.Metrics != nil {
			m.Metrics.Reaped.WithLabelValues(remote).Inc()
		}
	}

	if res.Deleted > 0 {
		logger.Info().
			Int("deleted", res.Deleted).
			Int("remoteAborted", res.RemoteAborted).
			Msg("reaped expired upload sessions")
	}
	return res, nil
}

// Starts a job that reaps expired sessions immediately and then once per
// interval, until canceled.
func RunReaper(m *Manager, interval time.Duration) *jobs.Job {
	return jobs.Run("upload reaper", func(job *jobs.Job) error {
		ticker := utils.NewInstaTicker(job.Ctx, interval)
		defer ticker.Stop()

		for {
			select {
			case <-job.Canceled():
				return nil
			case <-ticker.C:
				if _, err := m.ReapExpired(job.Ctx); err != nil && job.Ctx.Err() == nil {
					job.Logger.Error().Err(err).Msg("failed to reap upload sessions")
				}
			}
		}
	})
}

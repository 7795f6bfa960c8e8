package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/angelasoler/hypertube/cache"
	"github.com/angelasoler/hypertube/core"
	"github.com/angelasoler/hypertube/job"
	"github.com/angelasoler/hypertube/queue"
	"github.com/angelasoler/hypertube/torrent/scheduler"
	"github.com/angelasoler/hypertube/torrent/trackerclient"
	"github.com/angelasoler/hypertube/transcode"
	"github.com/angelasoler/hypertube/utils/log"
)

// defaultConversionPriority matches job.defaultDownloadPriority: neither
// queue currently differentiates request priority by caller, so both
// stages of one job's pipeline run at the same default.
const defaultConversionPriority = 5

// downloadWorker is the queue.Handler for queue.DownloadQueue: it drives
// one job's torrent to completion and hands the result to the conversion
// queue. Grounded on tracker/cmd/cmd.go's component-wiring shape, adapted
// from a long-running server process to a per-message queue handler.
type downloadWorker struct {
	jobs     *job.Manager
	queue    *queue.Manager
	source   TorrentSource
	registry *schedulerRegistry
	tracker  trackerclient.Client
	peerID   core.PeerID
	schedCfg scheduler.Config
	tempDir  string
}

func (w *downloadWorker) handle(ctx context.Context, jobID string) error {
	j, err := w.jobs.Get(jobID)
	if err != nil {
		return fmt.Errorf("download worker: lookup job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		return nil
	}
	if j.Status == job.StatusPending {
		if err := w.jobs.Transition(jobID, job.StatusDownloading, ""); err != nil {
			return fmt.Errorf("download worker: transition job %s: %w", jobID, err)
		}
	}

	meta, err := w.source.Load(j)
	if err != nil {
		w.fail(jobID, err)
		return err
	}

	downloadDir := filepath.Join(w.tempDir, jobID)
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		w.fail(jobID, err)
		return err
	}

	publish := func(p scheduler.Progress) {
		err := w.jobs.UpdateProgress(
			jobID, percentOf(p.DownloadedBytes, p.TotalBytes), p.DownloadedBytes, p.TotalBytes,
			p.SpeedBPS, p.ETASeconds, p.ConnectedPeerCount, string(p.CurrentPhase),
		)
		if err != nil {
			log.With("job_id", jobID).Errorf("download worker: update progress: %s", err)
		}
	}

	sched := scheduler.New(meta, downloadDir, w.peerID, w.tracker, publish, scheduler.WithConfig(w.schedCfg))
	w.registry.put(jobID, sched)
	defer w.registry.remove(jobID)

	if err := sched.Run(ctx); err != nil {
		w.fail(jobID, err)
		return err
	}

	if err := w.jobs.Transition(jobID, job.StatusConverting, ""); err != nil {
		w.fail(jobID, err)
		return err
	}
	if err := w.queue.EnqueueConversion(jobID, defaultConversionPriority); err != nil {
		w.fail(jobID, err)
		return err
	}
	return nil
}

func (w *downloadWorker) fail(jobID string, cause error) {
	if err := w.jobs.Transition(jobID, job.StatusFailed, cause.Error()); err != nil {
		log.With("job_id", jobID).Errorf("download worker: mark failed: %s", err)
	}
}

// conversionWorker is the queue.Handler for queue.ConversionQueue: it
// probes the downloaded primary file, transcodes it if the container or
// codec needs normalizing, and publishes the result into the cache.
type conversionWorker struct {
	jobs      *job.Manager
	cache     *cache.Manager
	transcode transcode.Gateway
	source    TorrentSource
	tempDir   string
	basePath  string
}

func (w *conversionWorker) handle(ctx context.Context, jobID string) error {
	j, err := w.jobs.Get(jobID)
	if err != nil {
		return fmt.Errorf("conversion worker: lookup job %s: %w", jobID, err)
	}
	if j.Status.Terminal() {
		return nil
	}

	meta, err := w.source.Load(j)
	if err != nil {
		w.fail(jobID, err)
		return err
	}
	downloadedPath := filepath.Join(w.tempDir, jobID, primaryFile(meta).Path)

	finalPath, err := w.finalize(ctx, j.VideoID, downloadedPath)
	if err != nil {
		w.fail(jobID, err)
		return err
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		w.fail(jobID, err)
		return err
	}
	if err := w.cache.Put(j.VideoID, finalPath, info.Size(), 0); err != nil {
		w.fail(jobID, err)
		return err
	}
	if err := w.jobs.SetFilePath(jobID, finalPath); err != nil {
		log.With("job_id", jobID).Errorf("conversion worker: set file path: %s", err)
	}
	if err := w.jobs.Transition(jobID, job.StatusCompleted, ""); err != nil {
		return fmt.Errorf("conversion worker: mark job %s completed: %w", jobID, err)
	}

	if err := os.RemoveAll(filepath.Join(w.tempDir, jobID)); err != nil {
		log.With("job_id", jobID).Errorf("conversion worker: clean up temp dir: %s", err)
	}
	return nil
}

// finalize moves (or transcodes) downloadedPath into its permanent home
// under basePath/videos, named by videoID.
func (w *conversionWorker) finalize(ctx context.Context, videoID, downloadedPath string) (string, error) {
	needsConversion, err := w.transcode.NeedsConversion(ctx, downloadedPath)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", downloadedPath, err)
	}

	finalDir := filepath.Join(w.basePath, "videos")
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return "", err
	}
	finalPath := filepath.Join(finalDir, videoID+".mp4")

	if !needsConversion {
		if err := os.Rename(downloadedPath, finalPath); err != nil {
			return "", fmt.Errorf("move %s: %w", downloadedPath, err)
		}
		return finalPath, nil
	}
	if err := w.transcode.Convert(ctx, downloadedPath, finalPath); err != nil {
		return "", fmt.Errorf("convert %s: %w", downloadedPath, err)
	}
	return finalPath, nil
}

func (w *conversionWorker) fail(jobID string, cause error) {
	if err := w.jobs.Transition(jobID, job.StatusFailed, cause.Error()); err != nil {
		log.With("job_id", jobID).Errorf("conversion worker: mark failed: %s", err)
	}
}

func percentOf(done, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int(done * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

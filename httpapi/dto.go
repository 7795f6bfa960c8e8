package httpapi

import (
	"github.com/angelasoler/hypertube/job"
	"github.com/angelasoler/hypertube/subtitle"
)

// DownloadRequest is the body of POST /streaming/download.
type DownloadRequest struct {
	VideoID    string `json:"videoId"`
	TorrentID  string `json:"torrentId"`
	UserID     string `json:"userId"`
	MagnetLink string `json:"magnetLink"`
}

// DownloadJobDTO is the wire representation of a job.DownloadJob.
type DownloadJobDTO struct {
	ID               string  `json:"id"`
	VideoID          string  `json:"videoId"`
	TorrentID        string  `json:"torrentId"`
	UserID           string  `json:"userId"`
	Status           string  `json:"status"`
	Progress         int     `json:"progress"`
	DownloadedBytes  int64   `json:"downloadedBytes"`
	TotalBytes       int64   `json:"totalBytes"`
	DownloadSpeedBPS float64 `json:"downloadSpeedBps"`
	ETASeconds       int64   `json:"etaSeconds"`
	Peers            int     `json:"peers"`
	CurrentPhase     string  `json:"currentPhase"`
	FilePath         string  `json:"filePath,omitempty"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
}

func jobToDTO(j *job.DownloadJob) DownloadJobDTO {
	return DownloadJobDTO{
		ID:               j.ID,
		VideoID:          j.VideoID,
		TorrentID:        j.TorrentID,
		UserID:           j.UserID,
		Status:           string(j.Status),
		Progress:         j.Progress,
		DownloadedBytes:  j.DownloadedBytes,
		TotalBytes:       j.TotalBytes,
		DownloadSpeedBPS: j.DownloadSpeedBPS,
		ETASeconds:       j.ETASeconds,
		Peers:            j.Peers,
		CurrentPhase:     j.CurrentPhase,
		FilePath:         j.FilePath,
		ErrorMessage:     j.ErrorMessage,
	}
}

// ReadyResponse answers GET /streaming/jobs/{id}/ready.
type ReadyResponse struct {
	JobID            string  `json:"jobId"`
	Ready            bool    `json:"ready"`
	Status           string  `json:"status"`
	Progress         int     `json:"progress"`
	FilePath         string  `json:"filePath,omitempty"`
	DownloadedBytes  int64   `json:"downloadedBytes"`
	TotalBytes       int64   `json:"totalBytes"`
	DownloadSpeedBPS float64 `json:"downloadSpeedBps"`
	ETASeconds       int64   `json:"etaSeconds"`
	Peers            int     `json:"peers"`
	CurrentPhase     string  `json:"currentPhase"`
	ErrorMessage     string  `json:"errorMessage,omitempty"`
}

// PagedResponse envelopes a page of items alongside the total count across
// all pages, per the paging Open Question decision (DESIGN.md).
type PagedResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// SubtitleDTO is the wire representation of a subtitle.Record.
type SubtitleDTO struct {
	VideoID  string `json:"videoId"`
	Language string `json:"language"`
	Format   string `json:"format"`
	Source   string `json:"source"`
}

func subtitleToDTO(r *subtitle.Record) SubtitleDTO {
	return SubtitleDTO{
		VideoID:  r.VideoID,
		Language: r.Language,
		Format:   string(r.Format),
		Source:   r.Source,
	}
}

// CacheStatsDTO answers GET /streaming/cache/stats.
type CacheStatsDTO struct {
	EntryCount    int   `json:"entry_count"`
	TotalBytes    int64 `json:"total_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
}

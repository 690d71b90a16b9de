package models

import (
	"time"

	"git.handmade.network/hmn/assetpipe/src/utils"
	"github.com/google/uuid"
)

type UploadTarget string

const (
	UploadTargetNewAsset   UploadTarget = "new_asset"
	UploadTargetNewVersion UploadTarget = "new_version"
)

func (t UploadTarget) Valid() bool {
	return t == UploadTargetNewAsset || t == UploadTargetNewVersion
}

type UploadState string

const (
	UploadStateInitiated UploadState = "initiated"
	UploadStateUploading UploadState = "uploading"
	UploadStateCompleted UploadState = "completed"
	UploadStateAborted   UploadState = "aborted"
)

// No transition leaves a terminal state.
func (s UploadState) IsTerminal() bool {
	return s == UploadStateCompleted || s == UploadStateAborted
}

var uploadTransitions = map[UploadState][]UploadState{
	UploadStateInitiated: {UploadStateUploading, UploadStateAborted},
	UploadStateUploading: {UploadStateUploading, UploadStateCompleted, UploadStateAborted},
}

func (s UploadState) CanTransitionTo(next UploadState) bool {
	for _, allowed := range uploadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// How far the completion steps of a session have gotten. Each step is skipped
// on a retried completion once it has been recorded.
type UploadProgress string

const (
	UploadProgressNone      UploadProgress = "none"
	UploadProgressCommitted UploadProgress = "committed"
	UploadProgressCopied    UploadProgress = "copied"
	UploadProgressRecorded  UploadProgress = "recorded"
	UploadProgressEnqueued  UploadProgress = "enqueued"
)

var progressOrder = map[UploadProgress]int{
	UploadProgressNone:      0,
	UploadProgressCommitted: 1,
	UploadProgressCopied:    2,
	UploadProgressRecorded:  3,
	UploadProgressEnqueued:  4,
}

// Reports whether p is at or past the given step.
func (p UploadProgress) Reached(step UploadProgress) bool {
	return progressOrder[p] >= progressOrder[step]
}

type UploadSession struct {
	ID              uuid.UUID      `db:"id"`
	Target          UploadTarget   `db:"target"`
	AssetID         *uuid.UUID     `db:"asset_id"`
	FileName        string         `db:"file_name"`
	Mime            string         `db:"mime"`
	TotalSize       int64          `db:"total_size"`
	PartSize        int64          `db:"part_size"`
	StorageUploadID string         `db:"storage_upload_id"`
	Bucket          string         `db:"bucket"`
	TempKey         string         `db:"temp_key"`
	FinalKey        *string        `db:"final_key"`
	ReceivedBytes   int64          `db:"received_bytes"`
	State           UploadState    `db:"state"`
	Progress        UploadProgress `db:"progress"`
	ResultAssetID   *uuid.UUID     `db:"result_asset_id"`
	ResultVersionID *uuid.UUID     `db:"result_version_id"`
	CreatedBy       string         `db:"created_by"`
	CreatedAt       time.Time      `db:"created_at"`
	ExpiresAt       time.Time      `db:"expires_at"`
}

func (s *UploadSession) PartCount() int {
	return PartCount(s.TotalSize, s.PartSize)
}

func (s *UploadSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func PartCount(totalSize, partSize int64) int {
	if partSize <= 0 {
		return 0
	}
	return int(utils.CeilDiv64(totalSize, partSize))
}

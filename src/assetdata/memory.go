package assetdata

import (
	"context"
	"sort"
	"sync"
	"time"

	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/google/uuid"
)

// An in-process store for dev mode and tests. It follows the same state rules
// as PgStore; session locks are per-id mutexes.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]models.UploadSession
	assets     map[uuid.UUID]models.Asset
	versions   map[uuid.UUID]models.AssetVersion
	renditions []models.Rendition

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

var _ SessionStore = &MemoryStore{}
var _ RenditionStore = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]models.UploadSession),
		assets:   make(map[uuid.UUID]models.Asset),
		versions: make(map[uuid.UUID]models.AssetVersion),
		locks:    make(map[uuid.UUID]*sessionLock),
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, sess *models.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return oops.New(nil, "upload session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSessionLocked(id)
}

func (s *MemoryStore) getSessionLocked(id uuid.UUID) (*models.UploadSession, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, oops.NotFound("upload session %s not found", id)
	}
	return &sess, nil
}

func (s *MemoryStore) MarkUploading(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(id, models.UploadStateUploading); err != nil {
		return nil, err
	}
	return s.getSessionLocked(id)
}

func (s *MemoryStore) WithSessionLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	defer func() {
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

func (s *MemoryStore) SetProgress(ctx context.Context, id uuid.UUID, progress models.UploadProgress, finalKey *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return oops.NotFound("upload session %s not found", id)
	}
	sess.Progress = progress
	if finalKey != nil {
		key := *finalKey
		sess.FinalKey = &key
	}
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) RecordVersion(ctx context.Context, in RecordVersionInput) (RecordedVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[in.SessionID]
	if !ok {
		return RecordedVersion{}, oops.NotFound("upload session %s not found", in.SessionID)
	}

	var asset models.Asset
	switch in.Target {
	case models.UploadTargetNewAsset:
		asset = models.Asset{
			ID:        uuid.New(),
			Title:     in.Title,
			Type:      models.AssetTypeForMime(in.Mime),
			CreatedBy: in.CreatedBy,
			CreatedAt: in.Now,
		}
	case models.UploadTargetNewVersion:
		if in.AssetID == nil {
			return RecordedVersion{}, oops.Validation("assetId is required for new_version uploads")
		}
		existing, ok := s.assets[*in.AssetID]
		if !ok {
			return RecordedVersion{}, oops.NotFound("asset %s not found", *in.AssetID)
		}
		asset = existing
	default:
		return RecordedVersion{}, oops.Validation("unknown upload target %q", in.Target)
	}

	next := 1
	for _, v := range s.versions {
		if v.AssetID == asset.ID && v.Version >= next {
			next = v.Version + 1
		}
	}

	version := models.AssetVersion{
		ID:        uuid.New(),
		AssetID:   asset.ID,
		Version:   next,
		Bucket:    in.Bucket,
		Key:       in.Key,
		Size:      in.Size,
		SHA256:    in.SHA256,
		Mime:      in.Mime,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.Now,
	}
	s.versions[version.ID] = version

	if in.Target == models.UploadTargetNewAsset {
		versionID := version.ID
		asset.CurrentVersionID = &versionID
	}
	asset.UpdatedAt = in.Now
	s.assets[asset.ID] = asset

	assetID, versionID := asset.ID, version.ID
	sess.ResultAssetID = &assetID
	sess.ResultVersionID = &versionID
	sess.Progress = models.UploadProgressRecorded
	s.sessions[sess.ID] = sess

	return RecordedVersion{AssetID: asset.ID, VersionID: version.ID, Version: next}, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(id, models.UploadStateCompleted); err != nil {
		return err
	}
	sess := s.sessions[id]
	sess.ReceivedBytes = sess.TotalSize
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) MarkAborted(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, models.UploadStateAborted)
}

func (s *MemoryStore) transitionLocked(id uuid.UUID, to models.UploadState) error {
	sess, ok := s.sessions[id]
	if !ok {
		return oops.NotFound("upload session %s not found", id)
	}
	if !sess.State.CanTransitionTo(to) {
		return oops.Conflict("upload session %s is %s", id, sess.State)
	}
	sess.State = to
	s.sessions[id] = sess
	return nil
}

func (s *MemoryStore) AssetExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.assets[id]
	return ok, nil
}

func (s *MemoryStore) GetAsset(id uuid.UUID) (*models.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[id]
	return &asset, ok
}

func (s *MemoryStore) ListVersions(ctx context.Context, assetID uuid.UUID) ([]*models.AssetVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.AssetVersion
	for _, v := range s.versions {
		if v.AssetID == assetID {
			v := v
			result = append(result, &v)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

func (s *MemoryStore) ListExpiredSessions(ctx context.Context, now time.Time) ([]*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.UploadSession
	for _, sess := range s.sessions {
		if sess.IsExpired(now) {
			sess := sess
			result = append(result, &sess)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	return result, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Inserts an asset directly, for seeding dev data and tests.
func (s *MemoryStore) PutAsset(asset models.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.ID] = asset
}

// Inserts a version directly, for seeding dev data and tests.
func (s *MemoryStore) PutVersion(version models.AssetVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[version.ID] = version
}

func (s *MemoryStore) GetVersion(ctx context.Context, id uuid.UUID) (*models.AssetVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, oops.NotFound("asset version %s not found", id)
	}
	return &v, nil
}

func (s *MemoryStore) CreateRendition(ctx context.Context, r *models.Rendition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.versions[r.AssetVersionID]; !ok {
		return oops.NotFound("asset version %s not found", r.AssetVersionID)
	}
	s.renditions = append(s.renditions, *r)
	return nil
}

func (s *MemoryStore) ListRenditions(ctx context.Context, versionID uuid.UUID, readyOnly bool) ([]*models.Rendition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Rendition
	for _, r := range s.renditions {
		if r.AssetVersionID != versionID || (readyOnly && !r.Ready) {
			continue
		}
		r := r
		result = append(result, &r)
	}
	return result, nil
}

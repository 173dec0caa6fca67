// Package service provides the business logic of the change module: the
// patch set manager, the approval gate and the change lifecycle transitions.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/castingclouds/gerrit-sub002/internal/cache"
	changeModel "github.com/castingclouds/gerrit-sub002/internal/change/model"
	"github.com/castingclouds/gerrit-sub002/internal/change/repository"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/pkg/keylock"
)

// EngineCommitInput records a commit minted by the submit engine (rebase,
// cherry-pick at submit) as a new patch set of an existing change.
type EngineCommitInput struct {
	CommitHash           string
	UploaderID           string
	RealUploaderID       string
	ContainsGitConflicts bool
	// Message is the audit trail entry, e.g. "Patch Set 3: rebased".
	Message string
	Tag     string
}

// NewChangeInput creates a brand-new change from an engine-minted commit
// (cherry-pick, revert).
type NewChangeInput struct {
	Project              string
	DestBranch           string
	CommitHash           string
	UploaderID           string
	Topic                string
	RevertOf             *int64
	CherryPickOfChange   *int64
	CherryPickOfPatchSet *int
	ContainsGitConflicts bool
	Message              string
	Tag                  string
}

// Service defines the business logic operations of the change module.
type Service interface {
	// HandlePush turns a commit pushed to a refs/for target into a new or
	// incremented patch set of a change.
	HandlePush(ctx context.Context, req *changeModel.PushRequest) (*changeModel.PushResponse, error)

	// Get returns a change with its patch sets, effective votes, audit trail
	// and readiness verdict.
	Get(ctx context.Context, number int64) (*changeModel.ChangeDetailResponse, error)

	// List returns changes matching the filter.
	List(ctx context.Context, filter repository.ListFilter) ([]changeModel.ChangeResponse, error)

	// ListDiffs returns the per-file records of one patch set.
	ListDiffs(ctx context.Context, number int64, patchSet int) ([]changeModel.FileDiff, error)

	// ListComments returns all comments of a change.
	ListComments(ctx context.Context, number int64) ([]changeModel.Comment, error)

	// Review casts label votes and posts comments on a patch set, returning
	// the resulting readiness verdict.
	Review(ctx context.Context, number int64, patchSet int, req *changeModel.ReviewRequest) (*changeModel.SubmitRecord, error)

	// ResolveComment flips the unresolved flag of a comment thread.
	ResolveComment(ctx context.Context, number int64, commentID string, unresolved bool) error

	// Abandon moves an open change to ABANDONED.
	Abandon(ctx context.Context, number int64, req *changeModel.AbandonRequest) (*changeModel.ChangeResponse, error)

	// Restore moves an abandoned change back to NEW.
	Restore(ctx context.Context, number int64, req *changeModel.RestoreRequest) (*changeModel.ChangeResponse, error)

	// SetTopic sets or clears the topic.
	SetTopic(ctx context.Context, number int64, topic string) (*changeModel.ChangeResponse, error)

	// SetHashtags replaces the hashtag set.
	SetHashtags(ctx context.Context, number int64, tags []string) (*changeModel.ChangeResponse, error)

	// SetWorkInProgress toggles the WIP flag. WIP changes are never submittable.
	SetWorkInProgress(ctx context.Context, number int64, value bool) (*changeModel.ChangeResponse, error)

	// SetPrivate toggles the private flag.
	SetPrivate(ctx context.Context, number int64, value bool) (*changeModel.ChangeResponse, error)

	// SubmitRecordFor evaluates submit readiness for a loaded change.
	SubmitRecordFor(ctx context.Context, change *changeModel.Change) (*changeModel.SubmitRecord, error)

	// AppendEnginePatchSet records an engine-minted commit as the next patch
	// set. The caller must hold the change lock (ChangeLockKey) and pass the
	// current aggregate.
	AppendEnginePatchSet(ctx context.Context, change *changeModel.Change, in EngineCommitInput) (*changeModel.PatchSet, error)

	// CreateEngineChange creates a brand-new change around an engine-minted
	// commit (cherry-pick, revert).
	CreateEngineChange(ctx context.Context, in NewChangeInput) (*changeModel.Change, error)

	// MarkMerged fires the submit transition after the branch ref
	// compare-and-swap committed. The caller must hold the change lock and
	// have verified readiness; the state machine still rejects anything but
	// an open change.
	MarkMerged(ctx context.Context, change *changeModel.Change, submissionID string) error
}

type service struct {
	repo     repository.Repository
	git      gitstore.Store
	projects *project.Registry
	locks    *keylock.KeyedMutex
	cache    *cache.Client
	logger   *zap.SugaredLogger
}

// New creates a new change service instance. cache may be nil.
func New(
	repo repository.Repository,
	git gitstore.Store,
	projects *project.Registry,
	locks *keylock.KeyedMutex,
	snapshots *cache.Client,
	logger *zap.SugaredLogger,
) Service {
	return &service{
		repo:     repo,
		git:      git,
		projects: projects,
		locks:    locks,
		cache:    snapshots,
		logger:   logger,
	}
}

// ChangeLockKey is the serialization key for mutating operations on one
// change. The submit engine shares the same keyed mutex.
func ChangeLockKey(number int64) string {
	return fmt.Sprintf("change/%d", number)
}

// Get returns a change with its patch sets, votes and audit trail. Reads go
// through the snapshot cache when one is configured; every write path
// invalidates it.
func (s *service) Get(ctx context.Context, number int64) (*changeModel.ChangeDetailResponse, error) {
	if s.cache != nil {
		if detail, ok := s.cache.GetDetail(ctx, number); ok {
			return detail, nil
		}
	}

	change, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	sets, err := s.repo.ListPatchSets(ctx, number)
	if err != nil {
		return nil, err
	}
	votes, err := s.effectiveVotes(ctx, number)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.ListMessages(ctx, number)
	if err != nil {
		return nil, err
	}
	record, err := s.SubmitRecordFor(ctx, change)
	if err != nil {
		return nil, err
	}

	detail := &changeModel.ChangeDetailResponse{
		Change:       change.Response(),
		PatchSets:    sets,
		Votes:        votes,
		Messages:     messages,
		SubmitRecord: record,
	}
	if s.cache != nil {
		s.cache.SetDetail(ctx, number, detail)
	}
	return detail, nil
}

// List returns changes matching the filter.
func (s *service) List(ctx context.Context, filter repository.ListFilter) ([]changeModel.ChangeResponse, error) {
	changes, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]changeModel.ChangeResponse, 0, len(changes))
	for i := range changes {
		out = append(out, *changes[i].Response())
	}
	return out, nil
}

// ListDiffs returns the per-file records of one patch set.
func (s *service) ListDiffs(ctx context.Context, number int64, patchSet int) ([]changeModel.FileDiff, error) {
	if _, err := s.repo.GetPatchSet(ctx, number, patchSet); err != nil {
		return nil, err
	}
	return s.repo.ListDiffs(ctx, number, patchSet)
}

// ListComments returns all comments of a change.
func (s *service) ListComments(ctx context.Context, number int64) ([]changeModel.Comment, error) {
	if _, err := s.repo.GetByNumber(ctx, number); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, number)
}

// invalidate drops the cached snapshot of a change after a write.
func (s *service) invalidate(ctx context.Context, number int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, number)
	}
}

// addMessage appends an audit trail entry; a failure is logged, not surfaced,
// because the primary mutation already committed.
func (s *service) addMessage(ctx context.Context, number int64, patchSet int, author, text, tag string) {
	msg := &changeModel.ChangeMessage{
		ChangeNumber:   number,
		PatchSetNumber: patchSet,
		AuthorID:       author,
		Message:        text,
		Tag:            tag,
		WrittenOn:      repository.Stamp(),
	}
	if err := s.repo.AddMessage(ctx, msg); err != nil {
		s.logger.Warnw("failed to record change message", "change", number, "error", err)
	}
}


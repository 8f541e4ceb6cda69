package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/model"
	registryfiles "github.com/clark-center/change-object-author/internal/registry/files"
	registrylock "github.com/clark-center/change-object-author/internal/registry/lock"
	registryregen "github.com/clark-center/change-object-author/internal/registry/regen"
	registrysearch "github.com/clark-center/change-object-author/internal/registry/search"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
	"github.com/clark-center/change-object-author/internal/security"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Background task names, used as metric labels.
const (
	TaskCopyFiles  = "copy-files"
	TaskReindex    = "reindex"
	TaskRegenerate = "regenerate"
)

// TransferResult describes a completed transfer.
type TransferResult struct {
	TransferID string
	// ObjectIDs are the objects whose author changed.
	ObjectIDs []string
	// NoOp is true when every requested object already belonged to the destination.
	NoOp bool
}

// Deps are the collaborators of a TransferService.
type Deps struct {
	Store      registrystore.RecordStore
	Files      registryfiles.FileMirror
	Search     registrysearch.SearchIndex
	Regen      registryregen.Regenerator
	Lock       registrylock.TransferLock
	Background *Dispatcher
}

// TransferService moves learning objects from one author to another.
type TransferService struct {
	store     registrystore.RecordStore
	files     registryfiles.FileMirror
	reindexer *Reindexer
	regen     registryregen.Regenerator
	lock      registrylock.TransferLock
	bg        *Dispatcher
	validate  *validator.Validate
}

// NewTransferService creates a TransferService.
func NewTransferService(d Deps) *TransferService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &TransferService{
		store:     d.Store,
		files:     d.Files,
		reindexer: NewReindexer(d.Store, d.Search),
		regen:     d.Regen,
		lock:      d.Lock,
		bg:        d.Background,
		validate:  v,
	}
}

// Transfer reassigns the selected objects of req.FromUserID to req.ToUserID.
//
// Every lookup happens before the first mutation; a miss is a
// *PreconditionError. File copies are dispatched before the author update,
// search re-indexing and document regeneration after it. None of the
// background work is awaited.
func (s *TransferService) Transfer(ctx context.Context, req model.TransferRequest, authToken string) (*TransferResult, error) {
	req.FromUserID = strings.TrimSpace(req.FromUserID)
	req.ToUserID = strings.TrimSpace(req.ToUserID)
	if err := s.validateRequest(req); err != nil {
		security.CountTransfer("rejected")
		return nil, err
	}

	ids := req.SelectedObjectIDs()
	transferID := uuid.NewString()
	logger := log.With("transferId", transferID, "from", req.FromUserID, "to", req.ToUserID)

	lockKeys := ids
	if len(lockKeys) == 0 {
		lockKeys = []string{"author:" + req.FromUserID}
	}
	release, err := s.lock.Acquire(ctx, transferID, lockKeys...)
	if err != nil {
		if errors.Is(err, registrylock.ErrHeld) {
			security.CountTransfer("conflict")
			return nil, &registrystore.ConflictError{
				Message: "a transfer of these learning objects is already in progress",
				Code:    "transfer_in_progress",
			}
		}
		security.CountTransfer("error")
		return nil, fmt.Errorf("transfer: acquire lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release transfer lock", "err", err)
		}
	}()

	plan, err := s.plan(ctx, req, ids)
	if err != nil {
		security.CountTransfer(outcomeFor(err))
		return nil, err
	}
	if len(plan.vacated) == 0 {
		logger.Info("Transfer is a no-op; nothing owned by source author", "requested", len(ids))
		security.CountTransfer("noop")
		return &TransferResult{TransferID: transferID, NoOp: true, ObjectIDs: []string{}}, nil
	}

	for _, lo := range plan.vacated {
		cuid := lo.CUID
		s.bg.Go(ctx, TaskCopyFiles, func(ctx context.Context) error {
			_, err := s.files.CopyUserFiles(ctx, plan.fromAccess.FileAccessID, plan.toAccess.FileAccessID, cuid)
			return err
		}, "transferId", transferID, "objectId", lo.ID, "cuid", cuid)
	}

	// Copies are already in flight, so the author update must not be cut
	// short by the client going away.
	persistCtx := context.WithoutCancel(ctx)
	moved := make([]string, 0, len(plan.vacated))
	transferred := make([]model.LearningObject, 0, len(plan.vacated))
	for _, lo := range plan.vacated {
		update, err := s.store.SetLearningObjectAuthor(persistCtx, lo.ID, plan.to.ID)
		if err != nil {
			logger.Error("Author update failed", "objectId", lo.ID, "moved", len(moved), "err", err)
			security.CountTransfer("error")
			return nil, &registrystore.PersistenceError{ObjectID: lo.ID, Err: err}
		}
		if update.Upserted {
			logger.Warn("Author update created a new record", "objectId", lo.ID)
		}
		lo.AuthorID = plan.to.ID
		transferred = append(transferred, lo)
		moved = append(moved, lo.ID)
	}

	reindexSet := mergeObjects(plan.retained, transferred)
	s.bg.Go(ctx, TaskReindex, func(ctx context.Context) error {
		res := s.reindexer.ReindexTransfer(ctx, plan.vacated, reindexSet, *plan.to)
		if res.Failed > 0 {
			return fmt.Errorf("%d search index writes failed", res.Failed)
		}
		return nil
	}, "transferId", transferID)

	for _, lo := range reindexSet {
		objectID := lo.ID
		s.bg.Go(ctx, TaskRegenerate, func(ctx context.Context) error {
			return s.regen.RequestRegeneration(ctx, objectID, authToken)
		}, "transferId", transferID, "objectId", objectID)
	}

	logger.Info("Transfer complete", "moved", len(moved), "reindexed", len(reindexSet))
	security.CountTransfer("ok")
	return &TransferResult{TransferID: transferID, ObjectIDs: moved}, nil
}

type transferPlan struct {
	from, to             *model.UserAccount
	fromAccess, toAccess *model.FileAccessID
	vacated              []model.LearningObject
	retained             []model.LearningObject
}

// plan performs every read the transfer needs and checks its preconditions.
func (s *TransferService) plan(ctx context.Context, req model.TransferRequest, ids []string) (*transferPlan, error) {
	var p transferPlan
	var err error

	if p.from, err = s.lookupAccount(ctx, "source account", req.FromUserID); err != nil {
		return nil, err
	}
	if p.to, err = s.lookupAccount(ctx, "destination account", req.ToUserID); err != nil {
		return nil, err
	}

	p.vacated, err = s.store.GetAuthorLearningObjects(ctx, p.from.ID, ids...)
	if err != nil {
		return nil, fmt.Errorf("transfer: load source objects: %w", err)
	}
	if len(ids) > 0 && len(p.vacated) < len(ids) {
		if err := s.checkUnowned(ctx, ids, p.vacated, p.to.ID); err != nil {
			return nil, err
		}
	}
	if len(p.vacated) == 0 {
		return &p, nil
	}

	if p.fromAccess, err = s.lookupFileAccess(ctx, "source file access id", p.from.Username); err != nil {
		return nil, err
	}
	if p.toAccess, err = s.lookupFileAccess(ctx, "destination file access id", p.to.Username); err != nil {
		return nil, err
	}
	for _, lo := range p.vacated {
		if lo.CUID == "" {
			return nil, &registrystore.PreconditionError{Message: fmt.Sprintf("learning object %s has no cuid", lo.ID)}
		}
	}

	p.retained, err = s.store.GetAuthorLearningObjects(ctx, p.to.ID)
	if err != nil {
		return nil, fmt.Errorf("transfer: load destination objects: %w", err)
	}
	return &p, nil
}

// checkUnowned classifies requested ids the source author does not own.
// Ids already owned by the destination are tolerated so a repeated request
// succeeds; unknown ids and ids owned by a third user are rejected.
func (s *TransferService) checkUnowned(ctx context.Context, ids []string, vacated []model.LearningObject, toID string) error {
	owned := make(map[string]bool, len(vacated))
	for _, lo := range vacated {
		owned[lo.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !owned[id] {
			missing = append(missing, id)
		}
	}

	found, err := s.store.GetLearningObjectsByID(ctx, missing...)
	if err != nil {
		return fmt.Errorf("transfer: load requested objects: %w", err)
	}
	byID := make(map[string]model.LearningObject, len(found))
	for _, lo := range found {
		byID[lo.ID] = lo
	}
	for _, id := range missing {
		lo, ok := byID[id]
		if !ok {
			return &registrystore.NotFoundError{Resource: "learning object", ID: id}
		}
		if lo.AuthorID != toID {
			return &registrystore.PreconditionError{
				Message: fmt.Sprintf("learning object %s is not owned by the source author", id),
			}
		}
	}
	return nil
}

func (s *TransferService) lookupAccount(ctx context.Context, what, userID string) (*model.UserAccount, error) {
	acct, err := s.store.GetUserAccount(ctx, userID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil, &registrystore.PreconditionError{Message: what + " not found", Err: err}
		}
		return nil, fmt.Errorf("transfer: load %s: %w", what, err)
	}
	return acct, nil
}

func (s *TransferService) lookupFileAccess(ctx context.Context, what, username string) (*model.FileAccessID, error) {
	fa, err := s.store.GetFileAccessID(ctx, username)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil, &registrystore.PreconditionError{Message: what + " not found", Err: err}
		}
		return nil, fmt.Errorf("transfer: load %s: %w", what, err)
	}
	if strings.TrimSpace(fa.FileAccessID) == "" {
		return nil, &registrystore.PreconditionError{Message: what + " is empty for " + username}
	}
	return fa, nil
}

func (s *TransferService) validateRequest(req model.TransferRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "is required"
		if fe.Tag() == "nefield" {
			msg = "must differ from fromUserID"
		}
		return &registrystore.ValidationError{Field: fe.Field(), Message: msg}
	}
	return &registrystore.ValidationError{Field: "body", Message: err.Error()}
}

// mergeObjects returns base with overrides applied by ID, preserving order.
func mergeObjects(base, overrides []model.LearningObject) []model.LearningObject {
	out := make([]model.LearningObject, 0, len(base)+len(overrides))
	index := make(map[string]int, len(base)+len(overrides))
	for _, lo := range append(append([]model.LearningObject{}, base...), overrides...) {
		if i, ok := index[lo.ID]; ok {
			out[i] = lo
			continue
		}
		index[lo.ID] = len(out)
		out = append(out, lo)
	}
	return out
}

func outcomeFor(err error) string {
	var pe *registrystore.PreconditionError
	var nf *registrystore.NotFoundError
	if errors.As(err, &pe) || errors.As(err, &nf) {
		return "rejected"
	}
	return "error"
}

package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okrylov/countersign/internal/db"
	"github.com/okrylov/countersign/internal/models"
)

// DefaultPageSize matches the chat UI, which renders five tasks per page.
const DefaultPageSize = 5

const (
	storeAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// Dispatcher receives one event per successful state change.
type Dispatcher interface {
	Dispatch(event models.Event)
}

/*
Service owns the task lifecycle: creation rules, the serialized
completion protocol, deletion permissions and listing. All writes to a
given task go through its per-task lock, so two near-simultaneous
completion signals can never both observe the pre-update state.
*/
type Service struct {
	repo       db.TaskRepositoryInterface
	dispatcher Dispatcher
	locks      *taskLocks
	pageSize   int
	now        func() time.Time
}

func NewService(repo db.TaskRepositoryInterface, dispatcher Dispatcher, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		locks:      newTaskLocks(),
		pageSize:   pageSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

/*
Create allocates a new open task. The approver must differ from the
creator; the assignee may be anyone, including the creator. An omitted
approver defaults to the assignee (a chat request that mentions a
single user assigns both roles to them).
*/
func (s *Service) Create(ctx context.Context, description, creatorID, assigneeID, approverID string) (*models.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		description = "(no description provided)"
	}
	if creatorID == "" || assigneeID == "" {
		return nil, fmt.Errorf("%w: creator and assignee are required", ErrInvalidParticipants)
	}
	if approverID == "" {
		approverID = assigneeID
	}
	if approverID == creatorID {
		return nil, ErrInvalidParticipants
	}

	task := &models.Task{
		ID:          uuid.New(),
		Description: description,
		CreatorID:   creatorID,
		AssigneeID:  assigneeID,
		ApproverID:  approverID,
		CreatedAt:   s.now(),
	}
	if err := s.store(ctx, func() error { return s.repo.Create(ctx, task) }); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(models.Event{Kind: models.EventTaskCreated, ActorID: creatorID, Task: *task})
	return task, nil
}

/*
MarkDone records a completion signal for one of the two roles. The
whole read-modify-write runs under the task's lock; a re-mark of an
already-true boolean is an idempotent success that persists nothing and
emits nothing. When a single call flips the second boolean, the marked
event is dispatched before the completion event.
*/
func (s *Service) MarkDone(ctx context.Context, taskID, actorID string, role models.Role) (*models.Task, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, role)
	}

	lock := s.locks.acquire(taskID)
	defer s.locks.release(taskID, lock)

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if roleHolder(task, role) != actorID {
		return nil, ErrForbidden
	}

	out := applyMark(task, role, s.now())
	if !out.changed {
		return task, nil
	}

	err = s.store(ctx, func() error {
		return s.repo.UpdateMarks(ctx, taskID, task.AssigneeDone, task.ApproverDone, task.CompletedAt)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.dispatcher.Dispatch(models.Event{Kind: models.MarkedEventFor(role), ActorID: actorID, Task: *task})
	if out.completed {
		s.dispatcher.Dispatch(models.Event{Kind: models.EventTaskCompleted, ActorID: actorID, Task: *task})
	}
	return task, nil
}

// Delete removes a task permanently. Only the assignee or the approver
// may delete; it runs under the task lock so it cannot interleave with
// an in-flight completion signal.
func (s *Service) Delete(ctx context.Context, taskID, actorID string) error {
	lock := s.locks.acquire(taskID)
	defer s.locks.release(taskID, lock)

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if actorID != task.AssigneeID && actorID != task.ApproverID {
		return ErrForbidden
	}

	err = s.store(ctx, func() error { return s.repo.Delete(ctx, taskID) })
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, taskID string) (*models.Task, error) {
	return s.getTask(ctx, taskID)
}

// SetDeliveryRef records where the delivery layer posted the task's chat
// message, so later state changes can edit it in place.
func (s *Service) SetDeliveryRef(ctx context.Context, taskID, channelID, messageTS string) (*models.Task, error) {
	err := s.store(ctx, func() error { return s.repo.SetDeliveryRef(ctx, taskID, channelID, messageTS) })
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.getTask(ctx, taskID)
}

// ListQuery narrows and pages List results. Page is zero-based.
type ListQuery struct {
	From     *time.Time
	To       *time.Time
	Status   *models.TaskStatus
	PageSize int
	Page     int
}

/*
List returns one page of tasks ordered by (created_at, id) ascending
plus a flag telling whether a further page exists. It fetches one row
beyond the page size instead of issuing a separate count query.
*/
func (s *Service) List(ctx context.Context, q ListQuery) ([]*models.Task, bool, error) {
	size := q.PageSize
	if size <= 0 {
		size = s.pageSize
	}
	page := q.Page
	if page < 0 {
		page = 0
	}

	filter := db.ListFilter{
		From:   q.From,
		To:     q.To,
		Status: q.Status,
		Limit:  size + 1,
		Offset: page * size,
	}
	var tasks []*models.Task
	err := s.store(ctx, func() error {
		var listErr error
		tasks, listErr = s.repo.List(ctx, filter)
		return listErr
	})
	if err != nil {
		return nil, false, err
	}

	hasMore := len(tasks) > size
	if hasMore {
		tasks = tasks[:size]
	}
	return tasks, hasMore, nil
}

func (s *Service) getTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task *models.Task
	err := s.store(ctx, func() error {
		var getErr error
		task, getErr = s.repo.GetByID(ctx, taskID)
		return getErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

/*
store runs one repository call with a bounded retry. Only transient
store failures are retried; sql.ErrNoRows and context errors pass
through untouched so callers can map them. After the last attempt the
error surfaces as ErrStoreUnavailable.
*/
func (s *Service) store(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		err = op()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == storeAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func retryable(err error) bool {
	return !errors.Is(err, sql.ErrNoRows) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

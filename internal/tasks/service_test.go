package tasks

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okrylov/countersign/internal/db"
	"github.com/okrylov/countersign/internal/models"
)

// captureDispatcher records events in dispatch order.
type captureDispatcher struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *captureDispatcher) Dispatch(event models.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *captureDispatcher) kinds() []models.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]models.EventKind, len(c.events))
	for i, event := range c.events {
		kinds[i] = event.Kind
	}
	return kinds
}

func (c *captureDispatcher) count(kind models.EventKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, event := range c.events {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

func setupService(t *testing.T) (*Service, *captureDispatcher) {
	t.Helper()
	dbx, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	// a second pool connection would see its own empty :memory: database
	dbx.SetMaxOpenConns(1)
	if err := db.EnsureSchema(dbx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	capture := &captureDispatcher{}
	return NewService(db.NewTaskRepository(dbx), capture, 5), capture
}

func TestCreate_NewTaskIsOpen(t *testing.T) {
	service, capture := setupService(t)

	task, err := service.Create(context.Background(), "write docs", "U1", "U2", "U3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Status() != models.TaskStatusOpen {
		t.Errorf("Status = %q, want open", task.Status())
	}
	if task.AssigneeDone || task.ApproverDone || task.CompletedAt != nil {
		t.Errorf("fresh task not clean: %#v", task)
	}
	if task.CreatedAt.IsZero() {
		t.Errorf("CreatedAt not set")
	}

	kinds := capture.kinds()
	if len(kinds) != 1 || kinds[0] != models.EventTaskCreated {
		t.Errorf("events = %v, want [task_created]", kinds)
	}
	if capture.events[0].ActorID != "U1" {
		t.Errorf("creation event actor = %q, want U1", capture.events[0].ActorID)
	}
}

func TestCreate_ApproverEqualsCreator(t *testing.T) {
	service, capture := setupService(t)

	_, err := service.Create(context.Background(), "self approve", "U1", "U2", "U1")
	if !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("err = %v, want ErrInvalidParticipants", err)
	}
	if len(capture.kinds()) != 0 {
		t.Errorf("no event should be emitted on failed creation")
	}
	list, _, err := service.List(context.Background(), ListQuery{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("failed creation persisted a record: %+v", list)
	}
}

func TestCreate_Defaults(t *testing.T) {
	service, _ := setupService(t)

	// single mention in chat: approver falls back to the assignee
	task, err := service.Create(context.Background(), "   ", "U1", "U2", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ApproverID != "U2" {
		t.Errorf("ApproverID = %q, want assignee fallback U2", task.ApproverID)
	}
	if task.Description != "(no description provided)" {
		t.Errorf("Description = %q", task.Description)
	}

	// fallback still cannot make the creator their own approver
	_, err = service.Create(context.Background(), "x", "U1", "U1", "")
	if !errors.Is(err, ErrInvalidParticipants) {
		t.Errorf("err = %v, want ErrInvalidParticipants", err)
	}
}

func TestMarkDone_FullScenario(t *testing.T) {
	service, capture := setupService(t)

	task, err := service.Create(context.Background(), "implement feature", "U1", "U2", "U3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	after, err := service.MarkDone(context.Background(), task.ID.String(), "U2", models.RoleAssignee)
	if err != nil {
		t.Fatalf("MarkDone assignee: %v", err)
	}
	if !after.AssigneeDone || after.ApproverDone || after.Status() != models.TaskStatusOpen {
		t.Errorf("after assignee mark: %#v", after)
	}
	if after.CompletedAt != nil {
		t.Errorf("CompletedAt set before full completion")
	}

	after, err = service.MarkDone(context.Background(), task.ID.String(), "U3", models.RoleApprover)
	if err != nil {
		t.Fatalf("MarkDone approver: %v", err)
	}
	if !after.AssigneeDone || !after.ApproverDone || after.Status() != models.TaskStatusCompleted {
		t.Errorf("after approver mark: %#v", after)
	}
	if after.CompletedAt == nil {
		t.Fatalf("CompletedAt not stamped on completion")
	}
	if after.CompletedAt.Before(after.CreatedAt) {
		t.Errorf("CompletedAt %v before CreatedAt %v", after.CompletedAt, after.CreatedAt)
	}

	want := []models.EventKind{
		models.EventTaskCreated,
		models.EventAssigneeMarked,
		models.EventApproverMarked,
		models.EventTaskCompleted,
	}
	kinds := capture.kinds()
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events = %v, want %v", kinds, want)
		}
	}
}

func TestMarkDone_Idempotent(t *testing.T) {
	service, capture := setupService(t)

	task, err := service.Create(context.Background(), "double click", "U1", "U2", "U3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := service.MarkDone(context.Background(), task.ID.String(), "U2", models.RoleAssignee)
	if err != nil {
		t.Fatalf("first MarkDone: %v", err)
	}
	second, err := service.MarkDone(context.Background(), task.ID.String(), "U2", models.RoleAssignee)
	if err != nil {
		t.Fatalf("repeated MarkDone: %v", err)
	}
	if second.AssigneeDone != first.AssigneeDone || second.ApproverDone != first.ApproverDone {
		t.Errorf("state changed on re-mark: %#v vs %#v", second, first)
	}
	if n := capture.count(models.EventAssigneeMarked); n != 1 {
		t.Errorf("assignee_marked emitted %d times, want 1", n)
	}
}

func TestMarkDone_WrongActor(t *testing.T) {
	service, _ := setupService(t)

	task, err := service.Create(context.Background(), "guarded", "U1", "U2", "U3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// the approver cannot flip the assignee's boolean and vice versa
	if _, err := service.MarkDone(context.Background(), task.ID.String(), "U3", models.RoleAssignee); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
	if _, err := service.MarkDone(context.Background(), task.ID.String(), "U2", models.RoleApprover); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}

	got, err := service.GetByID(context.Background(), task.ID.String())
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.AssigneeDone || got.ApproverDone {
		t.Errorf("forbidden marks mutated state: %#v", got)
	}
}

func TestMarkDone_NotFound(t *testing.T) {
	service, _ := setupService(t)
	_, err := service.MarkDone(context.Background(), "b2c3d4e5-0000-0000-0000-000000000000", "U2", models.RoleAssignee)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkDone_ConcurrentCompletion(t *testing.T) {
	service, capture := setupService(t)

	// both parties click within the same instant, many rounds
	for i := 0; i < 20; i++ {
		task, err := service.Create(context.Background(), "race", "U1", "U2", "U3")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := service.MarkDone(context.Background(), task.ID.String(), "U2", models.RoleAssignee); err != nil {
				t.Errorf("assignee MarkDone: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := service.MarkDone(context.Background(), task.ID.String(), "U3", models.RoleApprover); err != nil {
				t.Errorf("approver MarkDone: %v", err)
			}
		}()
		wg.Wait()

		got, err := service.GetByID(context.Background(), task.ID.String())
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if !got.AssigneeDone || !got.ApproverDone || got.CompletedAt == nil {
			t.Fatalf("round %d: final state incomplete: %#v", i, got)
		}
	}

	if n := capture.count(models.EventTaskCompleted); n != 20 {
		t.Errorf("task_completed emitted %d times over 20 rounds, want exactly 20", n)
	}
}

func TestMarkDone_ConcurrentDuplicates(t *testing.T) {
	service, capture := setupService(t)

	task, err := service.Create(context.Background(), "spam clicks", "U1", "U2", "U3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.MarkDone(context.Background(), task.ID.String(), "U2", models.RoleAssignee); err != nil {
				t.Errorf("MarkDone: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := capture.count(models.EventAssigneeMarked); n != 1 {
		t.Errorf("assignee_marked emitted %d times under duplicate clicks, want 1", n)
	}
	if n := capture.count(models.EventTaskCompleted); n != 0 {
		t.Errorf("task_completed emitted %d times, want 0", n)
	}
}

func TestDelete_Permissions(t *testing.T) {
	service, _ := setupService(t)

	task, err := service.Create(context.Background(), "disposable", "U1", "U2", "U3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// the creator holds no role on this task
	if err := service.Delete(context.Background(), task.ID.String(), "U1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger delete: err = %v, want ErrForbidden", err)
	}
	if _, err := service.GetByID(context.Background(), task.ID.String()); err != nil {
		t.Errorf("record should survive forbidden delete: %v", err)
	}

	if err := service.Delete(context.Background(), task.ID.String(), "U2"); err != nil {
		t.Fatalf("assignee delete: %v", err)
	}
	if _, err := service.GetByID(context.Background(), task.ID.String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
	if err := service.Delete(context.Background(), task.ID.String(), "U2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}
}

func TestList_PaginationUnion(t *testing.T) {
	service, _ := setupService(t)
	service.now = stepClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	var created []string
	for i := 0; i < 12; i++ {
		task, err := service.Create(context.Background(), "task", "U1", "U2", "U3")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		created = append(created, task.ID.String())
	}

	var union []string
	page := 0
	for {
		list, hasMore, err := service.List(context.Background(), ListQuery{PageSize: 5, Page: page})
		if err != nil {
			t.Fatalf("List page %d: %v", page, err)
		}
		wantLen := 5
		if page == 2 {
			wantLen = 2
		}
		if len(list) != wantLen {
			t.Fatalf("page %d has %d items, want %d", page, len(list), wantLen)
		}
		for _, task := range list {
			union = append(union, task.ID.String())
		}
		if !hasMore {
			break
		}
		page++
	}
	if page != 2 {
		t.Errorf("paged through %d pages, want 3", page+1)
	}

	if len(union) != len(created) {
		t.Fatalf("union has %d tasks, want %d", len(union), len(created))
	}
	for i := range created {
		if union[i] != created[i] {
			t.Errorf("union[%d] = %s, want %s (order must match creation order)", i, union[i], created[i])
		}
	}
}

// stepClock returns a clock advancing one second per call so created_at
// ordering matches creation order.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

// flakyRepo fails every call a fixed number of times before delegating.
type flakyRepo struct {
	db.TaskRepositoryInterface
	mu        sync.Mutex
	remaining int
}

func (f *flakyRepo) Create(ctx context.Context, task *models.Task) error {
	f.mu.Lock()
	if f.remaining > 0 {
		f.remaining--
		f.mu.Unlock()
		return errors.New("disk I/O error")
	}
	f.mu.Unlock()
	return f.TaskRepositoryInterface.Create(ctx, task)
}

func TestStoreRetry_TransientFailure(t *testing.T) {
	dbx, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	dbx.SetMaxOpenConns(1)
	if err := db.EnsureSchema(dbx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	capture := &captureDispatcher{}
	flaky := &flakyRepo{TaskRepositoryInterface: db.NewTaskRepository(dbx), remaining: 2}
	service := NewService(flaky, capture, 5)

	// two transient failures still fit in the retry budget
	if _, err := service.Create(context.Background(), "retry me", "U1", "U2", "U3"); err != nil {
		t.Fatalf("Create should survive two transient failures: %v", err)
	}

	flaky.remaining = 100
	_, err = service.Create(context.Background(), "hopeless", "U1", "U2", "U3")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable after exhausted retries", err)
	}
}

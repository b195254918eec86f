package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/okrylov/countersign/internal/models"
)

// defines methods for task db operations
type TaskRepositoryInterface interface {
	Create(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id string) (*models.Task, error)
	UpdateMarks(ctx context.Context, id string, assigneeDone, approverDone bool, completedAt *time.Time) error
	SetDeliveryRef(ctx context.Context, id, channelID, messageTS string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter ListFilter) ([]*models.Task, error)
}

// ListFilter narrows List results. Nil fields mean "no restriction".
type ListFilter struct {
	From   *time.Time
	To     *time.Time
	Status *models.TaskStatus
	Limit  int
	Offset int
}

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, description, creator_id, assignee_id, approver_id,
	 assignee_done, approver_done, created_at, completed_at, channel_id, message_ts`

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(
		ctx, query, task.ID, task.Description, task.CreatorID, task.AssigneeID,
		task.ApproverID, task.AssigneeDone, task.ApproverDone, task.CreatedAt,
		nullTime(task.CompletedAt), nullString(task.ChannelID), nullString(task.MessageTS))
	return err
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.db.QueryRowContext(ctx, query, id))
}

// UpdateMarks writes the two sign-off booleans and completed_at in one
// statement. The caller (the completion coordinator) owns serialization;
// this is a plain last-write update.
func (r *TaskRepository) UpdateMarks(ctx context.Context, id string, assigneeDone, approverDone bool, completedAt *time.Time) error {
	query := `UPDATE tasks
	   SET assignee_done = $1, approver_done = $2, completed_at = $3
	 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, assigneeDone, approverDone, nullTime(completedAt), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *TaskRepository) SetDeliveryRef(ctx context.Context, id, channelID, messageTS string) error {
	query := `UPDATE tasks SET channel_id = $1, message_ts = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, channelID, messageTS, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

/*
List returns tasks matching the filter ordered by (created_at, id)
ascending. The deterministic tiebreak keeps pagination stable when
tasks share a creation timestamp.
*/
func (r *TaskRepository) List(ctx context.Context, filter ListFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.From != nil {
		conds = append(conds, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= "+arg(*filter.To))
	}
	if filter.Status != nil {
		// completed iff both booleans are set; same predicate feeds both
		// branches so the derived status can never disagree with storage
		if *filter.Status == models.TaskStatusCompleted {
			conds = append(conds, "(assignee_done AND approver_done)")
		} else {
			conds = append(conds, "NOT (assignee_done AND approver_done)")
		}
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var (
		completedAt sql.NullTime
		channelID   sql.NullString
		messageTS   sql.NullString
	)
	err := row.Scan(
		&task.ID, &task.Description, &task.CreatorID, &task.AssigneeID,
		&task.ApproverID, &task.AssigneeDone, &task.ApproverDone,
		&task.CreatedAt, &completedAt, &channelID, &messageTS,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	task.ChannelID = channelID.String
	task.MessageTS = messageTS.String
	return task, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

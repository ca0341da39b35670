package services

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"task-master/backend/internal/models"
)

const (
	queryParamSearch   = "search"
	queryParamPriority = "priority"
	queryParamStatus   = "status"

	filterAll       = "all"
	statusCompleted = "completed"
	statusActive    = "active"

	dueDateLayout = "2006-01-02"
)

// TaskQuery is the typed form of the listing query string.
type TaskQuery struct {
	Search string
	Filter models.TaskFilter
}

// ParseTaskQuery accepts only search, priority and status. Unknown keys
// and unknown values are validation errors.
func ParseTaskQuery(values url.Values) (TaskQuery, error) {
	var query TaskQuery

	for key := range values {
		switch key {
		case queryParamSearch, queryParamPriority, queryParamStatus:
		default:
			return TaskQuery{}, invalid(key, "is not a supported query parameter")
		}
	}

	query.Search = strings.TrimSpace(values.Get(queryParamSearch))

	switch raw := strings.ToLower(strings.TrimSpace(values.Get(queryParamPriority))); raw {
	case "", filterAll:
	default:
		priority, ok := models.ParsePriority(raw)
		if !ok {
			return TaskQuery{}, invalid(queryParamPriority, "must be one of low, medium, high, all")
		}
		query.Filter.Priority = &priority
	}

	switch raw := strings.ToLower(strings.TrimSpace(values.Get(queryParamStatus))); raw {
	case "", filterAll:
	case statusCompleted:
		completed := true
		query.Filter.Completed = &completed
	case statusActive:
		completed := false
		query.Filter.Completed = &completed
	default:
		return TaskQuery{}, invalid(queryParamStatus, "must be one of completed, active, all")
	}

	return query, nil
}

// CacheKey is a stable encoding of the query for listing cache keys.
func (q TaskQuery) CacheKey() string {
	priority := filterAll
	if q.Filter.Priority != nil {
		priority = string(*q.Filter.Priority)
	}

	status := filterAll
	if q.Filter.Completed != nil {
		status = statusActive
		if *q.Filter.Completed {
			status = statusCompleted
		}
	}

	return fmt.Sprintf("p=%s&s=%s&q=%s", priority, status, url.QueryEscape(strings.ToLower(q.Search)))
}

// TaskInput carries the fields of a new task as submitted.
type TaskInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     string
}

// TaskUpdate carries the mutable fields of an existing task. Nil fields
// are left unchanged, except DueDate: nil or blank clears the due date.
type TaskUpdate struct {
	Title       *string
	Description *string
	Priority    *string
	Completed   *bool
	DueDate     *string
}

func (in TaskInput) toTask(ownerID string) (*models.Task, error) {
	fields := taskFields{
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Priority:    normalizePriority(in.Priority),
	}
	if fields.Priority == "" {
		fields.Priority = string(models.PriorityMedium)
	}

	if err := checkFields(fields); err != nil {
		return nil, err
	}

	dueDate, err := parseDueDate(in.DueDate)
	if err != nil {
		return nil, err
	}

	return &models.Task{
		Title:       fields.Title,
		Description: fields.Description,
		Priority:    models.Priority(fields.Priority),
		DueDate:     dueDate,
		OwnerID:     ownerID,
	}, nil
}

type taskChanges struct {
	title       *string
	description *string
	priority    *models.Priority
	completed   *bool
	dueDate     *time.Time
}

func (u TaskUpdate) validate() (taskChanges, error) {
	var (
		changes taskChanges
		fields  taskFields
		present []string
	)

	if u.Title != nil {
		fields.Title = strings.TrimSpace(*u.Title)
		present = append(present, "Title")
	}
	if u.Description != nil {
		fields.Description = strings.TrimSpace(*u.Description)
		present = append(present, "Description")
	}
	if u.Priority != nil {
		fields.Priority = normalizePriority(*u.Priority)
		present = append(present, "Priority")
	}

	if len(present) > 0 {
		if err := checkFields(fields, present...); err != nil {
			return changes, err
		}
	}

	if u.Title != nil {
		changes.title = &fields.Title
	}
	if u.Description != nil {
		changes.description = &fields.Description
	}
	if u.Priority != nil {
		priority := models.Priority(fields.Priority)
		changes.priority = &priority
	}

	changes.completed = u.Completed

	if u.DueDate != nil {
		dueDate, err := parseDueDate(*u.DueDate)
		if err != nil {
			return changes, err
		}
		changes.dueDate = dueDate
	}

	return changes, nil
}

func (c taskChanges) apply(task *models.Task) {
	if c.title != nil {
		task.Title = *c.title
	}
	if c.description != nil {
		task.Description = *c.description
	}
	if c.priority != nil {
		task.Priority = *c.priority
	}
	if c.completed != nil {
		task.Completed = *c.completed
	}
	task.DueDate = c.dueDate
}

func normalizePriority(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// parseDueDate accepts RFC 3339 timestamps and YYYY-MM-DD dates (UTC).
// Blank input means no due date.
func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}

	if t, err := time.Parse(dueDateLayout, raw); err == nil {
		return &t, nil
	}

	return nil, invalid("dueDate", "must be an RFC 3339 timestamp or a YYYY-MM-DD date")
}

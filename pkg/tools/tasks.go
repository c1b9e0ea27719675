package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/northstarfp/compass/pkg/store"
)

// TaskStore is the slice of the persistence layer the task tools need.
type TaskStore interface {
	CreateTask(ctx context.Context, t *store.Task) error
	UpdateTask(ctx context.Context, id, status, result, errMsg string) error
}

// CreateTaskTool records a follow-up item for the advisor.
type CreateTaskTool struct {
	tasks  TaskStore
	userID func() string
}

// NewCreateTaskTool builds the tool. userID supplies the owner of tasks
// created during the current turn.
func NewCreateTaskTool(tasks TaskStore, userID func() string) *CreateTaskTool {
	return &CreateTaskTool{tasks: tasks, userID: userID}
}

func (t *CreateTaskTool) Name() string {
	return "create_task"
}

func (t *CreateTaskTool) Description() string {
	return "Record a follow-up task for the advisor. Use when work cannot be completed now and must be tracked."
}

func (t *CreateTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Short task title",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "What needs to be done",
			},
			"priority": map[string]interface{}{
				"type":        "string",
				"description": "Task priority (default: MEDIUM)",
				"enum":        store.TaskPriorities,
			},
			"toolCalls": map[string]interface{}{
				"type":        "string",
				"description": "Serialized tool calls to run when the task is picked up",
			},
			"context": map[string]interface{}{
				"type":        "string",
				"description": "Context needed to complete the task later",
			},
		},
		"required": []string{"title", "description"},
	}
}

func (t *CreateTaskTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	title := strings.TrimSpace(strArg(args, "title"))
	description := strArg(args, "description")
	if title == "" || description == "" {
		return ErrorResult("title and description are required")
	}

	task := &store.Task{
		ID:          uuid.NewString(),
		UserID:      t.userID(),
		Title:       title,
		Description: description,
		Priority:    strArg(args, "priority"),
		ToolCalls:   strArg(args, "toolCalls"),
		Context:     strArg(args, "context"),
	}
	if err := t.tasks.CreateTask(ctx, task); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create task: %v", err))
	}

	return &ToolResult{
		ForLLM:  fmt.Sprintf("Task %s created with priority %s.", task.ID, task.Priority),
		ForUser: fmt.Sprintf("📋 Task recorded: %s", title),
	}
}

// UpdateTaskTool moves a task through its lifecycle.
type UpdateTaskTool struct {
	tasks TaskStore
}

func NewUpdateTaskTool(tasks TaskStore) *UpdateTaskTool {
	return &UpdateTaskTool{tasks: tasks}
}

func (t *UpdateTaskTool) Name() string {
	return "update_task"
}

func (t *UpdateTaskTool) Description() string {
	return "Update the status, result, or error of an existing task."
}

func (t *UpdateTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"taskId": map[string]interface{}{
				"type":        "string",
				"description": "Id of the task to update",
			},
			"status": map[string]interface{}{
				"type":        "string",
				"description": "New status",
				"enum":        store.TaskStatuses,
			},
			"result": map[string]interface{}{
				"type":        "string",
				"description": "Outcome description",
			},
			"error": map[string]interface{}{
				"type":        "string",
				"description": "Error message if the task failed",
			},
		},
		"required": []string{"taskId"},
	}
}

func (t *UpdateTaskTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	id := strings.TrimSpace(strArg(args, "taskId"))
	if id == "" {
		return ErrorResult("taskId is required")
	}
	status := strArg(args, "status")
	if status != "" && !store.ValidTaskStatus(status) {
		return ErrorResult(fmt.Sprintf("invalid status %q", status))
	}

	if err := t.tasks.UpdateTask(ctx, id, status, strArg(args, "result"), strArg(args, "error")); err != nil {
		return ErrorResult(fmt.Sprintf("failed to update task: %v", err))
	}
	return SilentResult(fmt.Sprintf("Task %s updated.", id))
}

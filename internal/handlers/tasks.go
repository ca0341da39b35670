package handlers

import (
	"errors"
	"log"
	"net/http"

	"task-master/backend/internal/middleware"
	"task-master/backend/internal/services"

	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	taskService services.TaskService
}

func NewTaskHandler(taskService services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

// createTaskRequest binds from JSON or from a urlencoded/multipart form.
type createTaskRequest struct {
	Title       string `json:"title" form:"title"`
	Description string `json:"description" form:"description"`
	Priority    string `json:"priority" form:"priority"`
	DueDate     string `json:"dueDate" form:"dueDate"`
}

type updateTaskRequest struct {
	Title       *string `json:"title" form:"title"`
	Description *string `json:"description" form:"description"`
	Priority    *string `json:"priority" form:"priority"`
	Completed   *bool   `json:"completed" form:"completed"`
	DueDate     *string `json:"dueDate" form:"dueDate"`
}

type toggleStatusRequest struct {
	Completed *bool `json:"completed" form:"completed" binding:"required"`
}

// RegisterRoutes mounts the task routes on a group that already runs
// the identity gate.
func (h *TaskHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.GetTasks)
	rg.POST("", h.CreateTask)
	rg.GET("/:id", h.GetTaskByID)
	rg.PATCH("/:id", h.UpdateTask)
	rg.PATCH("/:id/status", h.ToggleTaskStatus)
	rg.DELETE("/:id", h.DeleteTask)
}

func (h *TaskHandler) GetTasks(c *gin.Context) {
	query, err := services.ParseTaskQuery(c.Request.URL.Query())
	if err != nil {
		handleTaskError(c, err)
		return
	}

	tasks, err := h.taskService.ListTasks(c.Request.Context(), middleware.UserID(c), query)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	task, err := h.taskService.CreateTask(c.Request.Context(), middleware.UserID(c), services.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTaskByID(c *gin.Context) {
	task, err := h.taskService.GetTask(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	task, err := h.taskService.UpdateTask(c.Request.Context(), middleware.UserID(c), c.Param("id"), services.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Completed:   req.Completed,
		DueDate:     req.DueDate,
	})
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ToggleTaskStatus(c *gin.Context) {
	var req toggleStatusRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"field":   "completed",
			"message": "completed is required",
		})
		return
	}

	task, err := h.taskService.ToggleTaskStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"), *req.Completed)
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	err := h.taskService.DeleteTask(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		handleTaskError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func handleTaskError(c *gin.Context, err error) {
	var validationErr *services.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"field":   validationErr.Field,
			"message": validationErr.Error(),
		})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "unauthorized",
		})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "task not found",
		})
	case errors.Is(err, services.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "task storage is unavailable",
		})
	default:
		if !errors.Is(err, services.ErrInternal) {
			log.Printf("[http] unexpected task error: %v", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to process task request",
		})
	}
}

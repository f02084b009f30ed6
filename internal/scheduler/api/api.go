package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/repovista/repovista/internal/scheduler/model"
	"github.com/repovista/repovista/internal/scheduler/service"
)

type Api struct {
	scheduler *service.Scheduler
	state     *service.TaskStateStore
}

// NewApi binds the scheduler HTTP surface: schedule management, ad-hoc task
// submission, task queries, and the callback endpoint that feeds the
// response queues.
func NewApi(router *gin.Engine, scheduler *service.Scheduler, state *service.TaskStateStore) *Api {
	api := &Api{scheduler: scheduler, state: state}

	router.GET("/v1/schedule", api.ListSchedules)
	router.GET("/v1/schedule/:uuid", api.GetSchedule)
	router.POST("/v1/schedule", api.SetSchedule)
	router.DELETE("/v1/schedule/:uuid", api.DeleteSchedule)

	router.GET("/v1/task", api.ListTasks)
	router.GET("/v1/task/:transactionId", api.GetTask)
	router.POST("/v1/task", api.SubmitTask)
	router.POST("/v1/task/:transactionId/callback/:caller", api.TaskCallback)

	return api
}

func (api *Api) ListSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]any{"items": api.scheduler.Schedules()})
}

func (api *Api) GetSchedule(c *gin.Context) {
	view, err := api.scheduler.Schedule(c.Param("uuid"))
	if err != nil {
		c.JSON(http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (api *Api) SetSchedule(c *gin.Context) {
	var req model.SetScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "INVALID_PARAMETER", "message": "invalid JSON body"}})
		return
	}
	view, err := api.scheduler.SetSchedule(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "INVALID_PARAMETER", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (api *Api) DeleteSchedule(c *gin.Context) {
	if err := api.scheduler.DeleteSchedule(c.Param("uuid")); err != nil {
		c.JSON(http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (api *Api) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]any{"items": api.scheduler.TaskDocs()})
}

func (api *Api) GetTask(c *gin.Context) {
	txID := c.Param("transactionId")
	if task, ok := api.scheduler.Task(txID); ok {
		c.JSON(http.StatusOK, task.Doc())
		return
	}
	// Finished or pre-crash runs are only visible through the distributed
	// state store.
	doc, err := api.state.GetByTransaction(c.Request.Context(), txID)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "task not found"}})
			return
		}
		c.JSON(http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": "INTERNAL_ERROR", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (api *Api) SubmitTask(c *gin.Context) {
	var req model.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "INVALID_PARAMETER", "message": "invalid JSON body"}})
		return
	}
	if req.UUID == "" {
		c.JSON(http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "INVALID_PARAMETER", "message": "uuid is required"}})
		return
	}
	task, err := api.scheduler.SubmitTask(req.UUID, req.DoneCallback)
	if err != nil {
		if errors.Is(err, model.ErrTaskActive) {
			c.JSON(http.StatusConflict, map[string]any{"error": map[string]any{"code": "CONFLICT", "message": err.Error()}})
			return
		}
		c.JSON(http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "INVALID_PARAMETER", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, map[string]any{"transactionId": task.TransactionID()})
}

func (api *Api) TaskCallback(c *gin.Context) {
	errMsg := ""
	if c.Query("status") == "error" {
		errMsg = c.Query("message")
		if errMsg == "" {
			errMsg = "downstream service reported an error"
		}
	}
	expected, err := api.scheduler.Callback(c.Param("transactionId"), c.Param("caller"), errMsg)
	if err != nil {
		c.JSON(http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "task not found"}})
		return
	}
	if !expected {
		c.JSON(http.StatusConflict, map[string]any{"error": map[string]any{"code": "UNEXPECTED_CALLER", "message": "caller was not awaited by this task"}})
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

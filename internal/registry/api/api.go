package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/repovista/repovista/internal/middleware"
	"github.com/repovista/repovista/internal/registry/model"
	"github.com/repovista/repovista/internal/registry/service"
)

type Api struct {
	registry *service.Registry
}

// NewApi binds the registry HTTP surface. Mutating endpoints sit behind the
// internal bearer credential; reads are open to any caller.
func NewApi(router *gin.Engine, registry *service.Registry, bearerToken string) *Api {
	api := &Api{registry: registry}

	router.GET("/v1/service/:name", api.GetService)

	auth := router.Group("/", middleware.RequireBearer(bearerToken))
	auth.PUT("/v1/service/:name/:hostname", api.PutInstance)
	auth.DELETE("/v1/service/:name/:hostname", api.DeleteInstance)
	auth.PUT("/v1/service/:name/:hostname/ping", api.PingInstance)
	auth.Any("/v1/service/:name/broadcast/*path", api.BroadcastToService)
	auth.POST("/v1/service/:name/notify/:subscriber/broadcast/*path", api.Subscribe)
	auth.DELETE("/v1/service/:name/notify/:subscriber/broadcast/*path", api.Unsubscribe)

	return api
}

func (api *Api) GetService(c *gin.Context) {
	view, err := api.registry.GroupState(c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (api *Api) PutInstance(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "INVALID_PARAMETER", "message": "invalid JSON body"}})
		return
	}
	replace := c.Query("replace") == "true"
	if err := api.registry.SetInstance(c.Param("name"), c.Param("hostname"), &req, replace); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (api *Api) DeleteInstance(c *gin.Context) {
	if err := api.registry.RemoveInstance(c.Param("name"), c.Param("hostname")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (api *Api) PingInstance(c *gin.Context) {
	if err := api.registry.Ping(c.Param("name"), c.Param("hostname")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (api *Api) BroadcastToService(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "INVALID_PARAMETER", "message": "unreadable body"}})
		return
	}
	if len(body) == 0 {
		body = nil
	}
	err = api.registry.Broadcast(c.Request.Context(), c.Param("name"), c.Request.Method, c.Param("path"), c.Request.URL.Query(), body)
	if err != nil {
		if errors.Is(err, model.ErrGroupNotFound) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusBadGateway, map[string]any{"error": map[string]any{"code": "BROADCAST_FAILED", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (api *Api) Subscribe(c *gin.Context) {
	sub := model.NotificationSubscriber{
		ServiceName: c.Param("subscriber"),
		Kind:        model.NotificationKindBroadcast,
		Path:        c.Param("path"),
	}
	if err := api.registry.Subscribe(c.Param("name"), sub); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (api *Api) Unsubscribe(c *gin.Context) {
	sub := model.NotificationSubscriber{
		ServiceName: c.Param("subscriber"),
		Kind:        model.NotificationKindBroadcast,
		Path:        c.Param("path"),
	}
	if err := api.registry.Unsubscribe(c.Param("name"), sub); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrGroupNotFound), errors.Is(err, model.ErrInstanceNotFound), errors.Is(err, model.ErrSubscriberNotFound):
		c.JSON(http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": err.Error()}})
	case errors.Is(err, model.ErrInstanceExists), errors.Is(err, model.ErrSubscriberExists):
		c.JSON(http.StatusConflict, map[string]any{"error": map[string]any{"code": "CONFLICT", "message": err.Error()}})
	default:
		c.JSON(http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": "INTERNAL_ERROR", "message": err.Error()}})
	}
}

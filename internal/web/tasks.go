package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lmoraes/taskboard/internal/gatekit"
	"github.com/lmoraes/taskboard/internal/taskkit"
	"github.com/lmoraes/taskboard/pkg/sessiontoken"
)

// MountTaskRoutes registers the task CRUD endpoints under /api/tasks.
// The gatekeeper guarantees an authenticated session on these routes.
func MountTaskRoutes(router gin.IRouter, tasks taskkit.TaskStore, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/api/tasks", func(contextGin *gin.Context) {
		session := requireSession(contextGin)
		if session == nil {
			return
		}
		records, listErr := tasks.ListTasks(contextGin, session.Subject)
		if listErr != nil {
			respondTaskError(contextGin, logger, "api.tasks.list", listErr)
			return
		}
		if records == nil {
			records = []taskkit.Task{}
		}
		contextGin.JSON(http.StatusOK, records)
	})

	router.POST("/api/tasks", func(contextGin *gin.Context) {
		session := requireSession(contextGin)
		if session == nil {
			return
		}
		var inbound struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "InvalidBody"})
			return
		}
		created, createErr := tasks.CreateTask(contextGin, session.Subject, inbound.Title, inbound.Description)
		if createErr != nil {
			respondTaskError(contextGin, logger, "api.tasks.create", createErr)
			return
		}
		contextGin.JSON(http.StatusCreated, created)
	})

	router.GET("/api/tasks/:id", func(contextGin *gin.Context) {
		session := requireSession(contextGin)
		if session == nil {
			return
		}
		taskID, ok := parseTaskID(contextGin)
		if !ok {
			return
		}
		record, getErr := tasks.GetTask(contextGin, session.Subject, taskID)
		if getErr != nil {
			respondTaskError(contextGin, logger, "api.tasks.get", getErr)
			return
		}
		contextGin.JSON(http.StatusOK, record)
	})

	router.PUT("/api/tasks/:id", func(contextGin *gin.Context) {
		session := requireSession(contextGin)
		if session == nil {
			return
		}
		taskID, ok := parseTaskID(contextGin)
		if !ok {
			return
		}
		var inbound struct {
			Title       *string `json:"title"`
			Description *string `json:"description"`
			Completed   *bool   `json:"completed"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "InvalidBody"})
			return
		}
		updated, updateErr := tasks.UpdateTask(contextGin, session.Subject, taskID, taskkit.TaskPatch{
			Title:       inbound.Title,
			Description: inbound.Description,
			Completed:   inbound.Completed,
		})
		if updateErr != nil {
			respondTaskError(contextGin, logger, "api.tasks.update", updateErr)
			return
		}
		contextGin.JSON(http.StatusOK, updated)
	})

	router.DELETE("/api/tasks/:id", func(contextGin *gin.Context) {
		session := requireSession(contextGin)
		if session == nil {
			return
		}
		taskID, ok := parseTaskID(contextGin)
		if !ok {
			return
		}
		if deleteErr := tasks.DeleteTask(contextGin, session.Subject, taskID); deleteErr != nil {
			respondTaskError(contextGin, logger, "api.tasks.delete", deleteErr)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})
}

func requireSession(contextGin *gin.Context) *sessiontoken.Token {
	session := gatekit.SessionFromContext(contextGin)
	if session == nil {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil
	}
	return session
}

func parseTaskID(contextGin *gin.Context) (uint, bool) {
	parsed, parseErr := strconv.ParseUint(contextGin.Param("id"), 10, 32)
	if parseErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "InvalidTaskID"})
		return 0, false
	}
	return uint(parsed), true
}

func respondTaskError(contextGin *gin.Context, logger *zap.Logger, code string, err error) {
	switch {
	case errors.Is(err, taskkit.ErrEmptyTitle):
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "TitleRequired"})
	case errors.Is(err, taskkit.ErrTaskForbidden):
		contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, taskkit.ErrTaskNotFound):
		contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "NotFound"})
	default:
		logger.Error("task store error",
			zap.String("code", code),
			zap.Error(err))
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "InternalError"})
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

type positionUpdate struct {
	ID       uint `json:"id"`
	Position int  `json:"position"`
}

// ReorderTodos repositions a task within the agency's ordering. The three
// modes are mutually exclusive: an absolute position, a relative up/down
// step, or a pairwise swap with another task. Moving "up" from the top (or
// "down" from the bottom) is a no-op that returns an empty update list.
func (h *TodoHandler) ReorderTodos(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTodoOperation("reorder")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		TodoID    uint    `json:"todoId"`
		Position  *int    `json:"position,omitempty"`
		Direction *string `json:"direction,omitempty"`
		SwapWith  *uint   `json:"swapWith,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse reorder request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.TodoID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "todoId is required"})
	}

	modes := 0
	if req.Position != nil {
		modes++
	}
	if req.Direction != nil {
		modes++
	}
	if req.SwapWith != nil {
		modes++
	}
	if modes != 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "exactly one of position, direction or swapWith is required"})
	}
	if req.Direction != nil && *req.Direction != "up" && *req.Direction != "down" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "direction must be 'up' or 'down'"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var todos []model.Todo
	if err := h.scoped(actx).Order("position ASC, id ASC").Find(&todos).Error; err != nil {
		log.Error("Failed to load todos for reorder", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to reorder"})
	}

	index := -1
	for i := range todos {
		if todos[i].ID == req.TodoID {
			index = i
			break
		}
	}
	if index < 0 {
		// Covers cross-tenant ids as well: not in this agency means not found
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "todo not found"})
	}

	var updates []positionUpdate
	switch {
	case req.Position != nil:
		target := *req.Position
		if target < 0 {
			target = 0
		}
		if target >= len(todos) {
			target = len(todos) - 1
		}
		if target != index {
			moved := todos[index]
			todos = append(todos[:index], todos[index+1:]...)
			rest := append([]model.Todo{}, todos[target:]...)
			todos = append(append(todos[:target], moved), rest...)
			updates = renumber(todos)
		}

	case req.Direction != nil:
		if *req.Direction == "up" && index > 0 {
			todos[index], todos[index-1] = todos[index-1], todos[index]
			updates = renumber(todos)
		} else if *req.Direction == "down" && index < len(todos)-1 {
			todos[index], todos[index+1] = todos[index+1], todos[index]
			updates = renumber(todos)
		}

	case req.SwapWith != nil:
		// The swap target is re-verified against the agency's own tasks;
		// a foreign tenant's id is indistinguishable from a missing one.
		other := -1
		for i := range todos {
			if todos[i].ID == *req.SwapWith {
				other = i
				break
			}
		}
		if other < 0 {
			return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "todo not found"})
		}
		if other != index {
			todos[index], todos[other] = todos[other], todos[index]
			updates = renumber(todos)
		}
	}

	if len(updates) > 0 {
		defer prometheus.TrackDBOperation("update")(time.Now())
		err := h.db.Transaction(func(tx *gorm.DB) error {
			for _, u := range updates {
				if err := tx.Model(&model.Todo{}).
					Where("id = ? AND agency_id = ?", u.ID, actx.AgencyID).
					Update("position", u.Position).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Error("Failed to persist reorder", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to reorder"})
		}

		h.activity.Log(actx, "reordered", "todo", req.TodoID, "")
	}

	if updates == nil {
		updates = []positionUpdate{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    map[string]interface{}{"updates": updates},
	})
}

// renumber assigns sequential positions and returns only the rows that moved
func renumber(todos []model.Todo) []positionUpdate {
	var updates []positionUpdate
	for i := range todos {
		if todos[i].Position != i {
			todos[i].Position = i
			updates = append(updates, positionUpdate{ID: todos[i].ID, Position: i})
		}
	}
	return updates
}

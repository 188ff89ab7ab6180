package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"agency-service/internal/activity"
	"agency-service/internal/authz"
	"agency-service/internal/model"
	"agency-service/pkg/fieldcrypt"
	"agency-service/pkg/logger"
	"agency-service/prometheus"
)

const maxPageSize = 100

// TodoHandler serves task CRUD and reordering. Notes and transcriptions are
// encrypted before persistence and decrypted on the way out.
type TodoHandler struct {
	db       *gorm.DB
	cipher   *fieldcrypt.Cipher
	activity *activity.Recorder
}

// NewTodoHandler creates the todo handler
func NewTodoHandler(db *gorm.DB, cipher *fieldcrypt.Cipher, activity *activity.Recorder) *TodoHandler {
	return &TodoHandler{db: db, cipher: cipher, activity: activity}
}

// scoped returns a query filtered to the caller's agency. Every todo access
// goes through this; the agency id always comes from the resolved context,
// never from request input.
func (h *TodoHandler) scoped(actx *authz.Context) *gorm.DB {
	return h.db.Model(&model.Todo{}).Where("agency_id = ?", actx.AgencyID)
}

func (h *TodoHandler) decrypt(todo *model.Todo) error {
	notes, err := h.cipher.DecryptString(todo.Notes)
	if err != nil {
		return err
	}
	transcription, err := h.cipher.DecryptString(todo.Transcription)
	if err != nil {
		return err
	}
	todo.Notes = notes
	todo.Transcription = transcription
	return nil
}

// ListTodos returns the agency's tasks, paginated. Callers without the
// view-all capability only see tasks they created or are assigned.
func (h *TodoHandler) ListTodos(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTodoOperation("list")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := h.scoped(actx)
	if !actx.Can(authz.CapViewAllTasks) {
		query = query.Where("creator_id = ? OR assignee_id = ?", actx.UserID, actx.UserID)
	}
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		log.Error("Failed to count todos", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list todos"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var todos []model.Todo
	if err := query.
		Order("position ASC, id ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&todos).Error; err != nil {
		log.Error("Failed to list todos", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list todos"})
	}

	for i := range todos {
		if err := h.decrypt(&todos[i]); err != nil {
			log.Error("Failed to decrypt todo fields", zap.Uint("todo_id", todos[i].ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to list todos"})
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data": map[string]interface{}{
			"todos":     todos,
			"page":      page,
			"page_size": pageSize,
			"total":     total,
		},
	})
}

// CreateTodo creates a task in the caller's agency
func (h *TodoHandler) CreateTodo(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTodoOperation("create")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	if !actx.Can(authz.CapCreateTasks) {
		prometheus.RecordAuthError("capability_denied")
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		Title         string     `json:"title"`
		Notes         string     `json:"notes,omitempty"`
		Transcription string     `json:"transcription,omitempty"`
		AssigneeID    *uint      `json:"assignee_id,omitempty"`
		Priority      string     `json:"priority,omitempty"`
		DueDate       *time.Time `json:"due_date,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse todo creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.Title == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "title is required"})
	}

	// A client-supplied assignee id is re-verified against this agency's
	// membership; knowing another tenant's user id is not enough.
	if req.AssigneeID != nil {
		if ok, err := h.isAgencyMember(actx, *req.AssigneeID); err != nil {
			log.Error("Failed to verify assignee", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create todo"})
		} else if !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "assignee is not a member of this agency"})
		}
	}

	notes, err := h.cipher.EncryptString(req.Notes)
	if err != nil {
		log.Error("Failed to encrypt notes", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create todo"})
	}
	transcription, err := h.cipher.EncryptString(req.Transcription)
	if err != nil {
		log.Error("Failed to encrypt transcription", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create todo"})
	}

	priority := req.Priority
	if priority == "" {
		priority = "normal"
	}

	var maxPosition int
	h.scoped(actx).Select("COALESCE(MAX(position), -1)").Scan(&maxPosition)

	todo := model.Todo{
		AgencyID:      actx.AgencyID,
		CreatorID:     actx.UserID,
		AssigneeID:    req.AssigneeID,
		Title:         req.Title,
		Notes:         notes,
		Transcription: transcription,
		Status:        "open",
		Priority:      priority,
		Position:      maxPosition + 1,
		DueDate:       req.DueDate,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := h.db.Create(&todo).Error; err != nil {
		log.Error("Failed to create todo", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create todo"})
	}

	h.activity.Log(actx, "created", "todo", todo.ID, todo.Title)

	if err := h.decrypt(&todo); err != nil {
		log.Error("Failed to decrypt created todo", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to create todo"})
	}

	log.Info("Todo created",
		zap.Uint("id", todo.ID),
		zap.Uint("agency_id", todo.AgencyID))

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": todo})
}

// UpdateTodo updates a task in the caller's agency
func (h *TodoHandler) UpdateTodo(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTodoOperation("update")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	var req struct {
		ID            uint       `json:"id"`
		Title         *string    `json:"title,omitempty"`
		Notes         *string    `json:"notes,omitempty"`
		Transcription *string    `json:"transcription,omitempty"`
		AssigneeID    *uint      `json:"assignee_id,omitempty"`
		Status        *string    `json:"status,omitempty"`
		Priority      *string    `json:"priority,omitempty"`
		DueDate       *time.Time `json:"due_date,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse todo update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid request"})
	}

	if req.ID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "id is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var todo model.Todo
	if err := h.scoped(actx).Where("id = ?", req.ID).First(&todo).Error; err != nil {
		// Wrong-tenant ids answer identically to genuinely absent ones
		log.Warn("Todo not found in agency",
			zap.Uint("todo_id", req.ID),
			zap.Uint("agency_id", actx.AgencyID))
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "todo not found"})
	}

	if !actx.Can(authz.CapEditTasks) && todo.CreatorID != actx.UserID {
		prometheus.RecordAuthError("capability_denied")
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		if *req.Title == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "title cannot be empty"})
		}
		updates["title"] = *req.Title
	}
	if req.Notes != nil {
		notes, err := h.cipher.EncryptString(*req.Notes)
		if err != nil {
			log.Error("Failed to encrypt notes", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update todo"})
		}
		updates["notes"] = notes
	}
	if req.Transcription != nil {
		transcription, err := h.cipher.EncryptString(*req.Transcription)
		if err != nil {
			log.Error("Failed to encrypt transcription", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update todo"})
		}
		updates["transcription"] = transcription
	}
	if req.AssigneeID != nil {
		if ok, err := h.isAgencyMember(actx, *req.AssigneeID); err != nil {
			log.Error("Failed to verify assignee", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update todo"})
		} else if !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "assignee is not a member of this agency"})
		}
		updates["assignee_id"] = *req.AssigneeID
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.DueDate != nil {
		updates["due_date"] = *req.DueDate
	}

	if len(updates) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "no fields to update"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := h.db.Model(&todo).Updates(updates).Error; err != nil {
		log.Error("Failed to update todo", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update todo"})
	}

	h.activity.Log(actx, "updated", "todo", todo.ID, todo.Title)

	if err := h.decrypt(&todo); err != nil {
		log.Error("Failed to decrypt updated todo", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to update todo"})
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": todo})
}

// DeleteTodo deletes a task named by the id query parameter
func (h *TodoHandler) DeleteTodo(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordTodoOperation("delete")

	actx, ok := authz.FromEcho(c)
	if !ok {
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	id, err := strconv.ParseUint(c.QueryParam("id"), 10, 32)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "id is required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var todo model.Todo
	if err := h.scoped(actx).Where("id = ?", id).First(&todo).Error; err != nil {
		log.Warn("Todo not found in agency",
			zap.Uint64("todo_id", id),
			zap.Uint("agency_id", actx.AgencyID))
		return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "todo not found"})
	}

	if !actx.Can(authz.CapDeleteTasks) && todo.CreatorID != actx.UserID {
		prometheus.RecordAuthError("capability_denied")
		return c.JSON(http.StatusForbidden, echo.Map{"success": false, "error": "access denied"})
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if err := h.db.Delete(&todo).Error; err != nil {
		log.Error("Failed to delete todo", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "failed to delete todo"})
	}

	h.activity.Log(actx, "deleted", "todo", todo.ID, todo.Title)

	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "todo deleted successfully"})
}

func (h *TodoHandler) isAgencyMember(actx *authz.Context, userID uint) (bool, error) {
	var count int64
	err := h.db.Model(&model.Membership{}).
		Where("user_id = ? AND agency_id = ? AND status = ?", userID, actx.AgencyID, model.MembershipActive).
		Count(&count).Error
	return count > 0, err
}

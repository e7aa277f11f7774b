/*
handlers.go - HTTP API handlers for the progress tracker

PURPOSE:
  Exposes tracker.Service over REST. Handlers decode the request, call one
  service operation with the authenticated user id and render the Result.

ENDPOINTS:
  Users:
    POST   /api/users                      Register the token's user

  Categories:
    GET    /api/categories                 List categories
    POST   /api/categories                 Create category
    PUT    /api/categories/{id}            Rename category
    DELETE /api/categories/{id}            Delete category (409 while in use)

  Projects:
    GET    /api/projects                   List projects
    POST   /api/projects                   Create project
    DELETE /api/projects/{id}              Delete project (goals are detached)

  Activities:
    GET    /api/activities                 List (?category_id=&from=&to=)
    POST   /api/activities                 Log activity and accrue it
    DELETE /api/activities/{id}            Delete activity and reverse it

  Tasks / Habits:
    GET    /api/tasks, /api/habits         List
    POST   /api/tasks, /api/habits         Create
    GET    /api/tasks/{id}, /api/habits/{id}
    DELETE /api/tasks/{id}, /api/habits/{id}

  ToDos:
    GET    /api/todos                      List
    POST   /api/todos                      Create
    PUT    /api/todos/{id}/completed       Set completed flag
    DELETE /api/todos/{id}                 Delete

  Admin (users listed in auth.admin_users):
    POST   /api/admin/rollover             Append elapsed habit windows now

ERROR HANDLING:
  The body is always the Result envelope. Status follows Result.Kind:
  - 400: validation
  - 401: no identity
  - 403: admin endpoint, caller not an admin
  - 404: not_found
  - 409: conflict
  - 500: store

SEE ALSO:
  - dto.go: Response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/progress-engine/generic"
	"github.com/warp/progress-engine/logger"
	"github.com/warp/progress-engine/tracker"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	Service *tracker.Service
	Logger  *logger.Logger

	// Admins may call the /api/admin endpoints, which act on every user.
	Admins map[string]bool
}

func NewHandler(svc *tracker.Service, log *logger.Logger, admins ...string) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	h := &Handler{Service: svc, Logger: log, Admins: make(map[string]bool, len(admins))}
	for _, id := range admins {
		h.Admins[id] = true
	}
	return h
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var in tracker.RegisterUserInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.RegisterUser(r.Context(), UserIDFrom(r.Context()), in)
	h.respond(w, http.StatusCreated, res, err)
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ListCategories(r.Context(), UserIDFrom(r.Context()))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var in tracker.CategoryInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.CreateCategory(r.Context(), UserIDFrom(r.Context()), in)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) RenameCategory(w http.ResponseWriter, r *http.Request) {
	var in tracker.CategoryInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.RenameCategory(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"), in)
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteCategory(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

// =============================================================================
// PROJECTS
// =============================================================================

func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ListProjects(r.Context(), UserIDFrom(r.Context()))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var in tracker.ProjectInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.CreateProject(r.Context(), UserIDFrom(r.Context()), in)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteProject(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

// =============================================================================
// ACTIVITIES
// =============================================================================

func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.Service.ListActivities(r.Context(), UserIDFrom(r.Context()),
		q.Get("category_id"), q.Get("from"), q.Get("to"))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) LogActivity(w http.ResponseWriter, r *http.Request) {
	var in tracker.LogActivityInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.LogActivity(r.Context(), UserIDFrom(r.Context()), in)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) DeleteActivity(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteActivity(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

// =============================================================================
// TASKS
// =============================================================================

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ListTasks(r.Context(), UserIDFrom(r.Context()))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var in tracker.TaskInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.CreateTask(r.Context(), UserIDFrom(r.Context()), in)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetTask(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteTask(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

// =============================================================================
// HABITS
// =============================================================================

func (h *Handler) ListHabits(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ListHabits(r.Context(), UserIDFrom(r.Context()))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) CreateHabit(w http.ResponseWriter, r *http.Request) {
	var in tracker.HabitInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.CreateHabit(r.Context(), UserIDFrom(r.Context()), in)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) GetHabit(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetHabit(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) DeleteHabit(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteHabit(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

// =============================================================================
// TODOS
// =============================================================================

func (h *Handler) ListToDos(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ListToDos(r.Context(), UserIDFrom(r.Context()))
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) CreateToDo(w http.ResponseWriter, r *http.Request) {
	var in tracker.ToDoInput
	if !decode(w, r, &in) {
		return
	}
	res, err := h.Service.CreateToDo(r.Context(), UserIDFrom(r.Context()), in)
	h.respond(w, http.StatusCreated, res, err)
}

func (h *Handler) SetToDoCompleted(w http.ResponseWriter, r *http.Request) {
	var req ToDoCompletedRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Service.SetToDoCompleted(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"), req.Completed)
	h.respond(w, http.StatusOK, res, err)
}

func (h *Handler) DeleteToDo(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteToDo(r.Context(), UserIDFrom(r.Context()), chi.URLParam(r, "id"))
	h.respond(w, http.StatusOK, res, err)
}

// =============================================================================
// ADMIN
// =============================================================================

// TriggerRollover runs the habit rollover the scheduler runs nightly. It
// touches every user's habits, so only admins may call it.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFrom(r.Context())
	if userID == "" {
		writeUnauthenticated(w, generic.ErrUnauthenticated.Error())
		return
	}
	if !h.Admins[userID] {
		h.Logger.Warn("rollover refused", zap.String("user_id", userID))
		writeJSON(w, http.StatusForbidden, generic.Result{Message: "rollover is restricted to admin users"})
		return
	}

	today := generic.Today()
	created, err := h.Service.RolloverHabits(r.Context(), today)
	dto := RolloverDTO{PeriodsCreated: created, AsOf: today.String()}
	if err != nil {
		h.Logger.Error("manual rollover failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, generic.Result{
			Message: "rollover finished with errors: " + err.Error(),
			Kind:    generic.KindStore,
			Data:    dto,
		})
		return
	}
	writeJSON(w, http.StatusOK, generic.OK(fmt.Sprintf("%d habit periods created", created), dto))
}

// =============================================================================
// HELPERS
// =============================================================================

// respond renders a service outcome. okStatus is used for successes.
func (h *Handler) respond(w http.ResponseWriter, okStatus int, res generic.Result, err error) {
	if errors.Is(err, generic.ErrUnauthenticated) {
		writeUnauthenticated(w, err.Error())
		return
	}
	if err != nil {
		h.Logger.Error("unexpected service error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, generic.Fail(err))
		return
	}

	status := okStatus
	if !res.Success {
		status = statusFor(res.Kind)
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("message", res.Message))
	}
	writeJSON(w, status, present(res))
}

func statusFor(kind generic.Kind) int {
	switch kind {
	case generic.KindValidation:
		return http.StatusBadRequest
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, generic.Fail(generic.Validation("invalid request body", err)))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeUnauthenticated(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, generic.Result{Success: false, Message: message})
}

package appointment

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/scheduling-api/internal/middleware"
	"github.com/jwalitptl/scheduling-api/internal/model"
	"github.com/jwalitptl/scheduling-api/internal/service/appointment"
	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
	"github.com/jwalitptl/scheduling-api/pkg/httputil"
)

const (
	defaultSlotSuggestions = 5
	maxListLimit           = 100
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	appointments := r.Group("/appointments")
	{
		appointments.GET("", h.ListAppointments)
		appointments.GET("/upcoming", h.ListUpcoming)
		appointments.GET("/pending", h.ListPending)
		appointments.GET("/availability", h.Availability)
		appointments.POST("", h.CreateAppointment)
		appointments.GET("/:id", h.GetAppointment)
		appointments.GET("/:id/history", h.GetHistory)
		appointments.PUT("/:id", h.UpdateAppointment)
		appointments.PUT("/:id/approve", h.ApproveAppointment)
		appointments.PUT("/:id/reject", h.RejectAppointment)
		appointments.PUT("/:id/complete", h.CompleteAppointment)
		appointments.DELETE("/:id", h.CancelAppointment)
	}
}

func (h *Handler) ListAppointments(c *gin.Context) {
	userID, role, err := caller(c, c.Query("userId"), model.Role(c.Query("role")))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	opts := model.ListOptions{
		DateFrom: c.Query("from"),
		DateTo:   c.Query("to"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := model.AppointmentStatus(strings.TrimSpace(s))
			if !status.Valid() {
				httputil.RespondWithError(c, apperrors.NewValidationf("unknown status %q", s))
				return
			}
			opts.Statuses = append(opts.Statuses, status)
		}
	}
	for _, d := range []string{opts.DateFrom, opts.DateTo} {
		if d != "" && !model.ValidDate(d) {
			httputil.RespondWithError(c, apperrors.NewValidation("from and to must be YYYY-MM-DD"))
			return
		}
	}

	view, err := h.service.ListForRole(c.Request.Context(), userID, role, opts)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, view)
}

func (h *Handler) ListUpcoming(c *gin.Context) {
	userID, role, err := caller(c, c.Query("userId"), model.Role(c.Query("role")))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	upcoming, err := h.service.Upcoming(c.Request.Context(), userID, role, min(limit, maxListLimit))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointments": upcoming})
}

func (h *Handler) ListPending(c *gin.Context) {
	doctorID, err := doctor(c, c.Query("userId"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	unassigned, err := boolQuery(c, "unassigned")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	pending, err := h.service.PendingApprovals(c.Request.Context(), doctorID, unassigned)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointments": pending})
}

func (h *Handler) Availability(c *gin.Context) {
	duration, err := intQuery(c, "duration", 0)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", defaultSlotSuggestions)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	slots, err := h.service.SuggestSlots(c.Request.Context(), c.Query("doctorId"), c.Query("date"), duration, min(limit, maxListLimit))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"slots": slots})
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req model.CreateAppointmentRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if id, role, ok := middleware.CurrentUser(c); ok {
		req.RequesterID, req.RequesterRole = id, role
	}

	apt, err := h.service.RequestAppointment(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, gin.H{"appointment": apt})
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	apt, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if userID, _, ok := middleware.CurrentUser(c); ok && !apt.HasParty(userID) {
		httputil.RespondWithError(c, apperrors.NewForbidden("not a party to this appointment"))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointment": apt})
}

func (h *Handler) GetHistory(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	if userID, _, authenticated := middleware.CurrentUser(c); authenticated {
		apt, err := h.service.Get(c.Request.Context(), id)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		if !apt.HasParty(userID) {
			httputil.RespondWithError(c, apperrors.NewForbidden("not a party to this appointment"))
			return
		}
	}

	history, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"history": history})
}

func (h *Handler) UpdateAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	var req model.UpdateAppointmentRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if userID, _, ok := middleware.CurrentUser(c); ok {
		req.ActorID = userID
	}

	apt, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointment": apt})
}

func (h *Handler) ApproveAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	var req model.ApproveRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	doctorID, err := doctor(c, req.DoctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, err := h.service.Approve(c.Request.Context(), id, doctorID, req.Location)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointment": apt})
}

func (h *Handler) RejectAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	var req model.RejectRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	doctorID, err := doctor(c, req.DoctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, err := h.service.Reject(c.Request.Context(), id, doctorID, req.Reason)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointment": apt})
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	var req model.CompleteRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	doctorID, err := doctor(c, req.DoctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, err := h.service.Complete(c.Request.Context(), id, doctorID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointment": apt})
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	actorID := c.Query("actorId")
	if userID, _, ok := middleware.CurrentUser(c); ok {
		actorID = userID
	}

	if _, err := h.service.Cancel(c.Request.Context(), id, actorID); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"success": true})
}

func appointmentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		// ids are always uuids, so a malformed one cannot exist
		httputil.RespondWithError(c, apperrors.NewNotFound("appointment", err))
		return uuid.Nil, false
	}
	return id, true
}

// caller resolves the user a listing is for. An authenticated caller may only
// list their own appointments.
func caller(c *gin.Context, userID string, role model.Role) (string, model.Role, error) {
	id, authRole, ok := middleware.CurrentUser(c)
	if !ok {
		return userID, role, nil
	}
	if (userID != "" && userID != id) || (role != "" && role != authRole) {
		return "", "", apperrors.NewForbidden("cannot list another user's appointments")
	}
	return id, authRole, nil
}

// doctor resolves the acting doctor, requiring the doctor role when authenticated
func doctor(c *gin.Context, doctorID string) (string, error) {
	id, role, ok := middleware.CurrentUser(c)
	if !ok {
		return doctorID, nil
	}
	if role != model.RoleDoctor {
		return "", apperrors.NewForbidden("only doctors can perform this action")
	}
	return id, nil
}

func boolQuery(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.NewValidationf("%s must be true or false", key)
	}
	return v, nil
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationf("%s must be a non-negative integer", key)
	}
	return n, nil
}

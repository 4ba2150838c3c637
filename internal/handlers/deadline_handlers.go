package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"deadlineTracker/internal/handlers/dto"
	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNilID = errors.New("id не может быть пустым")

type DeadlineHandler struct {
	Service   Service
	Scheduler Scheduler
	// часовой пояс лаборатории для дат без времени
	Location *time.Location
}

func NewDeadlineHandler(svc Service, scheduler Scheduler, loc *time.Location) *DeadlineHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &DeadlineHandler{
		Service:   svc,
		Scheduler: scheduler,
		Location:  loc,
	}
}

func (h *DeadlineHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	logger.HttpRequestInfo(r, "HTTP: Health check")

	if err := h.Service.HealthCheck(r.Context()); err != nil {
		logger.Error("HTTP: Хранилище недоступно", err)
		responseWithJSON(w, http.StatusServiceUnavailable,
			toPayload("status", "unavailable"),
			toPayload("service", "deadline-tracker"))
		return
	}

	responseWithJSON(w, http.StatusOK,
		toPayload("status", "ok"),
		toPayload("service", "deadline-tracker"))
}

func (h *DeadlineHandler) PostDeadline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	if !checkContentType(r, "application/json") {
		logger.Warn("HTTP: Неверный тип контента",
			zap.String("expected", "application/json"),
			zap.String("received", r.Header.Get("Content-Type")),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusUnsupportedMediaType, "Content-Type должен быть application/json")
		return
	}

	labID, err := uuidParam(r, "labID")
	if err != nil {
		logger.Warn("HTTP: Не удалось получить labID",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "не удалось получить labID: "+err.Error())
		return
	}

	user, err := actingUser(r)
	if err != nil {
		responseWithError(w, http.StatusBadRequest, "неверный X-User-ID: "+err.Error())
		return
	}

	var request dto.CreateDeadlineRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		logger.Warn("HTTP: ошибка чтения JSON",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "неверное тело запроса: "+err.Error())
		return
	}

	if request.Title == "" {
		logger.Warn("HTTP: Ошибка валидации",
			zap.String("field", "title"),
			zap.String("error", "empty_field"),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "название не может быть пустым")
		return
	}

	dueAt, err := dto.ParseDueDate(request.DueDate, h.Location)
	if err != nil {
		logger.Warn("HTTP: Ошибка валидации",
			zap.String("field", "due_date"),
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "due_date: "+err.Error())
		return
	}

	opts := []deadline.Option{
		deadline.WithDescription(request.Description),
		deadline.WithCategory(deadline.Category(request.Category)),
		deadline.WithPriority(deadline.Priority(request.Priority)),
		deadline.WithResponsible(request.ResponsibleID),
		deadline.WithExternalURL(request.ExternalURL),
		deadline.WithRequirements(request.Requirements),
		deadline.WithRecurrence(request.RecurrencePattern),
		deadline.WithTags(request.Tags),
		deadline.WithCreatedBy(user),
	}
	if request.NotificationLeadDays != nil {
		opts = append(opts, deadline.WithLeadDays(*request.NotificationLeadDays))
	}

	logger.Info("HTTP: Вызов сервиса создания дедлайна")
	d, err := h.Service.CreateDeadline(r.Context(), labID, request.Title, dueAt, opts...)
	if err != nil {
		handleError(w, r, err, "create_deadline")
		return
	}

	logger.Info("HTTP_OUT: Дедлайн создан",
		zap.String("deadline_id", d.ID.String()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusCreated))

	responseWithJSON(w, http.StatusCreated, toPayload("deadline", h.toResponse(d)))
}

func (h *DeadlineHandler) GetLabDeadlines(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	labID, err := uuidParam(r, "labID")
	if err != nil {
		logger.Warn("HTTP: Не удалось получить labID",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "не удалось получить labID: "+err.Error())
		return
	}

	page, limit, err := pagination(r)
	if err != nil {
		logger.Warn("HTTP: Ошибка получения параметра",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "неверные параметры пагинации: "+err.Error())
		return
	}

	list, err := h.Service.ListLabDeadlines(r.Context(), labID, page, limit)
	if err != nil {
		handleError(w, r, err, "list_lab_deadlines")
		return
	}

	now := h.Service.Now()
	result := make([]dto.DeadlineResponse, len(list))
	for i, d := range list {
		result[i] = dto.FromDeadline(d, h.Service.ClassifyUrgency(d, now))
	}

	logger.Info("HTTP_OUT: Дедлайны получены",
		zap.Int("count", len(result)),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	responseWithJSON(w, http.StatusOK,
		toPayload("deadlines", result),
		toPayload("page", page),
		toPayload("limit", limit))
}

func (h *DeadlineHandler) GetDeadlineByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	id, ok := h.deadlineID(w, r)
	if !ok {
		return
	}

	d, err := h.Service.GetDeadline(r.Context(), id)
	if err != nil {
		handleError(w, r, err, "get_deadline")
		return
	}

	logger.Info("HTTP_OUT: Дедлайн получен",
		zap.String("deadline_id", d.ID.String()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	responseWithJSON(w, http.StatusOK, toPayload("deadline", h.toResponse(d)))
}

func (h *DeadlineHandler) PatchDeadline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	if !checkContentType(r, "application/json") {
		responseWithError(w, http.StatusUnsupportedMediaType, "Content-Type должен быть application/json")
		return
	}

	id, ok := h.deadlineID(w, r)
	if !ok {
		return
	}

	var request dto.UpdateDeadlineRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		logger.Warn("HTTP: ошибка чтения JSON",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "неверно переданы параметры обновления: "+err.Error())
		return
	}

	patch, err := h.toPatch(request)
	if err != nil {
		logger.Warn("HTTP: Ошибка валидации",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Info("HTTP: запрос к сервису обновления дедлайна")
	d, err := h.Service.EditDeadline(r.Context(), id, patch)
	if err != nil {
		handleError(w, r, err, "edit_deadline")
		return
	}

	logger.Info("HTTP_OUT: Дедлайн обновлён",
		zap.String("deadline_id", d.ID.String()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	responseWithJSON(w, http.StatusOK, toPayload("deadline", h.toResponse(d)))
}

func (h *DeadlineHandler) PostStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	if !checkContentType(r, "application/json") {
		responseWithError(w, http.StatusUnsupportedMediaType, "Content-Type должен быть application/json")
		return
	}

	id, ok := h.deadlineID(w, r)
	if !ok {
		return
	}

	var request dto.SetStatusRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		responseWithError(w, http.StatusBadRequest, "неверное тело запроса: "+err.Error())
		return
	}

	tr, err := h.Service.SetStatus(r.Context(), id, deadline.Status(request.Status))
	if err != nil {
		handleError(w, r, err, "set_status")
		return
	}

	payload := []Payload{toPayload("deadline", h.toResponse(tr.Deadline))}
	if tr.Successor != nil {
		payload = append(payload, toPayload("successor", h.toResponse(tr.Successor)))
	}

	logger.Info("HTTP_OUT: Статус изменён",
		zap.String("deadline_id", id.String()),
		zap.String("status", request.Status),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	responseWithJSON(w, http.StatusOK, payload...)
}

func (h *DeadlineHandler) GetReminders(w http.ResponseWriter, r *http.Request) {
	logger.HttpRequestInfo(r, "HTTP_IN:")

	id, ok := h.deadlineID(w, r)
	if !ok {
		return
	}

	list, err := h.Service.ListReminders(r.Context(), id)
	if err != nil {
		handleError(w, r, err, "list_reminders")
		return
	}

	responseWithJSON(w, http.StatusOK, toPayload("reminders", dto.FromReminderList(list)))
}

// RunTick - внеочередной проход планировщика
func (h *DeadlineHandler) RunTick(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	report, err := h.Scheduler.RunTick(r.Context(), h.Service.Now())
	if err != nil {
		logger.Error("HTTP: Проход планировщика завершился с ошибками", err)
		responseWithJSON(w, http.StatusInternalServerError,
			toPayload("error", "проход завершился с ошибками"),
			toPayload("report", report))
		return
	}

	logger.Info("HTTP_OUT: Проход планировщика выполнен",
		zap.Bool("skipped", report.Skipped),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	responseWithJSON(w, http.StatusOK, toPayload("report", report))
}

func (h *DeadlineHandler) deadlineID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuidParam(r, "id")
	if err != nil {
		logger.Warn("HTTP: Не удалось получить id",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "не удалось получить id: "+err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *DeadlineHandler) toResponse(d *deadline.Deadline) dto.DeadlineResponse {
	return dto.FromDeadline(d, h.Service.ClassifyUrgency(d, h.Service.Now()))
}

func (h *DeadlineHandler) toPatch(request dto.UpdateDeadlineRequest) (service.Patch, error) {
	patch := service.Patch{
		Title:        request.Title,
		Description:  request.Description,
		ExternalURL:  request.ExternalURL,
		Requirements: request.Requirements,
		LeadDays:     request.NotificationLeadDays,
		Recurrence:   request.RecurrencePattern,
		Tags:         request.Tags,
		Version:      request.Version,
	}

	if request.Category != nil {
		c := deadline.Category(*request.Category)
		patch.Category = &c
	}
	if request.Priority != nil {
		p := deadline.Priority(*request.Priority)
		patch.Priority = &p
	}
	if request.DueDate != nil {
		due, err := dto.ParseDueDate(*request.DueDate, h.Location)
		if err != nil {
			return service.Patch{}, errors.New("due_date: " + err.Error())
		}
		patch.DueAt = &due
	}
	if request.ResponsibleID != nil {
		if *request.ResponsibleID == "" {
			patch.ClearResponsible = true
		} else {
			id, err := uuid.Parse(*request.ResponsibleID)
			if err != nil {
				return service.Patch{}, errors.New("responsible_id: " + err.Error())
			}
			patch.ResponsibleID = &id
		}
	}

	return patch, nil
}

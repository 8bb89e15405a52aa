package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fibreflow/ticket-notify/internal/application/command"
	"github.com/fibreflow/ticket-notify/internal/application/query"
	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/scheduler"
	"github.com/fibreflow/ticket-notify/internal/interface/http/handlers"
	"github.com/fibreflow/ticket-notify/pkg/logger"
	"github.com/fibreflow/ticket-notify/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth returns 503 when a critical dependency is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{"status": "healthy", "version": s.config.Version})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady returns 503 when any dependency is down.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]bool{"ready": true})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, http.StatusServiceUnavailable, "NOT_READY", status.Message, "")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]bool{"alive": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type sendRequest struct {
	TicketID       string            `json:"ticket_id"`
	RecipientType  string            `json:"recipient_type"`
	RecipientPhone string            `json:"recipient_phone"`
	RecipientName  string            `json:"recipient_name"`
	TemplateID     string            `json:"template_id"`
	Variables      map[string]string `json:"variables"`
	MessageContent string            `json:"message_content"`
	CorrelationID  string            `json:"correlation_id"`
}

type sendResponse struct {
	query.NotificationStatusDTO
	Attempts int `json:"attempts"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.Send.Handle(r.Context(), command.SendNotificationCommand{
		TicketID:       req.TicketID,
		RecipientType:  notification.RecipientType(req.RecipientType),
		RecipientPhone: req.RecipientPhone,
		RecipientName:  req.RecipientName,
		TemplateID:     notification.TemplateID(req.TemplateID),
		Variables:      req.Variables,
		MessageContent: req.MessageContent,
		CorrelationID:  correlationID(r, req.CorrelationID),
	})
	if err != nil {
		details := ""
		if result != nil && result.Notification != nil {
			details = "notification_id=" + result.Notification.ID.String()
		}
		writeAPIError(w, r, err, details)
		return
	}

	writeJSON(w, r, http.StatusOK, sendResponse{
		NotificationStatusDTO: query.NewNotificationStatusDTO(result.Notification),
		Attempts:              result.Attempts,
	})
}

type batchRequest struct {
	TemplateID         string                       `json:"template_id"`
	TicketIDs          []string                     `json:"ticket_ids"`
	RecipientType      string                       `json:"recipient_type"`
	VariablesPerTicket map[string]map[string]string `json:"variables_per_ticket"`
	CorrelationID      string                       `json:"correlation_id"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RecipientType == "" {
		req.RecipientType = notification.RecipientTechnician.String()
	}

	result, err := s.deps.Batch.Handle(r.Context(), command.DispatchBatchCommand{
		TemplateID:         notification.TemplateID(req.TemplateID),
		TicketIDs:          req.TicketIDs,
		RecipientType:      notification.RecipientType(req.RecipientType),
		VariablesPerTicket: req.VariablesPerTicket,
		CorrelationID:      correlationID(r, req.CorrelationID),
	})
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type retryResponse struct {
	Success      bool                          `json:"success"`
	Notification *query.NotificationStatusDTO `json:"notification,omitempty"`
	Error        string                        `json:"error,omitempty"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Retry.Handle(r.Context(), command.RetryNotificationCommand{
		NotificationID: notification.NotificationID(r.PathValue("id")),
	})
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}

	resp := retryResponse{Success: result.Success, Error: result.Error}
	if result.Notification != nil {
		dto := query.NewNotificationStatusDTO(result.Notification)
		resp.Notification = &dto
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.Status.Handle(r.Context(), query.GetNotificationStatusQuery{
		NotificationID: notification.NotificationID(r.PathValue("id")),
	})
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}

	result, err := s.deps.List.Handle(r.Context(), q)
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// parseListQuery reads the listing filter from the URL query string.
func parseListQuery(r *http.Request) (query.ListNotificationsQuery, error) {
	v := r.URL.Query()
	q := query.ListNotificationsQuery{
		TicketID: strings.TrimSpace(v.Get("ticket_id")),
	}

	for _, s := range splitList(v.Get("status")) {
		q.Statuses = append(q.Statuses, notification.Status(s))
	}
	for _, t := range splitList(v.Get("recipient_type")) {
		q.RecipientTypes = append(q.RecipientTypes, notification.RecipientType(t))
	}

	var err error
	if q.SentAfter, err = parseTimeParam(v.Get("sent_after"), "sent_after"); err != nil {
		return q, err
	}
	if q.SentBefore, err = parseTimeParam(v.Get("sent_before"), "sent_before"); err != nil {
		return q, err
	}
	if q.FailedOnly, err = parseBoolParam(v.Get("failed_only"), "failed_only"); err != nil {
		return q, err
	}
	if q.IncludeStats, err = parseBoolParam(v.Get("include_stats"), "include_stats"); err != nil {
		return q, err
	}
	if q.Limit, err = parseIntParam(v.Get("limit"), "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = parseIntParam(v.Get("offset"), "offset"); err != nil {
		return q, err
	}
	return q, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TEMPLATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, query.ListTemplates())
}

func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	preview, err := query.PreviewTemplate(notification.TemplateID(r.PathValue("id")))
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, preview)
}

// ══════════════════════════════════════════════════════════════════════════════
// TICKET EVENT HANDLER
// ══════════════════════════════════════════════════════════════════════════════

type eventRequest struct {
	EventType      string            `json:"event_type"`
	TicketID       string            `json:"ticket_id"`
	PreviousStatus string            `json:"previous_status"`
	NewStatus      string            `json:"new_status"`
	Metadata       map[string]string `json:"metadata"`
	CorrelationID  string            `json:"correlation_id"`
}

// handleTriggerEvent runs a ticket event through the trigger pipeline. A
// deliberate skip is a success that names the reason.
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TicketID == "" {
		writeJSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ticket_id is required", "")
		return
	}

	t, err := s.deps.Tickets.GetByID(r.Context(), req.TicketID)
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}

	ev := notification.NewTicketEvent(shared.EventType(req.EventType), *t)
	ev.PreviousStatus = req.PreviousStatus
	ev.NewStatus = req.NewStatus
	for k, v := range req.Metadata {
		ev.Metadata[k] = v
	}
	if id := correlationID(r, req.CorrelationID); id != "" {
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(id)
	}

	result := s.deps.Trigger.ProcessEvent(r.Context(), ev)
	if !result.Success {
		details := ""
		if result.NotificationID != "" {
			details = "notification_id=" + result.NotificationID.String()
		}
		writeAPIError(w, r, result.Err, details)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// DELIVERY WEBHOOK HANDLER
// ══════════════════════════════════════════════════════════════════════════════

type webhookResponse struct {
	Found    bool   `json:"found"`
	Updated  bool   `json:"updated"`
	Decision string `json:"decision,omitempty"`
	Status   string `json:"status,omitempty"`
}

// handleWebhook applies a gateway delivery callback. Unknown message ids are
// acknowledged so the gateway does not redeliver them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_BODY", "could not read request body", "")
		return
	}

	if !s.verifier.Verify(body, r.Header.Get(handlers.SignatureHeader)) {
		writeJSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "webhook signature mismatch", "")
		return
	}

	ev, err := handlers.ParseWebhook(body)
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}

	result, err := s.deps.Webhook.Handle(r.Context(), command.ApplyWebhookCommand{Event: ev})
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}

	resp := webhookResponse{Found: result.Found, Updated: result.Updated()}
	if result.Found {
		resp.Decision = result.Decision.String()
		resp.Status = result.Status.String()
	} else {
		logger.FromContext(r.Context()).Debug("webhook for unknown message", logger.MessageID(ev.MessageID))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULED JOBS
// ══════════════════════════════════════════════════════════════════════════════

type jobRunDTO struct {
	Job         string    `json:"job"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    string    `json:"duration"`
	Success     bool      `json:"success"`
	Manual      bool      `json:"manual"`
	Error       string    `json:"error,omitempty"`
}

func toJobRunDTO(r scheduler.JobResult) jobRunDTO {
	dto := jobRunDTO{
		Job:         r.JobName,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Duration:    r.Duration.Round(time.Millisecond).String(),
		Success:     r.Success,
		Manual:      r.Manual,
	}
	if r.Error != nil {
		dto.Error = r.Error.Error()
	}
	return dto
}

type jobsResponse struct {
	Jobs    []scheduler.JobInfo `json:"jobs"`
	History []jobRunDTO         `json:"history"`
}

// handleListJobs lists registered jobs and up to `history` recent runs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query().Get("history"), "history")
	if err != nil {
		writeAPIError(w, r, err, "")
		return
	}
	if limit <= 0 {
		limit = 20
	}

	history := s.deps.Jobs.GetHistory(limit)
	resp := jobsResponse{Jobs: s.deps.Jobs.ListJobs(), History: make([]jobRunDTO, 0, len(history))}
	for _, h := range history {
		resp.History = append(resp.History, toJobRunDTO(h))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleRunJob runs a job immediately. A failing run is still reported with
// 200 and success=false.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	result, err := s.deps.Jobs.RunNow(r.Context(), name)
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "job not found", name)
		return
	}
	if result == nil {
		writeAPIError(w, r, err, "")
		return
	}
	writeJSON(w, r, http.StatusOK, toJobRunDTO(*result))
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeBody decodes a JSON body and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", "")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", err.Error())
		return false
	}
	return true
}

// correlationID prefers the body value and falls back to the request id.
func correlationID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return getRequestID(r.Context())
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTimeParam(s, name string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := timeutil.ParseTimestamp(s)
	if err != nil {
		return nil, shared.WrapError("notification", "List", shared.ErrInvalidFormat, "invalid "+name, err)
	}
	return &t, nil
}

func parseBoolParam(s, name string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, shared.WrapError("notification", "List", shared.ErrInvalidFormat, "invalid "+name, err)
	}
	return b, nil
}

func parseIntParam(s, name string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, shared.WrapError("notification", "List", shared.ErrInvalidFormat, "invalid "+name, err)
	}
	return n, nil
}

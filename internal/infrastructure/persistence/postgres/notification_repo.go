package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fibreflow/ticket-notify/internal/domain/notification"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// notificationColumns is the column list every notification SELECT returns,
// in scanNotification order.
const notificationColumns = `
	id::text, ticket_id::text, recipient_type, recipient_phone, recipient_name,
	message_template, message_content, status, waha_message_id,
	sent_at, delivered_at, read_at, error_message, retry_count,
	created_at, updated_at`

// NotificationRepository implements notification.Repository for PostgreSQL.
type NotificationRepository struct {
	conn *Connection
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(conn *Connection) *NotificationRepository {
	return &NotificationRepository{conn: conn}
}

var _ notification.Repository = (*NotificationRepository)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create inserts a notification and returns the stored row.
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) (*notification.Notification, error) {
	id := n.ID
	if !id.IsValid() {
		id = notification.NotificationID(uuid.New().String())
	}

	query := `
		INSERT INTO whatsapp_notifications (
			id, ticket_id, recipient_type, recipient_phone, recipient_name,
			message_template, message_content, status, waha_message_id,
			sent_at, delivered_at, read_at, error_message, retry_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + notificationColumns

	row := r.conn.QueryRow(ctx, query,
		string(id),
		nullString(n.TicketID),
		string(n.RecipientType),
		n.RecipientPhone,
		nullString(n.RecipientName),
		nullString(n.TemplateID),
		n.Content,
		string(n.Status),
		nullString(n.WAHAMessageID),
		n.SentAt,
		n.DeliveredAt,
		n.ReadAt,
		nullString(n.ErrorMessage),
		n.RetryCount,
	)

	stored, err := scanNotification(row)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, shared.WrapError("notification", "Create", shared.ErrAlreadyExists, "notification already exists", err)
		}
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return stored, nil
}

// UpdateStatus persists a transition. Writing the status the row already has
// only refreshes the fields the transition carries.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id notification.NotificationID, tr notification.Transition) error {
	tag, err := applyTransition(ctx, r.conn, "id = $1", string(id), tr)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if tag == 0 {
		return shared.ErrNotificationNotFound
	}
	return nil
}

// UpdateByMessageID locks the row for a gateway message id, lets decide
// compute the transition and writes it in the same transaction.
func (r *NotificationRepository) UpdateByMessageID(
	ctx context.Context,
	messageID string,
	decide notification.DecideFunc,
) (*notification.Notification, notification.Decision, error) {
	var (
		current  *notification.Notification
		decision notification.Decision
	)

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + notificationColumns + `
			FROM whatsapp_notifications
			WHERE waha_message_id = $1
			FOR UPDATE`

		n, err := scanNotification(tx.QueryRow(ctx, query, messageID))
		if err != nil {
			return err
		}

		tr, d := decide(n)
		decision = d
		current = n
		if d != notification.DecisionApply {
			return nil
		}

		if _, err := applyTransition(ctx, tx, "id = $1", string(n.ID), tr); err != nil {
			return fmt.Errorf("failed to apply transition: %w", err)
		}
		n.Apply(tr)
		return nil
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, notification.DecisionNoop, err
		}
		return nil, notification.DecisionNoop, fmt.Errorf("failed to update notification by message id: %w", err)
	}

	return current, decision, nil
}

// applyTransition runs the UPDATE for a transition against q. where must use
// $1 for its only argument.
func applyTransition(ctx context.Context, q Querier, where string, arg string, tr notification.Transition) (int64, error) {
	increment := 0
	if tr.IncrementRetry {
		increment = 1
	}

	query := `
		UPDATE whatsapp_notifications SET
			status = $2,
			waha_message_id = COALESCE($3, waha_message_id),
			sent_at = COALESCE($4, sent_at),
			delivered_at = COALESCE($5, delivered_at),
			read_at = COALESCE($6, read_at),
			error_message = COALESCE($7, CASE WHEN $8::boolean THEN NULL ELSE error_message END),
			retry_count = retry_count + $9,
			updated_at = NOW()
		WHERE ` + where

	tag, err := q.Exec(ctx, query,
		arg,
		string(tr.To),
		nullString(tr.MessageID),
		tr.SentAt,
		tr.DeliveredAt,
		tr.ReadAt,
		nullString(tr.ErrorMessage),
		tr.ClearError,
		increment,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a notification by ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id notification.NotificationID) (*notification.Notification, error) {
	if _, err := uuid.Parse(string(id)); err != nil {
		return nil, shared.ErrNotificationNotFound
	}

	query := `SELECT ` + notificationColumns + ` FROM whatsapp_notifications WHERE id = $1`
	return scanNotification(r.conn.QueryRow(ctx, query, string(id)))
}

// GetByMessageID returns the notification for a gateway message id.
func (r *NotificationRepository) GetByMessageID(ctx context.Context, messageID string) (*notification.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM whatsapp_notifications WHERE waha_message_id = $1`
	return scanNotification(r.conn.QueryRow(ctx, query, messageID))
}

// FindRecent returns the newest notification for the ticket and template
// created at or after since.
func (r *NotificationRepository) FindRecent(ctx context.Context, ticketID, templateID string, since time.Time) (notification.NotificationID, bool, error) {
	query := `
		SELECT id::text FROM whatsapp_notifications
		WHERE ticket_id = $1 AND message_template = $2 AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	var id string
	err := r.conn.QueryRow(ctx, query, ticketID, templateID, since).Scan(&id)
	if IsNoRows(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to check recent notifications: %w", err)
	}
	return notification.NotificationID(id), true, nil
}

// List returns notifications matching the filter, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter notification.ListFilter) ([]*notification.Notification, error) {
	query, args := buildListQuery(filter)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

// Stats returns per-status counts for the filter. Limit and offset are ignored.
func (r *NotificationRepository) Stats(ctx context.Context, filter notification.ListFilter) (*notification.Stats, error) {
	query, args := buildStatsQuery(filter)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	defer rows.Close()

	counts := make(map[notification.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan notification count: %w", err)
		}
		counts[notification.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification counts: %w", err)
	}
	return notification.NewStats(counts), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Query building
// ─────────────────────────────────────────────────────────────────────────────

// buildListWhere returns the WHERE clause (empty when unfiltered) and its args.
func buildListWhere(filter notification.ListFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.TicketID != "" {
		add("ticket_id = $%d", filter.TicketID)
	}
	if statuses := filter.EffectiveStatuses(); len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		add("status = ANY($%d)", values)
	}
	if len(filter.RecipientTypes) > 0 {
		values := make([]string, len(filter.RecipientTypes))
		for i, t := range filter.RecipientTypes {
			values[i] = string(t)
		}
		add("recipient_type = ANY($%d)", values)
	}
	if filter.SentAfter != nil {
		add("sent_at >= $%d", *filter.SentAfter)
	}
	if filter.SentBefore != nil {
		add("sent_at <= $%d", *filter.SentBefore)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func buildListQuery(filter notification.ListFilter) (string, []interface{}) {
	where, args := buildListWhere(filter)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.TrimSpace(notificationColumns))
	sb.WriteString(" FROM whatsapp_notifications")
	sb.WriteString(where)
	sb.WriteString(" ORDER BY created_at DESC")

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}

func buildStatsQuery(filter notification.ListFilter) (string, []interface{}) {
	where, args := buildListWhere(filter)
	return "SELECT status, COUNT(*) FROM whatsapp_notifications" + where + " GROUP BY status", args
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var (
		n                     notification.Notification
		id                    string
		recipientType, status string
		ticketID, name        *string
		template, messageID   *string
		errMsg                *string
	)

	err := row.Scan(
		&id,
		&ticketID,
		&recipientType,
		&n.RecipientPhone,
		&name,
		&template,
		&n.Content,
		&status,
		&messageID,
		&n.SentAt,
		&n.DeliveredAt,
		&n.ReadAt,
		&errMsg,
		&n.RetryCount,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, shared.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}

	n.ID = notification.NotificationID(id)
	n.TicketID = deref(ticketID)
	n.RecipientType = notification.RecipientType(recipientType)
	n.RecipientName = deref(name)
	n.TemplateID = deref(template)
	n.Status = notification.Status(status)
	n.WAHAMessageID = deref(messageID)
	n.ErrorMessage = deref(errMsg)

	return &n, nil
}

// nullString maps "" to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

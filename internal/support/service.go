package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/pwaburton/members/internal/identifiers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrTicketNotFound    = errors.New("support: ticket not found")
	ErrInvalidInput      = errors.New("support: invalid input")
	errMissingDatabase   = errors.New("support: database connection required")
	errMissingIDProvider = errors.New("support: id provider required")
	errMissingRecipients = errors.New("support: recipient counter required")
)

const (
	opServiceNew   = "support.service.new"
	opListTickets  = "support.list_tickets"
	opGetTicket    = "support.get_ticket"
	opCreateTicket = "support.create_ticket"
	opRespond      = "support.respond"
	opSetStatus    = "support.set_status"
	opSendNotice   = "support.send_notice"
	opListNotices  = "support.list_notices"
)

// ServiceError carries a stable code of the form operation.reason.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func invalidInput(operation string, cause error) error {
	return newServiceError(operation, "invalid_input", fmt.Errorf("%w: %v", ErrInvalidInput, cause))
}

// RecipientCounter counts the active members a notice reaches. An empty
// collector id means every member.
type RecipientCounter interface {
	CountRecipients(ctx context.Context, collectorID string) (int64, error)
}

// ServiceConfig describes the dependencies of the support service.
type ServiceConfig struct {
	Database   *gorm.DB
	Recipients RecipientCounter
	IDProvider identifiers.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages support tickets and member notices.
type Service struct {
	db         *gorm.DB
	recipients RecipientCounter
	ids        identifiers.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the support service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Recipients == nil {
		return nil, newServiceError(opServiceNew, "missing_recipient_counter", errMissingRecipients)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, recipients: cfg.Recipients, ids: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// TicketFilter narrows the ticket list. Empty values and "all" match everything.
type TicketFilter struct {
	Search      string
	Status      string
	Priority    string
	RequesterID string
}

// ListTickets returns tickets matching the filter, newest first.
func (s *Service) ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	query := s.db.WithContext(ctx).Model(&Ticket{})
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("LOWER(subject) LIKE ? OR LOWER(requester_name) LIKE ? OR LOWER(reference) LIKE ?", pattern, pattern, pattern)
	}
	if status := strings.TrimSpace(filter.Status); status != "" && !strings.EqualFold(status, "all") {
		query = query.Where("status = ?", status)
	}
	if priority := strings.TrimSpace(filter.Priority); priority != "" && !strings.EqualFold(priority, "all") {
		query = query.Where("priority = ?", priority)
	}
	if requester := strings.TrimSpace(filter.RequesterID); requester != "" {
		query = query.Where("requester_id = ?", requester)
	}
	tickets := []Ticket{}
	err := query.
		Preload("Responses", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Order("sequence DESC").
		Find(&tickets).Error
	if err != nil {
		s.logError(opListTickets, "ticket_select_failed", err)
		return nil, newServiceError(opListTickets, "ticket_select_failed", err)
	}
	return tickets, nil
}

// GetTicket loads a ticket with its responses.
func (s *Service) GetTicket(ctx context.Context, id string) (Ticket, error) {
	var ticket Ticket
	err := s.db.WithContext(ctx).
		Preload("Responses", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		Take(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Ticket{}, newServiceError(opGetTicket, "ticket_not_found", ErrTicketNotFound)
	}
	if err != nil {
		s.logError(opGetTicket, "ticket_select_failed", err)
		return Ticket{}, newServiceError(opGetTicket, "ticket_select_failed", err)
	}
	return ticket, nil
}

// TicketInput describes a new ticket.
type TicketInput struct {
	Subject       string   `json:"subject"`
	Message       string   `json:"message"`
	Priority      Priority `json:"priority"`
	RequesterID   string   `json:"requester_id"`
	RequesterName string   `json:"requester_name"`
}

func (in TicketInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Subject, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Message, validation.Required),
		validation.Field(&in.Priority, validation.Required, validation.In(PriorityLow, PriorityMedium, PriorityHigh)),
		validation.Field(&in.RequesterName, validation.Length(0, 200)),
	)
}

// CreateTicket opens a ticket and assigns the next T-### reference.
func (s *Service) CreateTicket(ctx context.Context, input TicketInput) (Ticket, error) {
	input.Subject = strings.TrimSpace(input.Subject)
	input.Message = strings.TrimSpace(input.Message)
	input.RequesterName = strings.TrimSpace(input.RequesterName)
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if err := input.Validate(); err != nil {
		return Ticket{}, invalidInput(opCreateTicket, err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreateTicket, "id_generation_failed", err)
		return Ticket{}, newServiceError(opCreateTicket, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	ticket := Ticket{
		ID:            id,
		Subject:       input.Subject,
		Message:       input.Message,
		Status:        StatusOpen,
		Priority:      input.Priority,
		RequesterID:   strings.TrimSpace(input.RequesterID),
		RequesterName: input.RequesterName,
		CreatedAt:     now,
		UpdatedAt:     now,
		Responses:     []TicketResponse{},
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var highest int
		if err := tx.Model(&Ticket{}).Select("COALESCE(MAX(sequence), 0)").Scan(&highest).Error; err != nil {
			return err
		}
		ticket.Sequence = highest + 1
		ticket.Reference = FormatReference(ticket.Sequence)
		return tx.Omit("Responses").Create(&ticket).Error
	})
	if err != nil {
		s.logError(opCreateTicket, "ticket_insert_failed", err)
		return Ticket{}, newServiceError(opCreateTicket, "ticket_insert_failed", err)
	}
	return ticket, nil
}

// FormatReference renders a ticket sequence as its public reference.
func FormatReference(sequence int) string {
	return fmt.Sprintf("T-%03d", sequence)
}

// ResponseInput describes a reply on a ticket.
type ResponseInput struct {
	Message  string `json:"message"`
	IsAdmin  bool   `json:"is_admin"`
	AuthorID string `json:"author_id"`
}

// Respond appends a response to a ticket.
func (s *Service) Respond(ctx context.Context, ticketID string, input ResponseInput) (TicketResponse, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return TicketResponse{}, invalidInput(opRespond, errors.New("message: cannot be blank"))
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opRespond, "id_generation_failed", err)
		return TicketResponse{}, newServiceError(opRespond, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	response := TicketResponse{
		ID:        id,
		TicketID:  ticketID,
		Message:   message,
		IsAdmin:   input.IsAdmin,
		AuthorID:  strings.TrimSpace(input.AuthorID),
		CreatedAt: now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Ticket{}).Where("id = ?", ticketID).Update("updated_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrTicketNotFound
		}
		return tx.Create(&response).Error
	})
	if errors.Is(err, ErrTicketNotFound) {
		return TicketResponse{}, newServiceError(opRespond, "ticket_not_found", ErrTicketNotFound)
	}
	if err != nil {
		s.logError(opRespond, "response_insert_failed", err)
		return TicketResponse{}, newServiceError(opRespond, "response_insert_failed", err)
	}
	return response, nil
}

// SetStatus moves a ticket to a new status.
func (s *Service) SetStatus(ctx context.Context, ticketID string, status TicketStatus) (Ticket, error) {
	err := validation.Validate(status, validation.Required, validation.In(StatusOpen, StatusInProgress, StatusResolved, StatusClosed))
	if err != nil {
		return Ticket{}, invalidInput(opSetStatus, fmt.Errorf("status: %v", err))
	}
	result := s.db.WithContext(ctx).Model(&Ticket{}).Where("id = ?", ticketID).
		Updates(map[string]any{"status": status, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		s.logError(opSetStatus, "ticket_update_failed", result.Error)
		return Ticket{}, newServiceError(opSetStatus, "ticket_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Ticket{}, newServiceError(opSetStatus, "ticket_not_found", ErrTicketNotFound)
	}
	return s.GetTicket(ctx, ticketID)
}

// NoticeRequest describes a notice to broadcast.
type NoticeRequest struct {
	Message     string `json:"message"`
	CollectorID string `json:"collector_id"`
	SentBy      string `json:"sent_by"`
}

// SendNotice records a notice and the number of members it reaches.
func (s *Service) SendNotice(ctx context.Context, request NoticeRequest) (Notice, error) {
	message := strings.TrimSpace(request.Message)
	if message == "" {
		return Notice{}, invalidInput(opSendNotice, errors.New("message: please enter a message to send"))
	}
	collectorID := strings.TrimSpace(request.CollectorID)
	if strings.EqualFold(collectorID, "all") {
		collectorID = ""
	}
	recipients, err := s.recipients.CountRecipients(ctx, collectorID)
	if err != nil {
		return Notice{}, newServiceError(opSendNotice, "recipient_count_failed", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opSendNotice, "id_generation_failed", err)
		return Notice{}, newServiceError(opSendNotice, "id_generation_failed", err)
	}
	notice := Notice{
		ID:         id,
		Message:    message,
		Recipients: recipients,
		SentBy:     strings.TrimSpace(request.SentBy),
		SentAt:     s.clock().UTC(),
	}
	if collectorID != "" {
		notice.CollectorID = &collectorID
	}
	if err := s.db.WithContext(ctx).Create(&notice).Error; err != nil {
		s.logError(opSendNotice, "notice_insert_failed", err)
		return Notice{}, newServiceError(opSendNotice, "notice_insert_failed", err)
	}
	s.logger.Info("notice sent",
		zap.String("notice_id", notice.ID),
		zap.Int64("recipients", recipients),
		zap.Bool("all_members", notice.CollectorID == nil))
	return notice, nil
}

// ListNotices returns sent notices, newest first.
func (s *Service) ListNotices(ctx context.Context) ([]Notice, error) {
	notices := []Notice{}
	if err := s.db.WithContext(ctx).Order("sent_at DESC").Find(&notices).Error; err != nil {
		s.logError(opListNotices, "notice_select_failed", err)
		return nil, newServiceError(opListNotices, "notice_select_failed", err)
	}
	return notices, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	base := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("support service failure", append(base, fields...)...)
}

package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/pwaburton/members/internal/identifiers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

var (
	ErrPaymentNotFound   = errors.New("payments: payment not found")
	ErrMemberNotFound    = errors.New("payments: member not found")
	ErrInvalidInput      = errors.New("payments: invalid input")
	errMissingDatabase   = errors.New("payments: database connection required")
	errMissingIDProvider = errors.New("payments: id provider required")
)

const (
	opServiceNew  = "payments.service.new"
	opCreate      = "payments.create"
	opDelete      = "payments.delete"
	opListMember  = "payments.list_for_member"
	opStats       = "payments.stats"
	opCheckMember = "payments.check_member"
	opParseFilter = "payments.parse_filter"
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

// MemberDirectory confirms that payments reference real members.
type MemberDirectory interface {
	MemberExists(ctx context.Context, id string) (bool, error)
}

// ServiceConfig describes the dependencies of the payment service.
type ServiceConfig struct {
	Database   *gorm.DB
	Members    MemberDirectory
	IDProvider identifiers.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service records payments and derives finance statistics.
type Service struct {
	db      *gorm.DB
	members MemberDirectory
	ids     identifiers.Provider
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs the payment service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, members: cfg.Members, ids: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// PaymentInput describes a payment to record.
type PaymentInput struct {
	MemberID    string    `json:"member_id"`
	AmountPence int64     `json:"amount_pence"`
	PaymentType string    `json:"payment_type"`
	Direction   Direction `json:"direction"`
	Status      Status    `json:"status"`
	Reference   string    `json:"reference"`
	PaymentDate string    `json:"payment_date"`
}

func (in *PaymentInput) normalize() {
	in.MemberID = strings.TrimSpace(in.MemberID)
	in.PaymentType = strings.ToLower(strings.TrimSpace(in.PaymentType))
	in.Reference = strings.TrimSpace(in.Reference)
	in.PaymentDate = strings.TrimSpace(in.PaymentDate)
	if in.Direction == "" {
		in.Direction = DirectionIncome
		if in.PaymentType == TypeExpense {
			in.Direction = DirectionExpense
		}
	}
	if in.Status == "" {
		in.Status = StatusPaid
	}
}

// Validate checks the payment input.
func (in PaymentInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.AmountPence, validation.Required, validation.Min(int64(1))),
		validation.Field(&in.PaymentType, validation.Required, validation.Length(1, 32)),
		validation.Field(&in.Direction, validation.Required, validation.In(DirectionIncome, DirectionExpense)),
		validation.Field(&in.Status, validation.Required, validation.In(StatusPaid, StatusPending, StatusFailed)),
		validation.Field(&in.PaymentDate, validation.Date(dateLayout)),
		validation.Field(&in.Reference, validation.Length(0, 200)),
	)
}

// Create records a payment. Income must be attributed to an existing member.
func (s *Service) Create(ctx context.Context, input PaymentInput) (Payment, error) {
	input.normalize()
	if err := input.Validate(); err != nil {
		return Payment{}, newServiceError(opCreate, "invalid_input", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if input.Direction == DirectionIncome && input.MemberID == "" {
		return Payment{}, newServiceError(opCreate, "invalid_input", fmt.Errorf("%w: member_id: cannot be blank", ErrInvalidInput))
	}
	if input.MemberID != "" {
		if err := s.checkMember(ctx, input.MemberID); err != nil {
			return Payment{}, err
		}
	}

	now := s.clock().UTC()
	paymentDate := now
	if input.PaymentDate != "" {
		parsed, err := time.Parse(dateLayout, input.PaymentDate)
		if err != nil {
			return Payment{}, newServiceError(opCreate, "invalid_input", fmt.Errorf("%w: %v", ErrInvalidInput, err))
		}
		paymentDate = parsed
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Payment{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	payment := Payment{
		ID:          id,
		MemberID:    input.MemberID,
		AmountPence: input.AmountPence,
		PaymentType: input.PaymentType,
		Direction:   input.Direction,
		Status:      input.Status,
		Reference:   input.Reference,
		PaymentDate: paymentDate,
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
		s.logError(opCreate, "payment_insert_failed", err)
		return Payment{}, newServiceError(opCreate, "payment_insert_failed", err)
	}
	return payment, nil
}

// Delete removes a payment.
func (s *Service) Delete(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Payment{})
	if result.Error != nil {
		s.logError(opDelete, "payment_delete_failed", result.Error)
		return newServiceError(opDelete, "payment_delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "payment_not_found", ErrPaymentNotFound)
	}
	return nil
}

// PaymentFilter narrows a member's payment history. Date is YYYY-MM-DD and
// Amount is a pound value such as "£50.00" or "50".
type PaymentFilter struct {
	Date   string
	Amount string
}

// ListForMember returns the member's payments, newest first.
func (s *Service) ListForMember(ctx context.Context, memberID string, filter PaymentFilter) ([]Payment, error) {
	query := s.db.WithContext(ctx).Where("member_id = ?", memberID)
	if date := strings.TrimSpace(filter.Date); date != "" {
		day, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, newServiceError(opParseFilter, "invalid_date", fmt.Errorf("%w: %v", ErrInvalidInput, err))
		}
		query = query.Where("payment_date >= ? AND payment_date < ?", day, day.AddDate(0, 0, 1))
	}
	if amount := strings.TrimSpace(filter.Amount); amount != "" {
		pence, err := ParsePounds(amount)
		if err != nil {
			return nil, newServiceError(opParseFilter, "invalid_amount", fmt.Errorf("%w: %v", ErrInvalidInput, err))
		}
		query = query.Where("amount_pence = ?", pence)
	}
	found := []Payment{}
	if err := query.Order("payment_date DESC").Order("created_at DESC").Find(&found).Error; err != nil {
		s.logError(opListMember, "payment_select_failed", err)
		return nil, newServiceError(opListMember, "payment_select_failed", err)
	}
	return found, nil
}

// Stats computes the total balance over all paid payments and compares this
// calendar month with the previous one.
func (s *Service) Stats(ctx context.Context, now time.Time) (FinanceStats, error) {
	now = now.UTC()
	currentStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	previousStart := currentStart.AddDate(0, -1, 0)
	nextStart := currentStart.AddDate(0, 1, 0)

	type totalRow struct {
		Direction Direction
		Total     int64
	}
	sum := func(from, to *time.Time) (map[Direction]int64, error) {
		query := s.db.WithContext(ctx).Model(&Payment{}).
			Select("direction, COALESCE(SUM(amount_pence), 0) AS total").
			Where("status = ?", StatusPaid)
		if from != nil {
			query = query.Where("payment_date >= ?", *from)
		}
		if to != nil {
			query = query.Where("payment_date < ?", *to)
		}
		var rows []totalRow
		if err := query.Group("direction").Scan(&rows).Error; err != nil {
			return nil, err
		}
		totals := make(map[Direction]int64, len(rows))
		for _, row := range rows {
			totals[row.Direction] = row.Total
		}
		return totals, nil
	}

	all, err := sum(nil, nil)
	if err != nil {
		s.logError(opStats, "payment_sum_failed", err)
		return FinanceStats{}, newServiceError(opStats, "payment_sum_failed", err)
	}
	current, err := sum(&currentStart, &nextStart)
	if err != nil {
		s.logError(opStats, "payment_sum_failed", err)
		return FinanceStats{}, newServiceError(opStats, "payment_sum_failed", err)
	}
	previous, err := sum(&previousStart, &currentStart)
	if err != nil {
		s.logError(opStats, "payment_sum_failed", err)
		return FinanceStats{}, newServiceError(opStats, "payment_sum_failed", err)
	}

	return FinanceStats{
		TotalBalance:          all[DirectionIncome] - all[DirectionExpense],
		MonthlyIncome:         current[DirectionIncome],
		MonthlyExpenses:       current[DirectionExpense],
		PreviousIncome:        previous[DirectionIncome],
		PreviousExpenses:      previous[DirectionExpense],
		IncomeChangePercent:   PercentageChange(current[DirectionIncome], previous[DirectionIncome]),
		ExpensesChangePercent: PercentageChange(current[DirectionExpense], previous[DirectionExpense]),
	}, nil
}

// PercentageChange returns the change from previous to current in percent.
// A zero previous value yields 100 when current is positive and 0 otherwise.
func PercentageChange(current, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	change := float64(current-previous) / float64(previous) * 100
	return math.Round(change*10) / 10
}

// ParsePounds converts a pound amount such as "£50.00" into pence.
func ParsePounds(value string) (int64, error) {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.TrimPrefix(cleaned, "£")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("amount is empty")
	}
	pounds, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a number", value)
	}
	if pounds < 0 {
		return 0, fmt.Errorf("amount %q is negative", value)
	}
	return int64(math.Round(pounds * 100)), nil
}

func (s *Service) checkMember(ctx context.Context, memberID string) error {
	if s.members == nil {
		return nil
	}
	exists, err := s.members.MemberExists(ctx, memberID)
	if err != nil {
		s.logError(opCheckMember, "member_select_failed", err)
		return newServiceError(opCheckMember, "member_select_failed", err)
	}
	if !exists {
		return newServiceError(opCreate, "member_not_found", ErrMemberNotFound)
	}
	return nil
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
	s.logger.Error("payment service failure", append(base, fields...)...)
}

package payments

import "time"

// Direction tells income from expenses.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// Status is the settlement state of a payment.
type Status string

const (
	StatusPaid    Status = "paid"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Payment types used by the association.
const (
	TypeMembershipFee = "membership_fee"
	TypeDonation      = "donation"
	TypeFuneral       = "funeral"
	TypeExpense       = "expense"
)

// Payment is a money movement, optionally attributed to a member.
type Payment struct {
	ID          string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	MemberID    string    `gorm:"column:member_id;size:36;index" json:"member_id,omitempty"`
	AmountPence int64     `gorm:"column:amount_pence;not null" json:"amount_pence"`
	PaymentType string    `gorm:"column:payment_type;size:32;not null" json:"payment_type"`
	Direction   Direction `gorm:"column:direction;size:16;not null;index" json:"direction"`
	Status      Status    `gorm:"column:status;size:16;not null" json:"status"`
	Reference   string    `gorm:"column:reference;size:200" json:"reference,omitempty"`
	PaymentDate time.Time `gorm:"column:payment_date;not null;index" json:"payment_date"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing payments.
func (Payment) TableName() string {
	return "payments"
}

// FinanceStats summarises balances for the finance dashboard. Amounts are in pence.
type FinanceStats struct {
	TotalBalance          int64   `json:"total_balance"`
	MonthlyIncome         int64   `json:"monthly_income"`
	MonthlyExpenses       int64   `json:"monthly_expenses"`
	PreviousIncome        int64   `json:"previous_income"`
	PreviousExpenses      int64   `json:"previous_expenses"`
	IncomeChangePercent   float64 `json:"income_change_percent"`
	ExpensesChangePercent float64 `json:"expenses_change_percent"`
}

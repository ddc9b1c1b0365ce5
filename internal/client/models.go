package client

import "time"

// Profile is the caller's application profile.
type Profile struct {
	UserID          string    `json:"user_id"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	PasswordChanged bool      `json:"password_changed"`
	ProfileUpdated  bool      `json:"profile_updated"`
	EmailVerified   bool      `json:"email_verified"`
	CreatedAt       time.Time `json:"created_at"`
}

// MemberCredentials is the login material resolved from a member number.
type MemberCredentials struct {
	MemberNumber string `json:"member_number"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

type Collector struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Prefix      string    `json:"prefix"`
	Number      string    `json:"number"`
	Active      bool      `json:"active"`
	MemberCount int64     `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type Member struct {
	ID            string    `json:"id"`
	MemberNumber  string    `json:"member_number"`
	CollectorID   string    `json:"collector_id"`
	FullName      string    `json:"full_name"`
	DateOfBirth   string    `json:"date_of_birth,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	MaritalStatus string    `json:"marital_status,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Address       string    `json:"address,omitempty"`
	Postcode      string    `json:"postcode,omitempty"`
	Town          string    `json:"town,omitempty"`
	Status        string    `json:"status"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type FamilyMember struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	Gender       string `json:"gender,omitempty"`
}

type AdminNote struct {
	ID        string    `json:"id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberDetail is a member with its collector, family and notes.
type MemberDetail struct {
	Member
	Collector     Collector      `json:"collector"`
	FamilyMembers []FamilyMember `json:"family_members"`
	AdminNotes    []AdminNote    `json:"admin_notes"`
}

type MemberPage struct {
	Members  []Member `json:"members"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

// MemberQuery filters a member listing. Zero values use server defaults.
type MemberQuery struct {
	Search      string
	CollectorID string
	Page        int
	PageSize    int
}

type Payment struct {
	ID          string    `json:"id"`
	MemberID    string    `json:"member_id,omitempty"`
	AmountPence int64     `json:"amount_pence"`
	PaymentType string    `json:"payment_type"`
	Direction   string    `json:"direction"`
	Status      string    `json:"status"`
	Reference   string    `json:"reference,omitempty"`
	PaymentDate time.Time `json:"payment_date"`
}

type FinanceStats struct {
	TotalBalance          int64   `json:"total_balance"`
	MonthlyIncome         int64   `json:"monthly_income"`
	MonthlyExpenses       int64   `json:"monthly_expenses"`
	PreviousIncome        int64   `json:"previous_income"`
	PreviousExpenses      int64   `json:"previous_expenses"`
	IncomeChangePercent   float64 `json:"income_change_percent"`
	ExpensesChangePercent float64 `json:"expenses_change_percent"`
}

type TicketResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type Ticket struct {
	ID            string           `json:"id"`
	Reference     string           `json:"reference"`
	Subject       string           `json:"subject"`
	Message       string           `json:"message"`
	Status        string           `json:"status"`
	Priority      string           `json:"priority"`
	RequesterName string           `json:"requester_name"`
	CreatedAt     time.Time        `json:"created_at"`
	Responses     []TicketResponse `json:"responses"`
}

// TicketQuery filters the ticket list; "all" or empty disables a filter.
type TicketQuery struct {
	Search   string
	Status   string
	Priority string
}

type Notice struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	CollectorID *string   `json:"collector_id"`
	Recipients  int64     `json:"recipients"`
	SentAt      time.Time `json:"sent_at"`
}

// WelcomeRequest is the payload of the welcome email function.
type WelcomeRequest struct {
	Email        string `json:"email"`
	TempPassword string `json:"tempPassword"`
	FullName     string `json:"fullName"`
}

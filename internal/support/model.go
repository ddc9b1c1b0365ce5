package support

import "time"

// TicketStatus tracks a ticket through its lifecycle.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "Open"
	StatusInProgress TicketStatus = "In Progress"
	StatusResolved   TicketStatus = "Resolved"
	StatusClosed     TicketStatus = "Closed"
)

// Priority ranks ticket urgency.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// Ticket is a support request raised by a user.
type Ticket struct {
	ID            string           `gorm:"column:id;primaryKey;size:36" json:"id"`
	Sequence      int              `gorm:"column:sequence;not null;uniqueIndex" json:"-"`
	Reference     string           `gorm:"column:reference;size:16;not null;uniqueIndex" json:"reference"`
	Subject       string           `gorm:"column:subject;size:200;not null" json:"subject"`
	Message       string           `gorm:"column:message;type:text" json:"message"`
	Status        TicketStatus     `gorm:"column:status;size:16;not null;index" json:"status"`
	Priority      Priority         `gorm:"column:priority;size:8;not null;index" json:"priority"`
	RequesterID   string           `gorm:"column:requester_id;size:36;index" json:"requester_id"`
	RequesterName string           `gorm:"column:requester_name;size:200" json:"requester_name"`
	CreatedAt     time.Time        `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;not null" json:"updated_at"`
	Responses     []TicketResponse `gorm:"foreignKey:TicketID;constraint:OnDelete:CASCADE" json:"responses"`
}

// TableName exposes the table backing tickets.
func (Ticket) TableName() string {
	return "support_tickets"
}

// TicketResponse is a reply on a ticket from staff or the requester.
type TicketResponse struct {
	ID        string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	TicketID  string    `gorm:"column:ticket_id;size:36;not null;index" json:"ticket_id"`
	Message   string    `gorm:"column:message;type:text;not null" json:"message"`
	IsAdmin   bool      `gorm:"column:is_admin;not null" json:"is_admin"`
	AuthorID  string    `gorm:"column:author_id;size:36" json:"author_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing ticket responses.
func (TicketResponse) TableName() string {
	return "support_ticket_responses"
}

// Notice is a broadcast message sent to all members or one collector group.
type Notice struct {
	ID          string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Message     string    `gorm:"column:message;type:text;not null" json:"message"`
	CollectorID *string   `gorm:"column:collector_id;size:36;index" json:"collector_id"`
	Recipients  int64     `gorm:"column:recipients;not null" json:"recipients"`
	SentBy      string    `gorm:"column:sent_by;size:36" json:"sent_by"`
	SentAt      time.Time `gorm:"column:sent_at;not null;index" json:"sent_at"`
}

// TableName exposes the table backing notices.
func (Notice) TableName() string {
	return "support_notices"
}

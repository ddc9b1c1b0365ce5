package members

import "time"

// MemberStatus is the lifecycle state of a member.
type MemberStatus string

const (
	StatusActive   MemberStatus = "active"
	StatusInactive MemberStatus = "inactive"
	StatusDeceased MemberStatus = "deceased"
)

// Relationship tags a family member record.
type Relationship string

const (
	RelationshipSpouse    Relationship = "spouse"
	RelationshipDependant Relationship = "dependant"
	RelationshipChild     Relationship = "child"
	RelationshipOther     Relationship = "other"
)

// Collector groups members and contributes the member number prefix.
type Collector struct {
	ID        string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Name      string    `gorm:"column:name;size:200;not null;uniqueIndex" json:"name"`
	Prefix    string    `gorm:"column:prefix;size:8;not null" json:"prefix"`
	Number    string    `gorm:"column:number;size:2;not null" json:"number"`
	Active    bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing collectors.
func (Collector) TableName() string {
	return "collectors"
}

// CollectorSummary is a collector with the number of members it owns.
type CollectorSummary struct {
	Collector
	MemberCount int64 `json:"member_count"`
}

// Member is an association member. The member number is assigned on insert.
type Member struct {
	ID              string       `gorm:"column:id;primaryKey;size:36" json:"id"`
	MemberNumber    string       `gorm:"column:member_number;size:16;not null;uniqueIndex" json:"member_number"`
	CollectorID     string       `gorm:"column:collector_id;size:36;not null;index" json:"collector_id"`
	Collector       *Collector   `gorm:"foreignKey:CollectorID;constraint:OnDelete:RESTRICT" json:"-"`
	FullName        string       `gorm:"column:full_name;size:200;not null" json:"full_name"`
	DateOfBirth     string       `gorm:"column:date_of_birth;size:10" json:"date_of_birth,omitempty"`
	Gender          string       `gorm:"column:gender;size:16" json:"gender,omitempty"`
	MaritalStatus   string       `gorm:"column:marital_status;size:32" json:"marital_status,omitempty"`
	Email           string       `gorm:"column:email;size:320;index" json:"email,omitempty"`
	Phone           string       `gorm:"column:phone;size:32" json:"phone,omitempty"`
	Address         string       `gorm:"column:address;size:512" json:"address,omitempty"`
	Postcode        string       `gorm:"column:postcode;size:16" json:"postcode,omitempty"`
	Town            string       `gorm:"column:town;size:120" json:"town,omitempty"`
	Status          MemberStatus `gorm:"column:status;size:16;not null" json:"status"`
	Verified        bool         `gorm:"column:verified;not null" json:"verified"`
	PasswordHash    string       `gorm:"column:password_hash;size:120" json:"-"`
	PasswordChanged bool         `gorm:"column:password_changed;not null" json:"password_changed"`
	ProfileUpdated  bool         `gorm:"column:profile_updated;not null" json:"profile_updated"`
	EmailVerified   bool         `gorm:"column:email_verified;not null" json:"email_verified"`
	CreatedAt       time.Time    `gorm:"column:created_at;not null;index" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName exposes the table backing members.
func (Member) TableName() string {
	return "members"
}

// FamilyMember is a spouse or dependant recorded against a member.
type FamilyMember struct {
	ID           string       `gorm:"column:id;primaryKey;size:36" json:"id"`
	MemberID     string       `gorm:"column:member_id;size:36;not null;index" json:"member_id"`
	Member       *Member      `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE" json:"-"`
	Name         string       `gorm:"column:name;size:200;not null" json:"name"`
	Relationship Relationship `gorm:"column:relationship;size:16;not null" json:"relationship"`
	DateOfBirth  string       `gorm:"column:date_of_birth;size:10" json:"date_of_birth,omitempty"`
	Gender       string       `gorm:"column:gender;size:16" json:"gender,omitempty"`
	CreatedAt    time.Time    `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing family members.
func (FamilyMember) TableName() string {
	return "family_members"
}

// AdminNote is a free-text note recorded by an administrator.
type AdminNote struct {
	ID        string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	MemberID  string    `gorm:"column:member_id;size:36;not null;index" json:"member_id"`
	Member    *Member   `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE" json:"-"`
	Note      string    `gorm:"column:note;type:text;not null" json:"note"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName exposes the table backing admin notes.
func (AdminNote) TableName() string {
	return "admin_notes"
}

// MemberDetail bundles a member with its family and notes.
type MemberDetail struct {
	Member
	Collector     Collector      `json:"collector"`
	FamilyMembers []FamilyMember `json:"family_members"`
	AdminNotes    []AdminNote    `json:"admin_notes"`
}

// Credentials is the login material of a member.
type Credentials struct {
	MemberNumber string `json:"member_number"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// MemberPage is one page of a member listing.
type MemberPage struct {
	Members  []Member `json:"members"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

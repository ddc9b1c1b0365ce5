package members

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

const (
	dateLayout    = "2006-01-02"
	defaultRegion = "GB"
	defaultPrefix = "M"
)

var (
	collectorNumberPattern = regexp.MustCompile(`^[0-9]{2}$`)
	collectorPrefixPattern = regexp.MustCompile(`^[A-Z]{1,4}$`)
	errInvalidPhone        = errors.New("must be a valid phone number")
)

// CollectorInput describes a collector to create.
type CollectorInput struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Number string `json:"number"`
	Active *bool  `json:"active,omitempty"`
}

func (in *CollectorInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Prefix = strings.ToUpper(strings.TrimSpace(in.Prefix))
	in.Number = strings.TrimSpace(in.Number)
	if in.Prefix == "" {
		in.Prefix = defaultPrefix
	}
}

// Validate checks the collector input.
func (in CollectorInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Prefix, validation.Required, validation.Match(collectorPrefixPattern)),
		validation.Field(&in.Number, validation.Match(collectorNumberPattern)),
	)
}

// MemberInput describes a member to create.
type MemberInput struct {
	CollectorID   string       `json:"collector_id"`
	FullName      string       `json:"full_name"`
	DateOfBirth   string       `json:"date_of_birth"`
	Gender        string       `json:"gender"`
	MaritalStatus string       `json:"marital_status"`
	Email         string       `json:"email"`
	Phone         string       `json:"phone"`
	Address       string       `json:"address"`
	Postcode      string       `json:"postcode"`
	Town          string       `json:"town"`
	Status        MemberStatus `json:"status"`
	Verified      bool         `json:"verified"`
}

func (in *MemberInput) normalize() {
	in.CollectorID = strings.TrimSpace(in.CollectorID)
	in.FullName = strings.TrimSpace(in.FullName)
	in.DateOfBirth = strings.TrimSpace(in.DateOfBirth)
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
	in.MaritalStatus = strings.TrimSpace(in.MaritalStatus)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.Postcode = strings.ToUpper(strings.TrimSpace(in.Postcode))
	in.Town = strings.TrimSpace(in.Town)
	if in.Status == "" {
		in.Status = StatusActive
	}
}

// Validate checks the member input.
func (in MemberInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.CollectorID, validation.Required),
		validation.Field(&in.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.DateOfBirth, validation.Date(dateLayout)),
		validation.Field(&in.Email, validation.Length(3, 320), is.Email),
		validation.Field(&in.Phone, validation.By(validPhone)),
		validation.Field(&in.Postcode, validation.Length(0, 16)),
		validation.Field(&in.Status, validation.In(StatusActive, StatusInactive, StatusDeceased)),
	)
}

// MemberPatch carries the member fields to change; nil fields are left unchanged.
type MemberPatch struct {
	CollectorID   *string       `json:"collector_id,omitempty"`
	FullName      *string       `json:"full_name,omitempty"`
	DateOfBirth   *string       `json:"date_of_birth,omitempty"`
	Gender        *string       `json:"gender,omitempty"`
	MaritalStatus *string       `json:"marital_status,omitempty"`
	Email         *string       `json:"email,omitempty"`
	Phone         *string       `json:"phone,omitempty"`
	Address       *string       `json:"address,omitempty"`
	Postcode      *string       `json:"postcode,omitempty"`
	Town          *string       `json:"town,omitempty"`
	Status        *MemberStatus `json:"status,omitempty"`
	Verified      *bool         `json:"verified,omitempty"`
}

// apply merges the patch onto a copy of the member's editable fields.
func (p MemberPatch) apply(member Member) MemberInput {
	input := MemberInput{
		CollectorID:   member.CollectorID,
		FullName:      member.FullName,
		DateOfBirth:   member.DateOfBirth,
		Gender:        member.Gender,
		MaritalStatus: member.MaritalStatus,
		Email:         member.Email,
		Phone:         member.Phone,
		Address:       member.Address,
		Postcode:      member.Postcode,
		Town:          member.Town,
		Status:        member.Status,
		Verified:      member.Verified,
	}
	assign := func(target *string, value *string) {
		if value != nil {
			*target = *value
		}
	}
	assign(&input.CollectorID, p.CollectorID)
	assign(&input.FullName, p.FullName)
	assign(&input.DateOfBirth, p.DateOfBirth)
	assign(&input.Gender, p.Gender)
	assign(&input.MaritalStatus, p.MaritalStatus)
	assign(&input.Email, p.Email)
	assign(&input.Phone, p.Phone)
	assign(&input.Address, p.Address)
	assign(&input.Postcode, p.Postcode)
	assign(&input.Town, p.Town)
	if p.Status != nil {
		input.Status = *p.Status
	}
	if p.Verified != nil {
		input.Verified = *p.Verified
	}
	return input
}

// FamilyInput describes a family member to add.
type FamilyInput struct {
	Name         string       `json:"name"`
	Relationship Relationship `json:"relationship"`
	DateOfBirth  string       `json:"date_of_birth"`
	Gender       string       `json:"gender"`
}

func (in *FamilyInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Relationship = Relationship(strings.ToLower(strings.TrimSpace(string(in.Relationship))))
	in.DateOfBirth = strings.TrimSpace(in.DateOfBirth)
	in.Gender = strings.ToLower(strings.TrimSpace(in.Gender))
	if in.Relationship == "" {
		in.Relationship = RelationshipDependant
	}
}

// Validate checks the family member input.
func (in FamilyInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Relationship, validation.Required,
			validation.In(RelationshipSpouse, RelationshipDependant, RelationshipChild, RelationshipOther)),
		validation.Field(&in.DateOfBirth, validation.Date(dateLayout)),
	)
}

func validPhone(value interface{}) error {
	raw, _ := value.(string)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if _, err := normalizePhone(raw); err != nil {
		return errInvalidPhone
	}
	return nil
}

// normalizePhone formats a phone number as E.164, reading national numbers as UK numbers.
func normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	parsed, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", errInvalidPhone
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// NormalizeMemberNumber trims and uppercases a member number as typed by a user.
func NormalizeMemberNumber(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

package members

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/pwaburton/members/internal/credentials"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const memberNumberDigits = 4

// MemberQuery selects a page of members. Page is 1-based.
type MemberQuery struct {
	Page        int
	PageSize    int
	Search      string
	CollectorID string
}

// ListMembers returns members newest first, searching full name and member number.
func (s *Service) ListMembers(ctx context.Context, query MemberQuery) (MemberPage, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	filtered := s.db.WithContext(ctx).Model(&Member{})
	if term := strings.ToLower(strings.TrimSpace(query.Search)); term != "" {
		like := "%" + term + "%"
		filtered = filtered.Where("LOWER(full_name) LIKE ? OR LOWER(member_number) LIKE ?", like, like)
	}
	if collectorID := strings.TrimSpace(query.CollectorID); collectorID != "" {
		filtered = filtered.Where("collector_id = ?", collectorID)
	}

	var total int64
	if err := filtered.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		s.logError(opListMembers, "member_count_failed", err)
		return MemberPage{}, newServiceError(opListMembers, "member_count_failed", err)
	}

	var found []Member
	if err := filtered.Session(&gorm.Session{}).
		Order("created_at DESC").Order("member_number DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&found).Error; err != nil {
		s.logError(opListMembers, "member_select_failed", err)
		return MemberPage{}, newServiceError(opListMembers, "member_select_failed", err)
	}
	return MemberPage{Members: found, Total: total, Page: page, PageSize: pageSize}, nil
}

// GetMember returns a member with its collector, family and notes.
func (s *Service) GetMember(ctx context.Context, id string) (MemberDetail, error) {
	member, err := s.findMember(ctx, s.db, opGetMember, id)
	if err != nil {
		return MemberDetail{}, err
	}
	collector, err := s.GetCollector(ctx, member.CollectorID)
	if err != nil {
		return MemberDetail{}, err
	}
	family, err := s.ListFamily(ctx, id)
	if err != nil {
		return MemberDetail{}, err
	}
	notes, err := s.ListNotes(ctx, id)
	if err != nil {
		return MemberDetail{}, err
	}
	return MemberDetail{Member: member, Collector: collector, FamilyMembers: family, AdminNotes: notes}, nil
}

// CreateMember inserts a member, assigning the next member number for the collector's prefix.
func (s *Service) CreateMember(ctx context.Context, input MemberInput) (Member, error) {
	var created Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.insertMember(tx, opCreateMember, input)
		if err != nil {
			return err
		}
		created = member
		return nil
	})
	if err != nil {
		return Member{}, err
	}
	s.logger.Info("member created", zap.String("member_id", created.ID), zap.String("member_number", created.MemberNumber))
	return created, nil
}

func (s *Service) insertMember(tx *gorm.DB, operation string, input MemberInput) (Member, error) {
	input.normalize()
	if err := input.Validate(); err != nil {
		return Member{}, invalidInput(operation, err)
	}
	phone, err := normalizePhone(input.Phone)
	if err != nil {
		return Member{}, invalidInput(operation, validation.Errors{"phone": errInvalidPhone})
	}

	var collector Collector
	if err := tx.Where("id = ?", input.CollectorID).Take(&collector).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Member{}, newServiceError(operation, "collector_not_found", ErrCollectorNotFound)
		}
		s.logError(operation, "collector_select_failed", err)
		return Member{}, newServiceError(operation, "collector_select_failed", err)
	}
	// Imports may still target inactive collectors.
	if operation == opCreateMember && !collector.Active {
		return Member{}, newServiceError(operation, "collector_inactive", ErrCollectorInactive)
	}

	memberNumber, err := nextMemberNumber(tx, collector.Prefix)
	if err != nil {
		s.logError(operation, "number_generation_failed", err)
		return Member{}, newServiceError(operation, "number_generation_failed", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return Member{}, newServiceError(operation, "id_generation_failed", err)
	}

	now := s.now()
	member := Member{
		ID:            id,
		MemberNumber:  memberNumber,
		CollectorID:   collector.ID,
		FullName:      input.FullName,
		DateOfBirth:   input.DateOfBirth,
		Gender:        input.Gender,
		MaritalStatus: input.MaritalStatus,
		Email:         input.Email,
		Phone:         phone,
		Address:       input.Address,
		Postcode:      input.Postcode,
		Town:          input.Town,
		Status:        input.Status,
		Verified:      input.Verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Create(&member).Error; err != nil {
		s.logError(operation, "member_insert_failed", err, zap.String("member_number", memberNumber))
		return Member{}, newServiceError(operation, "member_insert_failed", err)
	}
	return member, nil
}

// UpdateMember applies a patch to a member. The member number never changes.
func (s *Service) UpdateMember(ctx context.Context, id string, patch MemberPatch) (Member, error) {
	var updated Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.findMember(ctx, tx, opUpdateMember, id)
		if err != nil {
			return err
		}
		input := patch.apply(member)
		input.normalize()
		if err := input.Validate(); err != nil {
			return invalidInput(opUpdateMember, err)
		}
		phone, err := normalizePhone(input.Phone)
		if err != nil {
			return invalidInput(opUpdateMember, validation.Errors{"phone": errInvalidPhone})
		}
		if input.CollectorID != member.CollectorID {
			var count int64
			if err := tx.Model(&Collector{}).Where("id = ?", input.CollectorID).Count(&count).Error; err != nil {
				s.logError(opUpdateMember, "collector_select_failed", err)
				return newServiceError(opUpdateMember, "collector_select_failed", err)
			}
			if count == 0 {
				return newServiceError(opUpdateMember, "collector_not_found", ErrCollectorNotFound)
			}
		}

		member.CollectorID = input.CollectorID
		member.FullName = input.FullName
		member.DateOfBirth = input.DateOfBirth
		member.Gender = input.Gender
		member.MaritalStatus = input.MaritalStatus
		member.Email = input.Email
		member.Phone = phone
		member.Address = input.Address
		member.Postcode = input.Postcode
		member.Town = input.Town
		member.Status = input.Status
		member.Verified = input.Verified
		member.UpdatedAt = s.now()
		if err := tx.Save(&member).Error; err != nil {
			s.logError(opUpdateMember, "member_update_failed", err, zap.String("member_id", id))
			return newServiceError(opUpdateMember, "member_update_failed", err)
		}
		updated = member
		return nil
	})
	if err != nil {
		return Member{}, err
	}
	return updated, nil
}

// DeleteMember removes a member together with its family members and notes.
func (s *Service) DeleteMember(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("member_id = ?", id).Delete(&FamilyMember{}).Error; err != nil {
			s.logError(opDeleteMember, "family_delete_failed", err, zap.String("member_id", id))
			return newServiceError(opDeleteMember, "family_delete_failed", err)
		}
		if err := tx.Where("member_id = ?", id).Delete(&AdminNote{}).Error; err != nil {
			s.logError(opDeleteMember, "note_delete_failed", err, zap.String("member_id", id))
			return newServiceError(opDeleteMember, "note_delete_failed", err)
		}
		result := tx.Where("id = ?", id).Delete(&Member{})
		if result.Error != nil {
			s.logError(opDeleteMember, "member_delete_failed", result.Error, zap.String("member_id", id))
			return newServiceError(opDeleteMember, "member_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteMember, "member_not_found", ErrMemberNotFound)
		}
		return nil
	})
}

// AddFamilyMember records a spouse or dependant for the member.
func (s *Service) AddFamilyMember(ctx context.Context, memberID string, input FamilyInput) (FamilyMember, error) {
	if _, err := s.findMember(ctx, s.db, opAddFamilyMember, memberID); err != nil {
		return FamilyMember{}, err
	}
	var created FamilyMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.insertFamilyMember(tx, opAddFamilyMember, memberID, input)
		created = record
		return err
	})
	if err != nil {
		return FamilyMember{}, err
	}
	return created, nil
}

func (s *Service) insertFamilyMember(tx *gorm.DB, operation string, memberID string, input FamilyInput) (FamilyMember, error) {
	input.normalize()
	if err := input.Validate(); err != nil {
		return FamilyMember{}, invalidInput(operation, err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return FamilyMember{}, newServiceError(operation, "id_generation_failed", err)
	}
	record := FamilyMember{
		ID:           id,
		MemberID:     memberID,
		Name:         input.Name,
		Relationship: input.Relationship,
		DateOfBirth:  input.DateOfBirth,
		Gender:       input.Gender,
		CreatedAt:    s.now(),
	}
	if err := tx.Create(&record).Error; err != nil {
		s.logError(operation, "family_insert_failed", err, zap.String("member_id", memberID))
		return FamilyMember{}, newServiceError(operation, "family_insert_failed", err)
	}
	return record, nil
}

// ListFamily returns the member's family records, oldest first.
func (s *Service) ListFamily(ctx context.Context, memberID string) ([]FamilyMember, error) {
	family := []FamilyMember{}
	if err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Order("created_at ASC").Find(&family).Error; err != nil {
		s.logError(opListFamily, "family_select_failed", err)
		return nil, newServiceError(opListFamily, "family_select_failed", err)
	}
	return family, nil
}

// AddNote records an admin note against the member.
func (s *Service) AddNote(ctx context.Context, memberID string, note string) (AdminNote, error) {
	if _, err := s.findMember(ctx, s.db, opAddNote, memberID); err != nil {
		return AdminNote{}, err
	}
	return s.insertNote(s.db.WithContext(ctx), opAddNote, memberID, note)
}

func (s *Service) insertNote(tx *gorm.DB, operation string, memberID string, note string) (AdminNote, error) {
	note = strings.TrimSpace(note)
	if err := validation.Validate(note, validation.Required, validation.Length(1, 4000)); err != nil {
		return AdminNote{}, invalidInput(operation, validation.Errors{"note": err})
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return AdminNote{}, newServiceError(operation, "id_generation_failed", err)
	}
	record := AdminNote{ID: id, MemberID: memberID, Note: note, CreatedAt: s.now()}
	if err := tx.Create(&record).Error; err != nil {
		s.logError(operation, "note_insert_failed", err, zap.String("member_id", memberID))
		return AdminNote{}, newServiceError(operation, "note_insert_failed", err)
	}
	return record, nil
}

// ListNotes returns the member's admin notes, newest first.
func (s *Service) ListNotes(ctx context.Context, memberID string) ([]AdminNote, error) {
	notes := []AdminNote{}
	if err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Order("created_at DESC").Find(&notes).Error; err != nil {
		s.logError(opListNotes, "note_select_failed", err)
		return nil, newServiceError(opListNotes, "note_select_failed", err)
	}
	return notes, nil
}

// SetMemberPassword stores a bcrypt hash of the password on the member record
// and, when an account shares the member's email, changes that account's
// password too.
func (s *Service) SetMemberPassword(ctx context.Context, id string, password string) error {
	if err := validation.Validate(password, validation.Required, validation.Length(6, 128)); err != nil {
		return invalidInput(opSetMemberPassword, validation.Errors{"password": err})
	}
	member, err := s.findMember(ctx, s.db, opSetMemberPassword, id)
	if err != nil {
		return err
	}
	if s.accounts != nil && member.Email != "" {
		if err := s.accounts.SetPasswordForEmail(ctx, member.Email, password); err != nil {
			s.logError(opSetMemberPassword, "account_update_failed", err, zap.String("member_id", id))
			return newServiceError(opSetMemberPassword, "account_update_failed", err)
		}
	}
	hash, err := credentials.HashPassword(password)
	if err != nil {
		s.logError(opSetMemberPassword, "hash_failed", err)
		return newServiceError(opSetMemberPassword, "hash_failed", err)
	}
	result := s.db.WithContext(ctx).Model(&Member{}).Where("id = ?", id).
		Updates(map[string]interface{}{"password_hash": hash, "updated_at": s.now()})
	if result.Error != nil {
		s.logError(opSetMemberPassword, "member_update_failed", result.Error)
		return newServiceError(opSetMemberPassword, "member_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opSetMemberPassword, "member_not_found", ErrMemberNotFound)
	}
	return nil
}

// MirrorPasswordHash copies an account password hash onto every member
// registered under the same email. No matching member is not an error.
func (s *Service) MirrorPasswordHash(ctx context.Context, email string, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return nil
	}
	result := s.db.WithContext(ctx).Model(&Member{}).Where("email = ?", email).
		Updates(map[string]interface{}{"password_hash": passwordHash, "updated_at": s.now()})
	if result.Error != nil {
		s.logError(opMirrorPasswordHash, "member_update_failed", result.Error)
		return newServiceError(opMirrorPasswordHash, "member_update_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("member password synced from account", zap.Int64("members", result.RowsAffected))
	}
	return nil
}

// LookupCredentials returns the login material for a member number.
func (s *Service) LookupCredentials(ctx context.Context, memberNumber string) (Credentials, error) {
	normalized := NormalizeMemberNumber(memberNumber)
	if normalized == "" {
		return Credentials{}, newServiceError(opLookupCredentials, "member_not_found", ErrMemberNotFound)
	}
	var member Member
	err := s.db.WithContext(ctx).
		Select("member_number", "email", "password_hash").
		Where("member_number = ?", normalized).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credentials{}, newServiceError(opLookupCredentials, "member_not_found", ErrMemberNotFound)
	}
	if err != nil {
		s.logError(opLookupCredentials, "member_select_failed", err)
		return Credentials{}, newServiceError(opLookupCredentials, "member_select_failed", err)
	}
	return Credentials{MemberNumber: member.MemberNumber, Email: member.Email, PasswordHash: member.PasswordHash}, nil
}

// CountRecipients counts active members, optionally restricted to one collector.
func (s *Service) CountRecipients(ctx context.Context, collectorID string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&Member{}).Where("status = ?", StatusActive)
	if collectorID = strings.TrimSpace(collectorID); collectorID != "" {
		var collectors int64
		if err := s.db.WithContext(ctx).Model(&Collector{}).Where("id = ?", collectorID).Count(&collectors).Error; err != nil {
			return 0, newServiceError(opCountRecipients, "collector_select_failed", err)
		}
		if collectors == 0 {
			return 0, newServiceError(opCountRecipients, "collector_not_found", ErrCollectorNotFound)
		}
		query = query.Where("collector_id = ?", collectorID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		s.logError(opCountRecipients, "member_count_failed", err)
		return 0, newServiceError(opCountRecipients, "member_count_failed", err)
	}
	return total, nil
}

// MemberExists reports whether a member with the id exists.
func (s *Service) MemberExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Member{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) findMember(ctx context.Context, db *gorm.DB, operation string, id string) (Member, error) {
	var member Member
	err := db.WithContext(ctx).Where("id = ?", id).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Member{}, newServiceError(operation, "member_not_found", ErrMemberNotFound)
	}
	if err != nil {
		s.logError(operation, "member_select_failed", err, zap.String("member_id", id))
		return Member{}, newServiceError(operation, "member_select_failed", err)
	}
	return member, nil
}

// nextMemberNumber returns one past the highest sequence used with the prefix.
func nextMemberNumber(tx *gorm.DB, prefix string) (string, error) {
	var numbers []string
	if err := tx.Model(&Member{}).Where("member_number LIKE ?", prefix+"%").Pluck("member_number", &numbers).Error; err != nil {
		return "", err
	}
	highest := 0
	for _, number := range numbers {
		suffix := strings.TrimPrefix(number, prefix)
		value, err := strconv.Atoi(suffix)
		if err != nil || len(suffix) < memberNumberDigits {
			continue
		}
		if value > highest {
			highest = value
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, memberNumberDigits, highest+1), nil
}

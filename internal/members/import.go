package members

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImportDependant is a family member carried by an import record.
type ImportDependant struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	DateOfBirth  string `json:"dateOfBirth"`
	Gender       string `json:"gender"`
}

// ImportRecord is a cleaned legacy member record. Optional values are nil when
// the source held nothing usable.
type ImportRecord struct {
	Collector     string            `json:"collector"`
	FullName      string            `json:"fullName"`
	Address       *string           `json:"address"`
	DateOfBirth   *string           `json:"dateOfBirth"`
	Email         *string           `json:"email"`
	Gender        *string           `json:"gender"`
	MaritalStatus *string           `json:"maritalStatus"`
	MobileNo      *string           `json:"mobileNo"`
	PostCode      *string           `json:"postCode"`
	Town          *string           `json:"town"`
	Verified      bool              `json:"verified"`
	Dependants    []ImportDependant `json:"dependants"`
	Notes         []string          `json:"notes"`
}

// ImportOptions controls how an import treats unknown collectors.
type ImportOptions struct {
	// CreateCollectors adds collectors named by records that do not exist yet.
	// Without it a record naming an unknown collector aborts the import.
	CreateCollectors bool
}

// ImportResult summarises an import.
type ImportResult struct {
	CollectorsCreated int      `json:"collectors_created"`
	MembersCreated    int      `json:"members_created"`
	FamilyCreated     int      `json:"family_created"`
	NotesCreated      int      `json:"notes_created"`
	Skipped           int      `json:"skipped"`
	MemberNumbers     []string `json:"member_numbers"`
}

// TransformRecords cleans raw legacy records: zero and empty values become nil,
// fullName falls back to name, and non-array dependants or notes become empty.
func TransformRecords(raw []map[string]any) []ImportRecord {
	records := make([]ImportRecord, 0, len(raw))
	for _, item := range raw {
		fullName := stringValue(item["fullName"])
		if fullName == "" {
			fullName = stringValue(item["name"])
		}
		records = append(records, ImportRecord{
			Collector:     stringValue(item["collector"]),
			FullName:      fullName,
			Address:       cleanValue(item["address"]),
			DateOfBirth:   cleanValue(item["dateOfBirth"]),
			Email:         cleanValue(item["email"]),
			Gender:        cleanValue(item["gender"]),
			MaritalStatus: cleanValue(item["maritalStatus"]),
			MobileNo:      cleanValue(item["mobileNo"]),
			PostCode:      cleanValue(item["postCode"]),
			Town:          cleanValue(item["town"]),
			Verified:      truthy(item["verified"]),
			Dependants:    dependantsValue(item["dependants"]),
			Notes:         notesValue(item["notes"]),
		})
	}
	return records
}

// Import inserts the records in one transaction. Records without a collector are skipped.
func (s *Service) Import(ctx context.Context, records []ImportRecord, options ImportOptions) (ImportResult, error) {
	result := ImportResult{MemberNumbers: []string{}}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		collectorIDs := map[string]string{}
		for index, record := range records {
			collectorName := strings.TrimSpace(record.Collector)
			if collectorName == "" {
				result.Skipped++
				continue
			}

			collectorID, created, err := s.resolveImportCollector(tx, collectorIDs, collectorName, options)
			if err != nil {
				s.logger.Warn("import aborted", zap.Int("record", index), zap.String("collector", collectorName), zap.Error(err))
				return err
			}
			if created {
				result.CollectorsCreated++
			}

			member, err := s.insertMember(tx, opImport, record.memberInput(collectorID))
			if err != nil {
				s.logger.Warn("import aborted", zap.Int("record", index), zap.String("full_name", record.FullName), zap.Error(err))
				return err
			}
			result.MembersCreated++
			result.MemberNumbers = append(result.MemberNumbers, member.MemberNumber)

			for _, dependant := range record.Dependants {
				if dependant.Name == "" {
					continue
				}
				if _, err := s.insertFamilyMember(tx, opImport, member.ID, FamilyInput{
					Name:         dependant.Name,
					Relationship: importRelationship(dependant.Relationship),
					DateOfBirth:  dependant.DateOfBirth,
					Gender:       dependant.Gender,
				}); err != nil {
					return err
				}
				result.FamilyCreated++
			}
			for _, note := range record.Notes {
				if strings.TrimSpace(note) == "" {
					continue
				}
				if _, err := s.insertNote(tx, opImport, member.ID, note); err != nil {
					return err
				}
				result.NotesCreated++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("import completed",
		zap.Int("collectors_created", result.CollectorsCreated),
		zap.Int("members_created", result.MembersCreated),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) resolveImportCollector(tx *gorm.DB, known map[string]string, name string, options ImportOptions) (string, bool, error) {
	key := strings.ToLower(name)
	if id, ok := known[key]; ok {
		return id, false, nil
	}
	var existing []Collector
	if err := tx.Where("LOWER(name) = ?", key).Limit(1).Find(&existing).Error; err != nil {
		s.logError(opImport, "collector_select_failed", err)
		return "", false, newServiceError(opImport, "collector_select_failed", err)
	}
	if len(existing) == 1 {
		known[key] = existing[0].ID
		return existing[0].ID, false, nil
	}
	if !options.CreateCollectors {
		return "", false, newServiceError(opImport, "collector_not_found", fmt.Errorf("%w: %s", ErrCollectorNotFound, name))
	}
	input := CollectorInput{Name: name, Prefix: collectorPrefixFromName(name)}
	input.normalize()
	collector, err := s.insertCollector(tx, input)
	if err != nil {
		return "", false, err
	}
	known[key] = collector.ID
	return collector.ID, true, nil
}

func (r ImportRecord) memberInput(collectorID string) MemberInput {
	return MemberInput{
		CollectorID:   collectorID,
		FullName:      r.FullName,
		DateOfBirth:   normalizeImportDate(deref(r.DateOfBirth)),
		Gender:        deref(r.Gender),
		MaritalStatus: deref(r.MaritalStatus),
		Email:         deref(r.Email),
		Phone:         importPhone(deref(r.MobileNo)),
		Address:       deref(r.Address),
		Postcode:      deref(r.PostCode),
		Town:          deref(r.Town),
		Status:        StatusActive,
		Verified:      r.Verified,
	}
}

// importPhone keeps legacy numbers that cannot be parsed out of the import
// rather than failing the whole batch.
func importPhone(raw string) string {
	if _, err := normalizePhone(raw); err != nil {
		return ""
	}
	return raw
}

// normalizeImportDate accepts ISO dates and the dd/mm/yyyy form used by the legacy export.
func normalizeImportDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 10 && raw[4] == '-' && raw[7] == '-' {
		return raw[:10]
	}
	parts := strings.Split(raw, "/")
	if len(parts) == 3 && len(parts[2]) == 4 {
		day, dayErr := strconv.Atoi(parts[0])
		month, monthErr := strconv.Atoi(parts[1])
		if dayErr == nil && monthErr == nil {
			return fmt.Sprintf("%s-%02d-%02d", parts[2], month, day)
		}
	}
	return ""
}

func importRelationship(raw string) Relationship {
	switch relationship := Relationship(strings.ToLower(strings.TrimSpace(raw))); relationship {
	case RelationshipSpouse, RelationshipDependant, RelationshipChild:
		return relationship
	case "":
		return RelationshipDependant
	default:
		return RelationshipOther
	}
}

func cleanValue(value any) *string {
	text, ok := cleanString(value)
	if !ok {
		return nil
	}
	return &text
}

func cleanString(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		if typed == "" {
			return "", false
		}
		return typed, true
	case float64:
		if typed == 0 {
			return "", false
		}
		if typed == math.Trunc(typed) {
			return strconv.FormatInt(int64(typed), 10), true
		}
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		if typed == 0 {
			return "", false
		}
		return strconv.Itoa(typed), true
	case bool:
		return strconv.FormatBool(typed), true
	default:
		return fmt.Sprint(typed), true
	}
}

func stringValue(value any) string {
	text, _ := value.(string)
	return strings.TrimSpace(text)
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return typed != ""
	case float64:
		return typed != 0
	case int:
		return typed != 0
	default:
		return false
	}
}

func dependantsValue(value any) []ImportDependant {
	items, ok := value.([]any)
	if !ok {
		return []ImportDependant{}
	}
	dependants := make([]ImportDependant, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		dependants = append(dependants, ImportDependant{
			Name:         stringValue(fields["name"]),
			Relationship: stringValue(fields["relationship"]),
			DateOfBirth:  normalizeImportDate(stringValue(fields["dateOfBirth"])),
			Gender:       stringValue(fields["gender"]),
		})
	}
	return dependants
}

func notesValue(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return []string{}
	}
	notes := make([]string, 0, len(items))
	for _, item := range items {
		if text, ok := item.(string); ok {
			notes = append(notes, text)
		}
	}
	return notes
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

package members

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ListCollectors returns collectors matching the search, with member counts.
// The search matches the name or the prefixed collector number.
func (s *Service) ListCollectors(ctx context.Context, search string) ([]CollectorSummary, error) {
	var collectors []Collector
	query := s.db.WithContext(ctx).Order("number ASC, name ASC")
	if term := strings.ToLower(strings.TrimSpace(search)); term != "" {
		like := "%" + term + "%"
		query = query.Where("LOWER(name) LIKE ? OR number LIKE ? OR LOWER(prefix || number) LIKE ?", like, like, like)
	}
	if err := query.Find(&collectors).Error; err != nil {
		s.logError(opListCollectors, "collector_select_failed", err)
		return nil, newServiceError(opListCollectors, "collector_select_failed", err)
	}

	type countRow struct {
		CollectorID string
		Total       int64
	}
	var rows []countRow
	if err := s.db.WithContext(ctx).Model(&Member{}).
		Select("collector_id, COUNT(*) AS total").
		Group("collector_id").
		Scan(&rows).Error; err != nil {
		s.logError(opListCollectors, "member_count_failed", err)
		return nil, newServiceError(opListCollectors, "member_count_failed", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.CollectorID] = row.Total
	}

	summaries := make([]CollectorSummary, 0, len(collectors))
	for _, collector := range collectors {
		summaries = append(summaries, CollectorSummary{Collector: collector, MemberCount: counts[collector.ID]})
	}
	return summaries, nil
}

// GetCollector returns a collector by id.
func (s *Service) GetCollector(ctx context.Context, id string) (Collector, error) {
	var collector Collector
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&collector).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Collector{}, newServiceError(opGetCollector, "collector_not_found", ErrCollectorNotFound)
	}
	if err != nil {
		s.logError(opGetCollector, "collector_select_failed", err)
		return Collector{}, newServiceError(opGetCollector, "collector_select_failed", err)
	}
	return collector, nil
}

// CreateCollector adds a collector. A missing number is assigned as the next free two-digit number.
func (s *Service) CreateCollector(ctx context.Context, input CollectorInput) (Collector, error) {
	input.normalize()
	if err := input.Validate(); err != nil {
		return Collector{}, invalidInput(opCreateCollector, err)
	}
	var created Collector
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		collector, err := s.insertCollector(tx, input)
		if err != nil {
			return err
		}
		created = collector
		return nil
	})
	if err != nil {
		return Collector{}, err
	}
	s.logger.Info("collector created", zap.String("collector_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

func (s *Service) insertCollector(tx *gorm.DB, input CollectorInput) (Collector, error) {
	var existing int64
	if err := tx.Model(&Collector{}).Where("LOWER(name) = ?", strings.ToLower(input.Name)).Count(&existing).Error; err != nil {
		s.logError(opCreateCollector, "collector_select_failed", err)
		return Collector{}, newServiceError(opCreateCollector, "collector_select_failed", err)
	}
	if existing > 0 {
		return Collector{}, newServiceError(opCreateCollector, "collector_exists", ErrCollectorExists)
	}

	number := input.Number
	if number == "" {
		next, err := nextCollectorNumber(tx)
		if err != nil {
			s.logError(opCreateCollector, "number_generation_failed", err)
			return Collector{}, newServiceError(opCreateCollector, "number_generation_failed", err)
		}
		number = next
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opCreateCollector, "id_generation_failed", err)
		return Collector{}, newServiceError(opCreateCollector, "id_generation_failed", err)
	}
	active := true
	if input.Active != nil {
		active = *input.Active
	}
	collector := Collector{
		ID:        id,
		Name:      input.Name,
		Prefix:    input.Prefix,
		Number:    number,
		Active:    active,
		CreatedAt: s.now(),
	}
	if err := tx.Create(&collector).Error; err != nil {
		s.logError(opCreateCollector, "collector_insert_failed", err)
		return Collector{}, newServiceError(opCreateCollector, "collector_insert_failed", err)
	}
	return collector, nil
}

// SetCollectorActive activates or deactivates a collector.
func (s *Service) SetCollectorActive(ctx context.Context, id string, active bool) (Collector, error) {
	result := s.db.WithContext(ctx).Model(&Collector{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		s.logError(opSetCollectorActive, "collector_update_failed", result.Error)
		return Collector{}, newServiceError(opSetCollectorActive, "collector_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Collector{}, newServiceError(opSetCollectorActive, "collector_not_found", ErrCollectorNotFound)
	}
	return s.GetCollector(ctx, id)
}

// DeleteCollector removes a collector that no longer owns members.
func (s *Service) DeleteCollector(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owned int64
		if err := tx.Model(&Member{}).Where("collector_id = ?", id).Count(&owned).Error; err != nil {
			s.logError(opDeleteCollector, "member_count_failed", err)
			return newServiceError(opDeleteCollector, "member_count_failed", err)
		}
		if owned > 0 {
			return newServiceError(opDeleteCollector, "collector_in_use", ErrCollectorInUse)
		}
		result := tx.Where("id = ?", id).Delete(&Collector{})
		if result.Error != nil {
			s.logError(opDeleteCollector, "collector_delete_failed", result.Error)
			return newServiceError(opDeleteCollector, "collector_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opDeleteCollector, "collector_not_found", ErrCollectorNotFound)
		}
		return nil
	})
}

func nextCollectorNumber(tx *gorm.DB) (string, error) {
	var numbers []string
	if err := tx.Model(&Collector{}).Pluck("number", &numbers).Error; err != nil {
		return "", err
	}
	highest := 0
	for _, number := range numbers {
		if value, err := strconv.Atoi(number); err == nil && value > highest {
			highest = value
		}
	}
	if highest >= 99 {
		return "", fmt.Errorf("collector numbers exhausted")
	}
	return fmt.Sprintf("%02d", highest+1), nil
}

// collectorPrefixFromName derives a member number prefix from a collector's initials.
func collectorPrefixFromName(name string) string {
	var builder strings.Builder
	for _, word := range strings.Fields(name) {
		first := word[0]
		if first >= 'a' && first <= 'z' {
			first -= 'a' - 'A'
		}
		if first >= 'A' && first <= 'Z' {
			builder.WriteByte(first)
		}
		if builder.Len() == 2 {
			break
		}
	}
	if builder.Len() == 0 {
		return defaultPrefix
	}
	return builder.String()
}

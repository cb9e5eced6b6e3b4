package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencyhq/backend/internal/models"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

var (
	// ErrInvalidService is returned for a missing or inactive service or add-on
	ErrInvalidService = errors.New("service is not available")
	// ErrPriceMismatch is returned when a submitted total does not equal the
	// service price plus its add-ons
	ErrPriceMismatch = errors.New("total price does not match the selected service and add-ons")
)

// CatalogService reads the sellable services
type CatalogService struct {
	db *gorm.DB
}

// NewCatalogService creates a new catalog service
func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

// ListActive returns active services with their active add-ons
func (s *CatalogService) ListActive(ctx context.Context) ([]models.Service, error) {
	var services []models.Service
	err := s.db.WithContext(ctx).
		Preload("AddOns", "is_active = ?", true).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&services).Error
	if err != nil {
		return nil, fmt.Errorf("error listing services: %w", err)
	}
	return services, nil
}

// EnsureActive fails with ErrInvalidService unless the service exists and is active
func (s *CatalogService) EnsureActive(ctx context.Context, serviceID uuid.UUID) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Service{}).
		Where("id = ? AND is_active = ?", serviceID, true).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("error checking service: %w", err)
	}
	if count == 0 {
		return ErrInvalidService
	}
	return nil
}

// Quote snapshots a service and the chosen add-ons at current prices
func (s *CatalogService) Quote(ctx context.Context, serviceID uuid.UUID, addOnIDs []uuid.UUID) (models.ServiceSnapshot, []models.AddOnSnapshot, error) {
	var service models.Service
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", serviceID, true).First(&service).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ServiceSnapshot{}, nil, ErrInvalidService
	}
	if err != nil {
		return models.ServiceSnapshot{}, nil, fmt.Errorf("error finding service: %w", err)
	}

	addOns := make([]models.AddOnSnapshot, 0, len(addOnIDs))
	if len(addOnIDs) > 0 {
		var rows []models.AddOn
		err := s.db.WithContext(ctx).
			Where("id IN ? AND service_id = ? AND is_active = ?", addOnIDs, serviceID, true).
			Find(&rows).Error
		if err != nil {
			return models.ServiceSnapshot{}, nil, fmt.Errorf("error finding add-ons: %w", err)
		}

		byID := make(map[uuid.UUID]models.AddOn, len(rows))
		for _, r := range rows {
			byID[r.ID] = r
		}
		seen := make(map[uuid.UUID]bool, len(addOnIDs))
		for _, id := range addOnIDs {
			a, ok := byID[id]
			if !ok {
				return models.ServiceSnapshot{}, nil, fmt.Errorf("%w: add-on %s", ErrInvalidService, id)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			addOns = append(addOns, models.AddOnSnapshot{ID: a.ID, Name: a.Name, Price: a.Price})
		}
	}

	return models.SnapshotOf(service), addOns, nil
}

// ValidateTotal fails with ErrPriceMismatch unless total equals the
// service price plus every add-on price
func ValidateTotal(service models.ServiceSnapshot, addOns []models.AddOnSnapshot, total models.Money) error {
	if expected := models.ExpectedTotal(service, addOns); expected != total {
		return fmt.Errorf("%w: expected %d, got %d", ErrPriceMismatch, expected, total)
	}
	return nil
}

// AddOnInput describes an add-on for CreateService
type AddOnInput struct {
	Name  string
	Price models.Money
}

// CreateService adds a service to the catalog
func (s *CatalogService) CreateService(ctx context.Context, name, description string, price models.Money, currency models.Currency, addOns []AddOnInput) (*models.Service, error) {
	if name == "" || price <= 0 {
		return nil, fmt.Errorf("%w: name and a positive price are required", ErrInvalidService)
	}

	service := models.Service{
		Name:        name,
		Slug:        fmt.Sprintf("%s-%s", slug.Make(name), uuid.New().String()[:8]),
		Description: description,
		Price:       price,
		Currency:    currency,
		IsActive:    true,
	}
	for _, a := range addOns {
		service.AddOns = append(service.AddOns, models.AddOn{Name: a.Name, Price: a.Price, IsActive: true})
	}

	if err := s.db.WithContext(ctx).Create(&service).Error; err != nil {
		return nil, fmt.Errorf("error creating service: %w", err)
	}
	return &service, nil
}

// SetActive enables or disables a service
func (s *CatalogService) SetActive(ctx context.Context, serviceID uuid.UUID, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Service{}).Where("id = ?", serviceID).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("error updating service: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidService
	}
	return nil
}

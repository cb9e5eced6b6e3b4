package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/agencyhq/backend/internal/models"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrOrderNotPaid is returned when provisioning is attempted for an unpaid order
var ErrOrderNotPaid = errors.New("project can only be provisioned for a paid order")

// ProjectService creates the delivery project for paid orders
type ProjectService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewProjectService creates a new project service
func NewProjectService(db *gorm.DB, log *zap.Logger) *ProjectService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProjectService{db: db, log: log}
}

// ProvisionProject creates the project for order inside tx. It returns the
// existing project when one was already provisioned for the order.
func (s *ProjectService) ProvisionProject(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.Project, error) {
	if order.Status != models.OrderStatusPaid {
		return nil, ErrOrderNotPaid
	}

	service := order.ServiceSnapshot.Data()
	p := models.Project{
		OrderID: order.ID,
		UserID:  order.UserID,
		Name:    service.Name,
		Slug:    fmt.Sprintf("%s-%s", slug.Make(service.Name), order.ID.String()[:8]),
		Status:  models.ProjectStatusPlanning,
	}

	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&p)
	if res.Error != nil {
		return nil, fmt.Errorf("error provisioning project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.Project
		if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("error loading existing project: %w", err)
		}
		return &existing, nil
	}

	s.log.Info("project provisioned",
		zap.String("project_id", p.ID.String()),
		zap.String("order_id", order.ID.String()))
	return &p, nil
}

// ListUserProjects returns the projects owned by userID, newest first
func (s *ProjectService) ListUserProjects(ctx context.Context, userID uuid.UUID) ([]models.Project, error) {
	var projects []models.Project
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("error listing projects: %w", err)
	}
	return projects, nil
}

package models

import (
	"github.com/google/uuid"
)

// ProjectStatus is the delivery state of a provisioned project
type ProjectStatus string

const (
	ProjectStatusPlanning   ProjectStatus = "planning"
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusDelivered  ProjectStatus = "delivered"
)

// Project is created exactly once per paid order
type Project struct {
	Base
	OrderID uuid.UUID     `gorm:"type:uuid;uniqueIndex;not null" json:"order_id"`
	UserID  uuid.UUID     `gorm:"type:uuid;index;not null" json:"user_id"`
	Name    string        `gorm:"type:varchar(255);not null" json:"name"`
	Slug    string        `gorm:"type:varchar(255);uniqueIndex;not null" json:"slug"`
	Status  ProjectStatus `gorm:"type:varchar(20);not null" json:"status"`
}

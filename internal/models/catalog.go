package models

import (
	"github.com/google/uuid"
)

// Service is a sellable agency package
type Service struct {
	Base
	Name        string   `gorm:"type:varchar(255);not null" json:"name"`
	Slug        string   `gorm:"type:varchar(255);uniqueIndex;not null" json:"slug"`
	Description string   `gorm:"type:text" json:"description"`
	Price       Money    `gorm:"not null" json:"price"`
	Currency    Currency `gorm:"type:varchar(3);not null" json:"currency"`
	IsActive    bool     `gorm:"index" json:"is_active"`
	AddOns      []AddOn  `gorm:"foreignKey:ServiceID" json:"add_ons,omitempty"`
}

// AddOn is an optional extra that can be bought with a service
type AddOn struct {
	Base
	ServiceID uuid.UUID `gorm:"type:uuid;index;not null" json:"service_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Price     Money     `gorm:"not null" json:"price"`
	IsActive  bool      `gorm:"not null" json:"is_active"`
}

// ServiceSnapshot is the immutable copy of a service taken at checkout time
type ServiceSnapshot struct {
	ServiceID uuid.UUID `json:"service_id"`
	Name      string    `json:"name"`
	Price     Money     `json:"price"`
	Currency  Currency  `json:"currency"`
}

// AddOnSnapshot is the immutable copy of an add-on taken at checkout time
type AddOnSnapshot struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Price Money     `json:"price"`
}

// SnapshotOf copies the pricing-relevant fields of a service
func SnapshotOf(s Service) ServiceSnapshot {
	return ServiceSnapshot{
		ServiceID: s.ID,
		Name:      s.Name,
		Price:     s.Price,
		Currency:  s.Currency,
	}
}

// ExpectedTotal is the service price plus every add-on price
func ExpectedTotal(service ServiceSnapshot, addOns []AddOnSnapshot) Money {
	total := service.Price
	for _, a := range addOns {
		total += a.Price
	}
	return total
}

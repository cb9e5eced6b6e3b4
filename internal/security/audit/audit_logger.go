package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EventType represents the type of audit event
type EventType string

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	// Event types
	EventTypePayment    EventType = "payment"
	EventTypeWebhook    EventType = "webhook"
	EventTypeOrder      EventType = "order"
	EventTypeWithdrawal EventType = "withdrawal"
	EventTypeReferral   EventType = "referral"
	EventTypeIntegrity  EventType = "integrity"

	// Severity levels
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditLog represents an audit log entry in the database
type AuditLog struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID      *uuid.UUID `gorm:"type:uuid;index"`
	TargetID    *uuid.UUID `gorm:"type:uuid;index"`
	EventType   string     `gorm:"type:varchar(30);index"`
	Severity    string     `gorm:"type:varchar(20);index"`
	Description string     `gorm:"type:text"`
	IPAddress   string     `gorm:"type:varchar(64)"`
	UserAgent   string     `gorm:"type:text"`
	Metadata    string     `gorm:"type:text"` // JSON string of additional data
	CreatedAt   time.Time  `gorm:"index"`
	Success     bool       `gorm:"index"`
}

// BeforeCreate assigns the primary key
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Event is a single auditable fact
type Event struct {
	Type        EventType
	Severity    EventSeverity
	Description string
	UserID      *uuid.UUID
	TargetID    *uuid.UUID
	Success     bool
	Metadata    map[string]interface{}
}

// Logger persists audit events and mirrors them to the application log.
// Writes go through the logger's own handle so an entry survives a rolled
// back business transaction; never call it while holding a transaction.
type Logger struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewLogger creates a new audit logger
func NewLogger(db *gorm.DB, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{
		db:  db,
		log: log.Named("audit"),
	}
}

// Record stores an event. Request metadata is taken from a gin context when
// one is passed as ctx.
func (l *Logger) Record(ctx context.Context, e Event) error {
	if l == nil {
		return nil
	}

	entry := AuditLog{
		UserID:      e.UserID,
		TargetID:    e.TargetID,
		EventType:   string(e.Type),
		Severity:    string(e.Severity),
		Description: e.Description,
		CreatedAt:   time.Now(),
		Success:     e.Success,
	}

	if gc, ok := ctx.(*gin.Context); ok {
		entry.IPAddress = gc.ClientIP()
		entry.UserAgent = gc.GetHeader("User-Agent")
		if entry.UserID == nil {
			if id, ok := gc.Get("user_id"); ok {
				if uid, ok := id.(uuid.UUID); ok {
					entry.UserID = &uid
				}
			}
		}
	}

	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		entry.Metadata = string(b)
	}

	l.mirror(entry)

	return l.db.WithContext(context.WithoutCancel(ctx)).Create(&entry).Error
}

func (l *Logger) mirror(entry AuditLog) {
	fields := []zap.Field{
		zap.String("event_type", entry.EventType),
		zap.Bool("success", entry.Success),
		zap.String("metadata", entry.Metadata),
	}
	if entry.TargetID != nil {
		fields = append(fields, zap.String("target_id", entry.TargetID.String()))
	}

	switch EventSeverity(entry.Severity) {
	case SeverityCritical, SeverityError:
		l.log.Error(entry.Description, fields...)
	case SeverityWarning:
		l.log.Warn(entry.Description, fields...)
	default:
		l.log.Info(entry.Description, fields...)
	}
}

// ForTarget lists the newest audit entries for a resource
func (l *Logger) ForTarget(targetID uuid.UUID, limit int) ([]AuditLog, error) {
	var logs []AuditLog
	err := l.db.Where("target_id = ?", targetID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// SecurityEvents lists integrity events and anything at error severity or above
func (l *Logger) SecurityEvents(limit, offset int) ([]AuditLog, error) {
	var logs []AuditLog
	err := l.db.Where("event_type = ? OR severity IN ?",
		string(EventTypeIntegrity),
		[]string{string(SeverityError), string(SeverityCritical)}).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	return logs, err
}

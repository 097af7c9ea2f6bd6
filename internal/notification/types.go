package notification

import (
	"time"
)

// Channel is the delivery channel of a notification
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Level is the toast style shown to the user
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// ParseLevel maps unknown values to info
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelSuccess, LevelError, LevelWarning:
		return Level(s)
	}
	return LevelInfo
}

// Priority represents notification priority
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

var priorityOrder = map[Priority]int{
	PriorityLow:      1,
	PriorityNormal:   2,
	PriorityHigh:     3,
	PriorityUrgent:   4,
	PriorityCritical: 5,
}

// Status represents notification delivery status
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDismissed Status = "dismissed"
)

// Notification is a single message to one recipient. In-app notifications
// are toasts: they disappear when dismissed or once Duration has elapsed.
type Notification struct {
	ID       string   `json:"id"`
	Channel  Channel  `json:"channel"`
	Level    Level    `json:"level"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// RecipientID is a topic such as "user:<id>", "hospital:<id>" or "role:admin"
	RecipientID   string `json:"recipient_id"`
	RecipientName string `json:"recipient_name,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`

	Subject string         `json:"subject,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	EventID string         `json:"event_id,omitempty"`

	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`
	ExpiresAt   time.Time     `json:"expires_at"`
	DismissedAt *time.Time    `json:"dismissed_at,omitempty"`

	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Active reports whether the toast should still be displayed at now
func (n *Notification) Active(now time.Time) bool {
	if n.DismissedAt != nil || n.Status == StatusDismissed || n.Status == StatusFailed {
		return false
	}
	return now.Before(n.ExpiresAt)
}

// DurationMillis is the auto-dismiss delay for the browser
func (n *Notification) DurationMillis() int64 {
	return n.Duration.Milliseconds()
}

// Recipient topic helpers
func UserRecipient(userID string) string         { return "user:" + userID }
func HospitalRecipient(hospitalID string) string { return "hospital:" + hospitalID }

// AdminRecipient reaches every administrator
const AdminRecipient = "role:admin"

// Stats represents notification statistics
type Stats struct {
	TotalSent      int64             `json:"total_sent"`
	TotalDelivered int64             `json:"total_delivered"`
	TotalFailed    int64             `json:"total_failed"`
	TotalDismissed int64             `json:"total_dismissed"`
	ByChannel      map[Channel]int64 `json:"by_channel"`
	ByLevel        map[Level]int64   `json:"by_level"`
	DeliveryRate   float64           `json:"delivery_rate"`
}

// UserPreferences holds notification and emergency alert preferences
type UserPreferences struct {
	UserID string `json:"user_id"`

	EnableInApp bool `json:"enable_in_app"`
	EnableEmail bool `json:"enable_email"`
	EnableSMS   bool `json:"enable_sms"`
	EnablePush  bool `json:"enable_push"`

	EmailMinPriority Priority `json:"email_min_priority"`
	SMSMinPriority   Priority `json:"sms_min_priority"`

	// Quiet hours in HH:MM; a window may cross midnight
	QuietHoursEnabled bool   `json:"quiet_hours_enabled"`
	QuietHoursStart   string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd     string `json:"quiet_hours_end,omitempty"`

	AlwaysAllowCritical bool `json:"always_allow_critical"`

	// Emergency blood request alerts for donors. An empty type list means
	// alerts for every type the donor can give to.
	EmergencyAlerts     bool     `json:"emergency_alerts"`
	EmergencyBloodTypes []string `json:"emergency_blood_types,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultUserPreferences returns default preferences
func DefaultUserPreferences(userID string) *UserPreferences {
	return &UserPreferences{
		UserID:              userID,
		EnableInApp:         true,
		EnableEmail:         true,
		EnableSMS:           false,
		EnablePush:          true,
		EmailMinPriority:    PriorityNormal,
		SMSMinPriority:      PriorityUrgent,
		AlwaysAllowCritical: true,
		UpdatedAt:           time.Now(),
	}
}

// inQuietHours reports whether clock (HH:MM) falls inside the window
func (p *UserPreferences) inQuietHours(clock string) bool {
	if !p.QuietHoursEnabled || p.QuietHoursStart == "" || p.QuietHoursEnd == "" {
		return false
	}
	if p.QuietHoursStart <= p.QuietHoursEnd {
		return clock >= p.QuietHoursStart && clock < p.QuietHoursEnd
	}
	return clock >= p.QuietHoursStart || clock < p.QuietHoursEnd
}

package models

import (
	"time"
)

// UsageDateLayout is the calendar date format of DailyUsage.UsageDate
const UsageDateLayout = "2006-01-02"

// DailyUsage counts metered actions of one user on one UTC calendar day.
// Rows for past days are never modified.
type DailyUsage struct {
	BaseModel

	UserID          string `json:"user_id" gorm:"not null;size:64;uniqueIndex:uq_user_usage_date"`
	UsageDate       string `json:"usage_date" gorm:"not null;size:10;uniqueIndex:uq_user_usage_date"`
	SessionsUsed    int    `json:"sessions_used" gorm:"not null;default:0"`
	GenerationsUsed int    `json:"generations_used" gorm:"not null;default:0"`
}

// TableName pins the table name
func (DailyUsage) TableName() string {
	return "daily_usage"
}

// Used returns the counter for kind
func (u *DailyUsage) Used(kind ActionKind) int {
	switch kind {
	case ActionSession:
		return u.SessionsUsed
	case ActionGeneration:
		return u.GenerationsUsed
	}
	return 0
}

// UsageDate returns the UTC calendar day of t
func UsageDate(t time.Time) string {
	return t.UTC().Format(UsageDateLayout)
}

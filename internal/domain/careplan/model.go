package careplan

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/careportal/portal/pkg/caldate"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusCancelled
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// Goal is a measurable target a provider sets for a patient.
type Goal struct {
	ID           uuid.UUID     `json:"id"`
	PatientID    uuid.UUID     `json:"patientId"`
	ProviderID   uuid.UUID     `json:"providerId"`
	Title        string        `json:"title"`
	Description  *string       `json:"description,omitempty"`
	TargetValue  float64       `json:"targetValue"`
	CurrentValue float64       `json:"currentValue"`
	Unit         string        `json:"unit"`
	Frequency    Frequency     `json:"frequency"`
	Status       Status        `json:"status"`
	StartDate    time.Time     `json:"startDate"`
	EndDate      *caldate.Date `json:"endDate,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`

	// Progress is the append-only log, oldest first.
	Progress []ProgressEntry `json:"progress"`

	// Populated on listings.
	PatientName  string `json:"patientName,omitempty"`
	ProviderName string `json:"providerName,omitempty"`
}

// ProgressEntry is one recorded contribution toward a goal.
type ProgressEntry struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Note  *string   `json:"note,omitempty"`
}

// CompletionPercentage is current/target as a whole percentage, capped at 100.
func (g *Goal) CompletionPercentage() int {
	if g.TargetValue <= 0 {
		return 0
	}
	pct := math.Round(g.CurrentValue / g.TargetValue * 100)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return int(pct)
}

func (g Goal) MarshalJSON() ([]byte, error) {
	type plain Goal
	if g.Progress == nil {
		g.Progress = []ProgressEntry{}
	}
	return json.Marshal(struct {
		plain
		CompletionPercentage int `json:"completionPercentage"`
	}{plain(g), g.CompletionPercentage()})
}

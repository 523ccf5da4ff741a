package verification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Step names one stage of the verification workflow.
type Step string

// Workflow steps in order.
const (
	StepIdentity    Step = "IDENTITY"
	StepEligibility Step = "ELIGIBILITY"
	StepBiometric   Step = "BIOMETRIC"
	StepOTP         Step = "OTP"
	StepReady       Step = "READY"
)

// Steps lists the workflow in order.
var Steps = []Step{StepIdentity, StepEligibility, StepBiometric, StepOTP, StepReady}

// Status of a verification session.
type Status string

// All session statuses.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
)

// Index returns the position of s in Steps, or -1.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// VoterProfile stores registration details for a user.
type VoterProfile struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	UserID           string `gorm:"size:128;not null;uniqueIndex" json:"userId"`
	VoterID          string `gorm:"size:64;not null;uniqueIndex" json:"voterId"`
	District         string `gorm:"not null" json:"district"`
	Age              int    `gorm:"not null" json:"age"`
	RegistrationDate string `gorm:"not null" json:"registrationDate"`
	Precinct         string `gorm:"not null" json:"precinct"`
	IsEligible       bool   `gorm:"not null" json:"isEligible"`
}

// Session records one step of a user's verification. The latest session by
// ID is the user's current position in the workflow.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	SessionID     uuid.UUID  `gorm:"type:uuid;uniqueIndex" json:"sessionId"`
	UserID        string     `gorm:"size:128;not null;index" json:"userId"`
	Step          Step       `gorm:"size:16;not null" json:"step"`
	Status        Status     `gorm:"size:16;not null" json:"status"`
	CreatedAt     time.Time  `gorm:"not null" json:"timestamp"`
	BlockchainRef string     `gorm:"size:64" json:"blockchainRef,omitempty"`
	OTPDigest     string     `gorm:"size:64" json:"-"`
	OTPExpiresAt  *time.Time `json:"-"`
}

// TableName pins the table name used by both SQLite and PostgreSQL.
func (Session) TableName() string { return "verification_sessions" }

// AutoMigrate applies the workflow schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&VoterProfile{}, &Session{})
}

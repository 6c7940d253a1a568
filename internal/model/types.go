package model

import (
	"time"

	"github.com/google/uuid"
)

// Ambassador is a referring user. Parents created during conversion are
// ambassadors too, with an Inactive benefit until they refer someone.
type Ambassador struct {
	ID                uuid.UUID
	Name              string
	Mobile            string
	Role              Role
	AdminRole         AdminRole
	ReferralCode      string
	ConfirmedCount    int
	BenefitPercent    int
	LongTermQualified bool
	BenefitStatus     BenefitStatus
	CampusID          *uuid.UUID
	CreatedAt         time.Time
}

// Campus is a canonical campus record
type Campus struct {
	ID             uuid.UUID
	Name           string
	NormalizedName string
	CreatedAt      time.Time
}

// Lead is one prospective-family referral
type Lead struct {
	ID              uuid.UUID
	AmbassadorID    uuid.UUID
	ParentName      string
	ParentMobile    string
	StudentName     string
	CampusName      string
	CampusID        *uuid.UUID
	GradeInterested string
	Status          LeadStatus
	AdmissionNumber *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	StudentID       *uuid.UUID
}

// OtpVerification is the single live OTP record for a mobile number
type OtpVerification struct {
	Mobile    string
	Code      string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the record is past its expiry at now.
func (o OtpVerification) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// BenefitSlab is one row of the benefit tier table
type BenefitSlab struct {
	Name                 string
	Threshold            int
	YearFeePercent       int
	LongTermExtraPercent int
	BaseLongTermPercent  int
}

// Student is the admission record created when a lead converts
type Student struct {
	ID              uuid.UUID
	StudentName     string
	ParentID        uuid.UUID
	ReferrerID      uuid.UUID
	CampusID        uuid.UUID
	Grade           string
	ReferralLeadID  *uuid.UUID
	BaseFee         float64
	DiscountPercent int
	Status          StudentStatus
	CreatedAt       time.Time
}

// StatusChange records a lead transition
type StatusChange struct {
	LeadID    uuid.UUID
	ActorID   uuid.UUID
	OldStatus LeadStatus
	NewStatus LeadStatus
	Reason    string
	CreatedAt time.Time
}

// AmbassadorStats summarises an ambassador's referrals
type AmbassadorStats struct {
	TotalReferrals        int     `json:"total_referrals"`
	Pending               int     `json:"pending"`
	Confirmed             int     `json:"confirmed"`
	Rejected              int     `json:"rejected"`
	ConversionRatePercent float64 `json:"conversion_rate_percent"`
}

// Actor is the authenticated caller of an operation
type Actor struct {
	ID        uuid.UUID
	AdminRole AdminRole
	CampusID  *uuid.UUID
}

// IsAdmin reports whether the actor holds any admin role.
func (a Actor) IsAdmin() bool {
	return a.AdminRole == SuperAdmin || a.AdminRole == CampusAdmin
}

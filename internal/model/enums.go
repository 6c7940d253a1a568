package model

import "fmt"

// Role is the ambassador's relationship to the school network
type Role string

const (
	RoleParent Role = "Parent"
	RoleStaff  Role = "Staff"
	RoleAlumni Role = "Alumni"
	RoleOther  Role = "Other"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleParent, RoleStaff, RoleAlumni, RoleOther:
		return true
	}
	return false
}

// AdminRole grants authority over leads. Ambassadors have AdminNone.
type AdminRole string

const (
	AdminNone   AdminRole = "None"
	SuperAdmin  AdminRole = "SuperAdmin"
	CampusAdmin AdminRole = "CampusAdmin"
)

// Valid reports whether a is a known admin role.
func (a AdminRole) Valid() bool {
	switch a {
	case AdminNone, SuperAdmin, CampusAdmin:
		return true
	}
	return false
}

// BenefitStatus is Active once an ambassador has at least one confirmed referral
type BenefitStatus string

const (
	BenefitActive   BenefitStatus = "Active"
	BenefitInactive BenefitStatus = "Inactive"
)

// BenefitStatusFor returns the benefit status for a confirmed-referral count.
func BenefitStatusFor(confirmedCount int) BenefitStatus {
	if confirmedCount >= 1 {
		return BenefitActive
	}
	return BenefitInactive
}

// LeadStatus is a referral lead's position in the pipeline
type LeadStatus string

const (
	LeadNew        LeadStatus = "New"
	LeadContacted  LeadStatus = "Contacted"
	LeadFollowUp   LeadStatus = "Follow_up"
	LeadInterested LeadStatus = "Interested"
	LeadConfirmed  LeadStatus = "Confirmed"
	LeadAdmitted   LeadStatus = "Admitted"
	LeadRejected   LeadStatus = "Rejected"
)

// LeadStatuses lists every status in pipeline order.
var LeadStatuses = []LeadStatus{
	LeadNew, LeadContacted, LeadFollowUp, LeadInterested, LeadConfirmed, LeadAdmitted, LeadRejected,
}

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	for _, v := range LeadStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Counted reports whether a lead in this status counts toward the
// ambassador's confirmed-referral total and carries a confirmation time.
func (s LeadStatus) Counted() bool {
	return s == LeadConfirmed || s == LeadAdmitted
}

// Terminal reports whether the status ends the pipeline.
func (s LeadStatus) Terminal() bool {
	return s == LeadAdmitted || s == LeadRejected
}

// Pending reports whether the lead is still being worked.
func (s LeadStatus) Pending() bool {
	return !s.Counted() && s != LeadRejected
}

// ParseLeadStatus converts a string to a LeadStatus.
func ParseLeadStatus(v string) (LeadStatus, error) {
	s := LeadStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown lead status %q", v)
	}
	return s, nil
}

// StudentStatus is the state of a converted admission
type StudentStatus string

const (
	StudentActive   StudentStatus = "Active"
	StudentInactive StudentStatus = "Inactive"
)

package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/ambassador/referrals/internal/model"
)

type ambassadorResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Mobile            string  `json:"mobile"`
	Role              string  `json:"role"`
	AdminRole         string  `json:"admin_role"`
	ReferralCode      string  `json:"referral_code"`
	ConfirmedCount    int     `json:"confirmed_referral_count"`
	BenefitPercent    int     `json:"benefit_percent"`
	LongTermQualified bool    `json:"long_term_qualified"`
	BenefitStatus     string  `json:"benefit_status"`
	CampusID          *string `json:"campus_id,omitempty"`
}

func toAmbassadorResponse(a model.Ambassador) ambassadorResponse {
	resp := ambassadorResponse{
		ID:                a.ID.String(),
		Name:              a.Name,
		Mobile:            a.Mobile,
		Role:              string(a.Role),
		AdminRole:         string(a.AdminRole),
		ReferralCode:      a.ReferralCode,
		ConfirmedCount:    a.ConfirmedCount,
		BenefitPercent:    a.BenefitPercent,
		LongTermQualified: a.LongTermQualified,
		BenefitStatus:     string(a.BenefitStatus),
	}
	if a.CampusID != nil {
		s := a.CampusID.String()
		resp.CampusID = &s
	}
	return resp
}

type leadResponse struct {
	ID              string     `json:"id"`
	AmbassadorID    string     `json:"ambassador_id"`
	ParentName      string     `json:"parent_name"`
	ParentMobile    string     `json:"parent_mobile"`
	StudentName     string     `json:"student_name"`
	Campus          string     `json:"campus"`
	CampusID        *string    `json:"campus_id,omitempty"`
	GradeInterested string     `json:"grade_interested"`
	Status          string     `json:"status"`
	AdmissionNumber *string    `json:"admission_number,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	StudentID       *string    `json:"student_id,omitempty"`
}

func toLeadResponse(l model.Lead) leadResponse {
	resp := leadResponse{
		ID:              l.ID.String(),
		AmbassadorID:    l.AmbassadorID.String(),
		ParentName:      l.ParentName,
		ParentMobile:    l.ParentMobile,
		StudentName:     l.StudentName,
		Campus:          l.CampusName,
		GradeInterested: l.GradeInterested,
		Status:          string(l.Status),
		AdmissionNumber: l.AdmissionNumber,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
		ConfirmedAt:     l.ConfirmedAt,
	}
	if l.CampusID != nil {
		s := l.CampusID.String()
		resp.CampusID = &s
	}
	if l.StudentID != nil {
		s := l.StudentID.String()
		resp.StudentID = &s
	}
	return resp
}

func toLeadResponses(leads []model.Lead) []leadResponse {
	out := make([]leadResponse, 0, len(leads))
	for _, l := range leads {
		out = append(out, toLeadResponse(l))
	}
	return out
}

type statusChangeResponse struct {
	ActorID   string    `json:"actor_id,omitempty"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toHistoryResponse(history []model.StatusChange) []statusChangeResponse {
	out := make([]statusChangeResponse, 0, len(history))
	for _, c := range history {
		resp := statusChangeResponse{
			OldStatus: string(c.OldStatus),
			NewStatus: string(c.NewStatus),
			Reason:    c.Reason,
			CreatedAt: c.CreatedAt,
		}
		if c.ActorID != uuid.Nil {
			resp.ActorID = c.ActorID.String()
		}
		out = append(out, resp)
	}
	return out
}

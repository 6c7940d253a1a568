package memrepo

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

type leadRepository struct {
	db *DB
}

// NewLeadRepo returns an in-memory repo.LeadRepo
func NewLeadRepo(db *DB) repo.LeadRepo {
	return &leadRepository{db: db}
}

func (r *leadRepository) Create(_ context.Context, l repo.NewLead) (model.Lead, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Lead{}, r.db.Err
	}
	if r.db.leadBlocks(l.ParentMobile, l.IgnoreRejected) {
		return model.Lead{}, fmt.Errorf("create lead: %w", repo.ErrDuplicate)
	}
	if _, ok := r.db.ambassadors[l.AmbassadorID]; !ok {
		return model.Lead{}, fmt.Errorf("create lead: ambassador: %w", repo.ErrNotFound)
	}
	now := r.db.now()
	created := model.Lead{
		ID:              uuid.New(),
		AmbassadorID:    l.AmbassadorID,
		ParentName:      l.ParentName,
		ParentMobile:    l.ParentMobile,
		StudentName:     l.StudentName,
		CampusName:      l.CampusName,
		CampusID:        l.CampusID,
		GradeInterested: l.GradeInterested,
		Status:          model.LeadNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.db.leads[created.ID] = created
	return created, nil
}

func (r *leadRepository) GetByID(_ context.Context, id uuid.UUID) (model.Lead, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Lead{}, r.db.Err
	}
	if l, ok := r.db.leads[id]; ok {
		return l, nil
	}
	return model.Lead{}, fmt.Errorf("lead: %w", repo.ErrNotFound)
}

func (r *leadRepository) ListByAmbassador(_ context.Context, ambassadorID uuid.UUID) ([]model.Lead, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return nil, r.db.Err
	}
	var out []model.Lead
	for _, l := range r.db.leads {
		if l.AmbassadorID == ambassadorID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *leadRepository) ExistsForMobile(_ context.Context, mobile string, ignoreRejected bool) (bool, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return false, r.db.Err
	}
	return r.db.leadBlocks(mobile, ignoreRejected), nil
}

// leadBlocks must be called with the mutex held
func (db *DB) leadBlocks(mobile string, ignoreRejected bool) bool {
	for _, l := range db.leads {
		if l.ParentMobile != mobile {
			continue
		}
		if ignoreRejected && l.Status == model.LeadRejected {
			continue
		}
		return true
	}
	return false
}

func (r *leadRepository) CountByStatus(_ context.Context, ambassadorID uuid.UUID) (map[model.LeadStatus]int, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return nil, r.db.Err
	}
	counts := make(map[model.LeadStatus]int)
	for _, l := range r.db.leads {
		if l.AmbassadorID == ambassadorID {
			counts[l.Status]++
		}
	}
	return counts, nil
}

func (r *leadRepository) History(_ context.Context, leadID uuid.UUID) ([]model.StatusChange, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return nil, r.db.Err
	}
	var out []model.StatusChange
	for _, c := range r.db.history {
		if c.LeadID == leadID {
			out = append(out, c)
		}
	}
	return out, nil
}

type leadStore struct {
	db *DB
}

// NewLeadStore returns an in-memory repo.LeadStore. Transactions are fully
// serialized; a failing fn restores the tables it could have written.
func NewLeadStore(db *DB) repo.LeadStore {
	return &leadStore{db: db}
}

func (s *leadStore) InLeadTx(ctx context.Context, fn func(tx repo.LeadTx) error) error {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()
	if s.db.Err != nil {
		return s.db.Err
	}
	snap := s.db.snapshot()
	if err := fn(&leadTx{db: s.db}); err != nil {
		s.db.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		s.db.restore(snap)
		return err
	}
	return nil
}

// leadTx runs with the DB mutex already held
type leadTx struct {
	db *DB
}

func (t *leadTx) LockLead(_ context.Context, id uuid.UUID) (model.Lead, error) {
	if l, ok := t.db.leads[id]; ok {
		return l, nil
	}
	return model.Lead{}, fmt.Errorf("lead: %w", repo.ErrNotFound)
}

func (t *leadTx) LockAmbassador(_ context.Context, id uuid.UUID) (model.Ambassador, error) {
	if a, ok := t.db.ambassadors[id]; ok {
		return a, nil
	}
	return model.Ambassador{}, fmt.Errorf("ambassador: %w", repo.ErrNotFound)
}

func (t *leadTx) SaveLead(_ context.Context, l model.Lead) error {
	existing, ok := t.db.leads[l.ID]
	if !ok {
		return fmt.Errorf("update lead: %w", repo.ErrNotFound)
	}
	if l.Status.Counted() != (l.ConfirmedAt != nil) {
		return fmt.Errorf("update lead: confirmed_at does not match status %s", l.Status)
	}
	existing.Status = l.Status
	existing.AdmissionNumber = l.AdmissionNumber
	existing.ConfirmedAt = l.ConfirmedAt
	existing.CampusID = l.CampusID
	existing.StudentID = l.StudentID
	existing.UpdatedAt = l.UpdatedAt
	t.db.leads[l.ID] = existing
	return nil
}

func (t *leadTx) CountCountedLeads(_ context.Context, ambassadorID uuid.UUID) (int, error) {
	n := 0
	for _, l := range t.db.leads {
		if l.AmbassadorID == ambassadorID && l.Status.Counted() {
			n++
		}
	}
	return n, nil
}

func (t *leadTx) UpdateAmbassadorBenefit(_ context.Context, id uuid.UUID, b repo.AmbassadorBenefit) error {
	a, ok := t.db.ambassadors[id]
	if !ok {
		return fmt.Errorf("update ambassador benefit: %w", repo.ErrNotFound)
	}
	a.ConfirmedCount = b.ConfirmedCount
	a.BenefitPercent = b.BenefitPercent
	a.LongTermQualified = b.LongTermQualified
	a.BenefitStatus = b.BenefitStatus
	t.db.ambassadors[id] = a
	return nil
}

func (t *leadTx) RecordStatusChange(_ context.Context, c model.StatusChange) error {
	t.db.history = append(t.db.history, c)
	return nil
}

func (t *leadTx) CampusByID(_ context.Context, id uuid.UUID) (model.Campus, error) {
	return t.db.campusByID(id)
}

func (t *leadTx) CampusByName(_ context.Context, name string) (model.Campus, error) {
	return t.db.campusByName(name)
}

func (t *leadTx) AmbassadorByMobile(_ context.Context, mobile string) (model.Ambassador, error) {
	return t.db.ambassadorByMobile(mobile)
}

func (t *leadTx) CreateAmbassador(_ context.Context, a repo.NewAmbassador) (model.Ambassador, error) {
	return t.db.createAmbassador(a)
}

func (t *leadTx) CreateStudent(_ context.Context, s repo.NewStudent) (model.Student, error) {
	for _, existing := range t.db.students {
		if existing.ReferralLeadID != nil && *existing.ReferralLeadID == s.ReferralLeadID {
			return model.Student{}, fmt.Errorf("create student: %w", repo.ErrDuplicate)
		}
	}
	leadID := s.ReferralLeadID
	st := model.Student{
		ID:              uuid.New(),
		StudentName:     s.StudentName,
		ParentID:        s.ParentID,
		ReferrerID:      s.ReferrerID,
		CampusID:        s.CampusID,
		Grade:           s.Grade,
		ReferralLeadID:  &leadID,
		BaseFee:         s.BaseFee,
		DiscountPercent: s.DiscountPercent,
		Status:          model.StudentActive,
		CreatedAt:       t.db.now(),
	}
	t.db.students[st.ID] = st
	return st, nil
}

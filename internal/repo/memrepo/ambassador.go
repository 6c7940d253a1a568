package memrepo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

type ambassadorRepository struct {
	db *DB
}

// NewAmbassadorRepo returns an in-memory repo.AmbassadorRepo
func NewAmbassadorRepo(db *DB) repo.AmbassadorRepo {
	return &ambassadorRepository{db: db}
}

func (r *ambassadorRepository) Create(_ context.Context, a repo.NewAmbassador) (model.Ambassador, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Ambassador{}, r.db.Err
	}
	return r.db.createAmbassador(a)
}

func (r *ambassadorRepository) GetByID(_ context.Context, id uuid.UUID) (model.Ambassador, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Ambassador{}, r.db.Err
	}
	if a, ok := r.db.ambassadors[id]; ok {
		return a, nil
	}
	return model.Ambassador{}, fmt.Errorf("ambassador: %w", repo.ErrNotFound)
}

func (r *ambassadorRepository) GetByMobile(_ context.Context, mobile string) (model.Ambassador, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Ambassador{}, r.db.Err
	}
	return r.db.ambassadorByMobile(mobile)
}

func (r *ambassadorRepository) ExistsByMobile(_ context.Context, mobile string) (bool, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return false, r.db.Err
	}
	_, err := r.db.ambassadorByMobile(mobile)
	return err == nil, nil
}

func (db *DB) ambassadorByMobile(mobile string) (model.Ambassador, error) {
	for _, a := range db.ambassadors {
		if a.Mobile == mobile {
			return a, nil
		}
	}
	return model.Ambassador{}, fmt.Errorf("ambassador: %w", repo.ErrNotFound)
}

func (db *DB) createAmbassador(a repo.NewAmbassador) (model.Ambassador, error) {
	for _, existing := range db.ambassadors {
		if existing.Mobile == a.Mobile || existing.ReferralCode == a.ReferralCode {
			return model.Ambassador{}, fmt.Errorf("create ambassador: %w", repo.ErrDuplicate)
		}
	}
	if a.AdminRole == "" {
		a.AdminRole = model.AdminNone
	}
	created := model.Ambassador{
		ID:            uuid.New(),
		Name:          a.Name,
		Mobile:        a.Mobile,
		Role:          a.Role,
		AdminRole:     a.AdminRole,
		ReferralCode:  a.ReferralCode,
		BenefitStatus: model.BenefitInactive,
		CampusID:      a.CampusID,
		CreatedAt:     db.now(),
	}
	db.ambassadors[created.ID] = created
	return created, nil
}

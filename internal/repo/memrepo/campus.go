package memrepo

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

type campusRepository struct {
	db *DB
}

// NewCampusRepo returns an in-memory repo.CampusRepo
func NewCampusRepo(db *DB) repo.CampusRepo {
	return &campusRepository{db: db}
}

func (r *campusRepository) GetByName(_ context.Context, name string) (model.Campus, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Campus{}, r.db.Err
	}
	return r.db.campusByName(name)
}

func (r *campusRepository) GetByID(_ context.Context, id uuid.UUID) (model.Campus, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Campus{}, r.db.Err
	}
	return r.db.campusByID(id)
}

func (r *campusRepository) List(_ context.Context) ([]model.Campus, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return nil, r.db.Err
	}
	out := make([]model.Campus, 0, len(r.db.campuses))
	for _, c := range r.db.campuses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *campusRepository) Create(_ context.Context, name, normalizedName string) (model.Campus, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return model.Campus{}, r.db.Err
	}
	for _, c := range r.db.campuses {
		if c.Name == name || c.NormalizedName == normalizedName {
			return model.Campus{}, fmt.Errorf("create campus %q: %w", name, repo.ErrDuplicate)
		}
	}
	c := model.Campus{ID: uuid.New(), Name: name, NormalizedName: normalizedName, CreatedAt: r.db.now()}
	r.db.campuses[c.ID] = c
	return c, nil
}

func (db *DB) campusByName(name string) (model.Campus, error) {
	for _, c := range db.campuses {
		if c.Name == name {
			return c, nil
		}
	}
	return model.Campus{}, fmt.Errorf("campus: %w", repo.ErrNotFound)
}

func (db *DB) campusByID(id uuid.UUID) (model.Campus, error) {
	if c, ok := db.campuses[id]; ok {
		return c, nil
	}
	return model.Campus{}, fmt.Errorf("campus: %w", repo.ErrNotFound)
}

type slabRepository struct {
	db *DB
}

// NewSlabRepo returns an in-memory repo.SlabRepo
func NewSlabRepo(db *DB) repo.SlabRepo {
	return &slabRepository{db: db}
}

func (r *slabRepository) List(_ context.Context) ([]model.BenefitSlab, error) {
	r.db.mutex.Lock()
	defer r.db.mutex.Unlock()
	if r.db.Err != nil {
		return nil, r.db.Err
	}
	return append([]model.BenefitSlab(nil), r.db.slabs...), nil
}

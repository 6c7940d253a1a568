// Package memrepo holds in-memory implementations of the repo interfaces.
// It backs service tests and the memory-only dev mode; every table shares one
// mutex so a LeadTx sees and mutates a consistent snapshot.
package memrepo

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ambassador/referrals/internal/model"
)

// DB is the shared in-memory state
type DB struct {
	mutex sync.Mutex

	ambassadors map[uuid.UUID]model.Ambassador
	campuses    map[uuid.UUID]model.Campus
	leads       map[uuid.UUID]model.Lead
	students    map[uuid.UUID]model.Student
	otps        map[string]model.OtpVerification
	history     []model.StatusChange
	slabs       []model.BenefitSlab

	// Err, when set, is returned by every operation. Tests use it to
	// simulate storage outages.
	Err error

	now func() time.Time
}

// New creates an empty database seeded with slabs
func New(slabs []model.BenefitSlab) *DB {
	return &DB{
		ambassadors: make(map[uuid.UUID]model.Ambassador),
		campuses:    make(map[uuid.UUID]model.Campus),
		leads:       make(map[uuid.UUID]model.Lead),
		students:    make(map[uuid.UUID]model.Student),
		otps:        make(map[string]model.OtpVerification),
		slabs:       slabs,
		now:         time.Now,
	}
}

// SetClock replaces the clock used for created/updated timestamps
func (db *DB) SetClock(now func() time.Time) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.now = now
}

type snapshot struct {
	ambassadors map[uuid.UUID]model.Ambassador
	leads       map[uuid.UUID]model.Lead
	students    map[uuid.UUID]model.Student
	history     []model.StatusChange
}

// snapshot copies the tables a LeadTx can write. Caller holds the mutex.
func (db *DB) snapshot() snapshot {
	s := snapshot{
		ambassadors: make(map[uuid.UUID]model.Ambassador, len(db.ambassadors)),
		leads:       make(map[uuid.UUID]model.Lead, len(db.leads)),
		students:    make(map[uuid.UUID]model.Student, len(db.students)),
		history:     append([]model.StatusChange(nil), db.history...),
	}
	for k, v := range db.ambassadors {
		s.ambassadors[k] = v
	}
	for k, v := range db.leads {
		s.leads[k] = v
	}
	for k, v := range db.students {
		s.students[k] = v
	}
	return s
}

func (db *DB) restore(s snapshot) {
	db.ambassadors = s.ambassadors
	db.leads = s.leads
	db.students = s.students
	db.history = s.history
}

// Students returns every student, for assertions
func (db *DB) Students() []model.Student {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	out := make([]model.Student, 0, len(db.students))
	for _, s := range db.students {
		out = append(out, s)
	}
	return out
}

// History returns every recorded status change in insertion order
func (db *DB) History() []model.StatusChange {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	return append([]model.StatusChange(nil), db.history...)
}

// Package testdata generates realistic fixture values for tests.
package testdata

import (
	"strings"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

var grades = []string{"Nursery", "LKG", "UKG", "Grade 1", "Grade 2", "Grade 5", "Grade 8", "Grade 11"}

// Seed makes subsequent fixtures deterministic
func Seed(seed int64) {
	gofakeit.Seed(seed)
}

// Mobile returns a ten-digit Indian mobile number in normalized form
func Mobile() string {
	return "9" + gofakeit.Numerify("#########")
}

// PersonName returns a full name
func PersonName() string {
	return gofakeit.FirstName() + " " + gofakeit.LastName()
}

// Grade returns a grade label
func Grade() string {
	return gofakeit.RandomString(grades)
}

// ReferralCode returns a code in the production format
func ReferralCode() string {
	return "AMB" + strings.ToUpper(gofakeit.LetterN(2)) + gofakeit.Numerify("####")
}

// NewAmbassador returns creation fields for an ambassador with a fresh mobile
func NewAmbassador(role model.Role) repo.NewAmbassador {
	return repo.NewAmbassador{
		Name:         PersonName(),
		Mobile:       Mobile(),
		Role:         role,
		AdminRole:    model.AdminNone,
		ReferralCode: ReferralCode(),
	}
}

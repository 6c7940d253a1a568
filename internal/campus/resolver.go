// Package campus maps free-text campus references onto canonical records.
package campus

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

// Resolver looks up canonical campuses
type Resolver struct {
	campuses repo.CampusRepo
}

// NewResolver creates a Resolver
func NewResolver(campuses repo.CampusRepo) *Resolver {
	return &Resolver{campuses: campuses}
}

// Resolve matches nameOrID exactly against campus names, then against ids.
// There is no fuzzy matching at runtime: "Main Campus " does not resolve to
// "Main Campus".
func (r *Resolver) Resolve(ctx context.Context, nameOrID string) (model.Campus, error) {
	if nameOrID == "" {
		return model.Campus{}, apperr.New(apperr.CampusNotFound, "campus is required")
	}

	c, err := r.campuses.GetByName(ctx, nameOrID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.Campus{}, apperr.StorageErr("resolve campus", err)
	}

	if id, parseErr := uuid.Parse(nameOrID); parseErr == nil {
		c, err = r.campuses.GetByID(ctx, id)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.Campus{}, apperr.StorageErr("resolve campus", err)
		}
	}
	return model.Campus{}, apperr.Newf(apperr.CampusNotFound, "campus %q not found", nameOrID)
}

// NormalizeName folds case, strips diacritics and collapses punctuation and
// whitespace so "  St. Mary's  Campus" and "st marys campus" compare equal.
// It is used by the offline campus sync, never by Resolve.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = cases.Fold().String(folded)

	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

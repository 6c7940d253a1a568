package campus

import (
	"context"
	"errors"
	"strings"

	"github.com/ambassador/referrals/internal/model"
	"github.com/ambassador/referrals/internal/repo"
)

// SyncReport describes what Sync did with each input name
type SyncReport struct {
	Created   []string
	Unchanged []string
	// Conflicts maps an input name to the existing canonical name that
	// normalizes to the same key. Those inputs are not created.
	Conflicts map[string]string
	Skipped   []string
}

// Sync makes sure every name in names exists as a canonical campus. Blank
// lines and lines starting with '#' are ignored. A name that normalizes to an
// existing campus under a different spelling is reported and left alone, since
// lead resolution matches canonical names exactly. With dryRun nothing is written.
func Sync(ctx context.Context, campuses repo.CampusRepo, names []string, dryRun bool) (SyncReport, error) {
	existing, err := campuses.List(ctx)
	if err != nil {
		return SyncReport{}, err
	}
	byKey := make(map[string]model.Campus, len(existing))
	for _, c := range existing {
		byKey[c.NormalizedName] = c
	}

	report := SyncReport{Conflicts: make(map[string]string)}
	for _, raw := range names {
		name := strings.Join(strings.Fields(raw), " ")
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		key := NormalizeName(name)
		if key == "" {
			report.Skipped = append(report.Skipped, name)
			continue
		}

		if c, ok := byKey[key]; ok {
			if c.Name == name {
				report.Unchanged = append(report.Unchanged, name)
			} else {
				report.Conflicts[name] = c.Name
			}
			continue
		}

		if dryRun {
			byKey[key] = model.Campus{Name: name, NormalizedName: key}
			report.Created = append(report.Created, name)
			continue
		}

		c, err := campuses.Create(ctx, name, key)
		if errors.Is(err, repo.ErrDuplicate) {
			// Created concurrently by another sync
			report.Unchanged = append(report.Unchanged, name)
			continue
		}
		if err != nil {
			return report, err
		}
		byKey[key] = c
		report.Created = append(report.Created, name)
	}
	return report, nil
}

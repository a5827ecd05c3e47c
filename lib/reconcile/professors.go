package reconcile

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"sigaasync-backend/lib/scrapers/sigaa"

	"go.opentelemetry.io/otel/attribute"
)

// instructor cells may carry several names joined by "e" or commas
var instructorSeparator = regexp.MustCompile(` e |, `)

// workload annotations like "(64h)" trail some instructor names
var workloadSuffix = regexp.MustCompile(`\s*\(\d+h\)`)

type professorResult struct {
	resolved []UserRow
	notFound []NotFoundProfessor
}

type professorAssignment struct {
	name   string
	course string
}

// uniqueProfessors expands the free-text instructor field of each row
// into (instructor, section shortname) pairs and deduplicates them.
func uniqueProfessors(rows []Row) []professorAssignment {
	index := map[string]bool{}
	var out []professorAssignment
	for _, row := range rows {
		for _, name := range instructorSeparator.Split(row.Docente, -1) {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			key := name + "-" + row.CourseShortName
			if index[key] {
				continue
			}
			index[key] = true
			out = append(out, professorAssignment{
				name:   name,
				course: row.CourseShortName,
			})
		}
	}
	return out
}

// processProfessors resolves every unique (instructor, section) pair by
// full name. Lookups run sequentially; a directory error aborts the
// whole pass and returns empty sets, the rest of the pipeline is not
// affected.
func processProfessors(ctx context.Context, dir Directory, rows []Row) professorResult {
	ctx, span := tracer.Start(ctx, "processProfessors")
	defer span.End()

	unique := uniqueProfessors(rows)
	span.SetAttributes(attribute.Int("unique_professors", len(unique)))
	slog.InfoContext(ctx, "resolving professors", "unique", len(unique))

	var resolved []UserRow
	var notFound []NotFoundProfessor
	for _, prof := range unique {
		cleaned := strings.TrimSpace(workloadSuffix.ReplaceAllString(prof.name, ""))

		uid := ""
		if cleaned != "" && !strings.Contains(cleaned, sigaa.UnassignedInstructor) {
			entries, err := dir.FindByFullName(ctx, cleaned)
			if err != nil {
				slog.ErrorContext(
					ctx,
					"professor lookup failed, aborting professor pass",
					"nome", cleaned,
					"err", err,
				)
				return professorResult{}
			}
			switch {
			case len(entries) == 1:
				uid = entries[0].UID
			case len(entries) > 1:
				slog.WarnContext(
					ctx,
					"ambiguous professor name, leaving unresolved",
					"nome", cleaned,
					"matches", len(entries),
				)
			}
		}

		if uid == "" {
			notFound = append(notFound, NotFoundProfessor{
				Nome:   cleaned,
				CPF:    notFoundMarker,
				Course: prof.course,
			})
			continue
		}

		first, last := splitName(cleaned)
		resolved = append(resolved, UserRow{
			Username:  uid,
			Firstname: first,
			Lastname:  last,
			Email:     emailPlaceholder,
			Role:      RoleProfessor,
			Course:    prof.course,
		})
	}

	resolved = dedupeUsers(resolved)
	slog.InfoContext(
		ctx,
		"professor resolution finished",
		"resolved", len(resolved),
		"not_found", len(notFound),
	)
	return professorResult{resolved: resolved, notFound: notFound}
}

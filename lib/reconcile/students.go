package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"sigaasync-backend/lib/scrapers/sigaa"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
)

// names resolved by matricula whose directory full name diverges more
// than this from the scraped one are logged, the number may belong to
// someone else
const nameSimilarityFloor = 0.85

type studentResult struct {
	resolved []UserRow
	notFound []NotFoundStudent
	swaps    []SwapStudent
	pending  []PendingStudent
}

// uniqueStudents deduplicates rows by matriculation number, dropping
// the empty-roster sentinel. The last row wins for a repeated number,
// positions follow first appearance.
func uniqueStudents(rows []Row) []Row {
	index := map[string]int{}
	var out []Row
	for _, r := range rows {
		if r.Matricula == "" || r.Matricula == sigaa.NoStudentSentinel {
			continue
		}
		if i, ok := index[r.Matricula]; ok {
			out[i] = r
			continue
		}
		index[r.Matricula] = len(out)
		out = append(out, r)
	}
	return out
}

func processStudents(ctx context.Context, dir Directory, rows []Row) studentResult {
	ctx, span := tracer.Start(ctx, "processStudents")
	defer span.End()

	unique := uniqueStudents(rows)
	span.SetAttributes(attribute.Int("unique_students", len(unique)))
	slog.InfoContext(ctx, "resolving students", "unique", len(unique))

	// pass 1: direct lookup by matriculation number, enrolled
	// students only
	resolvedUID := map[string]string{}
	var missing []Row
	for _, student := range unique {
		if student.Situacao != enrolledStatus {
			slog.DebugContext(
				ctx,
				"student not enrolled, skipping directory lookup",
				"matricula", student.Matricula,
				"situacao", student.Situacao,
			)
			missing = append(missing, student)
			continue
		}

		entry, ok, err := dir.FindByMatricula(ctx, student.Matricula)
		if err != nil {
			slog.ErrorContext(
				ctx,
				"matricula lookup failed",
				"matricula", student.Matricula,
				"err", err,
			)
			missing = append(missing, student)
			continue
		}
		if !ok {
			missing = append(missing, student)
			continue
		}

		if entry.NomeCompleto != "" {
			similarity := matchr.JaroWinkler(student.Nome, entry.NomeCompleto, true)
			if similarity < nameSimilarityFloor {
				slog.WarnContext(
					ctx,
					"matricula resolved but names diverge",
					"matricula", student.Matricula,
					"scraped", student.Nome,
					"directory", entry.NomeCompleto,
					"similarity", similarity,
				)
			}
		}
		resolvedUID[student.Matricula] = entry.UID
	}
	slog.InfoContext(
		ctx,
		"matricula pass finished",
		"found", len(resolvedUID),
		"missing", len(missing),
	)

	// pass 2: fallback lookup by full name, enrolled students only.
	// a unique name match means the scraped number and the stored
	// number belong to the same person, record it as a swap.
	var swaps []SwapStudent
	swapped := map[string]bool{}
	for _, student := range missing {
		if student.Situacao != enrolledStatus {
			continue
		}

		entries, err := dir.FindByFullName(ctx, student.Nome)
		if err != nil {
			slog.ErrorContext(
				ctx,
				"name lookup failed",
				"nome", student.Nome,
				"err", err,
			)
			continue
		}
		if len(entries) == 0 {
			continue
		}
		if len(entries) > 1 {
			slog.WarnContext(
				ctx,
				"ambiguous name match, leaving unresolved",
				"nome", student.Nome,
				"matches", len(entries),
			)
			continue
		}

		entry := entries[0]
		swaps = append(swaps, SwapStudent{
			Matricula:       student.Matricula,
			Nome:            student.Nome,
			Curso:           student.Curso,
			TipoReserva:     student.TipoReserva,
			CPF:             entry.UID,
			MatriculaAntiga: entry.Matricula,
			CursoAntigo:     entry.Curso,
			Semestre:        orNan(entry.Semestre),
			Siape:           orNan(entry.Siape),
		})

		newNumber, newErr := strconv.Atoi(student.Matricula)
		oldNumber, oldErr := strconv.Atoi(entry.Matricula)
		if newErr == nil && oldErr == nil && newNumber > oldNumber {
			slog.InfoContext(
				ctx,
				"scraped matricula is newer, updating directory",
				"uid", entry.UID,
				"old", oldNumber,
				"new", newNumber,
			)
			err := dir.UpdateFields(ctx, entry.DN, map[string]string{
				"matricula": strconv.Itoa(newNumber),
				"curso":     student.Curso,
			})
			if err != nil {
				slog.ErrorContext(
					ctx,
					"directory update failed",
					"dn", entry.DN,
					"err", err,
				)
			}
		}

		resolvedUID[student.Matricula] = entry.UID
		swapped[student.Matricula] = true
	}
	slog.InfoContext(ctx, "name pass finished", "swaps", len(swaps))

	// whatever is still missing forms the final not-found set,
	// sorted by reservation type
	var notFound []NotFoundStudent
	for _, student := range missing {
		if swapped[student.Matricula] {
			continue
		}
		notFound = append(notFound, NotFoundStudent{
			Matricula:   student.Matricula,
			Nome:        student.Nome,
			Curso:       student.Curso,
			TipoReserva: student.TipoReserva,
			CPF:         notFoundMarker,
		})
	}
	sort.SliceStable(notFound, func(i, j int) bool {
		return notFound[i].TipoReserva < notFound[j].TipoReserva
	})

	pending := make([]PendingStudent, len(notFound))
	for i, s := range notFound {
		pending[i] = PendingStudent{
			Matricula: s.Matricula,
			Nome:      s.Nome,
			Curso:     s.Curso,
		}
	}

	// flatten every raw row whose student resolved into the final
	// import shape, one line per (student, section)
	var resolved []UserRow
	for _, row := range rows {
		uid, ok := resolvedUID[row.Matricula]
		if !ok {
			continue
		}
		first, last := splitName(row.Nome)
		resolved = append(resolved, UserRow{
			Username:  uid,
			Firstname: first,
			Lastname:  last,
			Email:     emailPlaceholder,
			Role:      RoleStudent,
			Course:    row.CourseShortName,
		})
	}
	resolved = dedupeUsers(resolved)
	slog.InfoContext(
		ctx,
		"student resolution finished",
		"resolved", len(resolved),
		"not_found", len(notFound),
		"pending_registration", len(pending),
	)

	return studentResult{
		resolved: resolved,
		notFound: notFound,
		swaps:    swaps,
		pending:  pending,
	}
}

func orNan(v string) string {
	if v == "" {
		return "nan"
	}
	return v
}

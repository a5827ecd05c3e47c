// Package reconcile resolves scraped enrollment rows against the
// university directory, producing the categorized record sets the
// import files are generated from.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"sigaasync-backend/lib/directory"
	"sigaasync-backend/lib/scrapers/sigaa"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/reconcile")

const (
	RoleStudent   = "student"
	RoleProfessor = "editingteacher"

	// the import format has no real email source, the placeholder is
	// part of the downstream contract
	emailPlaceholder = "zz"

	enrolledStatus = "MATRICULADO"

	notFoundMarker   = "Não Encontrado"
	processingFailed = "ERRO NO PROCESSAMENTO"
)

// Directory is the narrow capability surface the reconciler needs.
// *directory.Client satisfies it; tests substitute a fake.
type Directory interface {
	FindByMatricula(ctx context.Context, matricula string) (directory.Entry, bool, error)
	FindByFullName(ctx context.Context, fullName string) ([]directory.Entry, error)
	UpdateFields(ctx context.Context, dn string, fields map[string]string) error
}

// Row is a scraped enrollment row after input preparation: course name
// trimmed to its short form, the section shortname derived, the student
// name reduced to its first line.
type Row struct {
	Codigo          string
	Componente      string
	Docente         string
	Turma           string
	Matricula       string
	Nome            string
	Curso           string
	TipoReserva     string
	Situacao        string
	CourseShortName string
}

// UserRow is one line of the resolved users import format.
type UserRow struct {
	Username  string
	Firstname string
	Lastname  string
	Email     string
	Role      string
	Course    string
}

type NotFoundStudent struct {
	Matricula   string
	Nome        string
	Curso       string
	TipoReserva string
	CPF         string
}

type PendingStudent struct {
	Matricula string
	Nome      string
	Curso     string
}

type SwapStudent struct {
	Matricula       string
	Nome            string
	Curso           string
	TipoReserva     string
	CPF             string
	MatriculaAntiga string
	CursoAntigo     string
	Semestre        string
	Siape           string
}

type NotFoundProfessor struct {
	Nome   string
	CPF    string
	Course string
}

type Class struct {
	Shortname        string
	Fullname         string
	CategoryIDNumber string
}

// Outcome partitions every unique student and professor seen in the
// input into resolved, not-found and swap sets, plus the derived class
// list and the combined user list.
type Outcome struct {
	Students           []UserRow
	NotFoundStudents   []NotFoundStudent
	SwapStudents       []SwapStudent
	PendingStudents    []PendingStudent
	Professors         []UserRow
	NotFoundProfessors []NotFoundProfessor
	Classes            []Class
	Users              []UserRow
}

// Prepare turns raw scraped rows into reconciler input. category is the
// "year.semester" label the section shortnames are built with.
func Prepare(rows []sigaa.Row, category string) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		curso := strings.Split(r.Curso, " -")[0]
		shortname := fmt.Sprintf(
			"%s - %s - %s - %s",
			r.Codigo,
			r.Componente,
			strings.ReplaceAll(r.Turma, "Turma ", ""),
			category,
		)
		nome := strings.TrimSuffix(strings.SplitN(r.Nome, "\n", 2)[0], "\r")

		out[i] = Row{
			Codigo:          r.Codigo,
			Componente:      r.Componente,
			Docente:         r.Docente,
			Turma:           r.Turma,
			Matricula:       r.Matricula,
			Nome:            nome,
			Curso:           curso,
			TipoReserva:     r.TipoReserva,
			Situacao:        r.Situacao,
			CourseShortName: shortname,
		}
	}
	return out
}

// Process runs the full reconciliation over prepared rows: the two-pass
// student resolution, the professor pass and the class derivation. The
// directory connection must already be bound. Failures inside a pass
// degrade that pass only, they never abort the others.
func Process(ctx context.Context, dir Directory, rows []Row, category string) Outcome {
	ctx, span := tracer.Start(ctx, "Process")
	defer span.End()

	students := processStudents(ctx, dir, rows)
	professors := processProfessors(ctx, dir, rows)
	classes := deriveClasses(rows, category)

	return Outcome{
		Students:           students.resolved,
		NotFoundStudents:   students.notFound,
		SwapStudents:       students.swaps,
		PendingStudents:    students.pending,
		Professors:         professors.resolved,
		NotFoundProfessors: professors.notFound,
		Classes:            classes,
		Users:              append(append([]UserRow{}, students.resolved...), professors.resolved...),
	}
}

// Degraded is the outcome used when the directory could not be bound at
// all: every unique student lands in not-found with an error marker and
// no identity is resolved. Classes are still derived, they do not need
// the directory.
func Degraded(rows []Row, category string) Outcome {
	unique := uniqueStudents(rows)
	notFound := make([]NotFoundStudent, len(unique))
	for i, s := range unique {
		notFound[i] = NotFoundStudent{
			Matricula:   s.Matricula,
			Nome:        s.Nome,
			Curso:       s.Curso,
			TipoReserva: s.TipoReserva,
			CPF:         processingFailed,
		}
	}
	return Outcome{
		NotFoundStudents: notFound,
		Classes:          deriveClasses(rows, category),
	}
}

// splitName takes the first whitespace-delimited token as the first
// name and the remainder as the last name.
func splitName(full string) (string, string) {
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// dedupeUsers removes duplicate (username, course) pairs, keeping the
// first-seen position and the last-seen value, the way the generated
// files have always deduplicated.
func dedupeUsers(users []UserRow) []UserRow {
	index := map[string]int{}
	var out []UserRow
	for _, u := range users {
		key := u.Username + u.Course
		if i, ok := index[key]; ok {
			out[i] = u
			continue
		}
		index[key] = len(out)
		out = append(out, u)
	}
	return out
}

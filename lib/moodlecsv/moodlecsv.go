// Package moodlecsv serializes reconciliation outcomes into the
// semicolon-delimited, BOM-prefixed CSV files the learning-management
// system imports. It is a pure transform: no I/O, deterministic,
// idempotent.
package moodlecsv

import (
	"fmt"
	"strings"

	"sigaasync-backend/lib/reconcile"
)

const (
	bom       = "\uFEFF"
	delimiter = ";"
	newline   = "\r\n"
)

// File is one generated CSV payload.
type File struct {
	Filename string
	Content  string
}

// Files renders the eight category files for one reconciliation
// outcome. category is the "year.semester" label used in filenames.
func Files(out reconcile.Outcome, category string) []File {
	users := func(rows []reconcile.UserRow) [][]string {
		cells := make([][]string, len(rows))
		for i, u := range rows {
			cells[i] = []string{u.Username, u.Firstname, u.Lastname, u.Email, u.Role, u.Course}
		}
		return cells
	}

	classes := make([][]string, len(out.Classes))
	for i, c := range out.Classes {
		classes[i] = []string{c.Shortname, c.Fullname, c.CategoryIDNumber}
	}

	notFoundStudents := make([][]string, len(out.NotFoundStudents))
	for i, s := range out.NotFoundStudents {
		notFoundStudents[i] = []string{s.Matricula, s.Nome, s.Curso, s.TipoReserva, s.CPF}
	}

	pending := make([][]string, len(out.PendingStudents))
	for i, s := range out.PendingStudents {
		pending[i] = []string{s.Matricula, s.Nome, s.Curso}
	}

	swaps := make([][]string, len(out.SwapStudents))
	for i, s := range out.SwapStudents {
		swaps[i] = []string{
			s.Matricula, s.Nome, s.Curso, s.TipoReserva, s.CPF,
			s.MatriculaAntiga, s.CursoAntigo, s.Semestre, s.Siape,
		}
	}

	notFoundProfessors := make([][]string, len(out.NotFoundProfessors))
	for i, p := range out.NotFoundProfessors {
		notFoundProfessors[i] = []string{p.Nome, p.CPF, p.Course}
	}

	userColumns := []string{"username", "firstname", "lastname", "email", "role1", "course1"}

	return []File{
		{
			Filename: fmt.Sprintf("Turmas-%s.csv", category),
			Content:  marshal([]string{"shortname", "fullname", "category_idnumber"}, classes),
		},
		{
			Filename: fmt.Sprintf("Alunos-%s.csv", category),
			Content:  marshal(userColumns, users(out.Students)),
		},
		{
			Filename: fmt.Sprintf("Alunos-NãoCadastrados-%s.csv", category),
			Content:  marshal([]string{"Matrícula", "Nome", "Curso", "Tipo de Reserva", "CPF"}, notFoundStudents),
		},
		{
			Filename: fmt.Sprintf("Alunos-Pre-Postegres-%s.csv", category),
			Content:  marshal([]string{"Matrícula", "Nome", "Curso"}, pending),
		},
		{
			Filename: fmt.Sprintf("Alunos-TrocarMatricula-%s.csv", category),
			Content: marshal([]string{
				"Matrícula", "Nome", "Curso", "Tipo de Reserva", "CPF",
				"MatriculaAntiga", "CursoAntigo", "Semestre", "Siape",
			}, swaps),
		},
		{
			Filename: fmt.Sprintf("Professores-%s.csv", category),
			Content:  marshal(userColumns, users(out.Professors)),
		},
		{
			Filename: fmt.Sprintf("Professores-NãoCadastrados-%s.csv", category),
			Content:  marshal([]string{"nome", "cpf", "course1"}, notFoundProfessors),
		},
		{
			Filename: fmt.Sprintf("Usuarios-%s.csv", category),
			Content:  marshal(userColumns, users(out.Users)),
		},
	}
}

// marshal renders one CSV payload: UTF-8 BOM, header row, one line per
// record, no terminator after the last record. Fields are only quoted
// when they carry the delimiter, a quote or a line break.
func marshal(columns []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString(bom)
	writeRecord(&b, columns)
	for _, row := range rows {
		b.WriteString(newline)
		writeRecord(&b, row)
	}
	return b.String()
}

func writeRecord(b *strings.Builder, fields []string) {
	for i, field := range fields {
		if i > 0 {
			b.WriteString(delimiter)
		}
		b.WriteString(escape(field))
	}
}

func escape(field string) string {
	if !strings.ContainsAny(field, delimiter+"\"\n\r") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

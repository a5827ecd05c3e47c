// Package sigaa drives a controlled browser through the SIGAA academic
// portal to collect raw class-enrollment rows. Navigation is modeled as
// a small state machine over a page-automation interface so it can be
// exercised without a live browser.
package sigaa

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/sigaa")

const (
	DefaultBaseURL = "https://si3.ufc.br/sigaa"

	// organizational unit submitted in the section search form
	// (CAMPUS DA UFC EM QUIXADÁ)
	DefaultUnit = "1020"

	// NoStudentSentinel fills the matricula field of the single row
	// emitted for a section whose roster is empty. Downstream
	// consumers rely on it.
	NoStudentSentinel = "SEM ALUNO"

	emptyField = "***"

	// UnassignedInstructor is the portal's placeholder in the
	// instructor column.
	UnassignedInstructor = "A DEFINIR"

	navigationTimeout = 30 * time.Second
)

var ErrLoginFailed = errors.New("falha no login no SIGAA")

// Row is one student-in-class record exactly as scraped.
type Row struct {
	Codigo      string `json:"codigo"`
	Componente  string `json:"componente"`
	Docente     string `json:"docente"`
	Turma       string `json:"turma"`
	Matricula   string `json:"matricula"`
	Nome        string `json:"nome"`
	Curso       string `json:"curso"`
	TipoReserva string `json:"tipoReserva"`
	Situacao    string `json:"situacao"`
}

// section addresses one class section in the results list. The id is
// only meaningful within the live portal session.
type section struct {
	codigo     string
	componente string
	docente    string
	turma      string
	id         string
}

// Options configure one extraction run.
type Options struct {
	BaseURL  string
	Unit     string
	Username string
	Password string
	Year     string
	Semester string

	// Log receives progress lines for streaming/persistence. Errlog
	// receives error lines. Both may be nil.
	Log    func(message string)
	Errlog func(message string)

	// Cancelled is polled before each section. May be nil.
	Cancelled func() bool
}

// Outcome is the result of a completed navigation. Cancelled outcomes
// carry no rows.
type Outcome struct {
	Rows      []Row
	Cancelled bool
}

package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"sigaasync-backend/lib/directory"
	"sigaasync-backend/lib/scrapers/sigaa"
)

type fieldUpdate struct {
	dn     string
	fields map[string]string
}

type fakeDirectory struct {
	byMatricula  map[string]directory.Entry
	byName       map[string][]directory.Entry
	matriculaErr error
	nameErr      error

	matriculaLookups []string
	nameLookups      []string
	updates          []fieldUpdate
}

func (f *fakeDirectory) FindByMatricula(ctx context.Context, matricula string) (directory.Entry, bool, error) {
	f.matriculaLookups = append(f.matriculaLookups, matricula)
	if f.matriculaErr != nil {
		return directory.Entry{}, false, f.matriculaErr
	}
	entry, ok := f.byMatricula[matricula]
	return entry, ok, nil
}

func (f *fakeDirectory) FindByFullName(ctx context.Context, fullName string) ([]directory.Entry, error) {
	f.nameLookups = append(f.nameLookups, fullName)
	if f.nameErr != nil {
		return nil, f.nameErr
	}
	return f.byName[fullName], nil
}

func (f *fakeDirectory) UpdateFields(ctx context.Context, dn string, fields map[string]string) error {
	f.updates = append(f.updates, fieldUpdate{dn: dn, fields: fields})
	return nil
}

func enrolledRow(matricula, nome string) sigaa.Row {
	return sigaa.Row{
		Codigo:      "QXD0001",
		Componente:  "Cálculo",
		Docente:     "JOSE MARIA SILVA",
		Turma:       "Turma 01",
		Matricula:   matricula,
		Nome:        nome,
		Curso:       "CIÊNCIA DA COMPUTAÇÃO - QUIXADÁ",
		TipoReserva: "Regular",
		Situacao:    "MATRICULADO",
	}
}

func TestPrepare(t *testing.T) {
	rows := Prepare([]sigaa.Row{
		{
			Codigo:     "QXD0001",
			Componente: "Cálculo",
			Turma:      "Turma 01",
			Nome:       "ANA SILVA\r\nDetalhes extras",
			Curso:      "CIÊNCIA DA COMPUTAÇÃO - QUIXADÁ",
		},
	}, "2025.1")

	require.Len(t, rows, 1)
	require.Equal(t, "QXD0001 - Cálculo - 01 - 2025.1", rows[0].CourseShortName)
	require.Equal(t, "CIÊNCIA DA COMPUTAÇÃO", rows[0].Curso)
	require.Equal(t, "ANA SILVA", rows[0].Nome)
}

func TestProcessDirectResolution(t *testing.T) {
	dir := &fakeDirectory{
		byMatricula: map[string]directory.Entry{
			"123456": {DN: "uid=ana.silva", UID: "ana.silva", NomeCompleto: "ANA SILVA", Matricula: "123456"},
		},
		byName: map[string][]directory.Entry{
			"JOSE MARIA SILVA": {{DN: "uid=jose.maria", UID: "jose.maria", NomeCompleto: "JOSE MARIA SILVA"}},
		},
	}

	rows := Prepare([]sigaa.Row{enrolledRow("123456", "ANA SILVA")}, "2025.1")
	out := Process(context.Background(), dir, rows, "2025.1")

	require.Equal(t, []UserRow{{
		Username:  "ana.silva",
		Firstname: "ANA",
		Lastname:  "SILVA",
		Email:     "zz",
		Role:      "student",
		Course:    "QXD0001 - Cálculo - 01 - 2025.1",
	}}, out.Students)
	require.Empty(t, out.NotFoundStudents)
	require.Empty(t, out.SwapStudents)

	require.Equal(t, []UserRow{{
		Username:  "jose.maria",
		Firstname: "JOSE",
		Lastname:  "MARIA SILVA",
		Email:     "zz",
		Role:      "editingteacher",
		Course:    "QXD0001 - Cálculo - 01 - 2025.1",
	}}, out.Professors)

	require.Len(t, out.Users, 2)
	require.Equal(t, []Class{{
		Shortname:        "QXD0001 - Cálculo - 01 - 2025.1",
		Fullname:         "QXD0001 - Cálculo - 01 - 2025.1",
		CategoryIDNumber: "2025.1",
	}}, out.Classes)
}

func TestProcessSwapUpdatesDirectoryWhenNewer(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string][]directory.Entry{
			"ANA SILVA": {{
				DN:           "uid=ana.silva,ou=people",
				UID:          "ana.silva",
				NomeCompleto: "ANA SILVA",
				Matricula:    "100000",
				Curso:        "REDES DE COMPUTADORES",
				Semestre:     "3",
			}},
			"JOSE MARIA SILVA": {},
		},
	}

	rows := Prepare([]sigaa.Row{enrolledRow("123456", "ANA SILVA")}, "2025.1")
	out := Process(context.Background(), dir, rows, "2025.1")

	require.Equal(t, []SwapStudent{{
		Matricula:       "123456",
		Nome:            "ANA SILVA",
		Curso:           "CIÊNCIA DA COMPUTAÇÃO",
		TipoReserva:     "Regular",
		CPF:             "ana.silva",
		MatriculaAntiga: "100000",
		CursoAntigo:     "REDES DE COMPUTADORES",
		Semestre:        "3",
		Siape:           "nan",
	}}, out.SwapStudents)

	require.Len(t, dir.updates, 1)
	require.Equal(t, "uid=ana.silva,ou=people", dir.updates[0].dn)
	require.Equal(t, map[string]string{
		"matricula": "123456",
		"curso":     "CIÊNCIA DA COMPUTAÇÃO",
	}, dir.updates[0].fields)

	// the swapped student still resolves into the import rows
	require.Len(t, out.Students, 1)
	require.Equal(t, "ana.silva", out.Students[0].Username)
	require.Empty(t, out.NotFoundStudents)
}

func TestProcessSwapKeepsOlderNumber(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string][]directory.Entry{
			"ANA SILVA": {{
				DN:        "uid=ana.silva,ou=people",
				UID:       "ana.silva",
				Matricula: "999999",
			}},
			"JOSE MARIA SILVA": {},
		},
	}

	rows := Prepare([]sigaa.Row{enrolledRow("123456", "ANA SILVA")}, "2025.1")
	out := Process(context.Background(), dir, rows, "2025.1")

	require.Len(t, out.SwapStudents, 1)
	require.Empty(t, dir.updates)
}

func TestProcessAmbiguousNameStaysUnresolved(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string][]directory.Entry{
			"ANA SILVA": {
				{UID: "ana.silva1"},
				{UID: "ana.silva2"},
			},
			"JOSE MARIA SILVA": {},
		},
	}

	rows := Prepare([]sigaa.Row{enrolledRow("123456", "ANA SILVA")}, "2025.1")
	out := Process(context.Background(), dir, rows, "2025.1")

	require.Empty(t, out.Students)
	require.Empty(t, out.SwapStudents)
	require.Equal(t, []NotFoundStudent{{
		Matricula:   "123456",
		Nome:        "ANA SILVA",
		Curso:       "CIÊNCIA DA COMPUTAÇÃO",
		TipoReserva: "Regular",
		CPF:         "Não Encontrado",
	}}, out.NotFoundStudents)
	require.Equal(t, []PendingStudent{{
		Matricula: "123456",
		Nome:      "ANA SILVA",
		Curso:     "CIÊNCIA DA COMPUTAÇÃO",
	}}, out.PendingStudents)
}

func TestProcessSkipsLookupForNotEnrolled(t *testing.T) {
	dir := &fakeDirectory{byName: map[string][]directory.Entry{"JOSE MARIA SILVA": {}}}

	raw := enrolledRow("123456", "ANA SILVA")
	raw.Situacao = "TRANCADO"
	out := Process(context.Background(), dir, Prepare([]sigaa.Row{raw}, "2025.1"), "2025.1")

	require.Empty(t, dir.matriculaLookups)
	require.Len(t, out.NotFoundStudents, 1)
}

func TestProcessSkipsEmptyRosterSentinel(t *testing.T) {
	dir := &fakeDirectory{byName: map[string][]directory.Entry{"JOSE MARIA SILVA": {}}}

	raw := enrolledRow("SEM ALUNO", "***")
	out := Process(context.Background(), dir, Prepare([]sigaa.Row{raw}, "2025.1"), "2025.1")

	require.Empty(t, dir.matriculaLookups)
	require.Empty(t, out.Students)
	require.Empty(t, out.NotFoundStudents)
	require.Len(t, out.Classes, 1)
}

func TestProcessStudentInMultipleSections(t *testing.T) {
	dir := &fakeDirectory{
		byMatricula: map[string]directory.Entry{
			"123456": {UID: "ana.silva", NomeCompleto: "ANA SILVA"},
		},
		byName: map[string][]directory.Entry{"JOSE MARIA SILVA": {}},
	}

	first := enrolledRow("123456", "ANA SILVA")
	second := enrolledRow("123456", "ANA SILVA")
	second.Codigo = "QXD0002"
	second.Componente = "Programação"
	duplicate := enrolledRow("123456", "ANA SILVA")

	out := Process(context.Background(), dir, Prepare([]sigaa.Row{first, second, duplicate}, "2025.1"), "2025.1")

	// one row per distinct section, the repeated section collapses
	require.Len(t, out.Students, 2)
	require.Equal(t, "QXD0001 - Cálculo - 01 - 2025.1", out.Students[0].Course)
	require.Equal(t, "QXD0002 - Programação - 01 - 2025.1", out.Students[1].Course)
	require.Len(t, dir.matriculaLookups, 1)
}

func TestProcessNotFoundSortedByTipoReserva(t *testing.T) {
	dir := &fakeDirectory{byName: map[string][]directory.Entry{"JOSE MARIA SILVA": {}}}

	a := enrolledRow("1", "ZULEIDE ALVES")
	a.TipoReserva = "Regular"
	b := enrolledRow("2", "BRUNO COSTA")
	b.TipoReserva = "Cota"

	out := Process(context.Background(), dir, Prepare([]sigaa.Row{a, b}, "2025.1"), "2025.1")

	require.Len(t, out.NotFoundStudents, 2)
	require.Equal(t, "Cota", out.NotFoundStudents[0].TipoReserva)
	require.Equal(t, "Regular", out.NotFoundStudents[1].TipoReserva)
}

func TestProcessMatriculaLookupErrorFallsThrough(t *testing.T) {
	dir := &fakeDirectory{
		matriculaErr: errors.New("ldap indisponível"),
		byName: map[string][]directory.Entry{
			"ANA SILVA":        {{UID: "ana.silva", Matricula: "100000"}},
			"JOSE MARIA SILVA": {},
		},
	}

	rows := Prepare([]sigaa.Row{enrolledRow("123456", "ANA SILVA")}, "2025.1")
	out := Process(context.Background(), dir, rows, "2025.1")

	// the failed lookup degrades to the name pass instead of failing
	require.Len(t, out.SwapStudents, 1)
	require.Len(t, out.Students, 1)
}

func TestProfessorLookupErrorAbortsPass(t *testing.T) {
	dir := &fakeDirectory{
		byMatricula: map[string]directory.Entry{
			"123456": {UID: "ana.silva", NomeCompleto: "ANA SILVA"},
		},
		nameErr: errors.New("ldap indisponível"),
	}

	rows := Prepare([]sigaa.Row{enrolledRow("123456", "ANA SILVA")}, "2025.1")
	out := Process(context.Background(), dir, rows, "2025.1")

	require.Empty(t, out.Professors)
	require.Empty(t, out.NotFoundProfessors)
	// students are unaffected by the aborted professor pass
	require.Len(t, out.Students, 1)
}

func TestProfessorUnassignedPlaceholder(t *testing.T) {
	dir := &fakeDirectory{}

	raw := enrolledRow("SEM ALUNO", "***")
	raw.Docente = "A DEFINIR"
	out := Process(context.Background(), dir, Prepare([]sigaa.Row{raw}, "2025.1"), "2025.1")

	require.Empty(t, dir.nameLookups)
	require.Equal(t, []NotFoundProfessor{{
		Nome:   "A DEFINIR",
		CPF:    "Não Encontrado",
		Course: "QXD0001 - Cálculo - 01 - 2025.1",
	}}, out.NotFoundProfessors)
}

func TestProfessorMultipleNamesAndWorkload(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string][]directory.Entry{
			"FULANO PEREIRA":  {{UID: "fulano.pereira"}},
			"BELTRANO ROCHA":  {{UID: "beltrano.rocha"}},
			"SICRANO BEZERRA": {},
		},
	}

	raw := enrolledRow("SEM ALUNO", "***")
	raw.Docente = "FULANO PEREIRA (64h) e BELTRANO ROCHA (32h), SICRANO BEZERRA"
	out := Process(context.Background(), dir, Prepare([]sigaa.Row{raw}, "2025.1"), "2025.1")

	require.Len(t, out.Professors, 2)
	require.Equal(t, "fulano.pereira", out.Professors[0].Username)
	require.Equal(t, "beltrano.rocha", out.Professors[1].Username)
	require.Len(t, out.NotFoundProfessors, 1)
	require.Equal(t, "SICRANO BEZERRA", out.NotFoundProfessors[0].Nome)
}

func TestDegraded(t *testing.T) {
	rows := Prepare([]sigaa.Row{enrolledRow("123456", "ANA SILVA")}, "2025.1")
	out := Degraded(rows, "2025.1")

	require.Empty(t, out.Students)
	require.Empty(t, out.Users)
	require.Equal(t, []NotFoundStudent{{
		Matricula:   "123456",
		Nome:        "ANA SILVA",
		Curso:       "CIÊNCIA DA COMPUTAÇÃO",
		TipoReserva: "Regular",
		CPF:         "ERRO NO PROCESSAMENTO",
	}}, out.NotFoundStudents)
	require.Len(t, out.Classes, 1)
}

func TestDedupeUsersKeepsFirstPositionLastValue(t *testing.T) {
	out := dedupeUsers([]UserRow{
		{Username: "a", Course: "c1", Firstname: "old"},
		{Username: "b", Course: "c1"},
		{Username: "a", Course: "c1", Firstname: "new"},
	})

	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].Username)
	require.Equal(t, "new", out[0].Firstname)
	require.Equal(t, "b", out[1].Username)
}

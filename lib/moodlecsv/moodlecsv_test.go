package moodlecsv

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sigaasync-backend/lib/reconcile"
)

func sampleOutcome() reconcile.Outcome {
	student := reconcile.UserRow{
		Username:  "ana.silva",
		Firstname: "Ana",
		Lastname:  "Silva",
		Email:     "zz",
		Role:      "student",
		Course:    "MAT101 - Cálculo - 01 - 2025.1",
	}
	professor := reconcile.UserRow{
		Username:  "jose.maria",
		Firstname: "Jose",
		Lastname:  "Maria",
		Email:     "zz",
		Role:      "editingteacher",
		Course:    "MAT101 - Cálculo - 01 - 2025.1",
	}
	return reconcile.Outcome{
		Students:   []reconcile.UserRow{student},
		Professors: []reconcile.UserRow{professor},
		Users:      []reconcile.UserRow{student, professor},
		NotFoundStudents: []reconcile.NotFoundStudent{{
			Matricula:   "123456",
			Nome:        "BRUNO COSTA",
			Curso:       "CIÊNCIA DA COMPUTAÇÃO",
			TipoReserva: "Regular",
			CPF:         "Não Encontrado",
		}},
		PendingStudents: []reconcile.PendingStudent{{
			Matricula: "123456",
			Nome:      "BRUNO COSTA",
			Curso:     "CIÊNCIA DA COMPUTAÇÃO",
		}},
		SwapStudents: []reconcile.SwapStudent{{
			Matricula:       "654321",
			Nome:            "CARLA DIAS",
			Curso:           "REDES DE COMPUTADORES",
			TipoReserva:     "Regular",
			CPF:             "carla.dias",
			MatriculaAntiga: "100000",
			CursoAntigo:     "REDES DE COMPUTADORES",
			Semestre:        "nan",
			Siape:           "nan",
		}},
		NotFoundProfessors: []reconcile.NotFoundProfessor{{
			Nome:   "A DEFINIR",
			CPF:    "Não Encontrado",
			Course: "MAT101 - Cálculo - 01 - 2025.1",
		}},
		Classes: []reconcile.Class{{
			Shortname:        "MAT101 - Cálculo - 01 - 2025.1",
			Fullname:         "MAT101 - Cálculo - 01 - 2025.1",
			CategoryIDNumber: "2025.1",
		}},
	}
}

func fileByName(t *testing.T, files []File, name string) File {
	t.Helper()
	for _, f := range files {
		if f.Filename == name {
			return f
		}
	}
	t.Fatalf("file %q not generated", name)
	return File{}
}

func TestFilesGeneratesAllEight(t *testing.T) {
	files := Files(sampleOutcome(), "2025.1")

	var names []string
	for _, f := range files {
		names = append(names, f.Filename)
	}
	require.Equal(t, []string{
		"Turmas-2025.1.csv",
		"Alunos-2025.1.csv",
		"Alunos-NãoCadastrados-2025.1.csv",
		"Alunos-Pre-Postegres-2025.1.csv",
		"Alunos-TrocarMatricula-2025.1.csv",
		"Professores-2025.1.csv",
		"Professores-NãoCadastrados-2025.1.csv",
		"Usuarios-2025.1.csv",
	}, names)
}

func TestStudentFileFormat(t *testing.T) {
	files := Files(sampleOutcome(), "2025.1")
	f := fileByName(t, files, "Alunos-2025.1.csv")

	require.True(t, strings.HasPrefix(f.Content, "\uFEFF"))
	require.Equal(t,
		"\uFEFFusername;firstname;lastname;email;role1;course1\r\n"+
			"ana.silva;Ana;Silva;zz;student;MAT101 - Cálculo - 01 - 2025.1",
		f.Content,
	)
	require.False(t, strings.HasSuffix(f.Content, "\r\n"))
}

func TestUsersFileCombinesStudentsAndProfessors(t *testing.T) {
	files := Files(sampleOutcome(), "2025.1")
	f := fileByName(t, files, "Usuarios-2025.1.csv")

	lines := strings.Split(f.Content, "\r\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[1], "ana.silva")
	require.Contains(t, lines[2], "jose.maria")
}

func TestSwapFileCarriesOldIdentity(t *testing.T) {
	files := Files(sampleOutcome(), "2025.1")
	f := fileByName(t, files, "Alunos-TrocarMatricula-2025.1.csv")

	require.Equal(t,
		"\uFEFFMatrícula;Nome;Curso;Tipo de Reserva;CPF;MatriculaAntiga;CursoAntigo;Semestre;Siape\r\n"+
			"654321;CARLA DIAS;REDES DE COMPUTADORES;Regular;carla.dias;100000;REDES DE COMPUTADORES;nan;nan",
		f.Content,
	)
}

func TestEscapingQuotesOnlyWhenNeeded(t *testing.T) {
	out := reconcile.Outcome{
		Classes: []reconcile.Class{{
			Shortname:        `QXD0001 - Tópicos; "Avançados" - 01 - 2025.1`,
			Fullname:         "sem aspas",
			CategoryIDNumber: "2025.1",
		}},
	}
	f := fileByName(t, Files(out, "2025.1"), "Turmas-2025.1.csv")

	require.Equal(t,
		"\uFEFFshortname;fullname;category_idnumber\r\n"+
			"\"QXD0001 - Tópicos; \"\"Avançados\"\" - 01 - 2025.1\";sem aspas;2025.1",
		f.Content,
	)
}

func TestFilesDeterministic(t *testing.T) {
	a := Files(sampleOutcome(), "2025.1")
	b := Files(sampleOutcome(), "2025.1")
	require.Equal(t, a, b)
}

func TestEmptyOutcomeStillEmitsHeaders(t *testing.T) {
	files := Files(reconcile.Outcome{}, "2025.1")
	for _, f := range files {
		require.True(t, strings.HasPrefix(f.Content, "\uFEFF"), f.Filename)
		require.NotContains(t, f.Content, "\r\n", f.Filename)
	}
}

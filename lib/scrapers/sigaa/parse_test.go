package sigaa

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const sectionTableHTML = `
<table id="lista-turmas">
<tbody>
	<tr class="destaque"><td colspan="8">QXD0001 - FUNDAMENTOS DE PROGRAMAÇÃO (96h)</td></tr>
	<tr>
		<td>2025.1</td>
		<td><a>Turma 01</a></td>
		<td>JOSE MARIA SILVA (96h)</td>
		<td><img onclick="exibirOpcoesTurma(57931, this)"/></td>
	</tr>
	<tr style="display: none;">
		<td>2025.1</td>
		<td><a>Turma 02</a></td>
		<td>OCULTO DA SILVA</td>
		<td><img onclick="exibirOpcoesTurma(57932, this)"/></td>
	</tr>
	<tr class="destaque"><td colspan="8">QXD0002 - MATEMÁTICA DISCRETA (64h)</td></tr>
	<tr>
		<td>2025.1</td>
		<td><a>Turma 01</a></td>
		<td></td>
		<td><img onclick="exibirOpcoesTurma(57933, this)"/></td>
	</tr>
	<tr>
		<td>linha sem imagem de opções</td>
	</tr>
</tbody>
</table>`

func TestParseSections(t *testing.T) {
	sections, err := parseSections(sectionTableHTML)
	require.NoError(t, err)

	want := []section{
		{
			codigo:     "QXD0001",
			componente: "FUNDAMENTOS DE PROGRAMAÇÃO",
			docente:    "JOSE MARIA SILVA (96h)",
			turma:      "Turma 01",
			id:         "57931",
		},
		{
			codigo:     "QXD0002",
			componente: "MATEMÁTICA DISCRETA",
			docente:    UnassignedInstructor,
			turma:      "Turma 01",
			id:         "57933",
		},
	}
	if diff := cmp.Diff(want, sections, cmp.AllowUnexported(section{})); diff != "" {
		t.Fatalf("unexpected sections (-want +got):\n%s", diff)
	}
}

func TestParseComponentHeader(t *testing.T) {
	codigo, componente := parseComponentHeader("QXD0001 - FUNDAMENTOS DE PROGRAMAÇÃO (96h)")
	require.Equal(t, "QXD0001", codigo)
	require.Equal(t, "FUNDAMENTOS DE PROGRAMAÇÃO", componente)

	// only the first separator splits, the name may carry its own
	codigo, componente = parseComponentHeader("QXD0042 - TÓPICOS - AVANÇADOS (32h)")
	require.Equal(t, "QXD0042", codigo)
	require.Equal(t, "TÓPICOS - AVANÇADOS", componente)

	codigo, componente = parseComponentHeader("sem separador")
	require.Empty(t, codigo)
	require.Empty(t, componente)
}

const rosterHTML = `
<table id="lista-turmas-matriculas">
<tbody>
	<tr>
		<td>123456</td>
		<td>ANA SILVA</td>
		<td>CIÊNCIA DA COMPUTAÇÃO - QUIXADÁ</td>
		<td>ignorado</td>
		<td>Regular</td>
		<td>ignorado</td>
		<td>ignorado</td>
		<td>MATRICULADO</td>
	</tr>
	<tr>
		<td>654321</td>
		<td>BRUNO COSTA</td>
	</tr>
</tbody>
</table>`

func TestParseRoster(t *testing.T) {
	sec := section{
		codigo:     "QXD0001",
		componente: "FUNDAMENTOS DE PROGRAMAÇÃO",
		docente:    "JOSE MARIA SILVA",
		turma:      "Turma 01",
		id:         "57931",
	}
	rows, err := parseRoster(rosterHTML, sec)
	require.NoError(t, err)

	require.Equal(t, []Row{
		{
			Codigo:      "QXD0001",
			Componente:  "FUNDAMENTOS DE PROGRAMAÇÃO",
			Docente:     "JOSE MARIA SILVA",
			Turma:       "Turma 01",
			Matricula:   "123456",
			Nome:        "ANA SILVA",
			Curso:       "CIÊNCIA DA COMPUTAÇÃO - QUIXADÁ",
			TipoReserva: "Regular",
			Situacao:    "MATRICULADO",
		},
		{
			Codigo:     "QXD0001",
			Componente: "FUNDAMENTOS DE PROGRAMAÇÃO",
			Docente:    "JOSE MARIA SILVA",
			Turma:      "Turma 01",
			Matricula:  "654321",
			Nome:       "BRUNO COSTA",
		},
	}, rows)
}

func TestParseRosterEmptyYieldsSentinel(t *testing.T) {
	sec := section{codigo: "QXD0001", componente: "FUNDAMENTOS DE PROGRAMAÇÃO", docente: "A DEFINIR", turma: "Turma 01"}
	rows, err := parseRoster(`<table id="lista-turmas-matriculas"><tbody></tbody></table>`, sec)
	require.NoError(t, err)

	require.Equal(t, []Row{{
		Codigo:      "QXD0001",
		Componente:  "FUNDAMENTOS DE PROGRAMAÇÃO",
		Docente:     "A DEFINIR",
		Turma:       "Turma 01",
		Matricula:   NoStudentSentinel,
		Nome:        "***",
		Curso:       "***",
		TipoReserva: "***",
		Situacao:    "***",
	}}, rows)
}

func TestParseLoginError(t *testing.T) {
	require.Equal(
		t,
		"Usuário e/ou senha inválidos",
		parseLoginError(`<html><body><div class="error"> Usuário e/ou senha inválidos </div></body></html>`),
	)
	require.Empty(t, parseLoginError(`<html><body><p>Bem-vindo</p></body></html>`))
}

package matriculas

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func setupMock(t *testing.T) (*Service, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewService(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestListWithSearch(t *testing.T) {
	service, mock := setupMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM matriculas WHERE nome ILIKE $1 OR matricula::text LIKE $1")).
		WithArgs("%ANA%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id_matriculas, matricula, nome, curso, cadastrado, uidnumber FROM matriculas WHERE nome ILIKE $1 OR matricula::text LIKE $1 ORDER BY id_matriculas DESC LIMIT $2 OFFSET $3")).
		WithArgs("%ANA%", 10, 0).
		WillReturnRows(
			sqlmock.NewRows([]string{"id_matriculas", "matricula", "nome", "curso", "cadastrado", "uidnumber"}).
				AddRow(7, 123456, "ANA SILVA", "CIÊNCIA DA COMPUTAÇÃO", 0, 42),
		)

	items, total, err := service.List(context.Background(), 1, 10, "ANA")
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, []Matricula{{
		ID:         7,
		Matricula:  123456,
		Nome:       "ANA SILVA",
		Curso:      "CIÊNCIA DA COMPUTAÇÃO",
		Cadastrado: 0,
		UidNumber:  42,
	}}, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddAllocatesNextUidNumber(t *testing.T) {
	service, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM matriculas WHERE matricula = $1")).
		WithArgs(int64(123456)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(uidnumber) FROM matriculas")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(41))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO matriculas (matricula, nome, curso, cadastrado, uidnumber) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs(int64(123456), "ANA SILVA", "CIÊNCIA DA COMPUTAÇÃO", int64(0), int64(42)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := service.Add(context.Background(), AddParams{
		Matricula: 123456,
		Nome:      "ana silva",
		Curso:     "ciência da computação",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddRejectsDuplicate(t *testing.T) {
	service, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM matriculas WHERE matricula = $1")).
		WithArgs(int64(123456)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := service.Add(context.Background(), AddParams{
		Matricula: 123456,
		Nome:      "ANA SILVA",
		Curso:     "CIÊNCIA DA COMPUTAÇÃO",
	})
	require.EqualError(t, err, "A matrícula 123456 já está cadastrada.")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddValidatesInput(t *testing.T) {
	service, _ := setupMock(t)

	err := service.Add(context.Background(), AddParams{Matricula: 123456, Curso: "REDES"})
	require.EqualError(t, err, "Nome é obrigatório.")

	err = service.Add(context.Background(), AddParams{Nome: "ANA", Curso: "REDES"})
	require.EqualError(t, err, "Matrícula é obrigatória.")
}

func TestImportCSV(t *testing.T) {
	service, mock := setupMock(t)

	content := "\uFEFFMatrícula;Nome;Curso\r\n" +
		"123456;ana silva;ciência da computação\r\n" +
		"654321;BRUNO COSTA;REDES DE COMPUTADORES\r\n" +
		"abc;SEM NUMERO;REDES DE COMPUTADORES\r\n"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(uidnumber) FROM matriculas")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(10))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM matriculas WHERE matricula = $1")).
		WithArgs(int64(123456)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO matriculas (matricula, nome, curso, cadastrado, uidnumber) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs(int64(123456), "ANA SILVA", "CIÊNCIA DA COMPUTAÇÃO", 0, int64(11)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM matriculas WHERE matricula = $1")).
		WithArgs(int64(654321)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	result, err := service.ImportCSV(context.Background(), content)
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 2, result.Failed)
	require.Len(t, result.Errors, 2)
	require.Equal(t, "1 matrículas adicionadas com sucesso. 2 falharam.", result.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportCSVEmptyFile(t *testing.T) {
	service, mock := setupMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(uidnumber) FROM matriculas")).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectCommit()

	result, err := service.ImportCSV(context.Background(), "\uFEFFMatrícula;Nome;Curso\r\n")
	require.NoError(t, err)
	require.Equal(t, 0, result.Added)
	require.Equal(t, 0, result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())
}

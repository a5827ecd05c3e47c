// Package matriculas manages the pre-registration table kept in PostgreSQL:
// students scraped from SIGAA that still need an LDAP account get queued
// here until the account provisioning picks them up.
package matriculas

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/matriculas")

const schema = `
CREATE TABLE IF NOT EXISTS matriculas (
    id_matriculas SERIAL PRIMARY KEY,
    matricula BIGINT NOT NULL,
    nome TEXT NOT NULL,
    curso TEXT NOT NULL,
    cadastrado INTEGER NOT NULL DEFAULT 0,
    uidnumber BIGINT NOT NULL
)
`

// Matricula is one pre-registration row.
type Matricula struct {
	ID         int64  `db:"id_matriculas" json:"id_matriculas"`
	Matricula  int64  `db:"matricula" json:"matricula"`
	Nome       string `db:"nome" json:"nome"`
	Curso      string `db:"curso" json:"curso"`
	Cadastrado int64  `db:"cadastrado" json:"cadastrado"`
	UidNumber  int64  `db:"uidnumber" json:"uidnumber"`
}

type Service struct {
	db *sqlx.DB
}

func NewService(db *sqlx.DB) *Service {
	return &Service{db: db}
}

// Open connects to PostgreSQL and makes sure the matriculas table exists.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("falha ao conectar ao PostgreSQL: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("falha ao preparar a tabela de matrículas: %w", err)
	}
	return db, nil
}

// List returns one page of matriculas, newest first, optionally filtered by
// a case-insensitive match on the name or the matricula digits.
func (s *Service) List(ctx context.Context, page int, perPage int, search string) ([]Matricula, int, error) {
	ctx, span := tracer.Start(ctx, "matriculas.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	offset := (page - 1) * perPage

	where := ""
	args := []interface{}{}
	if search != "" {
		where = "WHERE nome ILIKE $1 OR matricula::text LIKE $1"
		args = append(args, "%"+search+"%")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM matriculas %s", where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to count matriculas")
		return nil, 0, fmt.Errorf("falha ao buscar matrículas: %w", err)
	}

	listQuery := fmt.Sprintf(
		"SELECT id_matriculas, matricula, nome, curso, cadastrado, uidnumber FROM matriculas %s ORDER BY id_matriculas DESC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2,
	)
	args = append(args, perPage, offset)

	items := []Matricula{}
	if err := s.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list matriculas")
		return nil, 0, fmt.Errorf("falha ao buscar matrículas: %w", err)
	}
	return items, total, nil
}

// AddParams are the inputs for a new pre-registration.
type AddParams struct {
	Matricula  int64  `json:"matricula"`
	Nome       string `json:"nome"`
	Curso      string `json:"curso"`
	Cadastrado int64  `json:"cadastrado"`
}

func (p *AddParams) validate() error {
	if p.Matricula <= 0 {
		return errors.New("Matrícula é obrigatória.")
	}
	if strings.TrimSpace(p.Nome) == "" {
		return errors.New("Nome é obrigatório.")
	}
	if strings.TrimSpace(p.Curso) == "" {
		return errors.New("Curso é obrigatório.")
	}
	return nil
}

// Add inserts a new matricula, allocating the next uidnumber. Duplicate
// matriculas are rejected.
func (s *Service) Add(ctx context.Context, params AddParams) error {
	ctx, span := tracer.Start(ctx, "matriculas.Add")
	defer span.End()

	if err := params.validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("falha ao adicionar matrícula: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.GetContext(ctx, &existing, "SELECT COUNT(*) FROM matriculas WHERE matricula = $1", params.Matricula)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("falha ao adicionar matrícula: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("A matrícula %d já está cadastrada.", params.Matricula)
	}

	uidNumber, err := nextUidNumber(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("falha ao adicionar matrícula: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO matriculas (matricula, nome, curso, cadastrado, uidnumber) VALUES ($1, $2, $3, $4, $5)",
		params.Matricula,
		strings.ToUpper(params.Nome),
		strings.ToUpper(params.Curso),
		params.Cadastrado,
		uidNumber,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("falha ao adicionar matrícula: %w", err)
	}
	return tx.Commit()
}

// Update rewrites every editable field of one matricula.
func (s *Service) Update(ctx context.Context, id int64, params AddParams) error {
	ctx, span := tracer.Start(ctx, "matriculas.Update")
	defer span.End()

	if err := params.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE matriculas SET matricula = $1, nome = $2, curso = $3, cadastrado = $4 WHERE id_matriculas = $5",
		params.Matricula,
		strings.ToUpper(params.Nome),
		strings.ToUpper(params.Curso),
		params.Cadastrado,
		id,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update matricula")
		return fmt.Errorf("falha ao atualizar matrícula: %w", err)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "matriculas.Delete")
	defer span.End()

	_, err := s.db.ExecContext(ctx, "DELETE FROM matriculas WHERE id_matriculas = $1", id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete matricula")
		return fmt.Errorf("falha ao excluir matrícula: %w", err)
	}
	return nil
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func nextUidNumber(ctx context.Context, q queryer) (int64, error) {
	var maxUid sql.NullInt64
	if err := q.GetContext(ctx, &maxUid, "SELECT MAX(uidnumber) FROM matriculas"); err != nil {
		return 0, err
	}
	return maxUid.Int64 + 1, nil
}

// ImportResult summarizes an ImportCSV call.
type ImportResult struct {
	Added   int      `json:"added"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
	Message string   `json:"message"`
}

// ImportCSV loads pre-registrations from a semicolon separated file with a
// "Matrícula;Nome;Curso" header, the format produced by the extraction run.
// Invalid and duplicate rows are skipped and reported, not fatal.
func (s *Service) ImportCSV(ctx context.Context, fileContent string) (ImportResult, error) {
	ctx, span := tracer.Start(ctx, "matriculas.ImportCSV")
	defer span.End()

	records, err := parseImportFile(fileContent)
	if err != nil {
		return ImportResult{}, fmt.Errorf("Erro ao processar o arquivo CSV: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ImportResult{}, fmt.Errorf("falha ao importar matrículas: %w", err)
	}
	defer tx.Rollback()

	latestUid, err := nextUidNumber(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return ImportResult{}, fmt.Errorf("falha ao importar matrículas: %w", err)
	}
	latestUid--

	result := ImportResult{Errors: []string{}}
	for _, record := range records {
		matricula, convErr := strconv.ParseInt(record.matricula, 10, 64)
		if convErr != nil || record.nome == "" || record.curso == "" {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Linha inválida: %s;%s;%s", record.matricula, record.nome, record.curso))
			continue
		}

		var existing int
		if err := tx.GetContext(ctx, &existing, "SELECT COUNT(*) FROM matriculas WHERE matricula = $1", matricula); err != nil {
			span.RecordError(err)
			return ImportResult{}, fmt.Errorf("falha ao importar matrículas: %w", err)
		}
		if existing > 0 {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Matrícula %d já existe.", matricula))
			continue
		}

		latestUid++
		_, err = tx.ExecContext(ctx,
			"INSERT INTO matriculas (matricula, nome, curso, cadastrado, uidnumber) VALUES ($1, $2, $3, $4, $5)",
			matricula,
			strings.ToUpper(record.nome),
			strings.ToUpper(record.curso),
			0,
			latestUid,
		)
		if err != nil {
			span.RecordError(err)
			return ImportResult{}, fmt.Errorf("falha ao importar matrículas: %w", err)
		}
		result.Added++
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, fmt.Errorf("falha ao importar matrículas: %w", err)
	}

	result.Message = fmt.Sprintf("%d matrículas adicionadas com sucesso.", result.Added)
	if result.Failed > 0 {
		result.Message += fmt.Sprintf(" %d falharam.", result.Failed)
	}
	return result, nil
}

type importRecord struct {
	matricula string
	nome      string
	curso     string
}

func parseImportFile(fileContent string) ([]importRecord, error) {
	fileContent = strings.TrimPrefix(fileContent, "\uFEFF")
	reader := csv.NewReader(strings.NewReader(fileContent))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	var records []importRecord
	for i, row := range rows {
		if i == 0 {
			// header row
			continue
		}
		var record importRecord
		if len(row) > 0 {
			record.matricula = strings.TrimSpace(row[0])
		}
		if len(row) > 1 {
			record.nome = strings.TrimSpace(row[1])
		}
		if len(row) > 2 {
			record.curso = strings.TrimSpace(row[2])
		}
		if record.matricula == "" && record.nome == "" && record.curso == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

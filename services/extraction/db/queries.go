package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Extraction struct {
	ID        int64
	Year      int64
	Semester  int64
	Status    string
	CreatedAt string
}

type ScrapedRow struct {
	ID           int64
	ExtractionID int64
	Codigo       string
	Componente   string
	Docente      string
	Turma        string
	Matricula    string
	Nome         string
	Curso        string
	TipoReserva  string
	Situacao     string
}

type ProcessedFile struct {
	ID           int64
	ExtractionID int64
	Filename     string
	Content      string
}

type ExtractionLog struct {
	ID           int64
	ExtractionID int64
	Message      string
	CreatedAt    string
}

const createExtraction = `
INSERT INTO extractions (year, semester, status) VALUES (?, ?, ?)
`

func (q *Queries) CreateExtraction(ctx context.Context, year int64, semester int64, status string) (int64, error) {
	result, err := q.db.ExecContext(ctx, createExtraction, year, semester, status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

const updateExtractionStatus = `
UPDATE extractions SET status = ? WHERE id = ?
`

func (q *Queries) UpdateExtractionStatus(ctx context.Context, id int64, status string) error {
	_, err := q.db.ExecContext(ctx, updateExtractionStatus, status, id)
	return err
}

const cancelRunningExtraction = `
UPDATE extractions SET status = ? WHERE id = ? AND status = ?
`

// CancelRunningExtraction flips a running extraction to cancelled and reports
// how many rows changed, so callers can tell a no-op apart from a cancel.
func (q *Queries) CancelRunningExtraction(ctx context.Context, id int64, cancelled string, running string) (int64, error) {
	result, err := q.db.ExecContext(ctx, cancelRunningExtraction, cancelled, id, running)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getExtraction = `
SELECT id, year, semester, status, created_at FROM extractions WHERE id = ?
`

func (q *Queries) GetExtraction(ctx context.Context, id int64) (Extraction, error) {
	row := q.db.QueryRowContext(ctx, getExtraction, id)
	var e Extraction
	err := row.Scan(&e.ID, &e.Year, &e.Semester, &e.Status, &e.CreatedAt)
	return e, err
}

const getExtractionStatus = `
SELECT status FROM extractions WHERE id = ?
`

func (q *Queries) GetExtractionStatus(ctx context.Context, id int64) (string, error) {
	row := q.db.QueryRowContext(ctx, getExtractionStatus, id)
	var status string
	err := row.Scan(&status)
	return status, err
}

const listExtractions = `
SELECT id, year, semester, status, created_at FROM extractions ORDER BY created_at DESC, id DESC
`

func (q *Queries) ListExtractions(ctx context.Context) ([]Extraction, error) {
	rows, err := q.db.QueryContext(ctx, listExtractions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Extraction
	for rows.Next() {
		var e Extraction
		if err := rows.Scan(&e.ID, &e.Year, &e.Semester, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const getLatestCompletedExtraction = `
SELECT id, year, semester, status, created_at FROM extractions
WHERE year = ? AND semester = ? AND status = ?
ORDER BY created_at DESC, id DESC
LIMIT 1
`

func (q *Queries) GetLatestCompletedExtraction(ctx context.Context, year int64, semester int64, completed string) (Extraction, error) {
	row := q.db.QueryRowContext(ctx, getLatestCompletedExtraction, year, semester, completed)
	var e Extraction
	err := row.Scan(&e.ID, &e.Year, &e.Semester, &e.Status, &e.CreatedAt)
	return e, err
}

const deleteExtraction = `
DELETE FROM extractions WHERE id = ?
`

func (q *Queries) DeleteExtraction(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteExtraction, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const failRunningExtractions = `
UPDATE extractions SET status = ? WHERE status = ?
`

// FailRunningExtractions marks every extraction still flagged as running as
// failed. Meant to run once at startup to clean up after a crash.
func (q *Queries) FailRunningExtractions(ctx context.Context, failed string, running string) (int64, error) {
	result, err := q.db.ExecContext(ctx, failRunningExtractions, failed, running)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createScrapedRow = `
INSERT INTO scraped_data (
    extraction_id, codigo, componente, docente, turma,
    matricula, nome, curso, tipo_reserva, situacao
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateScrapedRowParams struct {
	ExtractionID int64
	Codigo       string
	Componente   string
	Docente      string
	Turma        string
	Matricula    string
	Nome         string
	Curso        string
	TipoReserva  string
	Situacao     string
}

func (q *Queries) CreateScrapedRow(ctx context.Context, arg CreateScrapedRowParams) error {
	_, err := q.db.ExecContext(ctx, createScrapedRow,
		arg.ExtractionID,
		arg.Codigo,
		arg.Componente,
		arg.Docente,
		arg.Turma,
		arg.Matricula,
		arg.Nome,
		arg.Curso,
		arg.TipoReserva,
		arg.Situacao,
	)
	return err
}

const listScrapedRows = `
SELECT id, extraction_id, codigo, componente, docente, turma,
       matricula, nome, curso, tipo_reserva, situacao
FROM scraped_data WHERE extraction_id = ? ORDER BY id
`

func (q *Queries) ListScrapedRows(ctx context.Context, extractionID int64) ([]ScrapedRow, error) {
	rows, err := q.db.QueryContext(ctx, listScrapedRows, extractionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ScrapedRow
	for rows.Next() {
		var r ScrapedRow
		if err := rows.Scan(
			&r.ID,
			&r.ExtractionID,
			&r.Codigo,
			&r.Componente,
			&r.Docente,
			&r.Turma,
			&r.Matricula,
			&r.Nome,
			&r.Curso,
			&r.TipoReserva,
			&r.Situacao,
		); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const createProcessedFile = `
INSERT INTO processed_files (extraction_id, filename, content) VALUES (?, ?, ?)
`

func (q *Queries) CreateProcessedFile(ctx context.Context, extractionID int64, filename string, content string) error {
	_, err := q.db.ExecContext(ctx, createProcessedFile, extractionID, filename, content)
	return err
}

const listProcessedFiles = `
SELECT id, extraction_id, filename, content
FROM processed_files WHERE extraction_id = ? ORDER BY filename
`

func (q *Queries) ListProcessedFiles(ctx context.Context, extractionID int64) ([]ProcessedFile, error) {
	rows, err := q.db.QueryContext(ctx, listProcessedFiles, extractionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProcessedFile
	for rows.Next() {
		var f ProcessedFile
		if err := rows.Scan(&f.ID, &f.ExtractionID, &f.Filename, &f.Content); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

const deleteProcessedFiles = `
DELETE FROM processed_files WHERE extraction_id = ?
`

func (q *Queries) DeleteProcessedFiles(ctx context.Context, extractionID int64) error {
	_, err := q.db.ExecContext(ctx, deleteProcessedFiles, extractionID)
	return err
}

const createExtractionLog = `
INSERT INTO extraction_logs (extraction_id, message) VALUES (?, ?)
`

func (q *Queries) CreateExtractionLog(ctx context.Context, extractionID int64, message string) error {
	_, err := q.db.ExecContext(ctx, createExtractionLog, extractionID, message)
	return err
}

const listExtractionLogs = `
SELECT id, extraction_id, message, created_at
FROM extraction_logs WHERE extraction_id = ? ORDER BY id
`

func (q *Queries) ListExtractionLogs(ctx context.Context, extractionID int64) ([]ExtractionLog, error) {
	rows, err := q.db.QueryContext(ctx, listExtractionLogs, extractionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExtractionLog
	for rows.Next() {
		var l ExtractionLog
		if err := rows.Scan(&l.ID, &l.ExtractionID, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

// Package extraction orchestrates SIGAA extraction runs: it drives the
// browser automation, persists raw rows and logs, reconciles people against
// the LDAP directory and stores the generated Moodle import files.
package extraction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"sigaasync-backend/lib/directory"
	"sigaasync-backend/lib/moodlecsv"
	"sigaasync-backend/lib/reconcile"
	"sigaasync-backend/lib/scrapers/sigaa"
	"sigaasync-backend/lib/sqliteutil"
	"sigaasync-backend/services/extraction/db"
)

var tracer = otel.Tracer("services/extraction")

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Config carries everything a run needs besides the per-run credentials.
type Config struct {
	SigaaBaseURL string           `json:"sigaa_base_url"`
	SigaaUnit    string           `json:"sigaa_unit"`
	Ldap         directory.Config `json:"ldap"`
}

// RunRequest are the inputs of a single extraction run. Year and Semester
// follow SIGAA's own notation ("2025" and "1").
type RunRequest struct {
	Year     string
	Semester string
	Username string
	Password string

	// Visible opens the browser with a visible window. Used for debugging
	// navigation problems against the live portal.
	Visible bool
}

// Events are optional streaming callbacks fired while a run progresses.
type Events struct {
	// Log receives every progress line, already timestamped.
	Log func(line string)
	// Created receives the extraction id as soon as the run is registered.
	Created func(extractionID int64)
}

// RunOutcome is the terminal state of a successful (or cancelled) run.
type RunOutcome struct {
	ExtractionID int64
	Rows         []sigaa.Row
	Cancelled    bool
}

type reconcileDirectory interface {
	reconcile.Directory
	Close()
}

type Service struct {
	db  *sql.DB
	qry *db.Queries
	cfg Config

	// Both hooks are swappable so tests can run without a browser or an
	// LDAP server.
	navigate      func(ctx context.Context, opts sigaa.Options, visible bool) (sigaa.Outcome, error)
	openDirectory func(ctx context.Context) (reconcileDirectory, error)
}

func NewService(database *sql.DB, cfg Config) *Service {
	s := &Service{
		db:  database,
		qry: db.New(database),
		cfg: cfg,
	}
	s.navigate = s.runBrowser
	s.openDirectory = func(ctx context.Context) (reconcileDirectory, error) {
		return directory.Dial(ctx, cfg.Ldap)
	}
	return s
}

// Open opens the extraction store at path and marks any extraction left in
// the running state by a previous crash as failed.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	database, err := sqliteutil.OpenDB(db.Schema, path)
	if err != nil {
		return nil, err
	}
	recovered, err := db.New(database).FailRunningExtractions(ctx, StatusFailed, StatusRunning)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to recover interrupted extractions: %w", err)
	}
	if recovered > 0 {
		slog.WarnContext(ctx, "marked interrupted extractions as failed", "count", recovered)
	}
	return database, nil
}

func (s *Service) runBrowser(ctx context.Context, opts sigaa.Options, visible bool) (sigaa.Outcome, error) {
	if err := sigaa.Probe(ctx, opts.BaseURL); err != nil {
		return sigaa.Outcome{}, err
	}
	browser, err := sigaa.Launch(ctx, visible)
	if err != nil {
		return sigaa.Outcome{}, err
	}
	defer browser.Close()
	return sigaa.NewNavigator(browser.Page(), opts).Run(ctx)
}

// logSink builds the per-run log function: lines are timestamped, streamed
// to the caller and persisted best-effort once the extraction exists.
func (s *Service) logSink(ctx context.Context, extractionID int64, events Events, prefix string) func(string) {
	return func(message string) {
		line := fmt.Sprintf("[%s][%s] %s", time.Now().Format("15:04:05"), prefix, message)
		slog.InfoContext(ctx, "extraction progress", "extraction_id", extractionID, "line", line)
		if events.Log != nil {
			events.Log(line)
		}
		if err := s.qry.CreateExtractionLog(ctx, extractionID, line); err != nil {
			slog.WarnContext(ctx, "failed to persist extraction log", "extraction_id", extractionID, "error", err)
		}
	}
}

// Run performs a full extraction: scrape, persist, reconcile and emit. The
// returned error carries a user-facing message in Portuguese; the extraction
// status is updated before returning.
func (s *Service) Run(ctx context.Context, req RunRequest, events Events) (RunOutcome, error) {
	ctx, span := tracer.Start(ctx, "extraction.Run")
	defer span.End()

	if req.Year == "" || req.Semester == "" || req.Username == "" || req.Password == "" {
		return RunOutcome{}, errors.New("Ano, período, usuário e senha são obrigatórios.")
	}
	var year, semester int64
	if _, err := fmt.Sscanf(req.Year, "%d", &year); err != nil {
		return RunOutcome{}, errors.New("Ano inválido.")
	}
	if _, err := fmt.Sscanf(req.Semester, "%d", &semester); err != nil {
		return RunOutcome{}, errors.New("Período inválido.")
	}

	extractionID, err := s.qry.CreateExtraction(ctx, year, semester, StatusRunning)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create extraction")
		return RunOutcome{}, fmt.Errorf("falha ao registrar a extração: %w", err)
	}
	if events.Created != nil {
		events.Created(extractionID)
	}

	logf := s.logSink(ctx, extractionID, events, "LOG")
	errf := s.logSink(ctx, extractionID, events, "ERRO")

	opts := sigaa.Options{
		BaseURL:  s.cfg.SigaaBaseURL,
		Unit:     s.cfg.SigaaUnit,
		Username: req.Username,
		Password: req.Password,
		Year:     req.Year,
		Semester: req.Semester,
		Log:      logf,
		Errlog:   errf,
		Cancelled: func() bool {
			status, err := s.qry.GetExtractionStatus(ctx, extractionID)
			if err != nil {
				slog.WarnContext(ctx, "failed to read extraction status", "extraction_id", extractionID, "error", err)
				return false
			}
			return status == StatusCancelled
		},
	}

	outcome, err := s.navigate(ctx, opts, req.Visible)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "navigation failed")
		errf(fmt.Sprintf("Erro durante a automação: %v", err))
		if statusErr := s.qry.UpdateExtractionStatus(ctx, extractionID, StatusFailed); statusErr != nil {
			slog.ErrorContext(ctx, "failed to mark extraction as failed", "extraction_id", extractionID, "error", statusErr)
		}
		return RunOutcome{ExtractionID: extractionID}, fmt.Errorf("Erro durante a automação: %w", err)
	}

	if outcome.Cancelled {
		logf("Extração cancelada pelo usuário.")
		if statusErr := s.qry.UpdateExtractionStatus(ctx, extractionID, StatusCancelled); statusErr != nil {
			slog.ErrorContext(ctx, "failed to mark extraction as cancelled", "extraction_id", extractionID, "error", statusErr)
		}
		return RunOutcome{ExtractionID: extractionID, Cancelled: true}, nil
	}

	if len(outcome.Rows) == 0 {
		logf("Nenhum dado foi extraído. Processo encerrado.")
		if err := s.qry.UpdateExtractionStatus(ctx, extractionID, StatusCompleted); err != nil {
			return RunOutcome{ExtractionID: extractionID}, fmt.Errorf("falha ao finalizar a extração: %w", err)
		}
		return RunOutcome{ExtractionID: extractionID}, nil
	}

	if err := s.persistRows(ctx, extractionID, outcome.Rows); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist rows")
		errf(fmt.Sprintf("Erro ao salvar os dados extraídos: %v", err))
		if statusErr := s.qry.UpdateExtractionStatus(ctx, extractionID, StatusFailed); statusErr != nil {
			slog.ErrorContext(ctx, "failed to mark extraction as failed", "extraction_id", extractionID, "error", statusErr)
		}
		return RunOutcome{ExtractionID: extractionID}, fmt.Errorf("Erro ao salvar os dados extraídos: %w", err)
	}
	logf(fmt.Sprintf("%d registros salvos no banco de dados.", len(outcome.Rows)))

	category := fmt.Sprintf("%s.%s", req.Year, req.Semester)
	files := s.processData(ctx, outcome.Rows, category, logf, errf)
	if err := s.replaceFiles(ctx, extractionID, files, StatusCompleted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist files")
		errf(fmt.Sprintf("Erro ao salvar os arquivos processados: %v", err))
		if statusErr := s.qry.UpdateExtractionStatus(ctx, extractionID, StatusFailed); statusErr != nil {
			slog.ErrorContext(ctx, "failed to mark extraction as failed", "extraction_id", extractionID, "error", statusErr)
		}
		return RunOutcome{ExtractionID: extractionID}, fmt.Errorf("Erro ao salvar os arquivos processados: %w", err)
	}
	logf("Processamento concluído com sucesso.")

	return RunOutcome{ExtractionID: extractionID, Rows: outcome.Rows}, nil
}

// processData reconciles rows against the directory and renders the import
// files. Directory failures degrade the run instead of failing it: the files
// are still produced, with every person marked as unprocessed.
func (s *Service) processData(ctx context.Context, rows []sigaa.Row, category string, logf func(string), errf func(string)) []moodlecsv.File {
	ctx, span := tracer.Start(ctx, "extraction.processData")
	defer span.End()

	prepared := reconcile.Prepare(rows, category)

	dir, err := s.openDirectory(ctx)
	if err != nil {
		span.RecordError(err)
		errf(fmt.Sprintf("Falha na conexão com o LDAP: %v", err))
		logf("Gerando arquivos sem verificação no diretório.")
		return moodlecsv.Files(reconcile.Degraded(prepared, category), category)
	}
	defer dir.Close()

	logf("Verificando alunos e professores no diretório...")
	outcome := reconcile.Process(ctx, dir, prepared, category)
	return moodlecsv.Files(outcome, category)
}

func (s *Service) persistRows(ctx context.Context, extractionID int64, rows []sigaa.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	qtx := s.qry.WithTx(tx)
	for _, row := range rows {
		err := qtx.CreateScrapedRow(ctx, db.CreateScrapedRowParams{
			ExtractionID: extractionID,
			Codigo:       row.Codigo,
			Componente:   row.Componente,
			Docente:      row.Docente,
			Turma:        row.Turma,
			Matricula:    row.Matricula,
			Nome:         row.Nome,
			Curso:        row.Curso,
			TipoReserva:  row.TipoReserva,
			Situacao:     row.Situacao,
		})
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// replaceFiles swaps the stored import files for the extraction and sets its
// final status, all in one transaction.
func (s *Service) replaceFiles(ctx context.Context, extractionID int64, files []moodlecsv.File, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	qtx := s.qry.WithTx(tx)
	if err := qtx.DeleteProcessedFiles(ctx, extractionID); err != nil {
		return err
	}
	for _, file := range files {
		if err := qtx.CreateProcessedFile(ctx, extractionID, file.Filename, file.Content); err != nil {
			return err
		}
	}
	if err := qtx.UpdateExtractionStatus(ctx, extractionID, status); err != nil {
		return err
	}
	return tx.Commit()
}

// Cancel requests cancellation of a running extraction. Cancelling an
// extraction that is not running is a no-op.
func (s *Service) Cancel(ctx context.Context, extractionID int64) error {
	ctx, span := tracer.Start(ctx, "extraction.Cancel")
	defer span.End()

	affected, err := s.qry.CancelRunningExtraction(ctx, extractionID, StatusCancelled, StatusRunning)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cancel extraction")
		return fmt.Errorf("falha ao cancelar a extração: %w", err)
	}
	if affected == 0 {
		slog.InfoContext(ctx, "cancel requested for extraction that is not running", "extraction_id", extractionID)
	}
	return nil
}

// Reprocess re-runs reconciliation and file generation over the raw rows of
// a past extraction, replacing its stored files.
func (s *Service) Reprocess(ctx context.Context, extractionID int64) ([]moodlecsv.File, error) {
	ctx, span := tracer.Start(ctx, "extraction.Reprocess")
	defer span.End()

	extraction, err := s.qry.GetExtraction(ctx, extractionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("Dados brutos ou informações da extração não encontrados para reprocessamento.")
		}
		return nil, fmt.Errorf("falha ao carregar a extração: %w", err)
	}
	stored, err := s.qry.ListScrapedRows(ctx, extractionID)
	if err != nil {
		return nil, fmt.Errorf("falha ao carregar os dados brutos: %w", err)
	}
	if len(stored) == 0 {
		return nil, errors.New("Dados brutos ou informações da extração não encontrados para reprocessamento.")
	}

	if err := s.qry.UpdateExtractionStatus(ctx, extractionID, StatusRunning); err != nil {
		return nil, fmt.Errorf("falha ao atualizar o status da extração: %w", err)
	}

	rows := make([]sigaa.Row, 0, len(stored))
	for _, r := range stored {
		rows = append(rows, sigaa.Row{
			Codigo:      r.Codigo,
			Componente:  r.Componente,
			Docente:     r.Docente,
			Turma:       r.Turma,
			Matricula:   r.Matricula,
			Nome:        r.Nome,
			Curso:       r.Curso,
			TipoReserva: r.TipoReserva,
			Situacao:    r.Situacao,
		})
	}

	category := fmt.Sprintf("%d.%d", extraction.Year, extraction.Semester)
	logf := s.logSink(ctx, extractionID, Events{}, "LOG")
	errf := s.logSink(ctx, extractionID, Events{}, "ERRO")
	files := s.processData(ctx, rows, category, logf, errf)

	if err := s.replaceFiles(ctx, extractionID, files, StatusCompleted); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist files")
		if statusErr := s.qry.UpdateExtractionStatus(ctx, extractionID, StatusFailed); statusErr != nil {
			slog.ErrorContext(ctx, "failed to mark extraction as failed", "extraction_id", extractionID, "error", statusErr)
		}
		return nil, fmt.Errorf("Erro ao salvar os arquivos processados: %w", err)
	}
	return files, nil
}

// History lists every extraction, newest first.
func (s *Service) History(ctx context.Context) ([]db.Extraction, error) {
	return s.qry.ListExtractions(ctx)
}

// Details returns one extraction together with its generated files.
func (s *Service) Details(ctx context.Context, extractionID int64) (db.Extraction, []db.ProcessedFile, error) {
	extraction, err := s.qry.GetExtraction(ctx, extractionID)
	if err != nil {
		return db.Extraction{}, nil, err
	}
	files, err := s.qry.ListProcessedFiles(ctx, extractionID)
	if err != nil {
		return db.Extraction{}, nil, err
	}
	return extraction, files, nil
}

// Logs returns the persisted progress lines of an extraction.
func (s *Service) Logs(ctx context.Context, extractionID int64) ([]db.ExtractionLog, error) {
	return s.qry.ListExtractionLogs(ctx, extractionID)
}

// Delete removes an extraction and, through the schema's cascade rules, its
// rows, files and logs.
func (s *Service) Delete(ctx context.Context, extractionID int64) error {
	affected, err := s.qry.DeleteExtraction(ctx, extractionID)
	if err != nil {
		return fmt.Errorf("falha ao excluir a extração: %w", err)
	}
	if affected == 0 {
		return errors.New("Extração não encontrada.")
	}
	return nil
}

// LatestCompleted returns the most recent completed extraction for the given
// year and semester, used to seed imports from the freshest data.
func (s *Service) LatestCompleted(ctx context.Context, year int64, semester int64) (db.Extraction, error) {
	return s.qry.GetLatestCompletedExtraction(ctx, year, semester, StatusCompleted)
}

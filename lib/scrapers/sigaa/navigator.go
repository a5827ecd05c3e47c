package sigaa

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type state int

const (
	stateInit state = iota
	stateLoggedIn
	stateAffiliationSelected
	stateModuleSelected
	stateSearchFormReady
	stateResultsListed
	stateDone
)

const (
	selLoginUser     = `input[name="user.login"]`
	selLoginPassword = `input[name="user.senha"]`
	selLoginSubmit   = `input[type="submit"]`
	selModuleLink    = `a[href*="verMenuGraduacao.do"]`
	selCoordTab      = `div#coordenacao.aba`
	selSearchForm    = `table.formulario`
	selLevelCheckbox = `input#form\:checkNivel`
	selYearInput     = `input[name="form:inputAno"]`
	selSemesterInput = `input[name="form:inputPeriodo"]`
	selUnitSelect    = `select[name="form:selectUnidade"]`
	selSearchButton  = `input[name="form:buttonBuscar"]`
	selSectionTable  = `#lista-turmas`
	selRosterTable   = `table.listagem`
	selRosterRows    = `#lista-turmas-matriculas`

	consultaLinkText = "Consultar, Alterar, Consolidar e Remover Turma"

	// JSF postback the portal uses to open a section's roster
	rosterPostback = `jsfcljs(document.forms['form'], 'form:j_id_jsp_1668842680_875,form:j_id_jsp_1668842680_875,id,%s,turmasEAD,false', '');`
)

// clicks the first non-disabled affiliation link whose tag reads
// "Secretaria", or the first active link when none does
const affiliationClickJS = `(() => {
	const links = Array.from(document.querySelectorAll('li:not(.disabled) a'));
	for (const link of links) {
		const tag = link.querySelector('span.col-xs-2');
		if (tag && tag.textContent.trim().toLowerCase() === 'secretaria') {
			link.click();
			return;
		}
	}
	const fallback = document.querySelector('li:not(.disabled) a');
	if (fallback) fallback.click();
})();`

const consultaClickJS = `(() => {
	const links = Array.from(document.querySelectorAll('div#coordenacao.aba a'));
	const target = links.find(a => a.textContent.trim() === %q);
	if (target) target.click();
})();`

// Navigator walks the portal's login and section-search flow and
// collects the enrollment rows of every listed section.
type Navigator struct {
	page Page
	opts Options

	sections []section
	rows     []Row
	outcome  Outcome
}

func NewNavigator(page Page, opts Options) *Navigator {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Unit == "" {
		opts.Unit = DefaultUnit
	}
	return &Navigator{page: page, opts: opts}
}

func (n *Navigator) logf(format string, args ...any) {
	if n.opts.Log != nil {
		n.opts.Log(fmt.Sprintf(format, args...))
	}
}

func (n *Navigator) errf(format string, args ...any) {
	if n.opts.Errlog != nil {
		n.opts.Errlog(fmt.Sprintf(format, args...))
	}
}

func (n *Navigator) cancelled() bool {
	return n.opts.Cancelled != nil && n.opts.Cancelled()
}

// Run executes the navigation state machine to completion. Login and
// unrecovered navigation failures are fatal, cancellation is a
// distinguished non-error outcome.
func (n *Navigator) Run(ctx context.Context) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("year", n.opts.Year),
		attribute.String("semester", n.opts.Semester),
	)

	handlers := map[state]func(context.Context) (state, error){
		stateInit:                n.login,
		stateLoggedIn:            n.selectAffiliation,
		stateAffiliationSelected: n.openModule,
		stateModuleSelected:      n.openSearchForm,
		stateSearchFormReady:     n.submitSearch,
		stateResultsListed:       n.extractSections,
	}

	current := stateInit
	for current != stateDone {
		next, err := handlers[current](ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Outcome{}, err
		}
		current = next
	}
	n.outcome.Rows = n.rows
	return n.outcome, nil
}

func (n *Navigator) login(ctx context.Context) (state, error) {
	n.logf("Etapa 2: Navegando para a página de login do SIGAA...")
	err := n.page.Navigate(ctx, n.opts.BaseURL+"/verTelaLogin.do")
	if err != nil {
		return 0, fmt.Errorf("falha ao abrir a página de login: %w", err)
	}
	n.logf("Página de login carregada.")

	n.logf("Etapa 3: Preenchendo credenciais...")
	err = n.page.SetValue(ctx, selLoginUser, n.opts.Username)
	if err != nil {
		return 0, err
	}
	err = n.page.SetValue(ctx, selLoginPassword, n.opts.Password)
	if err != nil {
		return 0, err
	}

	n.logf("Etapa 4: Realizando login...")
	err = n.page.Click(ctx, selLoginSubmit)
	if err != nil {
		return 0, err
	}

	html, err := n.page.HTML(ctx, "html")
	if err != nil {
		return 0, err
	}
	if message := parseLoginError(html); message != "" {
		n.errf("Falha no login: %s", message)
		return 0, fmt.Errorf("%w: %s", ErrLoginFailed, message)
	}
	n.logf("Login bem-sucedido!")
	return stateLoggedIn, nil
}

func (n *Navigator) selectAffiliation(ctx context.Context) (state, error) {
	n.logf("Etapa 4.5: Selecionando o vínculo para acessar o portal...")
	err := n.page.WaitVisible(ctx, "li:not(.disabled) a")
	if err != nil {
		return 0, fmt.Errorf("não foi possível encontrar um vínculo ativo: %w", err)
	}
	err = n.page.Evaluate(ctx, affiliationClickJS)
	if err != nil {
		return 0, err
	}
	n.logf("Vínculo selecionado. Acessando portal principal...")
	return stateAffiliationSelected, nil
}

func (n *Navigator) openModule(ctx context.Context) (state, error) {
	n.logf("Etapa 4.6: Entrando no módulo de Graduação...")
	err := n.page.WaitVisible(ctx, selModuleLink)
	if err != nil {
		return 0, fmt.Errorf("módulo de graduação não encontrado: %w", err)
	}
	err = n.page.Click(ctx, selModuleLink)
	if err != nil {
		return 0, err
	}
	n.logf("Módulo de graduação acessado.")
	return stateModuleSelected, nil
}

func (n *Navigator) openSearchForm(ctx context.Context) (state, error) {
	n.logf("Etapa 5: Navegando para a consulta de turmas...")
	err := n.page.WaitVisible(ctx, selCoordTab)
	if err != nil {
		return 0, fmt.Errorf("aba de coordenação não encontrada: %w", err)
	}
	err = n.page.Evaluate(ctx, fmt.Sprintf(consultaClickJS, consultaLinkText))
	if err != nil {
		return 0, err
	}
	err = n.page.WaitVisible(ctx, selSearchForm)
	if err != nil {
		return 0, fmt.Errorf("formulário de busca de turmas não carregou: %w", err)
	}
	n.logf("Página de consulta carregada.")
	return stateSearchFormReady, nil
}

func (n *Navigator) submitSearch(ctx context.Context) (state, error) {
	n.logf("Etapa 6: Preenchendo formulário de busca de turmas...")
	err := n.page.Click(ctx, selLevelCheckbox)
	if err != nil {
		return 0, err
	}
	n.logf("Checkbox 'Nível' desmarcado.")

	err = n.page.SetValue(ctx, selYearInput, n.opts.Year)
	if err != nil {
		return 0, err
	}
	n.logf("Ano '%s' preenchido.", n.opts.Year)

	err = n.page.SetValue(ctx, selSemesterInput, n.opts.Semester)
	if err != nil {
		return 0, err
	}
	n.logf("Período '%s' preenchido.", n.opts.Semester)

	err = n.page.SetValue(ctx, selUnitSelect, n.opts.Unit)
	if err != nil {
		return 0, err
	}
	n.logf("Unidade '%s' selecionada.", n.opts.Unit)

	err = n.page.Click(ctx, selSearchButton)
	if err != nil {
		return 0, err
	}
	err = n.page.WaitVisible(ctx, selSectionTable)
	if err != nil {
		return 0, fmt.Errorf("a busca de turmas não retornou resultados: %w", err)
	}
	n.logf("Busca de turmas realizada.")

	n.logf("Etapa 7: Extraindo dados da tabela de turmas...")
	html, err := n.page.HTML(ctx, selSectionTable)
	if err != nil {
		return 0, err
	}
	n.sections, err = parseSections(html)
	if err != nil {
		return 0, err
	}
	n.logf("Encontradas %d turmas para processar. Iniciando extração de dados dos alunos...", len(n.sections))
	return stateResultsListed, nil
}

func (n *Navigator) extractSections(ctx context.Context) (state, error) {
	for i, sec := range n.sections {
		// cancellation is cooperative: only checked at section
		// boundaries, never mid-section
		if n.cancelled() {
			n.logf("Cancelamento detectado. Interrompendo a extração...")
			n.outcome = Outcome{Cancelled: true}
			n.rows = nil
			return stateDone, nil
		}

		n.logf("(%d/%d) Processando turma %s de %s...", i+1, len(n.sections), sec.turma, sec.componente)
		err := n.extractRoster(ctx, sec)
		if err == nil {
			continue
		}

		n.errf("Erro ao processar alunos da turma %s: %s. Tentando voltar...", sec.turma, err)
		err = n.recoverToSectionList(ctx)
		if err != nil {
			n.errf("Falha crítica ao tentar voltar para a lista de turmas. Abortando. Erro: %s", err)
			return 0, err
		}
		n.logf("Recuperado com sucesso, retornou à lista de turmas.")
	}
	return stateDone, nil
}

func (n *Navigator) extractRoster(ctx context.Context, sec section) error {
	n.logf("Navegando para alunos da turma ID %s via JS.", sec.id)
	err := n.page.Evaluate(ctx, fmt.Sprintf(rosterPostback, sec.id))
	if err != nil {
		return err
	}
	err = n.page.WaitVisible(ctx, selRosterTable)
	if err != nil {
		return err
	}
	n.logf("Página de alunos carregada.")

	html, err := n.page.HTML(ctx, selRosterRows)
	if err != nil {
		return err
	}
	rows, err := parseRoster(html, sec)
	if err != nil {
		return err
	}
	if len(rows) == 1 && rows[0].Matricula == NoStudentSentinel {
		n.logf("Turma %s não possui alunos matriculados.", sec.turma)
	}
	n.rows = append(n.rows, rows...)

	n.logf("Extração da turma %s concluída. Voltando...", sec.turma)
	err = n.page.Back(ctx)
	if err != nil {
		return err
	}
	err = n.page.WaitVisible(ctx, selSectionTable)
	if err != nil {
		return err
	}
	n.logf("Retornou à lista de turmas com sucesso.")
	return nil
}

// recoverToSectionList tries back-navigation first, then a hard reload
// of the search results page. Both failing is fatal for the run.
func (n *Navigator) recoverToSectionList(ctx context.Context) error {
	err := n.page.Back(ctx)
	if err == nil {
		err = n.page.WaitVisible(ctx, selSectionTable)
		if err == nil {
			return nil
		}
	}

	err = n.page.Navigate(ctx, n.opts.BaseURL+"/ensino/turma/busca_turma.jsf")
	if err != nil {
		return err
	}
	return n.page.WaitVisible(ctx, selSectionTable)
}

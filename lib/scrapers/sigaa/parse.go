package sigaa

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// header text looks like "QXD0001 - FUNDAMENTOS DE PROGRAMAÇÃO (96h)",
// the parenthetical suffix is a workload annotation
var headerParenthetical = regexp.MustCompile(`\s*\(.*\)\s*$`)

var sectionIDDigits = regexp.MustCompile(`(\d+)`)

// parseComponentHeader splits a results-table header row into component
// code and component name, stripping the parenthetical suffix.
func parseComponentHeader(text string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(text), " - ", 2)
	if len(parts) < 2 {
		return "", ""
	}
	name := headerParenthetical.ReplaceAllString(parts[1], "")
	return strings.TrimSpace(parts[0]), strings.TrimSpace(name)
}

// parseSections walks the section results table. Header rows (class
// "destaque") change the current component, which sticks for the
// section rows that follow. Rows hidden by the portal's own style
// filtering are skipped, as are rows with no section id.
func parseSections(html string) ([]section, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var out []section
	var currentCodigo, currentComponente string
	doc.Find("tbody > tr").Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("destaque") {
			currentCodigo, currentComponente = parseComponentHeader(row.Text())
			return
		}
		style, _ := row.Attr("style")
		if strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
			return
		}

		onclick, _ := row.Find(`img[onclick*="exibirOpcoesTurma"]`).Attr("onclick")
		id := sectionIDDigits.FindString(onclick)
		if id == "" {
			return
		}

		docente := strings.TrimSpace(row.Find("td:nth-child(3)").Text())
		if docente == "" {
			docente = UnassignedInstructor
		}
		out = append(out, section{
			codigo:     currentCodigo,
			componente: currentComponente,
			docente:    docente,
			turma:      strings.TrimSpace(row.Find("td:nth-child(2) > a").Text()),
			id:         id,
		})
	})
	return out, nil
}

// parseRoster extracts one Row per student in a section's roster table.
// An empty roster yields the single sentinel row.
func parseRoster(html string, sec section) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var out []Row
	doc.Find("tbody > tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		cell := func(i int) string {
			if i < len(cells) {
				return cells[i]
			}
			return ""
		}
		out = append(out, Row{
			Codigo:      sec.codigo,
			Componente:  sec.componente,
			Docente:     sec.docente,
			Turma:       sec.turma,
			Matricula:   cell(0),
			Nome:        cell(1),
			Curso:       cell(2),
			TipoReserva: cell(4),
			Situacao:    cell(7),
		})
	})

	if len(out) == 0 {
		out = append(out, Row{
			Codigo:      sec.codigo,
			Componente:  sec.componente,
			Docente:     sec.docente,
			Turma:       sec.turma,
			Matricula:   NoStudentSentinel,
			Nome:        emptyField,
			Curso:       emptyField,
			TipoReserva: emptyField,
			Situacao:    emptyField,
		})
	}
	return out, nil
}

// parseLoginError returns the portal's login error text, or "" when the
// page carries none.
func parseLoginError(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find(".error").First().Text())
}

package scholar

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"patent-sync/models"
	"patent-sync/providers"
)

// Selektoren der Scholar-Werkliste. Ändert Google das Markup, muss nur dieser Block angepasst werden.
const (
	rowSelector      = "tr.gsc_a_tr"
	titleSelector    = "a.gsc_a_at"
	graySelector     = ".gs_gray"
	yearSelector     = ".gsc_a_y"
	citationSelector = ".gsc_a_ac"
)

var patentNumberRegex = regexp.MustCompile(`Patent\s+([\w.,/\- ]+)`)

// RowParser wandelt eine Tabellenzeile in ein Patent um. Zeilen werden nie verworfen.
type RowParser interface {
	ParseRow(row *goquery.Selection) *models.Patent
}

// ScholarRowParser ist die Standardstrategie für das aktuelle Scholar-Markup.
type ScholarRowParser struct {
	BaseURL *url.URL
}

// ParseRow extrahiert Titel, Link, Autoren, Patentnummer, Jahr und Zitationen aus einer Zeile.
func (p *ScholarRowParser) ParseRow(row *goquery.Selection) *models.Patent {
	patent := &models.Patent{}

	anchor := row.Find(titleSelector).First()
	if anchor.Length() > 0 {
		patent.Title = strings.TrimSpace(anchor.Text())
		if href, ok := anchor.Attr("href"); ok {
			patent.URL = p.resolve(href)
		}
	}

	// Autoren und Venue teilen sich dieselbe Klasse, nur die Position unterscheidet sie.
	gray := row.Find(graySelector)
	if gray.Length() > 0 {
		patent.Authors = strings.TrimSpace(gray.First().Text())
		patent.PatentNumber = ExtractPatentNumber(strings.TrimSpace(gray.Last().Text()))
	}

	if year := strings.TrimSpace(row.Find(yearSelector).First().Text()); year != "" {
		patent.PublicationDate = &year
	}

	patent.Citations = ParseCitations(row.Find(citationSelector).First().Text())
	return patent
}

func (p *ScholarRowParser) resolve(href string) *string {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	if p.BaseURL != nil {
		ref = p.BaseURL.ResolveReference(ref)
	}
	s := ref.String()
	return &s
}

// ExtractPatentNumber sucht "Patent <nummer>" im Venue-Text. nil, wenn kein Treffer.
func ExtractPatentNumber(venue string) *string {
	m := patentNumberRegex.FindStringSubmatch(venue)
	if len(m) < 2 {
		return nil
	}
	number := strings.TrimSpace(m[1])
	if number == "" {
		return nil
	}
	return &number
}

// ParseCitations liest die Zitationszahl; leer, nicht numerisch oder negativ ergibt 0.
func ParseCitations(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// PageParser lädt das HTML und wendet den RowParser auf jede Zeile an.
type PageParser struct {
	Rows RowParser
}

// NewPageParser erstellt einen Parser mit der Standardstrategie für die gegebene Scholar-Basis-URL.
func NewPageParser(baseURL string) (*PageParser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid scholar base url %q: %w", baseURL, err)
	}
	return &PageParser{Rows: &ScholarRowParser{BaseURL: base}}, nil
}

// Parse gibt ein Patent pro Zeile in Dokumentreihenfolge zurück. Keine Zeilen ergibt eine leere Liste.
func (p *PageParser) Parse(html string) ([]*models.Patent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrParse, err)
	}

	patents := make([]*models.Patent, 0)
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		patents = append(patents, p.Rows.ParseRow(row))
	})
	return patents, nil
}

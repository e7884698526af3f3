package services

import (
	"fmt"
	"sort"
	"strings"

	"patent-sync/models"
)

const defaultDisplayCount = 5

// FormatPatentReference rendert ein Patent als kompakte Referenzzeile.
func FormatPatentReference(p models.Patent) string {
	authors := strings.TrimSpace(p.Authors)
	if authors == "" {
		authors = "Unknown Inventors"
	}
	year := "n.d."
	if p.PublicationDate != nil && strings.TrimSpace(*p.PublicationDate) != "" {
		year = strings.TrimSpace(*p.PublicationDate)
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "Untitled"
	}
	if p.URL != nil && *p.URL != "" {
		title = fmt.Sprintf("[%s](%s)", title, *p.URL)
	}

	var tail []string
	if p.PatentNumber != nil && *p.PatentNumber != "" {
		tail = append(tail, fmt.Sprintf("Patent %s.", *p.PatentNumber))
	}
	if p.Citations > 0 {
		tail = append(tail, fmt.Sprintf("Cited by %d.", p.Citations))
	}
	tailStr := strings.Join(tail, " ")
	if tailStr != "" {
		tailStr = " " + tailStr
	}
	return fmt.Sprintf("%s (%s). %s.%s", authors, year, title, tailStr)
}

// BuildPatentSection baut den Markdown-Abschnitt "Patents", meistzitierte zuerst, begrenzt auf limit Einträge.
// limit <= 0 zeigt alle.
func BuildPatentSection(patents []models.Patent, limit int) string {
	var b strings.Builder
	b.WriteString("## Patents\n\n")
	if len(patents) == 0 {
		b.WriteString("No patents listed.\n")
		return b.String()
	}

	ordered := make([]models.Patent, len(patents))
	copy(ordered, patents)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Citations > ordered[j].Citations
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	for _, p := range ordered {
		b.WriteString("- ")
		b.WriteString(FormatPatentReference(p))
		b.WriteString("\n")
	}
	return b.String()
}

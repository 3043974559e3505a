package prompt

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"goldenhour/internal/model"
)

//go:embed golden_hour.md
var goldenHourTemplate string

var tmpl = template.Must(template.New("golden_hour").Parse(goldenHourTemplate))

// maxAddressLen bounds how much of the user-supplied address reaches the model.
const maxAddressLen = 500

// Params are the site details interpolated into the relighting prompt.
type Params struct {
	Address string
	Date    string
	Bearing model.Bearing
}

type templateData struct {
	Address   string
	Date      string
	Direction string
}

// Build renders the golden-hour relighting prompt for the given site.
func Build(p Params) (string, error) {
	var sb strings.Builder
	err := tmpl.Execute(&sb, templateData{
		Address:   sanitize(p.Address),
		Date:      formatDate(p.Date),
		Direction: p.Bearing.Direction(),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// sanitize flattens line breaks so the address cannot open a new prompt section.
func sanitize(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	if r := []rune(s); len(r) > maxAddressLen {
		s = string(r[:maxAddressLen])
	}
	return s
}

// formatDate renders 2006-01-02 as "January 2, 2006"; anything else passes through.
func formatDate(d string) string {
	t, err := time.Parse(time.DateOnly, d)
	if err != nil {
		return d
	}
	return t.Format("January 2, 2006")
}

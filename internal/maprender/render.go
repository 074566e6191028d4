// Package maprender writes the self-contained, editable school map page.
package maprender

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed map.html.tmpl
var pageTemplate string

//go:embed app.js
var appScript string

var page = template.Must(template.New("map").Parse(pageTemplate))

// Colors per status, shared by markers, legend and list dots.
var Colors = map[string]string{
	"none":    "#808080",
	"recent":  "#1f77b4",
	"current": "#2ca02c",
}

// Nova Scotia overview.
var (
	DefaultCenter = [2]float64{45.2, -62.99}
	DefaultZoom   = 7
)

// Record is one map pin. Field names match the CSV the page exports.
type Record struct {
	School  string  `json:"School"`
	Address string  `json:"Address"`
	Group   string  `json:"Group"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Status  string  `json:"Status"`
	Phone   string  `json:"Phone,omitempty"`
	Email   string  `json:"Email,omitempty"`
	Notes   string  `json:"Notes,omitempty"`
}

// Page is the data rendered into the template.
type Page struct {
	Title        string
	Center       [2]float64
	Zoom         int
	Records      []Record
	Groups       []string
	Colors       map[string]string
	DownloadName string
}

// NewPage fills defaults and derives the sorted group list from records.
func NewPage(title string, records []Record) Page {
	if records == nil {
		records = []Record{}
	}
	return Page{
		Title:        title,
		Center:       DefaultCenter,
		Zoom:         DefaultZoom,
		Records:      records,
		Groups:       Groups(records),
		Colors:       Colors,
		DownloadName: "ns_schools_status.csv",
	}
}

// Groups returns the distinct non-blank groups, sorted.
func Groups(records []Record) []string {
	set := make(map[string]struct{})
	for _, r := range records {
		if g := strings.TrimSpace(r.Group); g != "" {
			set[g] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

type view struct {
	Page
	App template.JS
}

// Render writes the HTML page.
func Render(w io.Writer, p Page) error {
	if err := page.Execute(w, view{Page: p, App: template.JS(appScript)}); err != nil {
		return fmt.Errorf("render map: %w", err)
	}
	return nil
}

// WriteFile renders the page to path, replacing it atomically.
func WriteFile(path string, p Page) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".map-*.html")
	if err != nil {
		return fmt.Errorf("create map file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Render(tmp, p); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

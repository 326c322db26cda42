package core

import "fmt"

// Document is one manual chapter discovered on disk.
type Document struct {
	ID          string // file stem, e.g. "02-01-patient-demographics"
	Path        string // absolute source path
	Slug        string
	Title       string
	Description string
	Part        int
	Chapter     int
	Weight      int // frontmatter ordering override within a part
	Draft       bool
	Content     string // markdown body with frontmatter removed
	BodyLine    int    // lines preceding Content in the file
	Hash        string // sha256 of the raw file
}

// FileLine maps a 1-based line within Content to a line in the file.
func (d *Document) FileLine(line int) int {
	return line + d.BodyLine
}

// Order returns the "NN.MM" chapter number, or "" for unnumbered documents.
func (d *Document) Order() string {
	if d.Part < 0 {
		return ""
	}
	return fmt.Sprintf("%02d.%02d", d.Part, d.Chapter)
}

// URL returns the site-relative page path for the document.
func (d *Document) URL() string {
	return "chapters/" + d.Slug + "/"
}

// Part groups documents sharing the same leading number.
type Part struct {
	Number    int
	Name      string
	Documents []*Document
}

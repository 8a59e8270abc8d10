// Package parser extracts plain text from uploaded source documents.
package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrNoText means the file was readable but held no usable text.
	ErrNoText = errors.New("no text extracted")
	// ErrUnsupported is returned for file types without an extractor.
	ErrUnsupported = errors.New("unsupported file type")
)

// File types.
const (
	TypePDF      = "pdf"
	TypeDOCX     = "docx"
	TypePPTX     = "pptx"
	TypeXLSX     = "xlsx"
	TypeText     = "txt"
	TypeMarkdown = "md"
)

var extensions = map[string]string{
	".pdf":      TypePDF,
	".docx":     TypeDOCX,
	".pptx":     TypePPTX,
	".xlsx":     TypeXLSX,
	".txt":      TypeText,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
}

// FileType maps a path to its file type, or "" when unsupported.
func FileType(path string) string {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

func IsSupported(path string) bool {
	return FileType(path) != ""
}

// ExtractText returns the raw text of the file at path. It returns
// ErrNoText when the document has no non-blank text.
func ExtractText(path string) (string, error) {
	var (
		text string
		err  error
	)
	switch FileType(path) {
	case TypePDF:
		text, err = parsePDF(path)
	case TypeDOCX:
		text, err = parseDOCX(path)
	case TypePPTX:
		text, err = parsePPTX(path)
	case TypeXLSX:
		text, err = parseXLSX(path)
	case TypeText:
		text, err = parseText(path)
	case TypeMarkdown:
		text, err = parseMarkdownFile(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrNoText)
	}
	return text, nil
}

// parsePDF prefixes every non-empty page with a page marker.
func parsePDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("--- Page %d ---\n%s", i, pageText))
	}
	return strings.Join(pages, "\n\n"), nil
}

func parseDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return documentXMLText(r.Editable().GetContent())
}

// documentXMLText walks WordprocessingML. Paragraphs become lines and table
// rows become "cell | cell" lines.
func documentXMLText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))

	var (
		lines     []string
		para      strings.Builder
		cells     []string
		cell      []string
		tableRows int
		inText    bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteString("\t")
			case "br", "cr":
				para.WriteString("\n")
			case "tr":
				tableRows++
				cells = cells[:0]
			case "tc":
				cell = cell[:0]
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				para.Reset()
				if text == "" {
					continue
				}
				if tableRows > 0 {
					cell = append(cell, text)
				} else {
					lines = append(lines, text)
				}
			case "tc":
				if c := strings.TrimSpace(strings.Join(cell, " ")); c != "" {
					cells = append(cells, c)
				}
			case "tr":
				tableRows--
				if len(cells) > 0 {
					lines = append(lines, strings.Join(cells, " | "))
				}
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

// parsePPTX reads the slide XML parts in slide order.
func parsePPTX(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	var slides []*zip.File
	for _, file := range zr.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			slides = append(slides, file)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slideNumber(slides[i].Name) < slideNumber(slides[j].Name) })

	var parts []string
	for i, file := range slides {
		rc, err := file.Open()
		if err != nil {
			log.Warn().Err(err).Str("part", file.Name).Msg("Skipping unreadable slide")
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Warn().Err(err).Str("part", file.Name).Msg("Skipping unreadable slide")
			continue
		}
		if text := strings.TrimSpace(extractTextFromXML(string(data))); text != "" {
			parts = append(parts, fmt.Sprintf("--- Slide %d ---\n%s", i+1, text))
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func slideNumber(name string) int {
	n := 0
	for _, r := range strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml") {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if end := strings.Index(part, "</a:t>"); end >= 0 {
			text.WriteString(part[:end] + " ")
		}
	}
	return text.String()
}

// parseXLSX prefers excelize and falls back to tealeg/xlsx for workbooks
// excelize rejects.
func parseXLSX(path string) (string, error) {
	text, err := parseXLSXExcelize(path)
	if err == nil {
		return text, nil
	}
	log.Warn().Err(err).Str("path", path).Msg("excelize failed, retrying with xlsx")

	text, fallbackErr := parseXLSXTealeg(path)
	if fallbackErr != nil {
		return "", errors.Join(err, fallbackErr)
	}
	return text, nil
}

func parseXLSXExcelize(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sheets []sheetRows
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("sheet %s: %w", name, err)
		}
		sheets = append(sheets, sheetRows{name: name, rows: rows})
	}
	return formatSheets(sheets), nil
}

func parseXLSXTealeg(path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", err
	}

	var sheets []sheetRows
	for _, sheet := range f.Sheets {
		s := sheetRows{name: sheet.Name}
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, len(row.Cells))
			for i, cell := range row.Cells {
				cells[i] = cell.String()
			}
			s.rows = append(s.rows, cells)
		}
		sheets = append(sheets, s)
	}
	return formatSheets(sheets), nil
}

type sheetRows struct {
	name string
	rows [][]string
}

// formatSheets writes a "=== Sheet: name ===" header per sheet and one
// " | "-joined line per row with at least one non-empty cell. A workbook
// without any cell text yields "".
func formatSheets(sheets []sheetRows) string {
	var (
		lines   []string
		hasData bool
	)
	for _, s := range sheets {
		lines = append(lines, fmt.Sprintf("=== Sheet: %s ===\n", s.name))
		for _, row := range s.rows {
			var cells []string
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " | "))
				hasData = true
			}
		}
	}
	if !hasData {
		return ""
	}
	return strings.Join(lines, "\n")
}

// parseText reads UTF-8 and falls back to Latin-1 for invalid input.
func parseText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return decodeText(data)
}

func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	return charmap.ISO8859_1.NewDecoder().String(string(data))
}

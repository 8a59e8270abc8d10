package parser

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeZip(t *testing.T, name string, parts map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for partName, body := range parts {
		w, err := zw.Create(partName)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestFileType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"report.PDF", TypePDF},
		{"ifu.docx", TypeDOCX},
		{"deck.pptx", TypePPTX},
		{"fmea.xlsx", TypeXLSX},
		{"notes.txt", TypeText},
		{"README.md", TypeMarkdown},
		{"legacy.doc", ""},
		{"noext", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FileType(tt.path))
			assert.Equal(t, tt.want != "", IsSupported(tt.path))
		})
	}
}

func TestExtractText_Plain(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("\xef\xbb\xbfSterilization by EO.\nSAL 10^-6."))
	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Sterilization by EO.\nSAL 10^-6.", text)
}

func TestExtractText_Latin1Fallback(t *testing.T) {
	path := writeFile(t, "latin.txt", []byte("Caf\xe9 r\xe9sum\xe9"))
	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Café résumé", text)
}

func TestExtractText_Errors(t *testing.T) {
	_, err := ExtractText(writeFile(t, "blank.txt", []byte(" \n\t ")))
	assert.ErrorIs(t, err, ErrNoText)

	_, err = ExtractText("/tmp/file.odt")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = ExtractText(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoText)
}

func TestExtractText_Markdown(t *testing.T) {
	src := "# Risk Summary\n\nThe **FMEA** covers [hazards](http://example.com).\n\n" +
		"- item one\n- item two\n\n" +
		"| Hazard | Severity |\n|---|---|\n| Burn | High |\n\n" +
		"```\nrpn = s * o * d\n```\n"
	text, err := ExtractText(writeFile(t, "risk.md", []byte(src)))
	require.NoError(t, err)

	assert.Contains(t, text, "Risk Summary\nThe FMEA covers hazards.\n")
	assert.Contains(t, text, "item one")
	assert.Contains(t, text, "item two")
	assert.Contains(t, text, "Hazard | Severity\nBurn | High\n")
	assert.Contains(t, text, "rpn = s * o * d")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "example.com")
	assert.NotContains(t, text, "|---")
}

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Instructions for </w:t></w:r><w:r><w:t xml:space="preserve">Use &amp; Warnings</w:t></w:r></w:p>
<w:p></w:p>
<w:tbl>
<w:tr><w:tc><w:p><w:r><w:t>Hazard</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Control</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>Infection</w:t></w:r></w:p></w:tc><w:tc><w:p></w:p></w:tc></w:tr>
</w:tbl>
<w:p><w:r><w:t>Contraindication:</w:t><w:tab/><w:t>none</w:t></w:r></w:p>
</w:body>
</w:document>`

func TestExtractText_DOCX(t *testing.T) {
	path := writeZip(t, "ifu.docx", map[string]string{
		"word/document.xml":            documentXML,
		"word/_rels/document.xml.rels": `<Relationships/>`,
	})
	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "Instructions for Use & Warnings\nHazard | Control\nInfection\nContraindication:\tnone", text)
}

func TestExtractText_PPTX(t *testing.T) {
	path := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide10.xml":           `<p:sld><a:t>Ten</a:t></p:sld>`,
		"ppt/slides/slide2.xml":            `<p:sld><a:t>Two</a:t><a:t>words</a:t></p:sld>`,
		"ppt/slides/_rels/slide2.xml.rels": `<Relationships/>`,
		"ppt/slides/slide3.xml":            `<p:sld></p:sld>`,
	})
	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "--- Slide 1 ---\nTwo words\n\n--- Slide 3 ---\nTen", text)
}

func TestExtractText_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fmea.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Hazard"))
	require.NoError(t, f.SetCellValue("Sheet1", "C1", "RPN"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "Burn"))
	require.NoError(t, f.SetCellValue("Sheet1", "C2", 48))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "=== Sheet: Sheet1 ===\n\nHazard | RPN\nBurn | 48", text)
}

func TestExtractText_CorruptXLSX(t *testing.T) {
	_, err := ExtractText(writeFile(t, "broken.xlsx", []byte("not a zip")))
	assert.Error(t, err)
}

func TestFormatSheets(t *testing.T) {
	assert.Empty(t, formatSheets([]sheetRows{{name: "Empty", rows: [][]string{{"", " "}}}}))
	assert.Equal(t,
		"=== Sheet: A ===\n\nx\n=== Sheet: B ===\n",
		formatSheets([]sheetRows{{name: "A", rows: [][]string{{"x"}}}, {name: "B"}}),
	)
}

func TestSlideNumber(t *testing.T) {
	assert.Equal(t, 12, slideNumber("ppt/slides/slide12.xml"))
	assert.Equal(t, 0, slideNumber("ppt/slides/slide.xml"))
}

package parser

import (
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

func parseMarkdownFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return MarkdownToText(data)
}

// MarkdownToText strips markdown syntax and keeps the readable text. Blocks
// end with a newline and table rows become "cell | cell" lines.
func MarkdownToText(src []byte) (string, error) {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	var row []string
	var cell strings.Builder
	inCell := false

	out := func() *strings.Builder {
		if inCell {
			return &cell
		}
		return &sb
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				w := out()
				w.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					w.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				out().Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				out().Write(node.Label(src))
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				sb.Write(n.Lines().Value(src))
				sb.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *east.TableCell:
			if entering {
				inCell = true
				cell.Reset()
			} else {
				inCell = false
				row = append(row, strings.TrimSpace(cell.String()))
			}
		case *east.TableRow, *east.TableHeader:
			if entering {
				row = row[:0]
			} else {
				sb.WriteString(strings.Join(row, " | "))
				sb.WriteString("\n")
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n.Kind() != east.KindTable {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

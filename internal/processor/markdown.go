package processor

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"golang.org/x/net/html"
)

// MarkdownToHTML converts markdown to HTML for email bodies.
var MarkdownToHTML = Func(func(content string, _ map[string]interface{}) (string, error) {
	ps := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	doc := ps.Parse([]byte(content))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank})
	return string(markdown.Render(doc, renderer)), nil
})

// HTMLToMrkdwn converts HTML to Slack's mrkdwn dialect.
var HTMLToMrkdwn = Func(func(content string, _ map[string]interface{}) (string, error) {
	return htmlToMrkdwn(content)
})

// NewMarkdownToSlack converts markdown to Slack mrkdwn by way of HTML.
func NewMarkdownToSlack() Processor {
	return Chain{MarkdownToHTML, HTMLToMrkdwn}
}

// mrkdwnMarks maps inline elements to the mrkdwn character that wraps them.
var mrkdwnMarks = map[string]string{
	"strong": "*", "b": "*",
	"h1": "*", "h2": "*", "h3": "*", "h4": "*", "h5": "*", "h6": "*",
	"em": "_", "i": "_",
	"del": "~", "s": "~",
	"code": "`",
}

func htmlToMrkdwn(htmlStr string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	newline := func() {
		if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
			buf.WriteString("\n")
		}
	}

	var traverse func(n *html.Node, inPre bool)
	traverse = func(n *html.Node, inPre bool) {
		switch n.Type {
		case html.TextNode:
			if !inPre && strings.TrimSpace(n.Data) == "" && strings.Contains(n.Data, "\n") {
				return
			}
			buf.WriteString(n.Data)
			return
		case html.ElementNode:
		default:
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				traverse(c, inPre)
			}
			return
		}

		mark := mrkdwnMarks[n.Data]
		if inPre && n.Data == "code" {
			mark = ""
		}

		switch n.Data {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol":
			newline()
		case "br":
			buf.WriteString("\n")
			return
		case "pre":
			newline()
			buf.WriteString("```\n")
		case "li":
			newline()
			if n.Parent != nil && n.Parent.Data == "ol" {
				buf.WriteString(strconv.Itoa(listIndex(n)) + ". ")
			} else {
				buf.WriteString("• ")
			}
		case "a":
			buf.WriteString("<" + attr(n, "href") + "|")
		}
		buf.WriteString(mark)

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c, inPre || n.Data == "pre")
		}

		buf.WriteString(mark)
		switch n.Data {
		case "a":
			buf.WriteString(">")
		case "pre":
			newline()
			buf.WriteString("```")
		}
	}

	traverse(doc, false)
	return strings.TrimSpace(buf.String()), nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// listIndex returns the 1-based position of li among its list item siblings.
func listIndex(li *html.Node) int {
	i := 1
	for s := li.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == "li" {
			i++
		}
	}
	return i
}

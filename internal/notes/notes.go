// Package notes generates study notes as HTML and exports them as a
// printable page.
package notes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/neuna/neuna/internal/llm"
)

// ErrEmptyTopic is returned when no topic is given.
var ErrEmptyTopic = errors.New("notes: topic is required")

const promptFormat = `Create comprehensive, well-structured study notes about: %s

Format the notes as an HTML fragment (no <html>, <head> or <body> tags, no markdown, no code fences).
Use <h2> and <h3> for sections, <p> for explanations, <ul>/<li> for key points and <strong> for key terms.
Include a short summary at the top and a "Key Takeaways" section at the end.`

const instruction = "You are Neuna, an expert tutor who writes clear, accurate and well-organized study notes."

// Notes is one generated set of notes. HTML is sanitized.
type Notes struct {
	Topic     string    `json:"topic"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender sends one request to the model.
type Sender interface {
	Send(ctx context.Context, req llm.Request) (*llm.Reply, error)
}

// Generator writes notes with the model.
type Generator struct {
	gateway Sender
}

// NewGenerator returns a generator sending through gateway.
func NewGenerator(gateway Sender) *Generator {
	return &Generator{gateway: gateway}
}

// Generate asks for notes on topic. The request carries no tools and no
// history.
func (g *Generator) Generate(ctx context.Context, topic string) (*Notes, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	reply, err := g.gateway.Send(ctx, llm.Request{
		Text:              fmt.Sprintf(promptFormat, topic),
		SystemInstruction: instruction,
	})
	if err != nil {
		return nil, err
	}
	html, err := Sanitize(reply.Text)
	if err != nil {
		return nil, err
	}
	return &Notes{Topic: topic, HTML: html, CreatedAt: time.Now()}, nil
}

var codeFence = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")

// Sanitize turns a model reply into a safe HTML fragment: code fences are
// dropped, active content and event handler attributes are removed, and a
// full document is unwrapped to its body.
func Sanitize(reply string) (string, error) {
	cleaned := codeFence.ReplaceAllString(reply, "")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(cleaned))
	if err != nil {
		return "", fmt.Errorf("parse notes html: %w", err)
	}

	doc.Find("script, style, iframe, object, embed, link, meta, base, form").Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, node := range s.Nodes {
			var drop []string
			for _, attr := range node.Attr {
				key := strings.ToLower(attr.Key)
				val := strings.ToLower(strings.TrimSpace(attr.Val))
				if strings.HasPrefix(key, "on") ||
					(key == "href" || key == "src" || key == "action" || key == "formaction") && strings.HasPrefix(val, "javascript:") {
					drop = append(drop, attr.Key)
				}
			}
			for _, key := range drop {
				s.RemoveAttr(key)
			}
		}
	})

	html, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render notes html: %w", err)
	}
	return strings.TrimSpace(html), nil
}

// PlainText renders a fragment as terminal text: headings, paragraphs and
// bullet points, one per line.
func PlainText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	var sb strings.Builder
	doc.Find("h1, h2, h3, h4, p, li, pre").Not("li p, li li").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1", "h2":
			sb.WriteString("\n## " + strings.ToUpper(text) + "\n")
		case "h3", "h4":
			sb.WriteString("\n# " + text + "\n")
		case "li":
			sb.WriteString("  - " + text + "\n")
		default:
			sb.WriteString(text + "\n")
		}
	})
	return strings.TrimSpace(sb.String())
}

var page = template.Must(template.New("notes").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Neuna Notes - {{.Topic}}</title>
<style>
  body { font-family: Georgia, "Times New Roman", serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #111; line-height: 1.6; }
  h1 { border-bottom: 2px solid #6d28d9; padding-bottom: .25rem; }
  h2 { color: #4c1d95; margin-top: 2rem; }
  h3 { color: #5b21b6; }
  footer { margin-top: 3rem; font-size: .8rem; color: #666; }
  @media print {
    body { -webkit-print-color-adjust: exact; print-color-adjust: exact; margin: 0; max-width: none; }
    h2, h3 { page-break-after: avoid; }
    li, p { page-break-inside: avoid; }
    .no-print { display: none !important; }
  }
</style>
</head>
<body>
<h1>{{.Topic}}</h1>
{{.Body}}
<footer>Generated by Neuna on {{.Date}}</footer>
</body>
</html>
`))

// Export renders n as a standalone printable HTML page.
func Export(n *Notes) ([]byte, error) {
	// n.HTML went through Sanitize; sanitize again in case it was edited
	body, err := Sanitize(n.HTML)
	if err != nil {
		return nil, err
	}

	created := n.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	var buf bytes.Buffer
	err = page.Execute(&buf, struct {
		Topic string
		Body  template.HTML
		Date  string
	}{
		Topic: n.Topic,
		Body:  template.HTML(body),
		Date:  created.Format("January 2, 2006"),
	})
	if err != nil {
		return nil, fmt.Errorf("render notes page: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename is a safe file name for exported notes.
func Filename(topic string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(topic), "-"), "-")
	if slug == "" {
		slug = "notes"
	}
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	return "neuna-notes-" + slug + ".html"
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

package notes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/neuna/neuna/internal/llm"
)

func TestSanitize(t *testing.T) {
	reply := "```html\n" + `<html><head><style>body{}</style></head><body>
<h2 onclick="steal()">Photosynthesis</h2>
<script>alert(1)</script>
<p>Plants <a href="javascript:alert(1)">convert</a> light. <a href="https://example.org">More</a></p>
<iframe src="https://evil.example"></iframe>
<img src="x.png" onerror="boom()">
</body></html>` + "\n```"

	got, err := Sanitize(reply)
	if err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	for _, bad := range []string{"```", "<script", "alert(1)</script>", "<style", "<iframe", "onclick", "onerror", "javascript:", "<body", "<html"} {
		if strings.Contains(got, bad) {
			t.Errorf("sanitized output still contains %q:\n%s", bad, got)
		}
	}
	for _, good := range []string{"<h2>Photosynthesis</h2>", `href="https://example.org"`, `<img src="x.png"/>`} {
		if !strings.Contains(got, good) {
			t.Errorf("sanitized output lost %q:\n%s", good, got)
		}
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText(`<h2>Cells</h2><p>The  basic
unit of life.</p><ul><li><p>Nucleus</p></li><li>Membrane</li></ul><h3>Notes</h3>`)
	want := "## CELLS\nThe basic unit of life.\n  - Nucleus\n  - Membrane\n\n# Notes"
	if got != want {
		t.Errorf("PlainText =\n%q\nwant\n%q", got, want)
	}
}

func TestExport(t *testing.T) {
	page, err := Export(&Notes{
		Topic:     "Cells & <Tissues>",
		HTML:      `<h2>Intro</h2><p onmouseover="x()">Cells.</p>`,
		CreatedAt: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	html := string(page)
	for _, want := range []string{
		"<title>Neuna Notes - Cells &amp; &lt;Tissues&gt;</title>",
		"@media print",
		"<h2>Intro</h2>",
		"March 4, 2025",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if strings.Contains(html, "onmouseover") {
		t.Error("export kept an event handler")
	}
}

func TestFilename(t *testing.T) {
	if got := Filename("  The French Revolution!! "); got != "neuna-notes-the-french-revolution.html" {
		t.Errorf("Filename = %q", got)
	}
	if got := Filename("???"); got != "neuna-notes-notes.html" {
		t.Errorf("Filename = %q", got)
	}
}

type fakeSender struct {
	req   llm.Request
	reply *llm.Reply
	err   error
}

func (f *fakeSender) Send(_ context.Context, req llm.Request) (*llm.Reply, error) {
	f.req = req
	return f.reply, f.err
}

func TestGenerate(t *testing.T) {
	s := &fakeSender{reply: &llm.Reply{Text: "```html\n<h2>Gravity</h2><p>Things fall.</p>\n```"}}
	n, err := NewGenerator(s).Generate(context.Background(), " gravity ")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if n.Topic != "gravity" || n.HTML != "<h2>Gravity</h2><p>Things fall.</p>" {
		t.Errorf("notes = %+v", n)
	}
	if len(s.req.Tools) != 0 || len(s.req.History) != 0 || !strings.Contains(s.req.Text, "gravity") {
		t.Errorf("request = %+v", s.req)
	}
}

func TestGenerateErrors(t *testing.T) {
	if _, err := NewGenerator(&fakeSender{}).Generate(context.Background(), "  "); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("err = %v", err)
	}
	s := &fakeSender{err: llm.ErrTransport}
	if _, err := NewGenerator(s).Generate(context.Background(), "x"); !errors.Is(err, llm.ErrTransport) {
		t.Errorf("err = %v", err)
	}
}

package telegram

import (
	"strings"
	"testing"
)

func TestMarkdownToHTML(t *testing.T) {
	cases := []struct {
		name string
		md   string
		want string
	}{
		{"bold", "**hi**", "<b>hi</b>"},
		{"italic", "*hi*", "<i>hi</i>"},
		{"strikethrough", "~~hi~~", "<s>hi</s>"},
		{"code span", "`x := 1`", "<code>x := 1</code>"},
		{"heading", "# Title", "<b>Title</b>"},
		{"link", "[docs](https://a.dev)", `<a href="https://a.dev">docs</a>`},
		{"escapes", "a < b & c > d", "a &lt; b &amp; c &gt; d"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := MarkdownToHTML(c.md); got != c.want {
				t.Errorf("MarkdownToHTML(%q) = %q, want %q", c.md, got, c.want)
			}
		})
	}
}

func TestMarkdownToHTMLFencedCode(t *testing.T) {
	got := MarkdownToHTML("```go\nfmt.Println(\"<hi>\")\n```")
	if !strings.Contains(got, `<pre><code class="language-go">`) {
		t.Errorf("missing pre/code: %q", got)
	}
	if !strings.Contains(got, "&lt;hi&gt;") {
		t.Errorf("code not escaped: %q", got)
	}
}

func TestMarkdownToHTMLLists(t *testing.T) {
	got := MarkdownToHTML("- one\n- two")
	if !strings.Contains(got, "• one") || !strings.Contains(got, "• two") {
		t.Errorf("bullets: %q", got)
	}

	got = MarkdownToHTML("1. first\n2. second")
	if !strings.Contains(got, "1. first") || !strings.Contains(got, "2. second") {
		t.Errorf("ordered: %q", got)
	}
}

func TestMarkdownToHTMLPlainTextUnchanged(t *testing.T) {
	got := MarkdownToHTML("just a sentence")
	if got != "just a sentence" {
		t.Errorf("plain text = %q", got)
	}
}

func TestMarkdownToHTMLRawHTMLPassthrough(t *testing.T) {
	got := MarkdownToHTML("keep <b>this</b> tag")
	if !strings.Contains(got, "<b>") || !strings.Contains(got, "</b>") {
		t.Errorf("inline html = %q", got)
	}

	got = MarkdownToHTML("<blockquote>\nquoted\n</blockquote>")
	if !strings.Contains(got, "<blockquote>") {
		t.Errorf("html block = %q", got)
	}
}

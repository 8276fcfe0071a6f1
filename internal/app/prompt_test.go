package app

import (
	"testing"

	"studiumai/pkg/domain"
)

func TestBuildPromptWithoutHistory(t *testing.T) {
	got := buildPrompt("Why?", []sourceBlock{{FileName: "a.txt", Text: "A"}, {FileName: "b.txt", Text: "B"}}, nil)
	want := "You are a helpful AI assistant that answers questions based on the provided source documents.\n\n" +
		"SOURCE DOCUMENTS:\n--- a.txt ---\nA\n\n\n--- b.txt ---\nB\n\n\n" +
		"\nUSER QUESTION: Why?\n\n" +
		"Instructions:\n" +
		"- Answer the question based ONLY on the information in the source documents\n" +
		"- If the answer cannot be found in the sources, say so clearly\n" +
		"- Be concise but thorough\n" +
		"- Reference which source document contains the relevant information when possible\n\n" +
		"YOUR ANSWER:"
	if got != want {
		t.Fatalf("prompt mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestBuildHistory(t *testing.T) {
	got := buildHistory([]domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	})
	if got != "User: hi\n\nAssistant: hello" {
		t.Fatalf("unexpected history %q", got)
	}
}

func TestResolveFileType(t *testing.T) {
	cases := []struct {
		declared, name string
		head           []byte
		want           string
	}{
		{"application/pdf", "a.pdf", nil, "application/pdf"},
		{"", "notes.md", []byte("# hi"), "text/markdown"},
		{"application/octet-stream", "notes.txt", []byte("plain words"), "text/plain"},
		{"", "doc.pdf", []byte("%PDF-1.4\n"), "application/pdf"},
		{"TEXT/HTML; charset=utf-8", "a.html", nil, "text/html"},
	}
	for _, tc := range cases {
		if got := resolveFileType(tc.declared, tc.name, tc.head); got != tc.want {
			t.Fatalf("resolveFileType(%q,%q) = %q, want %q", tc.declared, tc.name, got, tc.want)
		}
	}
}

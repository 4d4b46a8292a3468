package bot

import (
	"context"
	"strings"
	"testing"
)

func TestResolvePoemTarget(t *testing.T) {
	cases := []struct {
		message string
		kind    PoemTargetKind
		value   string
	}{
		{"", PoemTargetRandom, ""},
		{"随机", PoemTargetRandom, ""},
		{"李白的诗", PoemTargetAuthor, "李白"},
		{"苏轼的诗词", PoemTargetAuthor, "苏轼"},
		{"杜甫", PoemTargetAuthor, "杜甫"},
		{"思乡", PoemTargetAuthor, "思乡"},
		{"描写秋天落叶和思念故乡的诗", PoemTargetKeyword, "描写秋天落叶和思念故乡的诗"},
	}
	for _, tc := range cases {
		got := ResolvePoemTarget(tc.message)
		if got.Kind != tc.kind || got.Value != tc.value {
			t.Fatalf("ResolvePoemTarget(%q) = {%v %q}, want {%v %q}", tc.message, got.Kind, got.Value, tc.kind, tc.value)
		}
	}
}

func TestBuildPoemPromptRandomRunsHot(t *testing.T) {
	prompt, temp := BuildPoemPrompt("随机")
	if temp != 1.0 {
		t.Fatalf("temperature = %v, want 1.0", temp)
	}
	if !strings.Contains(prompt, "随机推荐一首中国古诗词") {
		t.Fatalf("unexpected prompt: %q", prompt)
	}
}

func TestBuildPoemPromptAuthor(t *testing.T) {
	prompt, temp := BuildPoemPrompt("李白的诗")
	if temp != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", temp)
	}
	if !strings.Contains(prompt, "李白") {
		t.Fatalf("prompt should name the author: %q", prompt)
	}
}

func TestBuildPoemPromptKeyword(t *testing.T) {
	keyword := "描写秋天落叶和思念故乡的诗"
	prompt, temp := BuildPoemPrompt(keyword)
	if temp != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", temp)
	}
	if !strings.Contains(prompt, keyword) {
		t.Fatalf("prompt should carry the keyword: %q", prompt)
	}
}

func TestMockProviderEchoesQuestion(t *testing.T) {
	resp, err := MockProvider{}.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "Go的并发模型是什么"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if !strings.Contains(resp.Content, "Go的并发模型是什么") {
		t.Fatalf("response should echo the question: %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens == 0 {
		t.Fatalf("expected synthetic usage, got %+v", resp.Usage)
	}
}

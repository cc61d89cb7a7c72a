package capsule

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "whitespace only",
			input:    "   \n\t ",
			expected: nil,
		},
		{
			name:     "urls stripped",
			input:    "看这个 https://example.com/a/b?c=1 很棒",
			expected: []string{"看这", "这个", "很棒"},
		},
		{
			name:     "alphanumeric runs stripped",
			input:    "abc123 def_9",
			expected: nil,
		},
		{
			name:     "punctuation split",
			input:    "你好，世界！",
			expected: []string{"你好", "世界"},
		},
		{
			name:     "han run becomes overlapping bigrams",
			input:    "昨晚的梦境",
			expected: []string{"昨晚", "晚的", "的梦", "梦境"},
		},
		{
			name:     "two-rune run kept whole",
			input:    "梦境 星空",
			expected: []string{"梦境", "星空"},
		},
		{
			name:     "single runes dropped",
			input:    "我 很 好",
			expected: nil,
		},
		{
			name:     "stop words dropped",
			input:    "然后 但是 我们 可能",
			expected: nil,
		},
		{
			name:     "non-han script kept whole",
			input:    "さくら 梦境",
			expected: []string{"さくら", "梦境"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty falls back to fragment",
			input:    "",
			expected: TitleFragment,
		},
		{
			name:     "nothing survives tokenization",
			input:    "hello world 123 !!",
			expected: TitleFragment,
		},
		{
			name:     "single unit",
			input:    "梦境",
			expected: "梦境",
		},
		{
			name:     "most frequent wins and joins runner-up",
			input:    "梦境 梦境 星空",
			expected: "梦境·星空",
		},
		{
			name:     "frequency ties keep first-seen order",
			input:    "星空 梦境",
			expected: "星空·梦境",
		},
		{
			name:     "join skipped when over budget",
			input:    "あいうえお かきくけこ",
			expected: "あいうえお",
		},
		{
			name:     "long single unit truncated",
			input:    "あいうえおかきくけこさしすせそ",
			expected: "あいうえおかきくけこさし",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.input)
			if got != tt.expected {
				t.Errorf("Summarize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAutoTitle(t *testing.T) {
	c := &Capsule{
		Title: TitleNewCapsule,
		History: []Message{
			{Role: RoleUser, Content: "梦境 梦境"},
			{Role: RoleAssistant, Content: "这段话不应参与标题"},
			{Role: RoleUser, Content: "星空"},
		},
	}
	if got := c.AutoTitle(); got != "梦境·星空" {
		t.Errorf("AutoTitle() = %q, want %q", got, "梦境·星空")
	}
}

func TestAutoTitleOnlyRecentMessages(t *testing.T) {
	// Seven user messages: the oldest falls outside the six-message window,
	// so its otherwise-dominant word must not win.
	c := &Capsule{}
	c.History = append(c.History, Message{Role: RoleUser, Content: "噪音 噪音 噪音 噪音"})
	for i := 0; i < 6; i++ {
		c.History = append(c.History, Message{Role: RoleUser, Content: "梦境"})
	}
	if got := c.AutoTitle(); got != "梦境" {
		t.Errorf("AutoTitle() = %q, want %q", got, "梦境")
	}
}

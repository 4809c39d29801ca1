package template

import (
	"errors"
	"testing"

	"github.com/samcharles93/parley/internal/history"
)

func TestFormatFullConversation(t *testing.T) {
	t.Parallel()

	turns := []history.Turn{
		history.NewTurn(history.RoleUser, "hi"),
		history.NewTurn(history.RoleAssistant, "hello"),
		history.NewTurn(history.RoleUser, "how are you?"),
	}

	tests := []struct {
		name string
		tmpl Template
		want string
	}{
		{
			name: "olmoe",
			tmpl: OLMoE("be kind"),
			want: "<|endoftext|><|system|>\nbe kind\n<|user|>\nhi\n<|assistant|>\nhello\n<|user|>\nhow are you?\n<|assistant|>\n",
		},
		{
			name: "chatml without system",
			tmpl: ChatML(""),
			want: "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\nhello<|im_end|>\n<|im_start|>user\nhow are you?<|im_end|>\n<|im_start|>assistant\n",
		},
		{
			name: "llama drops last",
			tmpl: LLaMA(""),
			want: "[INST] hi [/INST] hello</s><s>[INST] how are you? [/INST]",
		},
		{
			name: "mistral",
			tmpl: Mistral("ignored"),
			want: "[INST] hi [/INST]hello</s> [INST] how are you? [/INST]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.tmpl.Format("how are you?", turns, false); got != tt.want {
				t.Fatalf("got %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestFormatResumedOnlyRendersInput(t *testing.T) {
	t.Parallel()

	turns := []history.Turn{
		history.NewTurn(history.RoleUser, "earlier"),
		history.NewTurn(history.RoleAssistant, "reply"),
	}
	got := OLMoE("sys").Format("next", turns, true)
	want := "<|endoftext|><|user|>\nnext\n<|assistant|>\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestFormatKeepsEarlierIdenticalTurn(t *testing.T) {
	t.Parallel()

	turns := []history.Turn{
		history.NewTurn(history.RoleUser, "again"),
		history.NewTurn(history.RoleAssistant, "ok"),
	}
	got := Alpaca("").Format("again", turns, false)
	want := "### Instruction:\nagain\n\n### Response:\nok\n\n### Instruction:\nagain\n\n### Response:\n"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	tmpl, err := Lookup("", "s")
	if err != nil || tmpl.Name != DefaultName || tmpl.SystemPrompt != "s" {
		t.Fatalf("default lookup: %+v %v", tmpl, err)
	}
	if tmpl, err := Lookup(" ChatML ", ""); err != nil || tmpl.Stop != "<|im_end|>" {
		t.Fatalf("chatml lookup: %+v %v", tmpl, err)
	}
	if _, err := Lookup("gpt", ""); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
	if names := Names(); len(names) != 5 || names[0] != "alpaca" {
		t.Fatalf("unexpected names %v", names)
	}
}

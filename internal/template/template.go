// Package template turns a conversation into the prompt text a model expects.
package template

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/parley/internal/history"
)

var ErrUnknownTemplate = errors.New("unknown template")

// Attachment wraps a message body.
type Attachment struct {
	Prefix string
	Suffix string
}

func (a Attachment) Wrap(s string) string {
	return a.Prefix + s + a.Suffix
}

type Template struct {
	Name   string
	Prefix string

	System Attachment
	User   Attachment
	Bot    Attachment

	SystemPrompt string
	// Stop ends generation when it appears in the output. Empty disables
	// stop matching.
	Stop string
	// DropLast trims the final character of the assistant opening marker on
	// a full prompt.
	DropLast bool
}

// Format renders the prompt for input. When resumed is set the runtime cache
// already holds the earlier conversation and only the new user turn is
// rendered. A trailing user turn equal to input is treated as input itself.
func (t Template) Format(input string, turns []history.Turn, resumed bool) string {
	var b strings.Builder
	b.WriteString(t.Prefix)

	if resumed {
		b.WriteString(t.User.Wrap(input))
		b.WriteString(t.Bot.Prefix)
		return b.String()
	}

	if t.SystemPrompt != "" {
		b.WriteString(t.System.Wrap(t.SystemPrompt))
	}
	if n := len(turns); n > 0 && turns[n-1].Role == history.RoleUser && turns[n-1].Content == input {
		turns = turns[:n-1]
	}
	for _, turn := range turns {
		switch turn.Role {
		case history.RoleUser:
			b.WriteString(t.User.Wrap(turn.Content))
		default:
			b.WriteString(t.Bot.Wrap(turn.Content))
		}
	}
	b.WriteString(t.User.Wrap(input))

	bot := t.Bot.Prefix
	if t.DropLast && bot != "" {
		r := []rune(bot)
		bot = string(r[:len(r)-1])
	}
	b.WriteString(bot)
	return b.String()
}

const DefaultName = "olmoe"

func OLMoE(systemPrompt string) Template {
	return Template{
		Name:         "olmoe",
		Prefix:       "<|endoftext|>",
		System:       Attachment{"<|system|>\n", "\n"},
		User:         Attachment{"<|user|>\n", "\n"},
		Bot:          Attachment{"<|assistant|>\n", "\n"},
		Stop:         "<|endoftext|>",
		SystemPrompt: systemPrompt,
	}
}

func ChatML(systemPrompt string) Template {
	return Template{
		Name:         "chatml",
		System:       Attachment{"<|im_start|>system\n", "<|im_end|>\n"},
		User:         Attachment{"<|im_start|>user\n", "<|im_end|>\n"},
		Bot:          Attachment{"<|im_start|>assistant\n", "<|im_end|>\n"},
		Stop:         "<|im_end|>",
		SystemPrompt: systemPrompt,
	}
}

func Alpaca(systemPrompt string) Template {
	return Template{
		Name:         "alpaca",
		System:       Attachment{"", "\n\n"},
		User:         Attachment{"### Instruction:\n", "\n\n"},
		Bot:          Attachment{"### Response:\n", "\n\n"},
		Stop:         "###",
		SystemPrompt: systemPrompt,
	}
}

func LLaMA(systemPrompt string) Template {
	return Template{
		Name:         "llama",
		Prefix:       "[INST] ",
		System:       Attachment{"<<SYS>>\n", "\n<</SYS>>\n\n"},
		User:         Attachment{"", " [/INST]"},
		Bot:          Attachment{" ", "</s><s>[INST] "},
		Stop:         "</s>",
		SystemPrompt: systemPrompt,
		DropLast:     true,
	}
}

// Mistral has no system slot; a system prompt is ignored.
func Mistral(string) Template {
	return Template{
		Name: "mistral",
		User: Attachment{"[INST] ", " [/INST]"},
		Bot:  Attachment{"", "</s> "},
		Stop: "</s>",
	}
}

var presets = map[string]func(string) Template{
	"olmoe":   OLMoE,
	"chatml":  ChatML,
	"alpaca":  Alpaca,
	"llama":   LLaMA,
	"mistral": Mistral,
}

// Names lists the preset names in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the named preset. An empty name selects the default.
func Lookup(name, systemPrompt string) (Template, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = DefaultName
	}
	fn, ok := presets[key]
	if !ok {
		return Template{}, fmt.Errorf("%w %q (available: %s)", ErrUnknownTemplate, name, strings.Join(Names(), ", "))
	}
	return fn(systemPrompt), nil
}

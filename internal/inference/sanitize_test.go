package inference

import "testing"

func TestSanitizeReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "hello there  \n\t", want: "hello there"},
		{in: "  leading kept", want: "  leading kept"},
		{in: "answer<|im_end|>", want: "answer"},
		{in: "a</s>b<|eot_id|>", want: "ab"},
		{in: "\n \n", want: ""},
		{in: "<|endoftext|>", want: ""},
	}
	for _, tt := range tests {
		if got := SanitizeReply(tt.in); got != tt.want {
			t.Fatalf("SanitizeReply(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

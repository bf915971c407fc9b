package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "template variable substitution",
			input: "signer_key: {{.SIGNER_KEY}}",
			env:   map[string]string{"SIGNER_KEY": "s3cret"},
			want:  "signer_key: s3cret",
		},
		{
			name:  "shell-style dollar syntax passes through",
			input: "pattern: ${POD_ID}-audio",
			env:   map[string]string{"POD_ID": "pod-1"},
			want:  "pattern: ${POD_ID}-audio",
		},
		{
			name:  "literal dollar in values is untouched",
			input: "regex: ^price\\$[0-9]+$",
			want:  "regex: ^price\\$[0-9]+$",
		},
		{
			name:  "multiple variables on one line",
			input: "base_url: {{.SCHEME}}://{{.HOST}}",
			env:   map[string]string{"SCHEME": "https", "HOST": "tts.internal"},
			want:  "base_url: https://tts.internal",
		},
		{
			name:  "missing variable expands to empty",
			input: "account: {{.NO_SUCH_VAR}}",
			want:  "account: ",
		},
		{
			name:  "value containing equals sign",
			input: "token: {{.TOKEN}}",
			env:   map[string]string{"TOKEN": "a=b=c"},
			want:  "token: a=b=c",
		},
		{
			name:  "malformed template passes through unchanged",
			input: "broken: {{.UNCLOSED",
			want:  "broken: {{.UNCLOSED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

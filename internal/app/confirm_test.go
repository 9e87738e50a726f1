package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

func TestPromptConfirmer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"y", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		c := NewPromptConfirmer(strings.NewReader(tt.input), &out)
		got := c.ConfirmUpdate(context.Background(), "Q42", domain.KindItem, 90*time.Minute)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "item Q42 was fetched 1h30m0s ago")
	}
}

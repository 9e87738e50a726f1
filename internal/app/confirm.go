package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/heartmarshall/wdfetch/internal/domain"
)

// PromptConfirmer asks on out and reads a yes/no answer from in. Anything
// other than y or yes declines, including EOF.
type PromptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

func (p *PromptConfirmer) ConfirmUpdate(_ context.Context, id string, kind domain.EntityKind, age time.Duration) bool {
	fmt.Fprintf(p.out, "%s %s was fetched %s ago. Fetch again? [y/N] ", kind, id, age.Round(time.Second))
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(p.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// Package promptmanager asks the user yes/no questions.
package promptmanager

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompter answers a yes/no question. Confirm returns ctx.Err() when the
// context ends before an answer arrives.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

type readResult struct {
	line string
	err  error
}

// LinePrompter prints the question and reads one line, from a terminal or a
// pipe. Only "y" (any case) confirms; anything else, including end of input,
// declines.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer

	// pending is a read abandoned by a cancelled Confirm; the next call
	// collects its line instead of starting a second reader.
	pending chan readResult
}

func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out}
}

func (p *LinePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := fmt.Fprintf(p.out, "%s (y/n): ", question); err != nil {
		return false, err
	}

	if p.pending == nil {
		p.pending = make(chan readResult, 1)
		go func(ch chan<- readResult) {
			line, err := p.in.ReadString('\n')
			ch <- readResult{line: line, err: err}
		}(p.pending)
	}

	var r readResult
	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(p.out)
		return false, ctx.Err()
	case r = <-p.pending:
		p.pending = nil
	}

	if r.err != nil && !errors.Is(r.err, io.EOF) {
		return false, r.err
	}
	if errors.Is(r.err, io.EOF) && r.line == "" {
		// keep the report on its own line when stdin closes mid-prompt
		_, _ = fmt.Fprintln(p.out)
	}
	return strings.EqualFold(strings.TrimSpace(r.line), "y"), nil
}

// AutoPrompter gives the same answer to every question without asking.
type AutoPrompter struct {
	Answer bool
	Out    io.Writer
}

func (p AutoPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if p.Out != nil {
		answer := "n"
		if p.Answer {
			answer = "y"
		}
		if _, err := fmt.Fprintf(p.Out, "%s (y/n): %s\n", question, answer); err != nil {
			return false, err
		}
	}
	return p.Answer, nil
}

// New picks the prompter for a run: assumeYes confirms everything, otherwise
// answers are read line by line from in.
func New(in io.Reader, out io.Writer, assumeYes bool) Prompter {
	if assumeYes {
		return AutoPrompter{Answer: true, Out: out}
	}
	return NewLinePrompter(in, out)
}

// Package confirm asks the operator to type a phrase before destructive steps.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var ErrConfirmationRequired = errors.New("destructive operation requires explicit confirmation")

// Interactive reports whether f is attached to a terminal.
func Interactive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Typed requires the operator to type Phrase exactly. A single keypress such as "y" is never enough.
type Typed struct {
	In     io.Reader
	Out    io.Writer
	Phrase string
}

func (c *Typed) Confirm(ctx context.Context, warning string) error {
	if len(c.Phrase) < 2 {
		return fmt.Errorf("confirmation phrase %q is too short", c.Phrase)
	}

	fmt.Fprintln(c.Out, warning)
	fmt.Fprintf(c.Out, "Type %q to continue: ", c.Phrase)

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(c.In).ReadString('\n')
		answer <- strings.TrimSpace(line)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.Out)
		return fmt.Errorf("%w: %w", ErrConfirmationRequired, ctx.Err())
	case line := <-answer:
		if line != c.Phrase {
			return fmt.Errorf("%w: expected %q, got %q", ErrConfirmationRequired, c.Phrase, line)
		}
		return nil
	}
}

// Assumed confirms without asking. Used when the selector was piped in by automation.
type Assumed struct {
	Out io.Writer
}

func (c *Assumed) Confirm(ctx context.Context, warning string) error {
	if c.Out != nil {
		fmt.Fprintln(c.Out, warning)
		fmt.Fprintln(c.Out, "Selector was piped in; proceeding without interactive confirmation.")
	}
	return nil
}

// Refuse never confirms. Used when there is no terminal to ask on.
type Refuse struct{}

func (Refuse) Confirm(ctx context.Context, warning string) error {
	return fmt.Errorf("%w: no terminal to confirm on", ErrConfirmationRequired)
}

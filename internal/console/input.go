package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Input reads lines typed by the user. The prompt is printed only when
// the input is a terminal.
type Input struct {
	r      io.Reader
	out    io.Writer
	prompt string
	tty    bool
}

// NewInput reads from in. Pass os.Stdin for the interactive case.
func NewInput(in io.Reader, out io.Writer, prompt string) *Input {
	tty := false
	if f, ok := in.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return &Input{r: in, out: out, prompt: prompt, tty: tty}
}

// Lines returns trimmed non-empty lines. The channel closes at EOF or
// when ctx is done.
func (i *Input) Lines(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(i.r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for {
			i.Prompt()
			if !scanner.Scan() {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// Prompt prints the prompt on a terminal.
func (i *Input) Prompt() {
	if i.tty && i.prompt != "" {
		fmt.Fprint(i.out, i.prompt)
	}
}

// Command splits "/name arg" into name and arg. ok is false for a plain
// chat line.
func Command(line string) (name, arg string, ok bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

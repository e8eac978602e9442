package dialog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrCancelled = errors.New("selection cancelled")

type Kind int

const (
	KindDirectory Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindFile {
		return "file"
	}
	return "directory"
}

type Options struct {
	Title   string
	Kind    Kind
	Default string
}

// PathSelector asks the user for a path.
type PathSelector interface {
	SelectPath(ctx context.Context, opts Options) (string, error)
}

// Prompt is a line-oriented PathSelector.
type Prompt struct {
	in  *bufio.Scanner
	out io.Writer
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewScanner(in), out: out}
}

// SelectPath asks until the answer is an existing path of the requested
// kind. An empty answer picks opts.Default, or cancels when there is none.
func (p *Prompt) SelectPath(ctx context.Context, opts Options) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if opts.Default != "" {
			_, _ = fmt.Fprintf(p.out, "%s [%s]: ", opts.Title, opts.Default)
		} else {
			_, _ = fmt.Fprintf(p.out, "%s: ", opts.Title)
		}

		if !p.in.Scan() {
			if err := p.in.Err(); err != nil {
				return "", fmt.Errorf("failed to read answer: %w", err)
			}
			return "", ErrCancelled
		}

		answer := strings.TrimSpace(p.in.Text())
		if answer == "" {
			if opts.Default == "" {
				return "", ErrCancelled
			}
			answer = opts.Default
		}

		path, err := check(answer, opts.Kind)
		if err != nil {
			_, _ = fmt.Fprintf(p.out, "%v\n", err)
			continue
		}

		return path, nil
	}
}

func check(answer string, kind Kind) (string, error) {
	if strings.HasPrefix(answer, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			answer = filepath.Join(home, strings.TrimPrefix(answer, "~"))
		}
	}

	path, err := filepath.Abs(answer)
	if err != nil {
		return "", fmt.Errorf("invalid path %s: %w", answer, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%s does not exist", path)
	}
	if info.IsDir() != (kind == KindDirectory) {
		return "", fmt.Errorf("%s is not a %s", path, kind)
	}

	return path, nil
}

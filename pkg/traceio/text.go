package traceio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// TextLoader reads one event label per line. Blank lines or "--" end a trace
// and "#" starts a comment line. Traces are named trace-0, trace-1, ...
type TextLoader struct{}

// Load implements Loader.
func (l *TextLoader) Load(ctx context.Context, r io.Reader, source string) ([]tracegraph.Trace, error) {
	scanner := bufio.NewScanner(r)
	c := newCollector(source)

	n := 0
	open := false
	lineNum := 0
	for scanner.Scan() {
		if err := canceled(ctx, source); err != nil {
			return nil, err
		}
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#"):
			continue
		case line == "" || line == "--":
			if open {
				n++
				open = false
			}
			continue
		}

		e := event.New(event.NewType(line))
		e.Line = lineNum
		c.add(fmt.Sprintf("trace-%d", n), e)
		open = true
	}
	if err := scanner.Err(); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidFormat, "failed to read input").
			WithContext("source", source)
	}
	return c.finish()
}

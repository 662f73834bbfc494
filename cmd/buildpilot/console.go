// ABOUTME: Console answer prompt for headless builds: prints the backend's question and reads one line.
// ABOUTME: A single reader goroutine owns the input so buffered lines survive between questions.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// consolePrompter reads answers from an io.Reader and writes prompts to an io.Writer.
type consolePrompter struct {
	reader io.Reader
	writer io.Writer

	once  sync.Once
	lines chan string
	err   error
}

func newConsolePrompter(r io.Reader, w io.Writer) *consolePrompter {
	return &consolePrompter{reader: r, writer: w, lines: make(chan string, 1)}
}

// start launches the reader goroutine on first use. At end of input it
// records the error and closes lines.
func (c *consolePrompter) start() {
	c.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(c.reader)
			for scanner.Scan() {
				c.lines <- strings.TrimSpace(scanner.Text())
			}
			c.err = scanner.Err()
			if c.err == nil {
				c.err = io.EOF
			}
			close(c.lines)
		}()
	})
}

// Ask prints the question with the remaining time, then waits for a line
// or for ctx to end.
func (c *consolePrompter) Ask(ctx context.Context, question, countdown string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.start()

	fmt.Fprintf(c.writer, "[?] %s", question)
	if countdown != "" {
		fmt.Fprintf(c.writer, " (answer within %s)", countdown)
	}
	fmt.Fprint(c.writer, "\n> ")

	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", c.err
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

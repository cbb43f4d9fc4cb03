package execution

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// logPump copies worker output line by line into a log file and, optionally, the console
type logPump struct {
	writer *io.PipeWriter
	done   chan struct{}
	err    error
}

// consoleWriter serialises console output of concurrent shards
type consoleWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *consoleWriter) println(line string) {
	if c == nil || c.out == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// startLogPump appends to path. Lines are mirrored to console with a "Container<i>:"
// prefix when console is non-nil.
func startLogPump(path string, index int, console *consoleWriter) (*logPump, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	reader, writer := io.Pipe()
	p := &logPump{writer: writer, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer file.Close()
		out := bufio.NewWriter(file)
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			console.println(strings.TrimSpace(fmt.Sprintf("Container%d:   %s", index, line)))
			out.WriteString(line)
			out.WriteByte('\n')
			out.Flush()
		}
		p.err = scanner.Err()
		// Keep the writer side from blocking if the scanner gave up on a huge line
		_, _ = io.Copy(io.Discard, reader)
	}()
	return p, nil
}

// Writer returns the sink for worker stdout
func (p *logPump) Writer() io.Writer {
	return p.writer
}

// Close flushes the remaining output and waits for the pump to finish
func (p *logPump) Close() error {
	p.writer.Close()
	<-p.done
	return p.err
}

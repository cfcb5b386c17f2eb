package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/stephanhaeuslschmid/mcp-proxy/internal/codec"
)

// pipeEndpoint is the shared implementation backing both the self and
// child stdio endpoints: each line of the reader is one message, each
// Send writes one line followed by a newline flush. Recv drains any
// buffered lines after the underlying reader reaches EOF before
// reporting ErrClosed, matching the "drains remaining buffered lines
// then returns EndOfStream" contract.
type pipeEndpoint struct {
	name string

	writeMu sync.Mutex
	w       io.Writer

	scanner *bufio.Scanner
	readMu  sync.Mutex
	// pending holds the remaining items of a batch line so Recv hands
	// them out one at a time, in order.
	pending []codec.Message

	closeOnce sync.Once
	closeFn   func() error
	closed    chan struct{}
}

func newPipeEndpoint(name string, r io.Reader, w io.Writer, closeFn func() error) *pipeEndpoint {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &pipeEndpoint{
		name:    name,
		w:       w,
		scanner: scanner,
		closeFn: closeFn,
		closed:  make(chan struct{}),
	}
}

func (p *pipeEndpoint) Info() Info { return Info{Name: p.name} }

func (p *pipeEndpoint) Send(ctx context.Context, msg codec.Message) error {
	select {
	case <-p.closed:
		return fmt.Errorf("%s send: %w", p.name, ErrClosed)
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.w.Write(msg.Raw); err != nil {
		return fmt.Errorf("%s send: %w", p.name, err)
	}
	if _, err := p.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("%s send: %w", p.name, err)
	}
	return nil
}

func (p *pipeEndpoint) Recv(ctx context.Context) (codec.Message, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	if len(p.pending) > 0 {
		m := p.pending[0]
		p.pending = p.pending[1:]
		return m, nil
	}

	for {
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return codec.Message{}, fmt.Errorf("%s recv: %w: %w", p.name, err, ErrClosed)
			}
			return codec.Message{}, fmt.Errorf("%s recv: %w", p.name, ErrClosed)
		}
		line := p.scanner.Bytes()
		if len(trimmed(line)) == 0 {
			continue
		}
		m, batch, err := codec.DecodeAny(line)
		if err != nil {
			return codec.Message{}, err
		}
		if batch != nil {
			if len(batch.Items) == 0 {
				continue
			}
			p.pending = append(p.pending, batch.Items[1:]...)
			return batch.Items[0], nil
		}
		return m, nil
	}
}

func trimmed(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == '\t') {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r') {
		end--
	}
	return b[start:end]
}

func (p *pipeEndpoint) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.closeFn != nil {
			err = p.closeFn()
		}
	})
	return err
}

// StdioSelfEndpoint speaks stdio on this process's own standard
// input/output — used when the bridge itself is the ingress peer
// (mode 1, stdio → remote).
type StdioSelfEndpoint struct {
	*pipeEndpoint
}

// NewStdioSelf wraps r/w (typically os.Stdin/os.Stdout) as an Endpoint.
func NewStdioSelf(r io.Reader, w io.Writer) *StdioSelfEndpoint {
	return &StdioSelfEndpoint{pipeEndpoint: newPipeEndpoint("stdio-self", r, w, nil)}
}

// StdioChildEndpoint speaks stdio to a supervisor-spawned child
// process — used for the local leg of mode 2 (HTTP ingress → stdio
// child). Closing it does not itself terminate the child; callers
// pair it with supervisor.Process.Terminate.
type StdioChildEndpoint struct {
	*pipeEndpoint
}

// NewStdioChild wraps a spawned child's stdin/stdout pipes.
func NewStdioChild(stdin io.WriteCloser, stdout io.Reader) *StdioChildEndpoint {
	return &StdioChildEndpoint{
		pipeEndpoint: newPipeEndpoint("stdio-child", stdout, stdin, stdin.Close),
	}
}

package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// stdoutDrain is how long an exited server's remaining output may take to
// reach EOF before the exit is reported.
const stdoutDrain = time.Second

var errProcessExited = errors.New("server process exited")

// stdioDialer spawns the server process and hands its pipes to mcp-go. The
// process lives under a context owned by the dialer, so it survives the dial
// deadline and is killed by release. An exit nobody asked for is reported
// through the dial's lost callback.
type stdioDialer struct {
	cfg    StdioConfig
	logger *slog.Logger
	grace  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	exited chan struct{}
	stdout *os.File
}

func (d *stdioDialer) dial(ctx context.Context, lost func(error)) (*mcpclient.Client, *mcpgo.InitializeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, d.cfg.Command, d.cfg.Args...)
	cmd.Env = append(os.Environ(), d.cfg.environ()...)
	cmd.Dir = d.cfg.Cwd

	// stdout is an os.Pipe rather than cmd.StdoutPipe so Wait does not
	// close it under the reader.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		stdoutR.Close()
		stdoutW.Close()
		return nil, nil, fmt.Errorf("start %s: %w", d.cfg.Command, err)
	}
	stdoutW.Close()

	exited := make(chan struct{})
	eof := make(chan struct{})
	d.mu.Lock()
	d.cancel, d.exited, d.stdout = cancel, exited, stdoutR
	d.mu.Unlock()

	go d.logStderr(stderr)
	go d.reap(cmd, exited, eof, lost)

	tr := transport.NewIO(&eofReader{r: stdoutR, eof: eof}, stdin, nil)
	transport.WithCommandLogger(slogAdapter{d.logger})(tr)
	cl := mcpclient.NewClient(tr)
	if err := cl.Start(procCtx); err != nil {
		return nil, nil, err
	}
	return cl, nil, nil
}

// reap waits for the process to exit and for its output to drain, then
// reports the exit. The connector ignores reports for connections it has
// already let go of.
func (d *stdioDialer) reap(cmd *exec.Cmd, exited, eof chan struct{}, lost func(error)) {
	err := cmd.Wait()
	close(exited)
	select {
	case <-eof:
	case <-time.After(stdoutDrain):
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", errProcessExited, err)
	} else {
		err = errProcessExited
	}
	d.logger.Debug("server process exited", "error", err)
	if lost != nil {
		lost(err)
	}
}

func (d *stdioDialer) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		d.logger.Debug("server stderr", "line", sc.Text())
	}
}

// release gives the process the grace period to exit after its stdin was
// closed, then kills it.
func (d *stdioDialer) release() {
	d.mu.Lock()
	cancel, exited, stdout := d.cancel, d.exited, d.stdout
	d.cancel, d.exited, d.stdout = nil, nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	if exited != nil {
		select {
		case <-exited:
		case <-time.After(d.grace):
			d.logger.Warn("server did not exit, killing it", "grace", d.grace)
		}
	}
	cancel()
	if stdout != nil {
		stdout.Close()
	}
}

// eofReader closes eof once the first read fails.
type eofReader struct {
	r    io.Reader
	eof  chan struct{}
	once sync.Once
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil {
		e.once.Do(func() { close(e.eof) })
	}
	return n, err
}

// slogAdapter routes mcp-go's printf-style transport logging into slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Infof(format string, v ...any)  { a.l.Debug(fmt.Sprintf(format, v...)) }
func (a slogAdapter) Errorf(format string, v ...any) { a.l.Warn(fmt.Sprintf(format, v...)) }

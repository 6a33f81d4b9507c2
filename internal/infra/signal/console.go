package signal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"alarm-tstat/internal/domain"
)

// ConsoleSource lets a person drive the controller from a terminal: "1" arms,
// "2" disarms. Each command sets every configured line to the level the relay
// would show. The edge channel closes when input ends.
type ConsoleSource struct {
	*emitter

	in     io.Reader
	out    io.Writer
	lines  []Line
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewConsoleSource(in io.Reader, out io.Writer, lines []Line, logger *slog.Logger) *ConsoleSource {
	return &ConsoleSource{
		emitter: newEmitter(len(lines) * 4),
		in:      in,
		out:     out,
		lines:   lines,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *ConsoleSource) Name() string {
	return "console"
}

func (c *ConsoleSource) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.wg.Add(1)
	go c.read()

	c.running = true
	return nil
}

// Stop closes the input when it is closable, which unblocks a pending read.
func (c *ConsoleSource) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stop()
	if closer, ok := c.in.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("closing console input", "error", err)
		}
	}
	c.wg.Wait()
	c.closeEdges()
	c.running = false
	return nil
}

func (c *ConsoleSource) read() {
	defer c.wg.Done()
	defer c.closeEdges()

	c.prompt()
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		state, ok := parseCommand(scanner.Text())
		if !ok {
			fmt.Fprintln(c.out, "enter 1 (armed) or 2 (disarmed)")
			c.prompt()
			continue
		}

		c.logger.Info("console input", "state", state)
		for _, edge := range edgesFor(c.lines, state, c.now()) {
			if !c.emit(edge) {
				return
			}
		}
		c.prompt()
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("reading console", "error", err)
	}
}

func (c *ConsoleSource) prompt() {
	fmt.Fprint(c.out, "1=armed 2=disarmed> ")
}

func parseCommand(s string) (domain.AlarmState, bool) {
	switch strings.TrimSpace(s) {
	case "1":
		return domain.Armed, true
	case "2":
		return domain.Disarmed, true
	default:
		return domain.Disarmed, false
	}
}

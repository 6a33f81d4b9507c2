package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"alarm-tstat/internal/domain"
)

const DefaultGPIODir = "/sys/class/gpio"

// GPIOSource polls the sysfs value files of the relay pins. The first read of
// each line is reported too, so a switch already held at boot still qualifies.
// Pull-ups are configured outside the process (device tree or config.txt).
type GPIOSource struct {
	*emitter

	fs       afero.Fs
	baseDir  string
	lines    []Line
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewGPIOSource(fs afero.Fs, baseDir string, lines []Line, interval time.Duration, logger *slog.Logger) *GPIOSource {
	if baseDir == "" {
		baseDir = DefaultGPIODir
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &GPIOSource{
		emitter:  newEmitter(16),
		fs:       fs,
		baseDir:  baseDir,
		lines:    lines,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *GPIOSource) Name() string {
	return "gpio"
}

func (g *GPIOSource) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}
	if len(g.lines) == 0 {
		return errors.New("gpio: no lines configured")
	}

	for _, l := range g.lines {
		if err := g.export(l.Pin); err != nil {
			return fmt.Errorf("gpio line %s: %w", l.Name, err)
		}
	}

	g.wg.Add(1)
	go g.poll(ctx)

	g.running = true
	g.logger.Info("gpio source started", "lines", len(g.lines), "interval", g.interval)
	return nil
}

func (g *GPIOSource) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stop()
	g.wg.Wait()
	g.closeEdges()
	g.running = false
	return nil
}

// export makes sure the pin's value file exists, asking the kernel to export
// it as an input when it does not.
func (g *GPIOSource) export(pin int) error {
	valuePath := g.valuePath(pin)
	if ok, _ := afero.Exists(g.fs, valuePath); ok {
		return nil
	}

	name := strconv.Itoa(pin)
	if err := afero.WriteFile(g.fs, filepath.Join(g.baseDir, "export"), []byte(name), 0o200); err != nil {
		return fmt.Errorf("exporting pin %d: %w", pin, err)
	}
	direction := filepath.Join(g.baseDir, "gpio"+name, "direction")
	if err := afero.WriteFile(g.fs, direction, []byte("in"), 0o644); err != nil {
		return fmt.Errorf("setting pin %d as input: %w", pin, err)
	}

	if ok, _ := afero.Exists(g.fs, valuePath); !ok {
		return fmt.Errorf("pin %d not available at %s", pin, valuePath)
	}
	return nil
}

func (g *GPIOSource) poll(ctx context.Context) {
	defer g.wg.Done()

	last := make(map[string]bool, len(g.lines))
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		for _, l := range g.lines {
			level, err := g.read(l.Pin)
			if err != nil {
				g.logger.Warn("reading gpio", "line", l.Name, "pin", l.Pin, "error", err)
				continue
			}
			if prev, seen := last[l.Name]; seen && prev == level {
				continue
			}
			last[l.Name] = level
			if !g.emit(domain.RawEdge{Line: l.Name, Level: level, At: g.now()}) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-g.done:
			return
		case <-ticker.C:
		}
	}
}

func (g *GPIOSource) read(pin int) (bool, error) {
	data, err := afero.ReadFile(g.fs, g.valuePath(pin))
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(string(data)) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("unexpected value %q", data)
	}
}

func (g *GPIOSource) valuePath(pin int) string {
	return filepath.Join(g.baseDir, "gpio"+strconv.Itoa(pin), "value")
}

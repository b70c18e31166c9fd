package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/logship/internal/agent"
	"github.com/loykin/logship/internal/config"
	"github.com/loykin/logship/internal/console"
	"github.com/loykin/logship/internal/logger"
	"github.com/loykin/logship/internal/metrics"
)

const (
	// flushTimeout bounds the final queue flush after the child exits.
	flushTimeout = 10 * time.Second
	// maxLineBytes caps one captured line; the rest of a longer line is
	// read and dropped so the child never blocks on a full pipe.
	maxLineBytes = 1 << 20
)

func createExecCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec -- command [args...]",
		Short: "Run a command and ship its output",
		Long: `Run a command under the capture agent. Each line the command writes to
stdout is captured as a log event and each stderr line as an error event.
A non-zero exit is reported as a fault and becomes logship's exit status.

Examples:
  logship exec --config=agent.toml -- ./server --port 9000
  logship exec -- sh -c 'echo hello; echo oops >&2'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAgentConfig(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runExec(ctx, cfg, args, cmd.ErrOrStderr())
		},
	}
}

func runExec(ctx context.Context, cfg config.Config, args []string, logOut io.Writer) error {
	log, closer, err := logger.New(cfg.Log, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if cfg.Metrics.Listen != "" {
		startMetrics(ctx, cfg.Metrics.Listen, log)
	}

	env, err := cfg.Exec.ChildEnv()
	if err != nil {
		return err
	}

	a, err := agent.New(ctx, cfg, agent.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if cfg.Delivering() {
			if n, err := a.Flush(cctx); err != nil {
				log.Warn("final flush incomplete", "delivered", n, "error", err)
			}
		}
		if err := a.Close(cctx); err != nil {
			log.Warn("close agent", "error", err)
		}
	}()
	if err := a.Install(ctx); err != nil {
		return err
	}

	runErr := runChild(ctx, args, env, log)
	var ee *exec.ExitError
	if errors.As(runErr, &ee) {
		a.Faults().Report(fmt.Errorf("%s: %w", args[0], runErr))
		return &exitError{code: ee.ExitCode()}
	}
	if runErr != nil {
		a.Faults().Report(runErr)
	}
	return runErr
}

// runChild starts the command and forwards its output line by line to the
// console handles until it exits.
func runChild(ctx context.Context, args []string, env []string, log *slog.Logger) error {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", args[0], err)
	}

	sampler := metrics.NewProcessSampler(args[0], int32(cmd.Process.Pid), 0, log)
	sampler.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go forwardLines(&wg, stdout, console.Log, log)
	go forwardLines(&wg, stderr, console.Error, log)
	wg.Wait()

	err = cmd.Wait()
	sum := sampler.Stop()
	log.Info("child exited", "command", args[0], "samples", sum.Samples,
		"peak_cpu_percent", sum.PeakCPU, "peak_memory_rss", sum.PeakMemoryRSS)
	return err
}

func forwardLines(wg *sync.WaitGroup, r io.Reader, h func(args ...any), log *slog.Logger) {
	defer wg.Done()
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line      []byte
		truncated bool
	)
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read child output", "error", err)
			}
			return
		}
		if room := maxLineBytes - len(line); len(chunk) > room {
			chunk, truncated = chunk[:room], true
		}
		line = append(line, chunk...)
		if more {
			continue
		}
		if truncated {
			log.Warn("child output line truncated", "limit_bytes", maxLineBytes)
		}
		h(string(line))
		line, truncated = line[:0], false
	}
}

// raidme incrementally analyzes a repository and synthesizes a
// knowledge document, one durable step at a time.
//
// Usage:
//
//	raidme analyze <repo>   # run (or resume) analysis for <repo>
//	raidme status  <repo>   # print step counts for the current session
//	raidme retry   <repo>   # flip failed steps back to pending
//	raidme render  <repo>   # re-synthesize the knowledge document
//	raidme reset   <repo>   # mark the current session aborted
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/kbarone/raidme/internal/config"
	"github.com/kbarone/raidme/internal/gateway"
	"github.com/kbarone/raidme/internal/session"
	"github.com/kbarone/raidme/internal/store"
)

func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	cmd, repoArg := os.Args[1], os.Args[2]
	repoRoot, err := absRepo(repoArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	switch cmd {
	case "analyze":
		runErr = runAnalyze(repoRoot)
	case "status":
		runErr = runStatus(repoRoot)
	case "retry":
		runErr = runRetry(repoRoot)
	case "render":
		runErr = runRender(repoRoot)
	case "reset":
		runErr = runReset(repoRoot)
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `raidme: incremental repository knowledge extraction

Usage:
  raidme analyze <repo>
  raidme status  <repo>
  raidme retry   <repo>
  raidme render  <repo>
  raidme reset   <repo>
`)
}

func absRepo(path string) (string, error) {
	abs, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if path == "." {
		return abs, nil
	}
	if strings.HasPrefix(path, "/") {
		return path, nil
	}
	return abs + "/" + path, nil
}

func gitRevision(repoRoot string) string {
	c := exec.Command("git", "rev-parse", "HEAD")
	c.Dir = repoRoot
	out, err := c.Output()
	if err != nil {
		return "working-tree"
	}
	return strings.TrimSpace(string(out))
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openController(repoRoot string) (*session.Controller, *zap.Logger, error) {
	cfg, err := config.LoadOrDefault(repoRoot + "/raidme.yaml")
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := newLogger()
	provider := gateway.NewStaticProvider(`{"summary":"dry run","atoms":[]}`)
	ctrl, err := session.Open(cfg, repoRoot, provider, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}
	return ctrl, logger, nil
}

func runAnalyze(repoRoot string) error {
	ctrl, logger, err := openController(repoRoot)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	_, err = ctrl.Run(ctx, repoRoot, gitRevision(repoRoot), "")
	return err
}

func runStatus(repoRoot string) error {
	ctrl, logger, err := openController(repoRoot)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	sess, err := ctrl.GetSession(ctx, repoRoot, gitRevision(repoRoot))
	if err != nil {
		return err
	}
	counts, err := ctrl.Status(ctx, sess.ID)
	if err != nil {
		return err
	}
	for _, s := range []store.Status{store.StatusPending, store.StatusRunning, store.StatusDone, store.StatusFailed, store.StatusSkipped} {
		fmt.Printf("%-10s %d\n", s, counts[s])
	}
	return nil
}

func runRetry(repoRoot string) error {
	ctrl, logger, err := openController(repoRoot)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	sess, err := ctrl.GetSession(ctx, repoRoot, gitRevision(repoRoot))
	if err != nil {
		return err
	}
	n, err := ctrl.Retry(ctx, sess.ID)
	if err != nil {
		return err
	}
	fmt.Printf("retried %d step(s)\n", n)
	return nil
}

func runRender(repoRoot string) error {
	ctrl, logger, err := openController(repoRoot)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	sess, err := ctrl.GetSession(ctx, repoRoot, gitRevision(repoRoot))
	if err != nil {
		return err
	}
	return ctrl.Render(ctx, sess)
}

func runReset(repoRoot string) error {
	ctrl, logger, err := openController(repoRoot)
	if err != nil {
		return err
	}
	defer ctrl.Close()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	sess, err := ctrl.GetSession(ctx, repoRoot, gitRevision(repoRoot))
	if err != nil {
		return err
	}
	return ctrl.Abort(ctx, sess.ID)
}

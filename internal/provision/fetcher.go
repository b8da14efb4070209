package provision

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/azaanpi/azaanctl/internal/gitrepo"
)

// Confirmer blocks until the operator acknowledges the prompt. It returns
// an error only when the acknowledgement channel itself is gone (closed
// terminal, cancelled context), which aborts the install.
type Confirmer func(ctx context.Context, prompt string) error

// TTYConfirmer reads the acknowledgement from the controlling terminal
// rather than stdin, so the prompt still works when the installer runs
// with piped input. The read is pushed to a goroutine so a cancelled
// context aborts the wait.
func TTYConfirmer(ctx context.Context, prompt string) error {
	tty, err := os.Open("/dev/tty")
	if err != nil {
		return fmt.Errorf("no controlling terminal to confirm on: %w", err)
	}
	defer func() {
		_ = tty.Close()
	}()

	fmt.Println(prompt)
	fmt.Print("Press Enter to retry... ")

	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(tty).ReadString('\n')
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("confirmation read failed: %w", err)
		}
		return nil
	}
}

// Fetcher obtains a fresh working copy, retrying under operator control.
type Fetcher struct {
	source  gitrepo.SourceControl
	confirm Confirmer
	logger  *slog.Logger
}

// NewFetcher creates a fetcher over the given source-control client
func NewFetcher(source gitrepo.SourceControl, confirm Confirmer, logger *slog.Logger) *Fetcher {
	return &Fetcher{source: source, confirm: confirm, logger: logger}
}

// Fetch clones url into dest, removing any previous working copy first so
// every run deploys from a pristine checkout. A failed clone is almost
// always a missing deploy key on the forge, so instead of a retry cap the
// loop re-displays the public key and waits for the operator to register
// it and confirm; it retries for as long as they keep confirming. After a
// successful clone the ref checkout is attempted; a checkout failure is
// reported loudly but tolerated, leaving the default branch deployed.
func (f *Fetcher) Fetch(ctx context.Context, url, ref, dest, authorizedKey string) error {
	for attempt := 1; ; attempt++ {
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("failed to remove previous working copy: %w", err)
		}

		f.logger.Info("cloning repository", "url", url, "dest", dest, "attempt", attempt)
		err := f.source.Clone(ctx, url, dest)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Error("clone failed", "attempt", attempt, "error", err)

		prompt := fmt.Sprintf(
			"Cloning %s failed. Make sure this deploy key is registered with read access:\n\n  %s\n",
			url, authorizedKey)
		if err := f.confirm(ctx, prompt); err != nil {
			return fmt.Errorf("install aborted while waiting for deploy key registration: %w", err)
		}
	}

	if ref != "" {
		if err := f.source.Checkout(ctx, dest, ref); err != nil {
			f.logger.Warn("checkout failed, deploying the default branch instead",
				"ref", ref, "error", err)
		}
	}

	return nil
}

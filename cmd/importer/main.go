// Command importer loads match logs, demos and league results into the
// stats database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

func main() {
	a := &app{}
	root := newRootCommand(a)

	err := root.ExecuteContext(context.Background())
	if a.sentry {
		if err != nil {
			sentry.CaptureException(err)
		}
		sentry.Flush(2 * time.Second)
	}
	if err != nil {
		a.fatal(err)
		os.Exit(1)
	}
}

func (a *app) fatal(err error) {
	if a.log == nil {
		fmt.Fprintln(os.Stderr, "importer:", err)
		return
	}
	a.log.Error("Import failed", "error", err)
	if a.webhook == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.webhook.SendFatal(ctx, a.run.Command, a.run.ID, err); err != nil {
		a.log.Warn("Could not send failure notification", "error", err)
	}
}

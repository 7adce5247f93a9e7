// Plan Engine CLI - operator command for triggering retry-all-failed,
// one-shot or cron-scheduled.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
)

const usage = `plan-engine-cli - operator command for the retry-all-failed operation

USAGE:
    plan-engine-cli retry-failed [options]

OPTIONS:
    -endpoint <url>    Plan engine server endpoint (default: http://localhost:8585)
    -timeout <dur>     Request timeout (default: 30s)
    -cron <expr>       Optional 5-field cron expression; if set, runs retry-failed
                       on that schedule instead of once and blocks until SIGINT/SIGTERM

EXAMPLES:
    plan-engine-cli retry-failed
    plan-engine-cli retry-failed -endpoint http://plan-engine:8585
    plan-engine-cli retry-failed -cron "*/5 * * * *"
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "retry-failed":
		runRetryFailed(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
}

func runRetryFailed(args []string) {
	fs := flag.NewFlagSet("retry-failed", flag.ExitOnError)
	endpoint := fs.String("endpoint", "http://localhost:8585", "plan engine server endpoint")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	cronExpr := fs.String("cron", "", "optional cron expression for recurring retry")
	fs.Parse(args)

	client := &http.Client{Timeout: *timeout}
	url := *endpoint + "/v1/operator/retry-failed"

	if *cronExpr == "" {
		n, err := triggerRetryFailed(context.Background(), client, url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "retry-failed request failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("retried %d jobs\n", n)
		return
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	_, err := c.AddFunc(normalizeCronExpr(*cronExpr), func() {
		n, err := triggerRetryFailed(context.Background(), client, url)
		if err != nil {
			fmt.Fprintf(os.Stderr, "retry-failed request failed: %v\n", err)
			return
		}
		fmt.Printf("retried %d jobs\n", n)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid cron expression %q: %v\n", *cronExpr, err)
		os.Exit(1)
	}

	c.Start()
	fmt.Printf("retry-failed scheduled on %q against %s; press Ctrl+C to stop\n", *cronExpr, *endpoint)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

// normalizeCronExpr pads a standard 5-field expression with a leading
// seconds field of 0, since the scheduler runs WithSeconds for parity with
// the teacher's CronScheduler precision.
func normalizeCronExpr(expr string) string {
	return "0 " + expr
}

type retryFailedResponse struct {
	Data struct {
		Retried int `json:"retried"`
	} `json:"data"`
}

func triggerRetryFailed(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var out retryFailedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Data.Retried, nil
}

// council-worker connects to an orchestrator's execution pool and runs test
// suites on behalf of the coordinator.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aicouncil/council-orchestrator/internal/execpool"
)

var (
	serverURL string
	workerID  string
	maxJobs   int
	languages []string
	workDir   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "council-worker",
		Short: "Remote test execution worker for the AI Council orchestrator",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&serverURL, "server", "ws://127.0.0.1:9090/ws", "coordinator websocket URL")
	rootCmd.Flags().StringVar(&workerID, "id", "", "worker ID (defaults to hostname)")
	rootCmd.Flags().IntVar(&maxJobs, "max-jobs", 2, "maximum concurrent suite executions")
	rootCmd.Flags().StringSliceVar(&languages, "language", nil, "language this worker can run (repeatable)")
	rootCmd.Flags().StringVar(&workDir, "workdir", "", "working directory for suite checkouts")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving hostname for worker ID: %w", err)
		}
		workerID = hostname
	}

	worker, err := execpool.NewWorker(execpool.WorkerConfig{
		ServerURL: serverURL,
		WorkerID:  workerID,
		MaxJobs:   maxJobs,
		Languages: languages,
		WorkDir:   workDir,
	})
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("[worker] shutting down")
		worker.Stop()
		os.Exit(0)
	}()

	log.Printf("[worker] %s connecting to %s (languages: %v, max jobs: %d)",
		workerID, serverURL, languages, maxJobs)
	return worker.RunWithReconnect()
}

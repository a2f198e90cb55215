package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aicouncil/council-orchestrator/internal/agents"
	"github.com/aicouncil/council-orchestrator/internal/config"
	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/execpool"
	"github.com/aicouncil/council-orchestrator/internal/gateway"
	"github.com/aicouncil/council-orchestrator/internal/harness"
	"github.com/aicouncil/council-orchestrator/internal/maintenance"
	"github.com/aicouncil/council-orchestrator/internal/notify"
	"github.com/aicouncil/council-orchestrator/internal/orchestrator"
	"github.com/aicouncil/council-orchestrator/internal/prompts"
	"github.com/aicouncil/council-orchestrator/internal/publisher"
	"github.com/aicouncil/council-orchestrator/internal/request"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
	"github.com/aicouncil/council-orchestrator/internal/watcher"
	"github.com/aicouncil/council-orchestrator/tui"
	"github.com/aicouncil/council-orchestrator/web/api"
)

var (
	triggerLanguages []string
	triggerBranch    string
	triggerPriority  string
	triggerFile      string
	listStatus       string
	listLimit        int
	serverURL        string
	servePort        int
)

func init() {
	triggerCmd := &cobra.Command{
		Use:   "trigger [FEATURE DESCRIPTION...]",
		Short: "Trigger a run for a feature",
		RunE:  runTrigger,
	}
	triggerCmd.Flags().StringSliceVar(&triggerLanguages, "language", nil, "target language (repeatable)")
	triggerCmd.Flags().StringVar(&triggerBranch, "branch", "", "requested branch name")
	triggerCmd.Flags().StringVar(&triggerPriority, "priority", "", "run priority (high, normal, low)")
	triggerCmd.Flags().StringVar(&triggerFile, "file", "", "feature request markdown file")
	rootCmd.AddCommand(triggerCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(listCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show run counts by status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	resultsCmd := &cobra.Command{
		Use:   "results RUN",
		Short: "Show test results and artifacts for a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runResults,
	}
	rootCmd.AddCommand(resultsCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel RUN",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	approveCmd := &cobra.Command{
		Use:   "approve RUN",
		Short: "Approve a published change-set",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprove,
	}
	rootCmd.AddCommand(approveCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch TUI dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon with the web API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "web API port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "orchestrator API base URL")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func apiBase(cfg *config.Config) string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)
}

// postJSON sends a request to the daemon's API and decodes the reply, turning
// error payloads into errors
func postJSON(url string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("contacting orchestrator at %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("orchestrator returned %s", resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	feature := strings.Join(args, " ")
	languages := triggerLanguages
	branch := triggerBranch
	priority := triggerPriority

	if triggerFile != "" {
		req, err := request.ParseFile(triggerFile)
		if err != nil {
			return err
		}
		feature = req.Feature
		languages = req.Languages
		if branch == "" {
			branch = req.Branch
		}
		if priority == "" {
			priority = string(req.Priority)
		}
	}

	body := map[string]interface{}{
		"feature_description":   feature,
		"target_languages":      languages,
		"requested_branch_name": branch,
		"priority":              priority,
	}

	var run api.RunResponse
	if err := postJSON(apiBase(cfg)+"/api/runs", body, &run); err != nil {
		return err
	}

	fmt.Printf("Triggered run %s for %d language(s)\n", run.ID, len(run.Languages))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{
		Status: domain.RunStatus(listStatus),
		Limit:  listLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFEATURE\tLANGUAGES\tSTATUS\tSTAGE")
	for _, r := range runs {
		feature := r.Feature
		if len(feature) > 48 {
			feature = feature[:45] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID[:8], feature, strings.Join(r.Languages, ","), r.Status, r.Stage)
	}
	w.Flush()

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(runstore.ListOptions{})
	if err != nil {
		return err
	}

	counts := map[domain.RunStatus]int{}
	for _, r := range runs {
		counts[r.Status]++
	}
	fmt.Printf("Runs: %d total | %d pending | %d running | %d succeeded | %d failed | %d cancelled\n",
		len(runs),
		counts[domain.RunPending], counts[domain.RunRunning],
		counts[domain.RunSucceeded], counts[domain.RunFailed], counts[domain.RunCancelled])

	return nil
}

// resolveRun accepts either a full run ID or an unambiguous prefix
func resolveRun(store *runstore.Store, id string) (*domain.Run, error) {
	if run, err := store.GetRun(id); err == nil {
		return run, nil
	}
	runs, err := store.ListRuns(runstore.ListOptions{})
	if err != nil {
		return nil, err
	}
	var match *domain.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run prefix %q is ambiguous", id)
			}
			match = r
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no run matches %q", id)
	}
	return match, nil
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := resolveRun(store, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run %s [%s]\n", run.ID, run.Status)
	fmt.Printf("Feature: %s\n", run.Feature)
	if run.Status == domain.RunFailed {
		fmt.Printf("Failed in %s", run.FailureStage)
		if run.FailureLanguage != "" {
			fmt.Printf(" (%s)", run.FailureLanguage)
		}
		fmt.Printf(": %s\n", run.FailureDetail)
	}

	results, err := store.ListResults(run.ID)
	if err != nil {
		return err
	}
	if len(results) > 0 {
		fmt.Println("\nTest executions:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  LANGUAGE\tATTEMPT\tOUTCOME\tDURATION\tFAILURES")
		for _, r := range results {
			fmt.Fprintf(w, "  %s\t%d\t%s\t%s\t%d\n",
				r.Language, r.Attempt, r.Outcome, r.Duration.Round(time.Millisecond), len(r.Failures))
		}
		w.Flush()
	}

	artifacts, err := store.LatestArtifacts(run.ID, "")
	if err != nil {
		return err
	}
	if len(artifacts) > 0 {
		fmt.Println("\nArtifacts:")
		for _, a := range artifacts {
			fmt.Printf("  %s (%s, v%d)\n", a.Path, a.Language, a.Version)
		}
	}

	if report, err := store.GetReviewReport(run.ID); err == nil && report != nil {
		fmt.Printf("\nReview findings: %d\n", len(report.Findings))
		for _, f := range report.Findings {
			fmt.Printf("  [%s] %s: %s\n", f.Severity, f.File, f.Message)
		}
	}
	if cs, err := store.GetChangeSet(run.ID); err == nil && cs != nil {
		fmt.Printf("\nPublished: %s (%s)\n", cs.Ref, cs.ReviewState)
	}

	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/runs/%s/cancel", apiBase(cfg), args[0])
	if err := postJSON(url, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Cancelled run %s\n", args[0])
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/runs/%s/approve", apiBase(cfg), args[0])
	if err := postJSON(url, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Approved change-set for run %s\n", args[0])
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	model := tui.NewModel(tui.ModelConfig{
		Store:       store,
		MaxParallel: cfg.General.MaxParallelRuns,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	gw := gateway.New(cfg.Gateway, cfg.General.Debug)
	council := agents.NewCouncil(gw, prompts.NewLoader(), cfg.Gateway.ParseRetries)

	local, err := harness.NewLocal(cfg.Languages, cfg.General.Debug)
	if err != nil {
		return err
	}

	var runner harness.Runner = local
	if cfg.Pool.Enabled {
		coord, err := execpool.NewCoordinator(execpool.CoordinatorConfig{
			ListenAddr: cfg.Pool.ListenAddr,
		}, cfg.Languages, local)
		if err != nil {
			return err
		}
		go func() {
			if err := coord.Start(ctx); err != nil {
				log.Printf("[serve] execution pool stopped: %v", err)
			}
		}()
		defer coord.Stop()
		runner = coord
		log.Printf("[serve] execution pool listening on %s", cfg.Pool.ListenAddr)
	}

	pub := publisher.New(store, cfg.Publish)

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	notifier := notify.Notifier(notify.NoopNotifier{})
	if len(notifiers) > 0 {
		notifier = notify.NewMultiNotifier(notifiers...)
	}

	languages := make([]string, 0, len(cfg.Languages))
	for lang := range cfg.Languages {
		languages = append(languages, lang)
	}

	orch := orchestrator.New(store, council, runner, pub, notifier, orchestrator.Options{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		MaxParallel: cfg.General.MaxParallelRuns,
		Languages:   languages,
	})

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	server := api.NewServer(store, orch, pub, addr)

	orch.SetEventFunc(server.Broadcast)

	if cfg.General.RequestsDir != "" {
		w, err := watcher.New(cfg.General.RequestsDir, func(paths []string) {
			for _, path := range paths {
				req, err := request.ParseFile(path)
				if err != nil {
					log.Printf("[serve] skipping request %s: %v", path, err)
					continue
				}
				run, err := orch.Trigger(req.Feature, req.Languages, req.Branch, req.Priority)
				if err != nil {
					log.Printf("[serve] rejecting request %s: %v", path, err)
					continue
				}
				log.Printf("[serve] triggered run %s from %s", run.ID, path)
			}
		})
		if err != nil {
			return err
		}
		go w.Start(ctx)
		defer w.Stop()
		log.Printf("[serve] watching %s for feature requests", cfg.General.RequestsDir)
	}

	sweeper, err := maintenance.New(store, cfg.Maintenance)
	if err != nil {
		return err
	}
	go sweeper.Start(ctx)

	go func() {
		if err := orch.Start(ctx); err != nil {
			log.Printf("[serve] orchestrator stopped: %v", err)
		}
	}()

	log.Printf("[serve] web API at http://%s", addr)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Printf("[serve] shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

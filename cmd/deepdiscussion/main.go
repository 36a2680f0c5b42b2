package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alienxp03/deepdiscussion/internal/config"
	"github.com/alienxp03/deepdiscussion/internal/console"
	"github.com/alienxp03/deepdiscussion/internal/core"
	"github.com/alienxp03/deepdiscussion/internal/engine"
	"github.com/alienxp03/deepdiscussion/internal/export"
	"github.com/alienxp03/deepdiscussion/internal/inputgate"
	"github.com/alienxp03/deepdiscussion/internal/storage"
	"github.com/alienxp03/deepdiscussion/internal/transcript"
	"github.com/alienxp03/deepdiscussion/provider"
	"github.com/alienxp03/deepdiscussion/provider/mock"
	"github.com/alienxp03/deepdiscussion/web/handlers"
)

var (
	dbPath    string
	cfgPath   string
	debugFlag bool
	appConfig *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "deepdiscussion",
	Short: "Multi-model debate until consensus",
	Long: `deepdiscussion puts one question to several language models and lets them
debate it: every model proposes, everyone critiques, and the least challenged
participant hosts rounds of revision until all agree or the round limit is hit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath != "" {
			appConfig, err = config.LoadFrom(cfgPath)
		} else {
			appConfig, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		setupLogging(appConfig.Log, debugFlag)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.deepdiscussion/deepdiscussion.db)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: ~/.deepdiscussion/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

func setupLogging(cfg config.LogConfig, debug bool) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func resolveDBPath() string {
	path := dbPath
	if path == "" && appConfig != nil {
		path = appConfig.Transcript.Database
	}
	if path == "" {
		path = storage.DefaultDBPath()
	}
	return path
}

// healthCachePath keeps provider health results beside the transcript database.
func healthCachePath() string {
	return filepath.Join(filepath.Dir(resolveDBPath()), handlers.HealthCacheFile)
}

func getStorage() (storage.Storage, error) {
	store, err := storage.NewSQLiteStorage(resolveDBPath())
	if err != nil {
		return nil, err
	}

	if err := store.Initialize(); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

func exportOptions() export.Options {
	return export.Options{PDFFont: appConfig.Export.PDFFont}
}

// notifyContext returns a context cancelled on the first SIGINT or SIGTERM.
func notifyContext(parent context.Context, onSignal func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			if onSignal != nil {
				onSignal()
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// ============================================================================
// RUN COMMAND
// ============================================================================

var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Start a new debate",
	Long: `Run a debate on the given question.

Without a question argument or --question, the question is read from stdin
(finish with a blank line or END).

Examples:
  deepdiscussion run "如何设计一个高可用的缓存系统?"
  deepdiscussion run --participants "a=openrouter/deepseek/deepseek-r1:free,b=gemini"
  deepdiscussion run --mock --max-rounds 3 "离线演示"`,
	RunE: runDebate,
}

var (
	questionFlag     string
	maxRoundsFlag    int
	participantsFlag string
	mockFlag         bool
	autoFlag         bool
	markdownFlag     string
)

func init() {
	runCmd.Flags().StringVarP(&questionFlag, "question", "q", "", "Question to debate")
	runCmd.Flags().IntVarP(&maxRoundsFlag, "max-rounds", "r", 0, "Maximum hosted rounds (default from config)")
	runCmd.Flags().StringVarP(&participantsFlag, "participants", "p", "", "Participants (comma-separated: [id=]provider[/model],...)")
	runCmd.Flags().BoolVar(&mockFlag, "mock", false, "Use the offline mock roster")
	runCmd.Flags().BoolVar(&autoFlag, "auto", false, "Never wait for human input")
	runCmd.Flags().StringVar(&markdownFlag, "markdown", "", "Markdown transcript path (default from config)")
}

func resolveParticipants() ([]core.Participant, error) {
	switch {
	case participantsFlag != "":
		participants, err := core.ParseParticipantSpecs(participantsFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --participants: %w", err)
		}
		return participants, nil
	case mockFlag:
		if appConfig.Providers == nil {
			appConfig.Providers = make(map[string]config.ProviderConfig)
		}
		mp := appConfig.Providers[mock.Name]
		mp.Kind = config.KindMock
		mp.Enabled = true
		appConfig.Providers[mock.Name] = mp
		return append([]core.Participant(nil), core.MockParticipants...), nil
	default:
		return appConfig.Participants, nil
	}
}

func runDebate(cmd *cobra.Command, args []string) error {
	participants, err := resolveParticipants()
	if err != nil {
		return err
	}
	if maxRoundsFlag > 0 {
		appConfig.Debate.MaxRounds = maxRoundsFlag
	}

	router, err := appConfig.NewRouter(participants)
	if err != nil {
		return err
	}
	opts, err := appConfig.EngineOptions(participants)
	if err != nil {
		return err
	}

	gate := inputgate.New(os.Stdin, os.Stdout)
	question := strings.TrimSpace(questionFlag)
	if question == "" {
		question = strings.TrimSpace(strings.Join(args, " "))
	}
	if question == "" {
		question, err = gate.ReadBlock("请输入问题 (空行或 END 结束):")
		if err != nil {
			return fmt.Errorf("failed to read question: %w", err)
		}
		question = strings.TrimSpace(question)
	}
	if question == "" {
		return engine.ErrEmptyQuestion
	}

	mdPath := markdownFlag
	if mdPath == "" {
		mdPath = appConfig.Transcript.MarkdownPath
	}
	md, err := transcript.NewMarkdownSink(mdPath)
	if err != nil {
		return err
	}
	defer md.Close()

	store, err := getStorage()
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	rec := storage.NewRecorder(store)

	var input engine.InputGate = gate
	if autoFlag {
		input = engine.NoInput{}
	}

	printer := console.New(os.Stdout)
	eng, err := engine.New(router, transcript.Multi{md, rec}, input, opts, engine.Callbacks{
		OnEntry:  printer.Entry,
		OnNotice: printer.Notice,
	})
	if err != nil {
		return err
	}

	printer.Header(eng.DebateID(), question, participants)

	ctx, cancel := notifyContext(cmd.Context(), func() {
		fmt.Println("\n\n已中断，正在保存讨论...")
	})
	defer cancel()

	result, err := eng.Run(ctx, question)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("debate failed: %w", err)
	}
	if rec.Err() != nil {
		slog.Warn("Debate was not fully stored", "debate_id", eng.DebateID(), "error", rec.Err())
	}

	fmt.Printf("\n讨论记录: %s\n", md.Path())
	if result != nil {
		fmt.Printf("ID: %s (共 %d 轮, %s)\n", result.DebateID, result.Rounds, result.Reason)
	}
	return nil
}

// ============================================================================
// LIST COMMAND
// ============================================================================

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored debates",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		debates, err := store.ListDebates(limit, 0)
		if err != nil {
			return err
		}

		if len(debates) == 0 {
			fmt.Println("No debates found. Start one with: deepdiscussion run \"Your question\"")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUESTION\tSTATUS\tROUNDS\tREASON\tCREATED")
		fmt.Fprintln(w, "──\t────────\t──────\t──────\t──────\t───────")

		for _, d := range debates {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				shortID(d.ID),
				truncate(d.Question, 35),
				d.Status,
				d.Rounds,
				d.Reason,
				d.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		w.Flush()

		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 50, "Maximum number of debates")
}

// ============================================================================
// SHOW COMMAND
// ============================================================================

var showCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a stored debate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		debate, entries, err := loadDebate(store, args[0])
		if err != nil {
			return err
		}

		roster := make([]core.Participant, len(debate.Roster))
		for i, id := range debate.Roster {
			roster[i] = core.Participant{ID: id}
		}

		printer := console.New(os.Stdout)
		printer.Header(debate.ID, debate.Question, roster)
		fmt.Printf("   Status: %s\n", debate.Status)
		fmt.Printf("   Created: %s\n", debate.CreatedAt.Format(time.RFC3339))

		for _, e := range entries {
			printer.Entry(*e)
		}
		return nil
	},
}

// ============================================================================
// DELETE COMMAND
// ============================================================================

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a stored debate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		debateID, err := findDebateByPrefix(store, args[0])
		if err != nil {
			return err
		}

		if err := store.DeleteDebate(debateID); err != nil {
			return err
		}

		fmt.Printf("Deleted debate: %s\n", debateID)
		return nil
	},
}

// ============================================================================
// EXPORT COMMAND
// ============================================================================

var exportCmd = &cobra.Command{
	Use:   "export [id] [format]",
	Short: "Export debate to file",
	Long: `Export a debate to markdown, PDF, or JSON.

Examples:
  deepdiscussion export abc123 markdown
  deepdiscussion export abc123 pdf
  deepdiscussion export abc123 json -o debate.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(args[1])
		if err != nil {
			return err
		}
		exporter, err := export.GetExporter(format, exportOptions())
		if err != nil {
			return err
		}

		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		debate, entries, err := loadDebate(store, args[0])
		if err != nil {
			return err
		}

		outputPath, _ := cmd.Flags().GetString("output")
		if outputPath == "" {
			outputPath = export.GenerateFilename(debate, exporter.FileExtension())
		}

		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create file: %w", err)
		}
		defer file.Close()

		if err := exporter.Export(debate, entries, file); err != nil {
			return fmt.Errorf("failed to export: %w", err)
		}

		fmt.Printf("Exported to: %s\n", outputPath)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file path")
}

// ============================================================================
// REPLAY COMMAND
// ============================================================================

var replayCmd = &cobra.Command{
	Use:   "replay [id]",
	Short: "Rebuild ledger and final solution from the stored transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := getStorage()
		if err != nil {
			return err
		}
		defer store.Close()

		_, entries, err := loadDebate(store, args[0])
		if err != nil {
			return err
		}

		plain := make([]core.Entry, len(entries))
		for i, e := range entries {
			plain[i] = *e
		}
		result, err := engine.Replay(plain, nil)
		if err != nil {
			return fmt.Errorf("failed to replay: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Debate:\t%s\n", result.DebateID)
		fmt.Fprintf(w, "Rounds:\t%d\n", result.Rounds)
		fmt.Fprintf(w, "Reason:\t%s\n", result.Reason)
		fmt.Fprintf(w, "Final:\t%s (round %d)\n", result.Final.Author, result.Final.Round)
		fmt.Fprintf(w, "Recorded final:\t%s (round %d)\n", result.RecordedFinal.Author, result.RecordedFinal.Round)
		fmt.Fprintf(w, "Ledger:\t%s\n", core.FormatLedger(result.Ledger))
		fmt.Fprintf(w, "Recorded ledger:\t%s\n", core.FormatLedger(result.RecordedLedger))
		w.Flush()

		if !result.Consistent {
			return errors.New("replay does not match the recorded final solution")
		}
		fmt.Println("✅ Consistent")
		return nil
	},
}

// ============================================================================
// PROVIDERS COMMAND
// ============================================================================

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := appConfig.CreateRegistry()
		if err != nil {
			return err
		}
		providers := registry.List()

		check, _ := cmd.Flags().GetBool("check")
		var health []provider.HealthStatus
		if check {
			health = checkProviders(cmd.Context(), providers)
		}

		fmt.Println("\nProviders:")
		fmt.Println(strings.Repeat("─", 50))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if check {
			fmt.Fprintln(w, "NAME\tMODEL\tSTATUS\tLATENCY")
		} else {
			fmt.Fprintln(w, "NAME\tMODEL\tSTATUS")
		}

		for i, p := range providers {
			model := ""
			if d, ok := p.(interface{ DefaultModel() string }); ok {
				model = d.DefaultModel()
			}

			if !check {
				status := "❌ Not configured"
				if p.Available() {
					status = "✅ Available"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name(), model, status)
				continue
			}

			h := health[i]
			status := "✅ Healthy"
			if !h.Available {
				status = "❌ " + truncate(h.Error, 40)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name(), model, status, h.ResponseTime.Round(time.Millisecond))
		}
		w.Flush()
		return nil
	},
}

func init() {
	providersCmd.Flags().Bool("check", false, "Probe every provider with a health prompt")
}

// checkProviders probes providers concurrently; results keep registry order.
func checkProviders(ctx context.Context, providers []provider.Provider) []provider.HealthStatus {
	results := make([]provider.HealthStatus, len(providers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range providers {
		g.Go(func() error {
			if !p.Available() {
				results[i] = provider.HealthStatus{Provider: p.Name(), Error: "not configured", CheckedAt: time.Now()}
				return nil
			}
			results[i] = provider.Check(ctx, p, "")
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ============================================================================
// CONFIG COMMAND
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		fmt.Printf("# Config file: %s\n\n", path)

		data, err := appConfig.YAML()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create example config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(config.GenerateExample()), 0644); err != nil {
			return err
		}

		fmt.Printf("Created config at: %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// ============================================================================
// SERVE COMMAND
// ============================================================================

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("port") && appConfig.Server.Port != 0 {
			servePort = appConfig.Server.Port
		}

		store, err := getStorage()
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		registry, err := appConfig.CreateRegistry()
		if err != nil {
			return fmt.Errorf("failed to initialize provider registry: %w", err)
		}

		fmt.Printf("\n🌐 Starting deepdiscussion API on http://localhost:%d\n\n", servePort)
		fmt.Println("Available endpoints:")
		fmt.Printf("  GET  http://localhost:%d/api/debates          - List debates\n", servePort)
		fmt.Printf("  POST http://localhost:%d/api/debates          - Start a debate\n", servePort)
		fmt.Printf("  GET  http://localhost:%d/api/debates/:id/stream - Follow a debate\n", servePort)
		fmt.Println("\nPress Ctrl+C to stop the server")

		return startServer(cmd.Context(), store, registry, servePort)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8182, "Server port")
}

func newLauncher(cfg *config.Config) handlers.Launcher {
	return func(participants []core.Participant) (engine.ModelClient, engine.Options, error) {
		if participants == nil {
			participants = cfg.Participants
		}
		router, err := cfg.NewRouter(participants)
		if err != nil {
			return nil, engine.Options{}, err
		}
		opts, err := cfg.EngineOptions(participants)
		if err != nil {
			return nil, engine.Options{}, err
		}
		return router, opts, nil
	}
}

func startServer(parent context.Context, store storage.Storage, registry *provider.Registry, port int) error {
	h := handlers.New(store, registry, newLauncher(appConfig), exportOptions(),
		handlers.WithHealthCache(healthCachePath(), handlers.HealthCacheTTL))
	defer h.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := notifyContext(parent, nil)
	defer cancel()

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Graceful shutdown failed", "error", err)
			server.Close()
		}
	}()

	slog.Info("Starting server", "addr", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func loadDebate(store storage.Storage, idOrPrefix string) (*core.Debate, []*core.Entry, error) {
	debateID, err := findDebateByPrefix(store, idOrPrefix)
	if err != nil {
		return nil, nil, err
	}
	debate, err := store.GetDebate(debateID)
	if err != nil {
		return nil, nil, err
	}
	if debate == nil {
		return nil, nil, fmt.Errorf("debate not found: %s", idOrPrefix)
	}
	entries, err := store.GetEntries(debateID)
	if err != nil {
		return nil, nil, err
	}
	return debate, entries, nil
}

func findDebateByPrefix(store storage.Storage, prefix string) (string, error) {
	if d, err := store.GetDebate(prefix); err == nil && d != nil {
		return d.ID, nil
	}

	debates, err := store.ListDebates(1000, 0)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, d := range debates {
		if strings.HasPrefix(d.ID, prefix) {
			matches = append(matches, d.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("debate not found: %s", prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous debate id %s matches %d debates", prefix, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

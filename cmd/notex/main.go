package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clinlabs/notex/internal/config"
	"github.com/clinlabs/notex/internal/database"
	"github.com/clinlabs/notex/internal/extract"
	"github.com/clinlabs/notex/internal/llm"
	"github.com/clinlabs/notex/internal/output"
	"github.com/clinlabs/notex/internal/retrain"
	"github.com/clinlabs/notex/internal/rules"
	"github.com/clinlabs/notex/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "notex",
	Short:   "Clinical parameter extraction from free-text notes",
	Long:    "notex extracts structured clinical parameters from free-text medical notes using configurable rules, with an optional LLM fallback and rule retraining from annotations.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(rulesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("notex", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/notex/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the output directory and LLM access.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archive and rule status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		ruleSet, err := app.ruleStore.Load()
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}

		fmt.Printf("Data directory: %s\n\n", cfg.GetDataDir())
		fmt.Println("Archive:")
		fmt.Printf("  Runs: %d\n", stats.TotalRuns)
		fmt.Printf("  Documents: %d\n", stats.TotalDocuments)
		fmt.Printf("  Failed documents: %d\n", stats.FailedDocuments)
		fmt.Printf("  Extracted parameters: %d\n", stats.TotalParameters)
		fmt.Println("\nRules:")
		fmt.Printf("  Active: %d (%s)\n", len(ruleSet), app.ruleStore.Path())
		fmt.Println("\nLLM:")
		state := "disabled"
		if cfg.LLM.Enabled {
			state = "enabled, no API key"
			if cfg.LLM.APIKey() != "" {
				state = "enabled"
			}
		}
		fmt.Printf("  %s (model %s)\n", state, cfg.LLM.Model)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(app.ruleStore, app.processor, app.out, app.db, app.retrainer, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- process command ---

var processCmd = &cobra.Command{
	Use:   "process [documents.json]",
	Short: "Run a batch of documents through the extraction pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := readDocuments(args[0])
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return fmt.Errorf("no documents in %s", args[0])
		}

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ruleSet, err := app.ruleStore.Load()
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}

		results := app.processor.ProcessBatch(context.Background(), docs, ruleSet)
		if _, err := app.db.RecordRun(results); err != nil {
			log.Printf("archiving run: %v", err)
		}

		okCount, failed, params := 0, 0, 0
		for _, r := range results {
			if r.Status == extract.StatusOK {
				okCount++
			} else {
				failed++
			}
			params += len(r.Extracted)
		}

		fmt.Println("Batch complete:")
		fmt.Printf("  Documents: %d (ok %d, failed %d)\n", len(results), okCount, failed)
		fmt.Printf("  Extracted parameters: %d\n", params)
		fmt.Printf("  Output written to %s\n", app.out.Dir())
		return nil
	},
}

// readDocuments loads a batch from a JSON file. Both a plain array and the
// API request shape {"documents": [...]} are accepted.
func readDocuments(path string) ([]extract.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}

	var docs []extract.Document
	if err := json.Unmarshal(data, &docs); err == nil {
		return docs, nil
	}

	var wrapped struct {
		Documents []extract.Document `json:"documents"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing documents: %w", err)
	}
	return wrapped.Documents, nil
}

// --- retrain command ---

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Synthesize a replacement rule set from annotations",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		outcome := app.retrainer.Run(context.Background())
		fmt.Printf("[%s] %s\n", outcome.Status, outcome.Message)
		if outcome.Status == retrain.StatusApplied {
			fmt.Printf("  Annotations used: %d\n", outcome.AnnotationsCount)
			fmt.Printf("  New rules: %d\n", outcome.RulesCount)
		}
		return nil
	},
}

// --- rules command ---

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the active rule set",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ruleSet, err := app.ruleStore.Load()
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}

		fmt.Printf("Active rules (%s):\n\n", app.ruleStore.Path())
		for _, r := range ruleSet {
			fmt.Printf("  %s\n", r.Name)
			if r.Regex != "" {
				fmt.Printf("    regex: %s\n", r.Regex)
			}
			if len(r.Keywords) > 0 {
				fmt.Printf("    keywords: %v\n", r.Keywords)
			}
		}
		return nil
	},
}

var rulesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the built-in default rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.ruleStore.Reset(); err != nil {
			return fmt.Errorf("resetting rules: %w", err)
		}
		fmt.Printf("Restored %d default rules to %s\n", len(rules.DefaultRules), app.ruleStore.Path())
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesResetCmd)
}

// --- shared construction ---

type app struct {
	ruleStore *rules.Store
	out       *output.Store
	db        *database.DB
	processor *extract.Processor
	retrainer *retrain.Retrainer
}

func (a *app) Close() {
	a.db.Close()
}

// buildApp wires the pipeline components from the loaded config.
func buildApp() (*app, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	ruleStore := rules.NewStore(filepath.Join(dataDir, "rules.json"))

	out, err := output.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("creating output store: %w", err)
	}

	db, err := database.Open(filepath.Join(dataDir, "notex.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	provider := llm.NewDeepSeekProvider(cfg.LLM.Model, cfg.LLM.APIKey(), cfg.LLM.Endpoint)
	extractor := llm.NewExtractor(provider, cfg.LLM.Enabled, cfg.LLM.ExtractMaxTokens)
	synthesizer := llm.NewSynthesizer(provider, cfg.LLM.Enabled, cfg.LLM.RulesMaxTokens)

	processor := extract.NewProcessor(rules.NewMatcher(rules.DefaultVocabulary), extractor, out)
	retrainer := retrain.New(out, synthesizer, ruleStore)

	return &app{
		ruleStore: ruleStore,
		out:       out,
		db:        db,
		processor: processor,
		retrainer: retrainer,
	}, nil
}

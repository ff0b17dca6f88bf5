// Command inkmemory is a journaling app whose inner voices comment on what
// you write.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/cobra"

	// Session day boundaries need zone data on hosts without a tz database.
	_ "time/tzdata"

	"github.com/MrWong99/inkmemory/internal/app"
	"github.com/MrWong99/inkmemory/internal/config"
	"github.com/MrWong99/inkmemory/pkg/provider/llm"
	"github.com/MrWong99/inkmemory/pkg/provider/llm/anyllm"
	"github.com/MrWong99/inkmemory/pkg/provider/llm/openai"
)

var version = "dev"

// configPath is the --config flag shared by every command.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "inkmemory",
	Short: "Journal with inner voices",
	Long: `inkmemory opens today's journal entry. Type to write; the voices comment on
phrases of your text as you go. Lines starting with ':' are commands, see :help.`,
	SilenceUsage: true,
	RunE:         runJournal,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("inkmemory version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config and installs the default logger at its level.
func loadConfig() (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
		}
		return nil, nil, err
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))
	return cfg, levelVar, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every LLM backend in
// [config.ValidProviderNames] into reg. openai talks to the API directly; the
// rest go through any-llm.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, providerName := range config.ValidProviderNames {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			// ollama is a local server; it uses BaseURL for the address, not an API key.
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       inkmemory, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Mode", string(cfg.Session.Mode))
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Fallback", cfg.Providers.FallbackLLM.Name, cfg.Providers.FallbackLLM.Model)
	printRow("Local store", string(cfg.Storage.LocalBackend))
	if n := len(cfg.Voices); n > 0 {
		fmt.Printf("║  Voices          : %-19d ║\n", n)
	} else {
		printRow("Voices", "(built-in)")
	}
	if cfg.Session.Timezone != "" {
		printRow("Timezone", cfg.Session.Timezone)
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(key, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}

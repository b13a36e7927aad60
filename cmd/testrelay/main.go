package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/testrelay/testrelay/internal/junit"
	"github.com/testrelay/testrelay/internal/logging"
	"github.com/testrelay/testrelay/internal/token"
	"github.com/testrelay/testrelay/internal/tracing"
	"github.com/testrelay/testrelay/internal/transport"
	"github.com/testrelay/testrelay/pkg/config"
	"github.com/testrelay/testrelay/pkg/reporter"
)

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

type profile struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
	Env     string `yaml:"env"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

func main() {
	profileName := getenv("TESTRELAY_PROFILE", "")
	cfgPath := getenv("TESTRELAY_CONFIG_PATH", "")
	ui := newUI()

	var (
		baseURL  string
		apiToken string
	)

	root := &cobra.Command{
		Use:   "testrelay",
		Short: "testrelay CLI",
		Long:  "testrelay CLI for delivering test results to an ingest service.",
	}
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", "", "Ingest service base URL")
	root.PersistentFlags().StringVar(&apiToken, "token", "", "API token")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "Config file path")

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(authCmd(&profileName, ui))
	root.AddCommand(reportCmd(&baseURL, &apiToken, &profileName, &cfgPath, ui))
	root.AddCommand(pingCmd(&baseURL, &apiToken, &profileName, &cfgPath, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

// resolveConfig layers, lowest to highest: defaults, config file, stored
// profile, environment, flags.
func resolveConfig(cfgPath, profileName, baseURL, apiToken string) (*config.Config, error) {
	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	prof, _ := activeProfile(profileName)
	if os.Getenv("TESTRELAY_BASE_URL") == "" && cfg.BaseURL == config.Default().BaseURL && prof.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(prof.BaseURL, "/")
	}
	if os.Getenv("TESTRELAY_TOKEN") == "" && cfg.Token == "" && prof.Token != "" {
		cfg.Token = prof.Token
	}
	if os.Getenv("TESTRELAY_ENV") == "" && prof.Env != "" {
		cfg.Env = prof.Env
	}

	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
	if strings.TrimSpace(apiToken) != "" {
		cfg.Token = strings.TrimSpace(apiToken)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func reportCmd(baseURL, apiToken, profileName, cfgPath *string, ui *ui) *cobra.Command {
	var (
		runName   string
		batchSize int
		noAttach  bool
		strict    bool
	)
	cmd := &cobra.Command{
		Use:     "report <junit-report.xml>",
		Short:   "Deliver a JUnit report to the ingest service",
		Example: "testrelay report ./build/test-results/junit.xml --run-name nightly",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(*cfgPath, *profileName, *baseURL, *apiToken)
			if err != nil {
				return err
			}
			if runName != "" {
				cfg.RunName = runName
			}
			if cfg.RunName == "" {
				cfg.RunName = filepath.Base(args[0])
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.BatchSize = batchSize
			}
			if noAttach {
				cfg.UploadAttachments = false
			}
			if strict {
				cfg.FailSilently = false
			}

			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			warnAboutToken(cfg.Token, ui)

			ctx := cmd.Context()
			shutdown, err := tracing.Setup(ctx, tracing.Config{
				Enabled:      cfg.TracingEnabled,
				ServiceName:  "testrelay-cli",
				OTLPEndpoint: cfg.OTLPEndpoint,
				SampleRatio:  tracing.ParseSampleRatio(cfg.TracingSample),
			}, logger)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
			startMetricsServer(cfg.MetricsAddr, logger)

			records, counts, err := junit.ParseFile(args[0])
			if err != nil {
				return fmt.Errorf("parse report: %w", err)
			}
			if len(records) == 0 {
				return errors.New("report contains no test cases")
			}

			rep := reporter.New(cfg, logger)

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Opening run session..."
			if interactive() {
				spin.Start()
			}
			err = rep.RunStart(ctx)
			spin.Stop()
			if err != nil {
				return err
			}

			for _, rec := range records {
				rep.ItemComplete(rec)
			}

			stop := make(chan struct{})
			var barDone chan struct{}
			if interactive() {
				barDone = make(chan struct{})
				bar := progressbar.NewOptions(len(records),
					progressbar.OptionSetDescription("Uploading results"),
					progressbar.OptionSetWidth(18),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
				go func() {
					defer close(barDone)
					ticker := time.NewTicker(100 * time.Millisecond)
					defer ticker.Stop()
					for {
						_ = bar.Set(rep.Resolved())
						select {
						case <-stop:
							_ = bar.Finish()
							return
						case <-ticker.C:
						}
					}
				}()
			}

			out := rep.RunEnd(ctx, counts)
			close(stop)
			if barDone != nil {
				<-barDone
			}

			if id, ok := rep.RunID(); ok {
				fmt.Printf("%s Results delivered to run %s\n", ui.ok("[OK]"), id)
			}
			if strict && len(out.Failures) > 0 {
				return fmt.Errorf("%d results failed to upload", len(out.Failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runName, "run-name", "", "Run name (defaults to the report file name)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 1, "Records per upload request (1 streams)")
	cmd.Flags().BoolVar(&noAttach, "no-attachments", false, "Skip attachment uploads")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail the command on session or upload errors")
	return cmd
}

func pingCmd(baseURL, apiToken, profileName, cfgPath *string, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the ingest service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(*cfgPath, *profileName, *baseURL, *apiToken)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.LogFormat)
			tc := transport.New(transport.Options{
				BaseURL:    cfg.BaseURL,
				Token:      cfg.Token,
				MaxRetries: 1,
				Timeout:    5 * time.Second,
				Logger:     logger,
			})

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Pinging..."
			if interactive() {
				spin.Start()
			}
			start := time.Now()
			err = tc.Send(cmd.Context(), http.MethodGet, "/healthz", nil, nil)
			spin.Stop()
			if err != nil {
				return fmt.Errorf("ingest service unreachable: %w", err)
			}
			fmt.Printf("%s %s is up (%s)\n", ui.ok("[OK]"), cfg.BaseURL, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		baseURL  string
		apiToken string
		env      string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadCLIConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]

			if baseURL == "" {
				baseURL = prof.BaseURL
			}
			if baseURL == "" {
				baseURL = "http://localhost:8080"
			}
			if env == "" {
				env = prof.Env
			}
			if env == "" {
				env = "dev"
			}

			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "Base URL", baseURL)
				env = prompt(reader, "Environment", env)
				if apiToken == "" {
					apiToken = prompt(reader, "API token (optional)", "")
				}
			}

			prof.BaseURL = strings.TrimSpace(baseURL)
			prof.Env = strings.TrimSpace(env)
			if apiToken != "" {
				prof.Token = strings.TrimSpace(apiToken)
			}

			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}
			if err := saveCLIConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Ingest service base URL")
	cmd.Flags().StringVar(&apiToken, "token", "", "API token")
	cmd.Flags().StringVar(&env, "env", "", "Environment name")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

func authCmd(profileName *string, ui *ui) *cobra.Command {
	auth := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored credentials",
	}

	var apiToken string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a token in config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(apiToken) == "" {
				return errors.New("provide --token")
			}
			cfg, cfgPath, err := loadCLIConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			prof.Token = strings.TrimSpace(apiToken)
			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = active
			}
			if err := saveCLIConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Token stored for '%s'\n", ui.ok("[OK]"), active)
			return nil
		},
	}
	set.Flags().StringVar(&apiToken, "token", "", "API token")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show stored credentials (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			fmt.Printf("%s Profile: %s\n", ui.title("testrelay"), active)
			fmt.Printf("%s Base URL: %s\n", ui.info("•"), emptyOr(prof.BaseURL, "<unset>"))
			fmt.Printf("%s Env:      %s\n", ui.info("•"), emptyOr(prof.Env, "<unset>"))
			fmt.Printf("%s Token:    %s\n", ui.info("•"), maskToken(prof.Token))
			if info := token.Inspect(prof.Token); info.IsJWT {
				fmt.Printf("%s Subject:  %s\n", ui.info("•"), emptyOr(info.Subject, "<none>"))
				if !info.ExpiresAt.IsZero() {
					fmt.Printf("%s Expires:  %s\n", ui.info("•"), info.ExpiresAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadCLIConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[active]
			prof.Token = ""
			cfg.Profiles[active] = prof
			if err := saveCLIConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Token cleared for '%s'\n", ui.ok("[OK]"), active)
			return nil
		},
	}

	auth.AddCommand(set, show, clear)
	return auth
}

func warnAboutToken(tok string, ui *ui) {
	info := token.Inspect(tok)
	if !info.IsJWT {
		return
	}
	now := time.Now()
	switch {
	case info.Expired(now):
		fmt.Fprintf(os.Stderr, "%s token expired at %s\n", ui.warn("[WARN]"), info.ExpiresAt.Format(time.RFC3339))
	case info.ExpiresSoon(now, 10*time.Minute):
		fmt.Fprintf(os.Stderr, "%s token expires at %s\n", ui.warn("[WARN]"), info.ExpiresAt.Format(time.RFC3339))
	}
}

// startMetricsServer exposes /metrics when an address is configured. The
// CLI is short-lived, so this mainly serves long CI jobs that scrape it.
func startMetricsServer(addr string, logger *slog.Logger) {
	if strings.TrimSpace(addr) == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "addr", addr, "err", err)
		}
	}()
}

func activeProfile(name string) (profile, string) {
	cfg, _, err := loadCLIConfig()
	if err != nil {
		return profile{}, ""
	}
	active := resolveProfileName(name, cfg)
	return cfg.Profiles[active], active
}

func loadCLIConfig() (cliConfig, string, error) {
	path := cliConfigPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveCLIConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func cliConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("TESTRELAY_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".testrelay", "config.yaml")
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("TESTRELAY_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

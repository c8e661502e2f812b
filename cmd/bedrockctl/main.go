package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pennsieve/pennsieve-go-bedrock/internal/config"
	"github.com/pennsieve/pennsieve-go-bedrock/llm"
)

var cfgFile string

// extraClientOptions are appended to every client the commands build.
var extraClientOptions []llm.ClientOption

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bedrockctl",
		Short:         "Resolve Bedrock credentials and models",
		Long:          "Loads the Bedrock credential descriptor, resolves friendly model names and invokes models.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./bedrock.yaml)")

	cmd.AddCommand(
		modelsCmd(),
		resolveCmd(),
		credentialsCmd(),
		envCmd(),
		askCmd(),
	)

	return cmd
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			entries := catalog.Entries()
			if p, _ := cmd.Flags().GetString("provider"); p != "" {
				provider, err := llm.ParseProvider(p)
				if err != nil {
					return err
				}
				entries = catalog.ByProvider(provider)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd, entries)
			}
			for _, e := range entries {
				profile := ""
				if e.RequiresInferenceProfile {
					profile = "profile"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-26s %-8s %-8s %s\n", e.FriendlyName, e.Provider, profile, e.ModelID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d models\n", len(entries))
			return nil
		},
	}

	cmd.Flags().String("provider", "", "Only list one family (titan, claude, nova, llama)")
	cmd.Flags().Bool("json", false, "Print JSON")

	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve NAME",
		Short: "Resolve a friendly name or model ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			region, _ := cmd.Flags().GetString("region")
			if region == "" {
				region = cfg.Region
			}
			entry, err := catalog.ResolveForRegion(args[0], region)
			if err != nil {
				return err
			}
			return writeJSON(cmd, entry)
		},
	}

	cmd.Flags().String("region", "", "Region used to pick the inference profile (default: from config)")

	return cmd
}

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Load and validate the credential descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := loadCredentials(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), creds.Redacted())

			if verify, _ := cmd.Flags().GetBool("verify"); !verify {
				return nil
			}
			client, err := llm.NewSTSClient(cmd.Context(), creds)
			if err != nil {
				return err
			}
			id, err := llm.VerifyCredentials(cmd.Context(), client)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account=%s arn=%s\n", id.Account, id.Arn)
			return nil
		},
	}

	cmd.Flags().Bool("verify", false, "Call STS GetCallerIdentity with the credentials")

	return cmd
}

func envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print shell exports for the credentials",
		Long:  `Prints export statements, for use as: eval "$(bedrockctl env)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			creds, err := loadCredentials(cfg)
			if err != nil {
				return err
			}
			for _, line := range shellExports(creds) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask PROMPT",
		Short: "Send a prompt to a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if model, _ := cmd.Flags().GetString("model"); model != "" {
				cfg.Model = model
			}

			client, cleanup, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			system, _ := cmd.Flags().GetString("system")
			file, _ := cmd.Flags().GetString("file")

			blocks := []llm.ContentBlock{llm.TextBlock(args[0])}
			if file != "" {
				blocks = append(blocks, llm.FileBlock(file))
			}
			req := &llm.InvokeRequest{
				Model:    cfg.Model,
				System:   system,
				Messages: []llm.Message{llm.UserMessage(blocks...)},
			}

			out := cmd.OutOrStdout()
			var resp *llm.InvokeResponse
			if stream, _ := cmd.Flags().GetBool("stream"); stream {
				resp, err = client.InvokeStream(cmd.Context(), req, func(c llm.StreamChunk) error {
					_, err := fmt.Fprint(out, c.Text)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
			} else {
				resp, err = client.Invoke(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, resp.Text())
			}
			slog.Info("usage",
				"model", resp.Model,
				"inputTokens", resp.Usage.InputTokens,
				"outputTokens", resp.Usage.OutputTokens,
				"cacheReadTokens", resp.Usage.CacheReadTokens)
			return nil
		},
	}

	cmd.Flags().String("model", "", "Model name or ID (default: from config)")
	cmd.Flags().String("system", "", "System prompt, marked cacheable")
	cmd.Flags().String("file", "", "Local file to attach")
	cmd.Flags().Bool("stream", false, "Print the answer as it is generated")

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	configureLogging(cfg)
	return cfg, nil
}

func configureLogging(cfg *config.Config) {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadCatalog(cfg *config.Config) (*llm.Catalog, error) {
	if cfg.CatalogFile == "" {
		return llm.DefaultCatalog(), nil
	}
	catalog, err := llm.LoadCatalogFile(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	slog.Debug("loaded catalog overrides", "path", cfg.CatalogFile, "models", len(catalog.Entries()))
	return catalog, nil
}

func loadCredentials(cfg *config.Config) (*llm.Credentials, error) {
	var opts []llm.CredentialOption
	if cfg.Region != "" {
		opts = append(opts, llm.WithDefaultRegion(cfg.Region))
	}
	creds, err := llm.LoadCredentials(cfg.CredentialsPath, opts...)
	if err != nil {
		return nil, err
	}
	slog.Debug("loaded credentials", "credentials", creds)
	return creds, nil
}

// newClient wires configuration into an llm.Client. The returned cleanup
// restores any exported environment variables.
func newClient(cfg *config.Config) (*llm.Client, func(), error) {
	noop := func() {}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, noop, err
	}
	reqCfg, err := cfg.RequestConfig()
	if err != nil {
		return nil, noop, err
	}

	opts := []llm.ClientOption{
		llm.WithCatalog(catalog),
		llm.WithRequestConfig(reqCfg),
		llm.WithLogger(slog.Default()),
	}
	opts = append(opts, extraClientOptions...)
	if cfg.Region != "" {
		opts = append(opts, llm.WithRegion(cfg.Region))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, llm.WithBedrockOptions(llm.WithRateLimit(cfg.RateLimit, cfg.RateBurst)))
	}

	cleanup := noop
	if cfg.ProxyFunction != "" {
		opts = append(opts, llm.WithFunctionName(cfg.ProxyFunction))
	} else {
		creds, err := loadCredentials(cfg)
		if err != nil {
			return nil, noop, err
		}
		opts = append(opts, llm.WithCredentials(creds))

		if cfg.ExportEnv {
			var envOpts []llm.EnvOption
			if cfg.ForceEnv {
				envOpts = append(envOpts, llm.WithForce())
			}
			restore, err := creds.ExportEnv(envOpts...)
			if err != nil {
				return nil, noop, err
			}
			cleanup = restore
		}
	}

	return llm.NewClient(opts...), cleanup, nil
}

// shellExports renders the credentials as sorted POSIX export lines.
// Unset values become unset statements.
func shellExports(creds *llm.Credentials) []string {
	vars := creds.EnvVars()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		if vars[name] == "" {
			lines = append(lines, "unset "+name)
			continue
		}
		lines = append(lines, fmt.Sprintf("export %s=%s", name, shellQuote(vars[name])))
	}
	return lines
}

func shellQuote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, `'\''`...)
			continue
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps resolver failures to distinct exit statuses.
func exitCode(err error) int {
	e, ok := llm.AsError(err)
	if !ok {
		return 1
	}
	switch e.Code {
	case llm.CodeCredentialsNotFound, llm.CodeInvalidCredentialFormat, llm.CodeIncompleteCredentials:
		return 2
	case llm.CodeUnknownModel, llm.CodeUnsupportedInvocationMode:
		return 3
	default:
		return 1
	}
}

package cli

import (
	"fmt"

	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/logger"
	"github.com/harun/recall/pkg/contextdb"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/syncer"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

var (
	cfgFile   string
	logLevel  string
	workspace string
	agentID   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall - workspace memory sync for context databases",
	Long: `Recall bridges a workspace's markdown memory files to a remote
context-database service. It reconciles local files against remote resources
incrementally and crash-safely, and exposes search, read, and sync operations
to agent runtimes.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.recall/recall.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "", "agent id (overrides config)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}

	if workspace != "" {
		cfg.Workspace = workspace
	}
	if agentID != "" {
		cfg.AgentID = agentID
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildManager wires the logger, client, and manager from a loaded config.
func buildManager(cfg *config.Config) (*memory.Manager, *logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:    cfg.Logging.Level,
		File:     cfg.Logging.File,
		Console:  true,
		Pretty:   true,
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	client := contextdb.NewClient(contextdb.Config{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout(),
		Logger:  log.Zerolog(),
	})

	manager, err := memory.NewManager(memory.Config{
		Workspace: cfg.Workspace,
		AgentID:   cfg.AgentID,
		BaseURI:   cfg.Remote.BaseURI,
		Scan: syncer.ScanConfig{
			RootFiles:  cfg.Scan.RootFiles,
			MemoryDir:  cfg.Scan.MemoryDir,
			SkillsDir:  cfg.Scan.SkillsDir,
			SkillFile:  cfg.Scan.SkillFile,
			ExtraPaths: cfg.Scan.ExtraPaths,
		},
		IndexConfigPath:    cfg.Sync.IndexConfigPath,
		WaitForProcessing:  cfg.Sync.WaitForProcessing,
		ProcessingTimeout:  cfg.Sync.ProcessingTimeout(),
		AdoptRemoteContent: cfg.Sync.AdoptRemoteContent,
		Logger:             log.Zerolog(),
		Remote:             client,
	})
	if err != nil {
		log.Close()
		return nil, nil, err
	}

	return manager, log, nil
}

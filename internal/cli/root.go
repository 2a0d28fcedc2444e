// ABOUTME: Root command and CLI setup for the Weft workflow engine
// ABOUTME: Configures global flags, configuration loading, and logger initialization

package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/weftwork/weft/internal/config"
	"github.com/weftwork/weft/internal/logging"
	"github.com/weftwork/weft/pkg/types"
)

var (
	cfgFile     string
	verboseMode bool
	quietMode   bool
	format      string
	logger      types.Logger
	cfg         *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "A declarative workflow execution engine",
	Long: `Weft executes declarative YAML workflows as dependency graphs with
parallel task scheduling, templated data flow, and recorded history.

• Level-parallel DAG execution with implicit template dependencies
• HTTP and transform-pipeline tasks with retries and circuit breakers
• Sub-workflow composition with cycle detection
• Content-addressed workflow versioning
• Cron triggers and a JSON API with live execution events

Examples:
  weft run workflow.yaml --defs tasks/      Execute a workflow
  weft plan workflow.yaml                   Show the execution plan
  weft validate workflow.yaml               Validate definitions
  weft history --workflow onboard           List recorded executions
  weft serve                                Start the HTTP server`,
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./weft.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseMode, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "enable quiet mode (only errors)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "output format (text, json)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
}

// initConfig loads engine configuration from file and WEFT_ environment
func initConfig() {
	loaded, err := config.Load(cfgFile)
	cobra.CheckErr(err)
	cfg = loaded
}

// initLogger initializes the global logger from flags and config
func initLogger() {
	level := cfg.LogLevel
	if viper.GetBool("verbose") {
		level = "debug"
	} else if viper.GetBool("quiet") {
		level = "error"
	}

	logFormat := logging.FormatConsole
	if cfg.LogFormat == "json" || viper.GetString("format") == "json" {
		logFormat = logging.FormatJSON
	}
	logger = logging.New(level, logFormat, os.Stderr)
}

// GetLogger returns the global logger instance
func GetLogger() types.Logger {
	if logger == nil {
		initLogger()
	}
	return logger
}

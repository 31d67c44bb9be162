package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/clustercoder/bubbleOne/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "BUBBLE"

var rootCmd = &cobra.Command{
	Use:           "bubbleone",
	Short:         "Relationship-health scoring and nudge engine",
	Long:          "bubbleOne scores contacts from interaction metadata, flags relationships that are fading and drafts nudges to repair them.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file path (optional)")
	flags.String("db", "", "Database path (default ~/.bubbleone/bubbleone.db)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("database.path", flags.Lookup("db"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(auditCmd)
}

func initConfig() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// Provider keys under their conventional names.
	_ = viper.BindEnv("llm.openai_key", "BUBBLE_LLM_OPENAI_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("llm.anthropic_key", "BUBBLE_LLM_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read config: %v\n", err)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

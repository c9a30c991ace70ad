package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KilnWorks/datascope-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set DataScope configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			fmt.Println("No config loaded")
			return nil
		}
		fmt.Printf("api_key: %s\n", mask(cfg.APIKey))
		fmt.Printf("api_base_url: %s\n", cfg.APIBaseURL)
		fmt.Printf("codegen_model: %s\n", cfg.CodegenModel)
		fmt.Printf("synthesis_model: %s\n", cfg.SynthesisModel)
		fmt.Printf("max_tokens: %d\n", cfg.MaxTokens)
		fmt.Printf("sandbox_base_url: %s\n", cfg.SandboxBaseURL)
		fmt.Printf("sandbox_api_key: %s\n", mask(cfg.SandboxAPIKey))
		fmt.Printf("task_timeout_sec: %d\n", cfg.TaskTimeoutSec)
		fmt.Printf("max_attempts: %d\n", cfg.MaxAttempts)
		fmt.Printf("min_charts: %d\n", cfg.MinCharts)
		fmt.Printf("max_rows: %d\n", cfg.MaxRows)
		fmt.Printf("output_dir: %s\n", cfg.OutputDir)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a single config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		switch args[0] {
		case "api_key":
			fmt.Println(mask(cfg.APIKey))
		case "api_base_url":
			fmt.Println(cfg.APIBaseURL)
		case "codegen_model":
			fmt.Println(cfg.CodegenModel)
		case "synthesis_model":
			fmt.Println(cfg.SynthesisModel)
		case "sandbox_base_url":
			fmt.Println(cfg.SandboxBaseURL)
		case "sandbox_api_key":
			fmt.Println(mask(cfg.SandboxAPIKey))
		case "output_dir":
			fmt.Println(cfg.OutputDir)
		case "max_tokens":
			fmt.Println(cfg.MaxTokens)
		case "task_timeout_sec":
			fmt.Println(cfg.TaskTimeoutSec)
		case "max_attempts":
			fmt.Println(cfg.MaxAttempts)
		case "min_charts":
			fmt.Println(cfg.MinCharts)
		case "max_rows":
			fmt.Println(cfg.MaxRows)
		case "sample_rows":
			fmt.Println(cfg.SampleRows)
		case "sandbox_timeout_sec":
			fmt.Println(cfg.SandboxTimeoutSec)
		default:
			return fmt.Errorf("unknown key: %s", args[0])
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		switch key {
		case "api_key":
			cfg.APIKey = val
		case "api_base_url":
			cfg.APIBaseURL = val
		case "codegen_model":
			cfg.CodegenModel = val
		case "synthesis_model":
			cfg.SynthesisModel = val
		case "sandbox_base_url":
			cfg.SandboxBaseURL = val
		case "sandbox_api_key":
			cfg.SandboxAPIKey = val
		case "output_dir":
			cfg.OutputDir = val
		case "max_tokens", "task_timeout_sec", "max_attempts", "min_charts", "max_rows", "sample_rows", "sandbox_timeout_sec":
			i, err := strconv.Atoi(val)
			if err != nil || i < 0 {
				return fmt.Errorf("invalid int for %s: %v", key, val)
			}
			switch key {
			case "max_tokens":
				cfg.MaxTokens = i
			case "task_timeout_sec":
				cfg.TaskTimeoutSec = i
			case "max_attempts":
				cfg.MaxAttempts = i
			case "min_charts":
				cfg.MinCharts = i
			case "max_rows":
				cfg.MaxRows = i
			case "sample_rows":
				cfg.SampleRows = i
			case "sandbox_timeout_sec":
				cfg.SandboxTimeoutSec = i
			}
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Println("Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "****" + s[len(s)-3:]
}

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cassandra/internal/cli/defaults"
	"cassandra/internal/config"
	"cassandra/internal/storage"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// InitOptions init 命令选项
type InitOptions struct {
	ConfigPath string
	APIKey     string
	Force      bool
}

// NewInitCmd 创建 init 命令
func NewInitCmd() *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize Cassandra configuration",
		Long: `Create the configuration file, the default persona and the database.

The API key is read from --api-key, then OPENAI_API_KEY, and is otherwise
prompted for when running in a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = globalFlags.ConfigPath
			return RunInit(opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "model API key to store in the config file")

	return cmd
}

// RunInit 执行初始化
func RunInit(opts *InitOptions, in io.Reader, out io.Writer) error {
	configPath := opts.ConfigPath
	if configPath == "" {
		var err error
		if configPath, err = config.DefaultConfigPath(); err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
	}
	configPath, err := config.ExpandPath(configPath)
	if err != nil {
		return err
	}
	configDir := filepath.Dir(configPath)

	// 检查是否已存在
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	// 创建目录结构
	for _, dir := range []string{configDir, filepath.Join(configDir, "logs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// 默认值来自 SetDefaults
	config.Reset()
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" && cfg.Model.APIKey == "" {
		if apiKey, err = promptAPIKey(in, out); err != nil {
			return err
		}
	}
	if apiKey != "" {
		cfg.Model.APIKey = apiKey
	} else {
		// leave the environment to supply it at run time
		cfg.Model.APIKey = ""
	}

	personaPath := filepath.Join(configDir, "system_prompt.txt")
	cfg.Persona.Path = personaPath
	cfg.Storage.Path = filepath.Join(configDir, "data.db")

	if err := config.SaveTo(cfg, configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if _, err := os.Stat(personaPath); err != nil || opts.Force {
		if err := os.WriteFile(personaPath, []byte(defaults.Persona()), 0644); err != nil {
			return fmt.Errorf("write persona: %w", err)
		}
	}

	// 初始化数据库
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	db.Close()

	fmt.Fprintf(out, "Initialized Cassandra at %s\n", configDir)
	fmt.Fprintf(out, "  Config:   %s\n", configPath)
	fmt.Fprintf(out, "  Persona:  %s\n", personaPath)
	fmt.Fprintf(out, "  Database: %s\n", cfg.Storage.Path)
	if cfg.Model.APIKey == "" {
		fmt.Fprintln(out, "No API key stored; set OPENAI_API_KEY before chatting.")
	}
	return nil
}

// promptAPIKey reads the key with echo off on a terminal, or a plain line
// otherwise. An empty answer is allowed.
func promptAPIKey(in io.Reader, out io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "OpenAI API key (leave empty to use OPENAI_API_KEY): ")
		key, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return strings.TrimSpace(string(key)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

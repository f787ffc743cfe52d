// nvmetctl configures the kernel NVMe target through configfs.
//
// Without a subcommand it starts an interactive shell over the
// configuration tree. The save, restore, clear and ls subcommands cover
// scripted use, e.g. restoring the saved configuration at boot.
package main

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/psaab/nvmetctl/pkg/cli"
	"github.com/psaab/nvmetctl/pkg/configstore"
	"github.com/psaab/nvmetctl/pkg/logging"
	"github.com/psaab/nvmetctl/pkg/nvmet"
	"github.com/psaab/nvmetctl/pkg/tree"
)

type config struct {
	SaveFile string `env:"NVMETCTL_SAVEFILE"`
	History  string `env:"NVMETCTL_HISTORY" envDefault:"/tmp/nvmetctl_history"`
	LogLevel string `env:"NVMETCTL_LOG_LEVEL" envDefault:"warn"`
	Configfs string `env:"NVMETCTL_CONFIGFS"`
}

var (
	dryRun   bool
	logLevel string

	// usage output counts as a failed invocation for scripting
	helpShown bool
)

var rootCmd = &cobra.Command{
	Use:   "nvmetctl",
	Short: "NVMe target configuration manager",
	Long: `nvmetctl manages the Linux kernel NVMe target (nvmet) through its
configfs interface: subsystems, namespaces, ports, referrals and host
access control, with save and restore of the full configuration.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cfg, err := setup()
		if err != nil {
			return err
		}
		node, err := tree.New(ctx)
		if err != nil {
			return err
		}
		return cli.New(node, cfg.History).Run()
	},
}

var saveCmd = &cobra.Command{
	Use:   "save [file]",
	Short: "Save the current configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, err := setup()
		if err != nil {
			return err
		}
		file := ""
		if len(args) > 0 {
			file = args[0]
		}
		return ctx.Store.Save(file)
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [file]",
	Short: "Replace the current configuration with a saved one",
	Long: `Restore clears the existing configuration and applies the saved
document. Entities that fail to restore are reported on standard output
and skipped; the rest of the document still applies.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, err := setup()
		if err != nil {
			return err
		}
		file := ""
		if len(args) > 0 {
			file = args[0]
		}
		errs, err := ctx.Store.Restore(file, true)
		if err != nil {
			return err
		}
		for _, msg := range errs {
			fmt.Println(msg)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all subsystems, ports and hosts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, err := setup()
		if err != nil {
			return err
		}
		return ctx.Store.Clear()
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Print the configuration tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _, err := setup()
		if err != nil {
			return err
		}
		node, err := tree.New(ctx)
		if err != nil {
			return err
		}
		node.WriteTree(os.Stdout)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false,
		"operate on an in-memory target instead of the kernel")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log verbosity: debug, info, warn, error")
	rootCmd.AddCommand(saveCmd, restoreCmd, clearCmd, lsCmd)

	help := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helpShown = true
		help(cmd, args)
	})
}

// setup parses the environment, installs logging, and opens the backend.
func setup() (*tree.Context, *config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return nil, nil, fmt.Errorf("parse environment: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	buf := logging.Setup(logging.ParseLevel(cfg.LogLevel), 200)

	var backend nvmet.Backend
	if dryRun {
		backend = nvmet.NewMemBackend()
	} else {
		if unix.Geteuid() != 0 {
			return nil, nil, fmt.Errorf("must run as root to access the nvmet configfs")
		}
		dir := cfg.Configfs
		if dir == "" {
			dir = nvmet.DefaultConfigfsDir
		}
		c, err := nvmet.NewConfigfs(dir)
		if err != nil {
			return nil, nil, err
		}
		backend = c
	}

	root, err := nvmet.Open(backend)
	if err != nil {
		return nil, nil, err
	}
	saveFile := cfg.SaveFile
	if saveFile == "" {
		saveFile = configstore.DefaultSaveFile
	}
	return &tree.Context{
		Root:   root,
		Store:  configstore.New(root, saveFile),
		LogBuf: buf,
	}, &cfg, nil
}

func main() {
	err := rootCmd.Execute()
	if err != nil || helpShown {
		os.Exit(1)
	}
}

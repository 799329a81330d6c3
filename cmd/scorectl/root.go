package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/scoring"
)

var (
	Version = "dev"
	Commit  = "none"
)

type cli struct {
	out      io.Writer
	protocol string
	verbose  bool
	log      *logger.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out, log: logger.Nop()}
	root := &cobra.Command{
		Use:   "scorectl",
		Short: "Offline calculator for rehab session scores",
		Long: `scorectl applies the trial scoring rules without a server.

Every command works against the built-in trial default unless --protocol
points at a protocol yaml file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !c.verbose {
				return nil
			}
			l, err := logger.New("dev", "")
			if err != nil {
				return err
			}
			c.log = l
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.protocol, "protocol", "p", "", "protocol yaml file (default: built-in trial default)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log to stderr")
	root.SetOut(out)

	root.AddCommand(
		c.normalizeCmd(),
		c.rpeCmd(),
		c.bfrCmd(),
		c.scoreCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Printf("scorectl %s (%s)\n", Version, Commit)
			},
		},
	)
	return root
}

func (c *cli) configuration() (scoring.Configuration, error) {
	if c.protocol == "" {
		return scoring.DefaultConfiguration(), nil
	}
	cfg, err := scoring.LoadProtocol(c.protocol)
	if err != nil {
		return scoring.Configuration{}, err
	}
	c.log.Debug("protocol loaded", "path", c.protocol, "name", cfg.Name)
	return cfg, nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cfg "github.com/fabian4/devproxy/internal/config"
	"github.com/fabian4/devproxy/internal/logging"
	"github.com/fabian4/devproxy/internal/version"
)

func main() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliState struct {
	configPath string
	logLevel   string
	logFormat  string

	conf *cfg.Config
	log  *logrus.Logger
}

// load reads the config file, or the built-in development layout when no
// path is given. Flags override the log section.
func (s *cliState) load() error {
	var err error
	if s.configPath == "" {
		s.conf = cfg.Default()
	} else if s.conf, err = cfg.Load(s.configPath); err != nil {
		return err
	}
	if s.logLevel != "" {
		s.conf.Log.Level = s.logLevel
	}
	if s.logFormat != "" {
		s.conf.Log.Format = s.logFormat
	}
	if s.log, err = logging.New("devproxy", s.conf.Log.Level, s.conf.Log.Format); err != nil {
		return err
	}
	s.log.SetOutput(logging.Output(s.conf.Log.File))
	return nil
}

func NewRootCmd() *cobra.Command {
	st := &cliState{}
	c := cobra.Command{
		Use:           "devproxy",
		Short:         "Path-based development proxy with websocket bridging",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return st.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), st.conf, st.log)
		},
	}
	c.PersistentFlags().StringVarP(&st.configPath, "config", "c", "", "path to YAML config (default: built-in development layout)")
	c.PersistentFlags().StringVarP(&st.logLevel, "log-level", "l", "", "override the log level (debug|info|warn|error)")
	c.PersistentFlags().StringVar(&st.logFormat, "log-format", "", "override the log format (text|json|mozlog)")

	c.AddCommand(newRoutesCmd(st), newVersionCmd())
	return &c
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "devproxy", version.Value)
		},
	}
}

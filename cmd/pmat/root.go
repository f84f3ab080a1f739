// ABOUTME: Root cobra command with shared flags, viper config, and logging setup
// ABOUTME: Provides dump loading and object description helpers for all subcommands
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prateek/pmat"
	"github.com/prateek/pmat/dump"
	"github.com/prateek/pmat/object"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "pmat",
	Short:         "analyze PMAT heap dump files",
	Version:       pmat.Version,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetDefault("depth", 0)
		viper.SetDefault("progress_interval", 0)
		viper.SetDefault("strict", false)

		if cfg := os.Getenv("PMAT_CONFIG"); cfg != "" {
			viper.SetConfigFile(cfg)
			if err := viper.ReadInConfig(); err != nil {
				return err
			}
		}
		viper.SetEnvPrefix("pmat")
		viper.AutomaticEnv()

		if err := viper.BindPFlag("strict", cmd.Root().PersistentFlags().Lookup("strict")); err != nil {
			return err
		}
		return viper.BindPFlag("progress_interval", cmd.Root().PersistentFlags().Lookup("progress-interval"))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("strict", false, "refuse ambiguous legacy record shapes")
	rootCmd.PersistentFlags().Int("progress-interval", 0, "objects between progress reports (0 disables)")
}

// newLogger builds the CLI logger: warn by default, overridden by
// PMAT_LOG_LEVEL, overridden again by -v.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if s := os.Getenv("PMAT_LOG_LEVEL"); s != "" {
		if l, err := zerolog.ParseLevel(s); err == nil {
			level = l
		}
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// loadDump opens and fully loads one dump file with options sourced from
// viper, which has already merged defaults, config file, environment, and
// flags by the time any subcommand runs.
func loadDump(path string) (*dump.Dump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	logger := newLogger()
	opts := dump.Options{
		Logger:           logger,
		Strict:           viper.GetBool("strict"),
		ProgressInterval: viper.GetInt("progress_interval"),
	}
	if opts.ProgressInterval > 0 {
		opts.OnProgress = func(stage string, processed int) {
			logger.Info().Str("stage", stage).Int("processed", processed).Msg("progress")
		}
	}
	return dump.Load(f, opts)
}

// describe renders a one-line identity for an object: kind, address, and
// the most useful per-kind detail.
func describe(d *dump.Dump, addr object.Address) string {
	if d.IsImmortal(addr) {
		switch addr {
		case d.Immortals.Undef:
			return fmt.Sprintf("UNDEF at %v", addr)
		case d.Immortals.Yes:
			return fmt.Sprintf("YES at %v", addr)
		default:
			return fmt.Sprintf("NO at %v", addr)
		}
	}
	o, ok := d.Get(addr)
	if !ok {
		return fmt.Sprintf("unknown at %v", addr)
	}

	s := fmt.Sprintf("%v at %v", o.Kind, o.Address)
	switch {
	case o.Kind == object.KindGlob && o.Glob != nil && o.Glob.Name != "":
		s += fmt.Sprintf(" (*%s)", o.Glob.Name)
	case o.Kind == object.KindScalar && o.Scalar != nil && o.Scalar.HasPV:
		s += " " + object.QuotePV(o.Scalar.PV, o.Scalar.UTF8)
	case o.Kind == object.KindCode && o.Code != nil && o.Code.File != "":
		s += fmt.Sprintf(" (%s line %d)", o.Code.File, o.Code.Line)
	case o.Kind == object.KindArray && o.Array != nil:
		s += fmt.Sprintf(" (%d elements)", len(o.Array.Elements))
	case o.Kind == object.KindStash && o.Stash != nil && o.Stash.ClassName != "":
		s += fmt.Sprintf(" (%%%s::)", o.Stash.ClassName)
	}
	if o.Blessed != 0 {
		if st, ok := d.Get(o.Blessed); ok && st.Stash != nil {
			s += fmt.Sprintf(" blessed %s", st.Stash.ClassName)
		}
	}
	return s
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

const defaultTimeout = 5 * time.Second

var errUnknownTarget = errors.New("unknown target")

type targetsFile struct {
	DefaultTarget  string         `toml:"default_target"`
	DefaultTimeout string         `toml:"default_timeout"`
	Targets        []targetConfig `toml:"targets"`
}

type targetConfig struct {
	Name string `toml:"name"`
	Addr string `toml:"addr"`
}

// targetSet is a loaded targets file with defaults resolved.
type targetSet struct {
	DefaultTarget string
	Timeout       time.Duration
	Targets       []targetConfig
}

func loadTargets(path string) (targetSet, error) {
	set := targetSet{Timeout: defaultTimeout}

	var raw targetsFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return targetSet{}, fmt.Errorf("load targets: %w", err)
	}

	if meta.IsDefined("default_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DefaultTimeout))
		if err != nil {
			return targetSet{}, fmt.Errorf("parse default_timeout: %w", err)
		}
		set.Timeout = d
	}

	for i, t := range raw.Targets {
		t.Name = strings.TrimSpace(t.Name)
		t.Addr = strings.TrimSpace(t.Addr)
		if t.Name == "" || t.Addr == "" {
			return targetSet{}, fmt.Errorf("targets[%d]: name and addr are required", i)
		}
		set.Targets = append(set.Targets, t)
	}

	if meta.IsDefined("default_target") {
		set.DefaultTarget = strings.TrimSpace(raw.DefaultTarget)
		if _, err := set.lookup(set.DefaultTarget); err != nil {
			return targetSet{}, fmt.Errorf("default_target: %w", err)
		}
	}
	return set, nil
}

func (s targetSet) lookup(name string) (targetConfig, error) {
	if name == "" {
		name = s.DefaultTarget
	}
	for _, t := range s.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	return targetConfig{}, fmt.Errorf("%w %q", errUnknownTarget, name)
}

func newTargetsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List agents configured in the targets file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.targetsFile == "" {
				return errors.New("--targets is required")
			}
			set, err := loadTargets(flags.targetsFile)
			if err != nil {
				return err
			}
			out, err := render(flags.output, set.Targets)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

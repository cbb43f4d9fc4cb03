package cli

import "shardrun/internal/config"

// Flags holds command-line flags
type Flags struct {
	ConfigFile       string
	TestPath         string
	TestListFile     string
	NameFilter       string
	Distribution     string
	Task             string
	Revision         string
	Shards           int
	MaxParallel      int
	Retries          int
	Image            string
	Command          string
	BuildCommand     string
	Namespace        string
	PrintOutput      bool
	UnknownAsFailure bool
	OpenReport       bool
	NoPool           bool
	Tag              string
	Group            string
	PoolCount        int
	ShardIndex       int
	Seed             int64
	Processors       int
	TestCommand      string
	LogLevel         string

	// list and report only
	ShowTests bool
	Summary   bool
	History   int
}

// ToConfigFlags converts CLI flags to config flags. changed reports whether a flag was
// given explicitly; settings whose zero value is meaningful are only overridden then.
func (f *Flags) ToConfigFlags(changed func(name string) bool) config.Flags {
	flags := config.Flags{
		ConfigFile:   f.ConfigFile,
		TestPath:     f.TestPath,
		TestListFile: f.TestListFile,
		NameFilter:   f.NameFilter,
		Distribution: f.Distribution,
		Task:         f.Task,
		Revision:     f.Revision,
		Shards:       f.Shards,
		MaxParallel:  f.MaxParallel,
		Retries:      f.Retries,
		Image:        f.Image,
		Command:      f.Command,
		BuildCommand: f.BuildCommand,
		Namespace:    f.Namespace,
		PrintOutput:  f.PrintOutput,
		OpenReport:   f.OpenReport,
		NoPool:       f.NoPool,
		Tag:          f.Tag,
		Group:        f.Group,
		PoolCount:    f.PoolCount,
		ShardIndex:   f.ShardIndex,
		Processors:   f.Processors,
		TestCommand:  f.TestCommand,
		LogLevel:     f.LogLevel,
		ShowTests:    f.ShowTests,
		Summary:      f.Summary,
		History:      f.History,
	}
	if changed != nil && changed("unknown-as-failure") {
		v := f.UnknownAsFailure
		flags.UnknownAsFailure = &v
	}
	// zero is a valid seed, so an explicit --seed is told apart from the default
	if changed != nil && changed("seed") {
		seed := f.Seed
		flags.Seed = &seed
	}
	return flags
}

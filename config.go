package main

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/voxellab/segvol/labelvol"
	"github.com/voxellab/segvol/taxonomy"
	"github.com/voxellab/segvol/voxel"
)

// the parsed TOML configuration data
var tc tomlConfig

type tomlConfig struct {
	Logging  voxel.LogConfig
	Scratch  pathConfig
	Cache    sizeConfig
	Journal  pathConfig
	Taxonomy pathConfig
}

type pathConfig struct {
	Path string
}

type sizeConfig struct {
	Size int
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *tomlConfig) convertPathsToAbsolute(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Logging.Logfile = voxel.ConvertToAbsolute(c.Logging.Logfile, configDir)
	c.Scratch.Path = voxel.ConvertToAbsolute(c.Scratch.Path, configDir)
	c.Journal.Path = voxel.ConvertToAbsolute(c.Journal.Path, configDir)
	c.Taxonomy.Path = voxel.ConvertToAbsolute(c.Taxonomy.Path, configDir)
}

// LoadConfig reads the TOML configuration file and routes logging per its
// [logging] section.  Without a file everything keeps its default: logging
// to stdout, scratch under the system temp dir, no cache, no journal.
func LoadConfig(filename string) error {
	if filename != "" {
		if _, err := toml.DecodeFile(filename, &tc); err != nil {
			return fmt.Errorf("could not decode TOML config: %v", err)
		}
		tc.convertPathsToAbsolute(filename)
	}
	tc.Logging.SetLogger()
	return nil
}

// newEngine builds a conversion engine from the loaded configuration.
func newEngine() (*labelvol.Engine, error) {
	return labelvol.NewEngine(labelvol.Config{
		ScratchRoot: tc.Scratch.Path,
		CacheBytes:  tc.Cache.Size,
		JournalPath: tc.Journal.Path,
	})
}

// configTaxonomy loads the taxonomy named by the tax= setting, falling
// back to the configured [taxonomy] path.  Neither present means a nil
// table, which commands treat as "no taxonomy".
func configTaxonomy(path string) (*taxonomy.Table, error) {
	if path == "" {
		path = tc.Taxonomy.Path
	}
	if path == "" {
		return nil, nil
	}
	return taxonomy.Load(path)
}

package index

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// configFile is one candidate file found on disk.
type configFile struct {
	path    string
	modTime time.Time
}

// isConfigPath reports whether a filename looks like a tunnel endpoint
// config. Both the modern TOML format and legacy INI files are indexed.
func isConfigPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", ".ini":
		return true
	}
	return false
}

// scanConfigs walks dir on the given filesystem and returns every config
// file with its modification time. The billy abstraction keeps the walk
// testable without touching the host filesystem layout.
func scanConfigs(fsys billy.Filesystem, dir string) ([]configFile, error) {
	var files []configFile
	err := util.Walk(fsys, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isConfigPath(path) {
			return nil
		}
		files = append(files, configFile{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// readConfig reads one file's content via the scan filesystem.
func readConfig(fsys billy.Filesystem, path string) ([]byte, error) {
	return util.ReadFile(fsys, path)
}

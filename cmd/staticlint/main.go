// Command staticlint runs the project's static checks in one multichecker
// binary: a fixed set of vet passes, ineffassign, nilerr, noosexit, and the
// staticcheck analyzers named in a JSON config.
//
// The config is read from the path in STATICLINT_CONFIG, or from config.json
// next to the binary. Without a config every SA analyzer is enabled.
package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gordonklaus/ineffassign/pkg/ineffassign"
	"github.com/gostaticanalysis/nilerr"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"golang.org/x/tools/go/analysis/passes/copylock"
	"golang.org/x/tools/go/analysis/passes/errorsas"
	"golang.org/x/tools/go/analysis/passes/loopclosure"
	"golang.org/x/tools/go/analysis/passes/lostcancel"
	"golang.org/x/tools/go/analysis/passes/printf"
	"golang.org/x/tools/go/analysis/passes/structtag"
	"golang.org/x/tools/go/analysis/passes/unmarshal"
	"golang.org/x/tools/go/analysis/passes/unreachable"
	"honnef.co/go/tools/staticcheck"

	"github.com/patric-chuzhbe/sessionauth/cmd/staticlint/noosexit"
)

const (
	configEnv      = "STATICLINT_CONFIG"
	configFileName = "config.json"
	defaultPrefix  = "SA"
)

// ConfigData lists the staticcheck analyzers to enable, e.g. "SA1000".
type ConfigData struct {
	Staticcheck []string
}

func main() {
	enabled, err := loadEnabledStaticchecks()
	if err != nil {
		panic(err)
	}

	checks := []*analysis.Analyzer{
		copylock.Analyzer,
		errorsas.Analyzer,
		loopclosure.Analyzer,
		lostcancel.Analyzer,
		printf.Analyzer,
		structtag.Analyzer,
		unmarshal.Analyzer,
		unreachable.Analyzer,

		ineffassign.Analyzer,
		nilerr.Analyzer,

		noosexit.Analyzer,
	}

	for _, v := range staticcheck.Analyzers {
		if enabled(v.Analyzer.Name) {
			checks = append(checks, v.Analyzer)
		}
	}

	multichecker.Main(checks...)
}

func configPath() (string, error) {
	if path := os.Getenv(configEnv); path != "" {
		return path, nil
	}

	appfile, err := os.Executable()
	if err != nil {
		return "", err
	}

	return filepath.Join(filepath.Dir(appfile), configFileName), nil
}

func loadEnabledStaticchecks() (func(string) bool, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return func(name string) bool {
			return strings.HasPrefix(name, defaultPrefix)
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg ConfigData
	if err = json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(cfg.Staticcheck))
	for _, v := range cfg.Staticcheck {
		names[v] = true
	}

	return func(name string) bool {
		return names[name]
	}, nil
}

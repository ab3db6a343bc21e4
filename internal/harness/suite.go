package harness

import (
	"fmt"
	"path/filepath"
)

// SuiteConfig tunes a suite run.
type SuiteConfig struct {
	// Filter is a glob matched against scenario names; empty runs all.
	Filter string

	// UpdateGoldens rewrites golden snapshots instead of comparing.
	UpdateGoldens bool
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Updated  int               `json:"updated,omitempty"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure records one failed scenario with its reasons.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// RunSuite loads every *.yaml scenario in dir and runs the ones whose
// name matches the filter. Program paths inside scenarios resolve
// relative to dir; golden snapshots live in dir/golden/.
//
// Scenarios that fail to load or execute count as failures with the
// error recorded, so one broken file never aborts the suite.
func RunSuite(dir string, cfg SuiteConfig) (*SuiteResult, error) {
	if cfg.Filter != "" {
		// Surface bad patterns before touching any scenario.
		if _, err := filepath.Match(cfg.Filter, ""); err != nil {
			return nil, fmt.Errorf("bad filter %q: %w", cfg.Filter, err)
		}
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	suite := &SuiteResult{}
	for _, path := range paths {
		scenario, err := LoadScenarioWithBasePath(path, dir)
		if err != nil {
			suite.Total++
			suite.fail(filepath.Base(path), path, err.Error())
			continue
		}

		if cfg.Filter != "" {
			ok, _ := filepath.Match(cfg.Filter, scenario.Name)
			if !ok {
				continue
			}
		}
		suite.Total++

		result, err := Run(scenario)
		if err != nil {
			suite.fail(scenario.Name, path, err.Error())
			continue
		}

		if scenario.Golden {
			if cfg.UpdateGoldens {
				if err := UpdateGolden(dir, result); err != nil {
					suite.fail(scenario.Name, path, err.Error())
					continue
				}
				suite.Updated++
			} else {
				match, err := CompareGolden(dir, result)
				if err != nil {
					result.AddError("golden: %v", err)
				} else if !match {
					result.AddError("golden snapshot mismatch; rerun with golden updates to accept the new outcome")
				}
			}
		}

		if !result.Pass {
			suite.fail(scenario.Name, path, result.Errors...)
			continue
		}
		suite.Passed++
	}

	return suite, nil
}

func (s *SuiteResult) fail(name, path string, errs ...string) {
	s.Failed++
	s.Failures = append(s.Failures, ScenarioFailure{
		Scenario: name,
		Path:     path,
		Errors:   errs,
	})
}

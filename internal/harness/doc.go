// Package harness runs conformance scenarios against compiled programs.
//
// A scenario names a program document, a function to invoke, typed
// arguments, and the expected outcome. The harness compiles the
// document, invokes the function on a real interpreter, and checks the
// outcome and trace against the scenario's expectations.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: div_by_zero
//	description: "Division by zero traps instead of aborting"
//	program: docs/math.cue
//	invoke: div
//	args: ["i64:10", "i64:0"]
//	config:
//	  recursion_limit: 64
//	  trace: true
//	expect:
//	  trap:
//	    code: DIVIDE_BY_ZERO
//	    node: 7
//	assertions:
//	  - type: trace_contains
//	    op: param
//	  - type: trace_count
//	    op: div
//	    count: 1
//	golden: true
//
// Arguments and expected values are typed literals of the form
// "kind:literal" ("i64:41", "u8:255", "f64:2.5", "bool:true",
// "string:hello"). Exactly one of expect.value, expect.trap, and
// expect.violation must be set.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: the trace holds at least one execution of an op,
//     optionally pinned to a node
//   - trace_count: an op executed exactly N times
//
// Trace assertions and golden snapshots force tracing on for the run.
//
// # Deterministic Execution
//
// Every execution compiles a fresh program from the document, so by-ref
// capture cells start pristine, and runs with a fixed token (from
// scenario.run_token, or derived from the scenario name). The harness
// invokes each scenario twice from separate compiles and fails the
// scenario if the two canonical outcomes differ, so every scenario
// doubles as a reproducibility check.
//
// Golden scenarios additionally pin the full canonical outcome, trace
// included, as a snapshot file. In tests, goldie compares against
// testdata/golden/{name}.golden and regenerates with:
//
//	go test ./internal/harness -update
//
// Outside tests the suite runner compares against golden/{name}.golden
// next to the scenario files and rewrites snapshots on request.
//
// # Usage
//
// Load and run one scenario:
//
//	scenario, err := harness.LoadScenario("scenarios/div_by_zero.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
//
// Run a directory of scenarios:
//
//	suite, err := harness.RunSuite("scenarios", harness.SuiteConfig{})
package harness

package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	URI      string
	User     string
	Password string
	Wipe     bool
}

// ExportStats summarizes what was written to the graph database.
type ExportStats struct {
	URI        string `json:"uri"`
	Modules    int    `json:"modules"`
	Functions  int    `json:"functions"`
	Nodes      int    `json:"nodes"`
	ValueEdges int    `json:"value_edges"`
	FlowEdges  int    `json:"flow_edges"`
	Calls      int    `json:"calls"`
	Wiped      bool   `json:"wiped,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <document.cue>",
		Short: "Export a program graph to Neo4j",
		Long: `Export the compiled program graph to a Neo4j database for
interactive exploration.

Modules, functions, and operation nodes become Module, Function, and
Node vertices. Value edges become VALUE relationships carrying the
input port, flow edges become FLOW relationships carrying their
condition, and call sites become CALLS relationships between
functions. Exports are idempotent upserts keyed by id; pass --wipe to
clear previously exported graphs first.

Exit codes:
  0 - Export succeeded
  1 - Export failed mid-way
  2 - Command error (bad document, unreachable database)

Examples:
  lmlang export ./docs/math.cue --uri bolt://localhost:7687
  lmlang export ./docs/math.cue --uri bolt://localhost:7687 --user neo4j --password secret
  lmlang export ./docs/math.cue --uri bolt://localhost:7687 --wipe`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URI, "uri", "", "Neo4j connection URI, e.g. bolt://localhost:7687 (required)")
	_ = cmd.MarkFlagRequired("uri")
	cmd.Flags().StringVar(&opts.User, "user", "neo4j", "Neo4j username")
	cmd.Flags().StringVar(&opts.Password, "password", "", "Neo4j password")
	cmd.Flags().BoolVar(&opts.Wipe, "wipe", false, "delete previously exported graphs first")

	return cmd
}

func runExport(opts *ExportOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	prog, err := loadProgram(path)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, "failed to compile document", err)
	}

	exp, err := newGraphExporter(ctx, opts.URI, opts.User, opts.Password)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("cannot reach neo4j at %s", opts.URI), err)
	}
	defer exp.Close()

	if opts.Wipe {
		formatter.VerboseLog("wiping previously exported graphs")
		if err := exp.Wipe(); err != nil {
			return WrapExitError(ExitFailure, "wipe failed", err)
		}
	}
	if err := exp.CreateIndexes(); err != nil {
		return WrapExitError(ExitFailure, "index creation failed", err)
	}

	modules := moduleRows(prog)
	functions := functionRows(prog)
	nodes := nodeRows(prog)
	values := valueEdgeRows(prog)
	flows := flowEdgeRows(prog)
	calls := callEdgeRows(prog)

	formatter.VerboseLog("exporting %d module(s), %d function(s), %d node(s)", len(modules), len(functions), len(nodes))
	if err := exp.LoadModules(modules); err != nil {
		return WrapExitError(ExitFailure, "module export failed", err)
	}
	if err := exp.LoadFunctions(functions); err != nil {
		return WrapExitError(ExitFailure, "function export failed", err)
	}
	if err := exp.LoadNodes(nodes); err != nil {
		return WrapExitError(ExitFailure, "node export failed", err)
	}
	if err := exp.LoadValueEdges(values); err != nil {
		return WrapExitError(ExitFailure, "value edge export failed", err)
	}
	if err := exp.LoadFlowEdges(flows); err != nil {
		return WrapExitError(ExitFailure, "flow edge export failed", err)
	}
	if err := exp.LoadCalls(calls); err != nil {
		return WrapExitError(ExitFailure, "call edge export failed", err)
	}

	stats := ExportStats{
		URI:        opts.URI,
		Modules:    len(modules),
		Functions:  len(functions),
		Nodes:      len(nodes),
		ValueEdges: len(values),
		FlowEdges:  len(flows),
		Calls:      len(calls),
		Wiped:      opts.Wipe,
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: stats})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ exported %d module(s), %d function(s), %d node(s), %d edge(s) to %s\n",
		stats.Modules, stats.Functions, stats.Nodes, stats.ValueEdges+stats.FlowEdges+stats.Calls, opts.URI)
	return nil
}

// graphExporter writes program graphs to Neo4j with batch UNWIND
// upserts.
type graphExporter struct {
	driver neo4j.DriverWithContext
	ctx    context.Context
}

// newGraphExporter connects to Neo4j and verifies the server is
// reachable before any export work starts.
func newGraphExporter(ctx context.Context, uri, user, password string) (*graphExporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return &graphExporter{driver: driver, ctx: ctx}, nil
}

// Close releases the underlying driver resources.
func (e *graphExporter) Close() {
	e.driver.Close(e.ctx)
}

// run executes a single Cypher statement with optional parameters.
func (e *graphExporter) run(cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(e.ctx, e.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

// Wipe removes all previously exported program graphs.
func (e *graphExporter) Wipe() error {
	queries := []string{
		"MATCH ()-[r:VALUE]->() DELETE r",
		"MATCH ()-[r:FLOW]->() DELETE r",
		"MATCH ()-[r:IN_FUNCTION]->() DELETE r",
		"MATCH ()-[r:IN_MODULE]->() DELETE r",
		"MATCH ()-[r:CALLS]->() DELETE r",
		"MATCH (n:Node) DETACH DELETE n",
		"MATCH (n:Function) DETACH DELETE n",
		"MATCH (n:Module) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := e.run(q, nil); err != nil {
			return err
		}
	}
	return nil
}

// CreateIndexes ensures the id indexes exist.
func (e *graphExporter) CreateIndexes() error {
	indexes := []string{
		"CREATE INDEX lmlang_module_id IF NOT EXISTS FOR (n:Module) ON (n.id)",
		"CREATE INDEX lmlang_function_id IF NOT EXISTS FOR (n:Function) ON (n.id)",
		"CREATE INDEX lmlang_node_id IF NOT EXISTS FOR (n:Node) ON (n.id)",
	}
	for _, q := range indexes {
		if err := e.run(q, nil); err != nil {
			return err
		}
	}
	return nil
}

// LoadModules upserts Module vertices and their ownership edges.
func (e *graphExporter) LoadModules(batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	err := e.run(
		`UNWIND $batch AS row
		 MERGE (m:Module {id: row.id})
		 SET m.name = row.name`,
		map[string]any{"batch": batch},
	)
	if err != nil {
		return err
	}

	links := make([]map[string]any, 0, len(batch))
	for _, row := range batch {
		if row["parent"] != int64(0) {
			links = append(links, row)
		}
	}
	if len(links) == 0 {
		return nil
	}
	return e.run(
		`UNWIND $batch AS row
		 MATCH (c:Module {id: row.id}), (p:Module {id: row.parent})
		 MERGE (c)-[:IN_MODULE]->(p)`,
		map[string]any{"batch": links},
	)
}

// LoadFunctions upserts Function vertices linked to their modules.
func (e *graphExporter) LoadFunctions(batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	return e.run(
		`UNWIND $batch AS row
		 MERGE (f:Function {id: row.id})
		 SET f.name = row.name, f.arity = row.arity, f.result = row.result
		 WITH f, row
		 MATCH (m:Module {id: row.module})
		 MERGE (f)-[:IN_MODULE]->(m)`,
		map[string]any{"batch": batch},
	)
}

// LoadNodes upserts Node vertices linked to their functions. Operation
// attributes vary by operation, so they arrive as a nested props map.
func (e *graphExporter) LoadNodes(batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	return e.run(
		`UNWIND $batch AS row
		 MERGE (n:Node {id: row.id})
		 SET n += row.props
		 WITH n, row
		 MATCH (f:Function {id: row.fn})
		 MERGE (n)-[:IN_FUNCTION]->(f)`,
		map[string]any{"batch": batch},
	)
}

// LoadValueEdges upserts VALUE relationships between nodes.
func (e *graphExporter) LoadValueEdges(batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	return e.run(
		`UNWIND $batch AS row
		 MATCH (a:Node {id: row.from}), (b:Node {id: row.to})
		 MERGE (a)-[:VALUE {port: row.port}]->(b)`,
		map[string]any{"batch": batch},
	)
}

// LoadFlowEdges upserts FLOW relationships between nodes.
func (e *graphExporter) LoadFlowEdges(batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	return e.run(
		`UNWIND $batch AS row
		 MATCH (a:Node {id: row.from}), (b:Node {id: row.to})
		 MERGE (a)-[:FLOW {when: row.when}]->(b)`,
		map[string]any{"batch": batch},
	)
}

// LoadCalls upserts CALLS relationships between functions, one per
// call site.
func (e *graphExporter) LoadCalls(batch []map[string]any) error {
	if len(batch) == 0 {
		return nil
	}
	return e.run(
		`UNWIND $batch AS row
		 MATCH (caller:Function {id: row.fn}), (callee:Function {id: row.callee})
		 MERGE (caller)-[:CALLS {site: row.node}]->(callee)`,
		map[string]any{"batch": batch},
	)
}

// moduleRows builds the Module vertex batch in id order.
func moduleRows(prog *ir.Program) []map[string]any {
	ids := prog.Modules()
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		mod, ok := prog.Module(id)
		if !ok {
			continue
		}
		rows = append(rows, map[string]any{
			"id":     int64(mod.ID),
			"name":   mod.Name,
			"parent": int64(mod.Parent),
		})
	}
	return rows
}

// functionRows builds the Function vertex batch in id order.
func functionRows(prog *ir.Program) []map[string]any {
	ids := prog.Functions()
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		fn, ok := prog.Function(id)
		if !ok {
			continue
		}
		result := ""
		if name, ok := prog.Types.NameOf(fn.Result); ok {
			result = name
		}
		module := ir.ModuleID(0)
		if owner, ok := prog.ModuleOf(fn.ID); ok {
			module = owner
		}
		rows = append(rows, map[string]any{
			"id":     int64(fn.ID),
			"name":   fn.Name,
			"arity":  int64(fn.Arity()),
			"result": result,
			"module": int64(module),
		})
	}
	return rows
}

// nodeRows builds the Node vertex batch. Operation attributes come
// from OpAttrs, so Const types, Param indexes, Call targets, and
// contract messages all land as properties.
func nodeRows(prog *ir.Program) []map[string]any {
	var rows []map[string]any
	for _, fnID := range prog.Functions() {
		fn, ok := prog.Function(fnID)
		if !ok {
			continue
		}
		nodeIDs := make([]ir.NodeID, 0, len(fn.Nodes))
		for id := range fn.Nodes {
			nodeIDs = append(nodeIDs, id)
		}
		slices.Sort(nodeIDs)
		for _, id := range nodeIDs {
			rows = append(rows, map[string]any{
				"id":    int64(id),
				"fn":    int64(fn.ID),
				"props": ir.OpAttrs(fn.Nodes[id].Op),
			})
		}
	}
	return rows
}

// valueEdgeRows builds the VALUE relationship batch.
func valueEdgeRows(prog *ir.Program) []map[string]any {
	var rows []map[string]any
	for _, fnID := range prog.Functions() {
		fn, ok := prog.Function(fnID)
		if !ok {
			continue
		}
		edgeIDs := make([]ir.EdgeID, 0, len(fn.Semantic))
		for id := range fn.Semantic {
			edgeIDs = append(edgeIDs, id)
		}
		slices.Sort(edgeIDs)
		for _, id := range edgeIDs {
			e := fn.Semantic[id]
			rows = append(rows, map[string]any{
				"from": int64(e.From),
				"to":   int64(e.To),
				"port": int64(e.Port),
			})
		}
	}
	return rows
}

// flowEdgeRows builds the FLOW relationship batch.
func flowEdgeRows(prog *ir.Program) []map[string]any {
	var rows []map[string]any
	for _, fnID := range prog.Functions() {
		fn, ok := prog.Function(fnID)
		if !ok {
			continue
		}
		edgeIDs := make([]ir.EdgeID, 0, len(fn.Flow))
		for id := range fn.Flow {
			edgeIDs = append(edgeIDs, id)
		}
		slices.Sort(edgeIDs)
		for _, id := range edgeIDs {
			e := fn.Flow[id]
			rows = append(rows, map[string]any{
				"from": int64(e.From),
				"to":   int64(e.To),
				"when": e.When.String(),
			})
		}
	}
	return rows
}

// callEdgeRows builds the CALLS relationship batch, one row per call
// site.
func callEdgeRows(prog *ir.Program) []map[string]any {
	var rows []map[string]any
	for _, fnID := range prog.Functions() {
		fn, ok := prog.Function(fnID)
		if !ok {
			continue
		}
		nodeIDs := make([]ir.NodeID, 0, len(fn.Nodes))
		for id := range fn.Nodes {
			nodeIDs = append(nodeIDs, id)
		}
		slices.Sort(nodeIDs)
		for _, id := range nodeIDs {
			call, ok := fn.Nodes[id].Op.(ir.Call)
			if !ok {
				continue
			}
			rows = append(rows, map[string]any{
				"fn":     int64(fn.ID),
				"callee": int64(call.Func),
				"node":   int64(id),
			})
		}
	}
	return rows
}

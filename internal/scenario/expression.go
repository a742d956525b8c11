package scenario

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// exprEnv is the only surface an expression can reach: numbers, the
// dependency map and a handful of math helpers.
type exprEnv struct {
	T        float64            `expr:"t"`
	Dt       float64            `expr:"dt"`
	Params   map[string]float64 `expr:"params"`
	Deps     map[string]float64 `expr:"deps"`
	Prev     float64            `expr:"prev"`
	HasPrev  bool               `expr:"has_prev"`
	Index    int                `expr:"index"`
	Instance string             `expr:"instance"`
	Pi       float64            `expr:"pi"`

	Sin    func(float64) float64           `expr:"sin"`
	Cos    func(float64) float64           `expr:"cos"`
	Sqrt   func(float64) float64           `expr:"sqrt"`
	Clamp  func(v, lo, hi float64) float64 `expr:"clamp"`
	Normal func() float64                  `expr:"normal"`
}

func compileExpression(src string, params map[string]any, dependsOn []string) (Generator, error) {
	program, err := expr.Compile(src, expr.Env(exprEnv{}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("compile expr: %w", err)
	}
	if err := checkDepsDeclared(src, dependsOn); err != nil {
		return nil, err
	}
	numeric := make(map[string]float64, len(params))
	for k, v := range params {
		if f, ok := toFloat(v); ok {
			numeric[k] = f
		}
	}
	return &exprGenerator{program: program, params: numeric}, nil
}

// depsVisitor collects the constant keys read from the deps map.
type depsVisitor struct {
	names []string
}

func (v *depsVisitor) Visit(node *ast.Node) {
	m, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}
	id, ok := m.Node.(*ast.IdentifierNode)
	if !ok || id.Value != "deps" {
		return
	}
	if prop, ok := m.Property.(*ast.StringNode); ok {
		v.names = append(v.names, prop.Value)
	}
}

// checkDepsDeclared rejects reads of deps entries the stream never listed in
// depends_on; the engine would otherwise hand them over as zero. Flattened
// keys (gps_lat, tanks_fuel) resolve to the stream before the underscore.
func checkDepsDeclared(src string, dependsOn []string) error {
	tree, err := parser.Parse(src)
	if err != nil {
		return fmt.Errorf("compile expr: %w", err)
	}
	var v depsVisitor
	ast.Walk(&tree.Node, &v)
	for _, name := range v.names {
		if !slices.ContainsFunc(dependsOn, func(dep string) bool {
			return name == dep || strings.HasPrefix(name, dep+"_")
		}) {
			return fmt.Errorf("expr reads deps.%s but %q is not in depends_on", name, name)
		}
	}
	return nil
}

type exprGenerator struct {
	program *vm.Program
	params  map[string]float64
}

func (g *exprGenerator) Generate(c *Context) (Value, error) {
	env := exprEnv{
		T:        c.Elapsed,
		Dt:       c.Dt,
		Params:   g.params,
		Deps:     flattenDeps(c.Deps),
		HasPrev:  c.HasPrev,
		Index:    c.Index,
		Instance: c.Instance,
		Pi:       math.Pi,
		Sin:      math.Sin,
		Cos:      math.Cos,
		Sqrt:     math.Sqrt,
		Clamp:    clampRange,
		Normal:   c.Rand.NormFloat64,
	}
	if c.HasPrev {
		env.Prev = c.Prev.Scalar
	}
	out, err := expr.Run(g.program, env)
	if err != nil {
		return Value{}, fmt.Errorf("run expr: %w", err)
	}
	f, ok := out.(float64)
	if !ok {
		return Value{}, fmt.Errorf("expr returned %T, want a number", out)
	}
	return ScalarValue(f), nil
}

// flattenDeps exposes dependency values as numbers: scalars by stream name,
// fixes as gps_lat, gps_lon, gps_speed and gps_course, and instances as
// <stream>_<id>.
func flattenDeps(deps map[string]Value) map[string]float64 {
	out := make(map[string]float64, len(deps))
	for name, v := range deps {
		switch v.Category {
		case CategoryScalar:
			out[name] = v.Scalar
		case CategoryGPS:
			if v.GPS != nil {
				out[name+"_lat"] = v.GPS.Lat
				out[name+"_lon"] = v.GPS.Lon
				out[name+"_speed"] = v.GPS.SpeedKts
				out[name+"_course"] = v.GPS.CourseDeg
			}
		case CategoryInstances:
			for id, x := range v.Instances {
				out[name+"_"+id] = x
			}
		}
	}
	return out
}

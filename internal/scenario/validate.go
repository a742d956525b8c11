package scenario

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ValidationError lists every problem found in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid scenario: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid scenario (%d problems): %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

var kinds = map[string]bool{
	KindConstant:   true,
	KindSine:       true,
	KindGaussian:   true,
	KindLinearRamp: true,
	KindRandomWalk: true,
	KindGPSTrack:   true,
	KindExpression: true,
	KindCallback:   true,
}

// Validate checks the document strictly. Nothing is defaulted: a stream
// without a function or frequency is an error, not a fallback.
func Validate(doc *Document) error {
	var probs []string
	add := func(format string, args ...any) {
		probs = append(probs, fmt.Sprintf(format, args...))
	}

	if len(doc.Data) == 0 {
		add("data is required")
	}
	if len(doc.Timing) == 0 {
		add("timing is required")
	}
	if len(doc.Functions) == 0 {
		add("functions is required")
	}

	for _, name := range sortedKeys(doc.Functions) {
		fn := doc.Functions[name]
		switch {
		case fn.Kind == "":
			add("functions.%s: kind is required", name)
		case !kinds[fn.Kind]:
			add("functions.%s: unknown kind %q", name, fn.Kind)
		case fn.Kind == KindExpression && strings.TrimSpace(fn.Expr) == "":
			add("functions.%s: expr is required for kind expression", name)
		case fn.Kind == KindCallback && fn.Callback == "":
			add("functions.%s: callback is required for kind callback", name)
		}
	}

	for _, name := range sortedKeys(doc.Data) {
		node := doc.Data[name]
		cat, known := Streams[name]
		if !known {
			add("data.%s: unknown stream", name)
			continue
		}
		if node.Type == "" {
			add("data.%s: type is required", name)
		} else if fn, ok := doc.Functions[node.Type]; !ok {
			add("data.%s: type %q has no entry in functions", name, node.Type)
		} else {
			if cat == CategoryGPS && fn.Kind != KindGPSTrack && fn.Kind != KindCallback {
				add("data.%s: function %q of kind %s cannot produce a position", name, node.Type, fn.Kind)
			}
			if cat != CategoryGPS && fn.Kind == KindGPSTrack {
				add("data.%s: function %q of kind gps_track only serves the gps stream", name, node.Type)
			}
		}

		hz, ok := doc.Timing[name]
		switch {
		case !ok:
			add("timing.%s is required", name)
		case !(hz > 0) || math.IsInf(hz, 0):
			add("timing.%s must be > 0 (got %v)", name, hz)
		}

		if cat == CategoryInstances {
			if len(node.Instances) == 0 {
				add("data.%s: instances is required", name)
			}
			seen := map[string]bool{}
			for i, id := range node.Instances {
				if id == "" {
					add("data.%s.instances[%d] is empty", name, i)
				} else if seen[id] {
					add("data.%s.instances: duplicate id %q", name, id)
				}
				seen[id] = true
			}
		} else if len(node.Instances) > 0 {
			add("data.%s: instances only apply to engines, batteries and tanks", name)
		}

		for _, dep := range node.DependsOn {
			if dep == name {
				add("data.%s: depends on itself", name)
			} else if _, ok := doc.Data[dep]; !ok {
				add("data.%s: depends_on %q is not a stream in data", name, dep)
			}
		}
	}

	for _, name := range sortedKeys(doc.Timing) {
		if _, ok := doc.Data[name]; !ok {
			add("timing.%s: no stream named %s in data", name, name)
		}
	}

	if len(probs) == 0 {
		if _, err := evaluationOrder(doc); err != nil {
			add("%v", err)
		}
	}
	if len(probs) > 0 {
		return &ValidationError{Problems: probs}
	}
	return nil
}

// evaluationOrder sorts streams so every stream follows its dependencies.
// Ties are broken by name for a stable order.
func evaluationOrder(doc *Document) ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(doc.Data))
	order := make([]string, 0, len(doc.Data))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("data: dependency cycle %s", strings.Join(append(path, name), " -> "))
		}
		state[name] = visiting
		path = append(path[:len(path):len(path)], name)
		deps := append([]string(nil), doc.Data[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep, path); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range sortedKeys(doc.Data) {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package scenario drives instrument streams from a declarative document:
// each stream names a generator function and a frequency, optionally
// depending on other streams' current values.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a parsed scenario. It is not modified after loading.
//
// YAML schema:
//
//	name: harbour-approach
//	data:
//	  depth:
//	    type: depth_wave
//	    base: 12
//	  gps:
//	    type: track
//	    depends_on: [sog, heading]
//	  tanks:
//	    type: tank_drain
//	    instances: [fuel, water]
//	timing:
//	  depth: 2
//	  gps: 5
//	functions:
//	  depth_wave:
//	    kind: sine
//	    amplitude: 1.5
//	    period: 30
//	  track:
//	    kind: gps_track
//	    lat: 41.35
//	    lon: -71.9
//
// Parameters on a data node override the function's own parameters.
type Document struct {
	Name      string                 `yaml:"name"`
	Data      map[string]StreamNode  `yaml:"data"`
	Timing    map[string]float64     `yaml:"timing"`
	Functions map[string]FunctionDef `yaml:"functions"`
}

type StreamNode struct {
	Type      string         `yaml:"type"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
	Instances []string       `yaml:"instances,omitempty"`
	Params    map[string]any `yaml:",inline"`
}

type FunctionDef struct {
	Kind string `yaml:"kind"`
	// Expr is the program source for kind expression.
	Expr string `yaml:"expr,omitempty"`
	// Callback names a registered Go generator for kind callback.
	Callback string         `yaml:"callback,omitempty"`
	Params   map[string]any `yaml:",inline"`
}

// Category is the value shape a stream produces.
type Category int

const (
	CategoryScalar Category = iota
	CategoryGPS
	CategoryInstances
)

// Streams maps every known stream name to its category.
var Streams = map[string]Category{
	"depth":      CategoryScalar,
	"speed":      CategoryScalar,
	"sog":        CategoryScalar,
	"heading":    CategoryScalar,
	"wind_speed": CategoryScalar,
	"wind_angle": CategoryScalar,
	"water_temp": CategoryScalar,
	"air_temp":   CategoryScalar,
	"gps":        CategoryGPS,
	"engines":    CategoryInstances,
	"batteries":  CategoryInstances,
	"tanks":      CategoryInstances,
}

func Load(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	doc, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a YAML or JSON document and validates it.
func Parse(b []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// params merges the function's parameters with the stream's overrides.
func (d *Document) params(stream string) map[string]any {
	node := d.Data[stream]
	fn := d.Functions[node.Type]
	out := make(map[string]any, len(fn.Params)+len(node.Params))
	for k, v := range fn.Params {
		out[k] = v
	}
	for k, v := range node.Params {
		out[k] = v
	}
	return out
}

// Package chartspec defines the chart specification that drives scene
// generation for dataset-backed requests.
package chartspec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ChartType selects the family of chart the scene draws.
type ChartType string

// Supported chart types.
const (
	Bubble       ChartType = "bubble"
	Distribution ChartType = "distribution"
	BarRace      ChartType = "bar_race"
	Line         ChartType = "line"
	Unknown      ChartType = "unknown"
)

// CreationMode controls how bubbles enter the scene.
type CreationMode int

// Creation modes. Only bubble charts use them.
const (
	CreateAllAtOnce CreationMode = 1
	CreateOneByOne  CreationMode = 2
	CreateByGroup   CreationMode = 3
)

// DataBinding maps chart roles to dataset columns. An empty string means the
// role is unbound.
type DataBinding struct {
	XCol      string `json:"x_col,omitempty"`
	YCol      string `json:"y_col,omitempty"`
	RCol      string `json:"r_col,omitempty"`
	ValueCol  string `json:"value_col,omitempty"`
	TimeCol   string `json:"time_col,omitempty"`
	GroupCol  string `json:"group_col,omitempty"`
	EntityCol string `json:"entity_col,omitempty"`
}

// Axes configures both axes. Nil bounds are computed from the data.
type Axes struct {
	Auto           bool     `json:"auto"`
	XMin           *float64 `json:"x_min,omitempty"`
	XMax           *float64 `json:"x_max,omitempty"`
	YMin           *float64 `json:"y_min,omitempty"`
	YMax           *float64 `json:"y_max,omitempty"`
	XLabel         string   `json:"x_label,omitempty"`
	YLabel         string   `json:"y_label,omitempty"`
	XDecimals      int      `json:"x_decimals"`
	YDecimals      int      `json:"y_decimals"`
	ShowNumbers    bool     `json:"show_numbers"`
	ShowAxisLabels bool     `json:"show_axis_labels"`
}

// Style holds palette and legend settings.
type Style struct {
	ColorMap       map[string]string `json:"color_map"`
	FillOpacity    float64           `json:"fill_opacity"`
	StrokeWidth    float64           `json:"stroke_width"`
	ShowLegend     bool              `json:"show_legend"`
	LegendPosition string            `json:"legend_position"`
	LabelLanguage  string            `json:"label_language,omitempty"`
}

// Timing holds animation durations in seconds.
type Timing struct {
	TotalTime          float64 `json:"total_time"`
	CreationTime       float64 `json:"creation_time"`
	TransformRatio     float64 `json:"transform_ratio"`
	LagRatio           float64 `json:"lag_ratio"`
	MaxCirclesPerBatch int     `json:"max_circles_per_batch"`
}

// Spec is a fully resolved chart specification. Every field carries a usable
// value once Default or Parse returns it.
type Spec struct {
	ChartType    ChartType    `json:"chart_type"`
	Title        string       `json:"title,omitempty"`
	DataBinding  DataBinding  `json:"data_binding"`
	Axes         Axes         `json:"axes"`
	CreationMode CreationMode `json:"creation_mode"`
	Style        Style        `json:"style"`
	Timing       Timing       `json:"timing"`
}

// DefaultColorMap assigns a colour to each world region.
func DefaultColorMap() map[string]string {
	return map[string]string{
		"AFRICA":                          "#F44336",
		"ASIA":                            "#4CAF50",
		"EUROPE":                          "#2196F3",
		"LATIN AMERICA AND THE CARIBBEAN": "#FFEB3B",
		"OCEANIA":                         "#9C27B0",
	}
}

// Default returns a spec with every field at its default.
func Default() Spec {
	return Spec{
		ChartType: Unknown,
		Axes: Axes{
			Auto:           true,
			ShowNumbers:    true,
			ShowAxisLabels: true,
		},
		CreationMode: CreateOneByOne,
		Style: Style{
			ColorMap:       DefaultColorMap(),
			FillOpacity:    0.7,
			StrokeWidth:    1.5,
			ShowLegend:     true,
			LegendPosition: "top-right",
		},
		Timing: Timing{
			TotalTime:          30.0,
			CreationTime:       2.0,
			TransformRatio:     0.3,
			LagRatio:           0.3,
			MaxCirclesPerBatch: 60,
		},
	}
}

// Parse validates raw against the chart spec schema and overlays it on the
// defaults. Keys present in raw replace the default, absent keys keep it.
func Parse(raw []byte) (Spec, error) {
	if err := validateSchema(raw); err != nil {
		return Spec{}, err
	}
	spec := Default()
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Spec{}, fmt.Errorf("failed to decode chart spec: %w", err)
	}
	return spec, nil
}

// Describe renders the spec as prompt text for the code producer.
func (s Spec) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Chart type: %s\n", s.ChartType)
	if s.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", s.Title)
	}

	bindings := []struct{ role, col string }{
		{"x", s.DataBinding.XCol},
		{"y", s.DataBinding.YCol},
		{"radius", s.DataBinding.RCol},
		{"value", s.DataBinding.ValueCol},
		{"time", s.DataBinding.TimeCol},
		{"group", s.DataBinding.GroupCol},
		{"entity", s.DataBinding.EntityCol},
	}
	for _, b := range bindings {
		if b.col != "" {
			fmt.Fprintf(&sb, "Column for %s: %s\n", b.role, b.col)
		}
	}

	if s.Axes.XLabel != "" || s.Axes.YLabel != "" {
		fmt.Fprintf(&sb, "Axis labels: x=%q y=%q\n", s.Axes.XLabel, s.Axes.YLabel)
	}
	if !s.Axes.Auto {
		fmt.Fprintf(&sb, "Axis range: x=[%s, %s] y=[%s, %s]\n",
			bound(s.Axes.XMin), bound(s.Axes.XMax), bound(s.Axes.YMin), bound(s.Axes.YMax))
	}
	if s.ChartType == Bubble {
		fmt.Fprintf(&sb, "Creation mode: %d\n", s.CreationMode)
	}

	if s.Style.ShowLegend {
		fmt.Fprintf(&sb, "Legend: %s\n", s.Style.LegendPosition)
	}
	if len(s.Style.ColorMap) > 0 {
		groups := make([]string, 0, len(s.Style.ColorMap))
		for g := range s.Style.ColorMap {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		pairs := make([]string, 0, len(groups))
		for _, g := range groups {
			pairs = append(pairs, g+"="+s.Style.ColorMap[g])
		}
		fmt.Fprintf(&sb, "Group colors: %s\n", strings.Join(pairs, ", "))
	}
	fmt.Fprintf(&sb, "Fill opacity: %.2f, stroke width: %.2f\n", s.Style.FillOpacity, s.Style.StrokeWidth)
	fmt.Fprintf(&sb, "Total time: %.1fs, creation time: %.1fs, lag ratio: %.2f\n",
		s.Timing.TotalTime, s.Timing.CreationTime, s.Timing.LagRatio)

	return sb.String()
}

func bound(v *float64) string {
	if v == nil {
		return "auto"
	}
	return fmt.Sprintf("%g", *v)
}

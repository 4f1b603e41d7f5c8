package stats

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmerrifield20/digaas/internal/observer/model"
	"go.uber.org/zap"
)

// ErrPlottingDisabled is returned by Render when no gnuplot binary is set.
var ErrPlottingDisabled = errors.New("plotting disabled: no gnuplot binary configured")

// ChartConfig holds the labels and size of one chart.
type ChartConfig struct {
	XLabel string
	YLabel string
	Title  string
	Width  int
	Height int
}

// Style is the gnuplot point style of one series. An empty Color leaves the
// choice to gnuplot.
type Style struct {
	PointType int
	Color     string
}

var typeStyles = map[string]Style{
	string(model.TypeZoneCreate):   {PointType: 9, Color: "#FF0000"},
	string(model.TypeZoneUpdate):   {PointType: 5, Color: "#FF7100"},
	string(model.TypeZoneDelete):   {PointType: 11, Color: "#FFC200"},
	string(model.TypeRecordCreate): {PointType: 5, Color: "#0000FF"},
	string(model.TypeRecordUpdate): {PointType: 5, Color: "#910DFF"},
	string(model.TypeRecordDelete): {PointType: 5, Color: "#0D8CFF"},
}

// StyleForType returns the fixed style of an observer type, or the default
// square point for anything else.
func StyleForType(key string) Style {
	if s, ok := typeStyles[key]; ok {
		return s
	}
	return Style{PointType: 5}
}

// DefaultStyle is used for series without a fixed style.
func DefaultStyle(string) Style { return Style{PointType: 5} }

// Chart is a complete plot request: labels, data and a style per key.
type Chart struct {
	Config ChartConfig
	Data   Dataset
	Style  func(key string) Style
}

// ChartFor builds the chart for a plot type from the matching dataset.
func ChartFor(typ model.PlotType, ds Dataset) Chart {
	switch typ {
	case model.PlotPropagationByType:
		return Chart{
			Config: ChartConfig{
				XLabel: "Timestamp of API request",
				YLabel: "Propagation time (seconds)",
				Title:  "API-to-nameserver propagation times (successes only)",
			},
			Data:  ds,
			Style: StyleForType,
		}
	case model.PlotPropagationByNameserver:
		return Chart{
			Config: ChartConfig{
				XLabel: "Timestamp of API request",
				YLabel: "Propagation time (seconds)",
				Title:  "API-to-nameserver propagation times by nameserver (successes only)",
			},
			Data:  ds,
			Style: DefaultStyle,
		}
	default:
		return Chart{
			Config: ChartConfig{
				XLabel: "Timestamp of query",
				YLabel: "Response time (seconds)",
				Title:  "DNS query response times (successful queries only)",
			},
			Data:  ds,
			Style: DefaultStyle,
		}
	}
}

// Script returns the gnuplot program that draws c into output, reading each
// series from datafiles[key].
func Script(c Chart, output string, datafiles map[string]string) string {
	width, height := c.Config.Width, c.Config.Height
	if width == 0 {
		width = 1920
	}
	if height == 0 {
		height = 1080
	}

	var b strings.Builder
	fmt.Fprintf(&b, "set term png size %d,%d\n", width, height)
	fmt.Fprintf(&b, "set output '%s'\n", output)
	b.WriteString("set key outside below box\n")
	b.WriteString("set format x \"%0.1f\"\n")
	fmt.Fprintf(&b, "set xlabel \"%s\"\n", c.Config.XLabel)
	fmt.Fprintf(&b, "set ylabel \"%s\"\n", c.Config.YLabel)
	fmt.Fprintf(&b, "set title \"%s\"\n", c.Config.Title)
	b.WriteString("set xtics rotate\n")

	keys := c.Data.Keys()
	entries := make([]string, 0, len(keys))
	for _, key := range keys {
		style := c.Style(key)
		entry := fmt.Sprintf("%q title %q with points pointtype %d", datafiles[key], key, style.PointType)
		if style.Color != "" {
			entry += fmt.Sprintf(" linecolor rgb %q", style.Color)
		}
		entries = append(entries, entry)
	}
	fmt.Fprintf(&b, "\nplot %s", strings.Join(entries, ", \\\n     "))
	return b.String()
}

// Renderer runs gnuplot in a scratch directory and returns the PNG it
// produces.
type Renderer struct {
	gnuplot string
	tmpDir  string
	logger  *zap.Logger
}

// NewRenderer creates a Renderer. An empty gnuplotPath disables rendering.
func NewRenderer(gnuplotPath, tmpDir string, logger *zap.Logger) *Renderer {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Renderer{gnuplot: gnuplotPath, tmpDir: tmpDir, logger: logger}
}

// Enabled reports whether a gnuplot binary is configured.
func (r *Renderer) Enabled() bool { return r.gnuplot != "" }

// Render draws c and returns the PNG bytes.
func (r *Renderer) Render(ctx context.Context, c Chart) ([]byte, error) {
	if !r.Enabled() {
		return nil, ErrPlottingDisabled
	}

	dir, err := os.MkdirTemp(r.tmpDir, "digaas-plot-")
	if err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	defer os.RemoveAll(dir)

	datafiles := make(map[string]string, len(c.Data))
	for i, key := range c.Data.Keys() {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.dat", safeName(key), i))
		if err := writeDatafile(path, c.Data[key].Success); err != nil {
			return nil, err
		}
		datafiles[key] = path
	}

	output := filepath.Join(dir, "plot.png")
	scriptPath := filepath.Join(dir, "plot.gnuplot")
	if err := os.WriteFile(scriptPath, []byte(Script(c, output, datafiles)), 0o600); err != nil {
		return nil, fmt.Errorf("write gnuplot script: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.gnuplot, scriptPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run gnuplot: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	img, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read plot: %w", err)
	}
	r.logger.Debug("plot rendered", zap.String("title", c.Config.Title), zap.Int("bytes", len(img)))
	return img, nil
}

func writeDatafile(path string, points []Point) error {
	var b strings.Builder
	for _, p := range points {
		b.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write datafile: %w", err)
	}
	return nil
}

// safeName keeps only the alphanumeric characters of a series key.
func safeName(key string) string {
	s := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, key)
	if s == "" {
		return "series"
	}
	return s
}

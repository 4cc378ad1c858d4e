package tools

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	plotWidthPx  = 400
	plotHeightPx = 300
	plotDPI      = 96
)

// renderUsagePlot writes a line chart of points to dir/fileName as PNG.
func renderUsagePlot(points []Point, title, dir, fileName string) error {
	if len(points) == 0 {
		return fmt.Errorf("no samples to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "%"
	p.Y.Min = 0
	p.Y.Max = 100
	p.X.Tick.Marker = plot.TimeTicks{Format: "15:04"}

	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X = float64(pt.Time.Unix())
		xys[i].Y = pt.Value
		if pt.Value > p.Y.Max {
			p.Y.Max = pt.Value
		}
	}

	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("failed to build plot line: %w", err)
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1.5)
	p.Add(plotter.NewGrid(), line)

	width := vg.Length(plotWidthPx) * vg.Inch / plotDPI
	height := vg.Length(plotHeightPx) * vg.Inch / plotDPI
	canvas := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(plotDPI))
	p.Draw(draw.New(canvas))

	f, err := os.Create(filepath.Join(dir, fileName))
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode plot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

package util

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

// ANSI 颜色
const (
	ColorReset = "\x1b[0m"
	ColorRed   = "\x1b[1;31m"
	ColorGreen = "\x1b[1;32m"
	ColorBlue  = "\x1b[1;34m"
	ColorCyan  = "\x1b[1;36m"
)

var colors = map[string]string{
	"red":   ColorRed,
	"green": ColorGreen,
	"blue":  ColorBlue,
	"cyan":  ColorCyan,
}

// PrintBanner 输出 ASCII banner 及版本信息；未知颜色不着色
func PrintBanner(w io.Writer, text, color, version string) {
	ansi := colors[color]
	reset := ""
	if ansi != "" {
		reset = ColorReset
	}
	for _, line := range figure.NewFigure(text, "", true).Slicify() {
		_, _ = fmt.Fprintln(w, ansi+line+reset)
	}
	_, _ = fmt.Fprintf(w, "%s %s\n\n", text, version)
}

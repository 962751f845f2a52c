package util

import (
	"fmt"
	"io"
	"os"

	"github.com/common-nighthawk/go-figure"
)

// ProjectName 项目名（banner、HTTP 首页、syslog tag 共用）
const ProjectName = "munin-relay"

// 定义颜色常量
const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

// 字符串转 ANSI 颜色码
func colorCode(name string) string {
	switch name {
	case "ColorRed":
		return ColorRed
	case "ColorGreen":
		return ColorGreen
	case "ColorYellow":
		return ColorYellow
	case "ColorBlue":
		return ColorBlue
	case "ColorCyan":
		return ColorCyan
	default:
		return ColorReset
	}
}

// PrintBanner 打印整体统一颜色的 ASCII banner 到 stdout
func PrintBanner(text string, color string) {
	FprintBanner(os.Stdout, text, color)
}

// FprintBanner 同 PrintBanner，输出到 w
func FprintBanner(w io.Writer, text string, color string) {
	fig := figure.NewFigure(text, "", true)
	ansiColor := colorCode(color)
	for _, line := range fig.Slicify() {
		_, _ = fmt.Fprintln(w, ansiColor+line+ColorReset)
	}
}

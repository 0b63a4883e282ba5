package observability

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset = "\033[0m"
	colorCyan  = "\033[96m"
	colorBold  = "\033[1m"
)

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// PrintBanner writes the startup header to the terminal.
func PrintBanner(appName, provider, model string) {
	width := termWidth()
	if width > 100 {
		width = 100
	}
	rule := strings.Repeat("─", width)

	fmt.Println(colorCyan + rule + colorReset)
	fmt.Printf("%s%s%s  %s\n", colorBold, appName, colorReset, "AI-driven web browser agent")
	fmt.Printf("provider: %s  model: %s\n", provider, model)
	fmt.Println(colorCyan + rule + colorReset)
}

// Rule returns a horizontal separator sized to the terminal, used by the
// terminal gateway between tasks.
func Rule() string {
	width := termWidth()
	if width > 100 {
		width = 100
	}
	return strings.Repeat("─", width)
}

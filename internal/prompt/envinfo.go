package prompt

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// EnvInfo builds the environment header message: current time, host
// details, and any extra prompt text. extra may be inline text or a
// path to a file holding it.
func EnvInfo(extra string) string {
	var b strings.Builder
	b.WriteString("# Environment\n\n")
	fmt.Fprintf(&b, "current time: %s\n", time.Now().Format(time.RFC1123))
	fmt.Fprintf(&b, "system: %s\n", systemInfo())

	if issue := readIssue(); issue != "" {
		fmt.Fprintf(&b, "os: %s\n", issue)
	}

	if extra != "" {
		b.WriteString("\n")
		b.WriteString(resolveExtra(extra))
		b.WriteString("\n")
	}
	return b.String()
}

func systemInfo() string {
	out, err := exec.Command("uname", "-a").Output()
	if err != nil {
		return runtime.GOOS + " " + runtime.GOARCH
	}
	return strings.TrimSpace(string(out))
}

func readIssue() string {
	data, err := os.ReadFile("/etc/issue")
	if err != nil {
		return ""
	}
	// /etc/issue carries getty escape sequences; keep the first line
	// and strip the common ones.
	line, _, _ := strings.Cut(string(data), "\n")
	for _, esc := range []string{`\n`, `\l`, `\r`, `\m`, `\s`} {
		line = strings.ReplaceAll(line, esc, "")
	}
	return strings.TrimSpace(line)
}

// resolveExtra treats extra as a file path when one exists, otherwise
// as inline prompt text.
func resolveExtra(extra string) string {
	if info, err := os.Stat(extra); err == nil && !info.IsDir() {
		if data, err := os.ReadFile(extra); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return extra
}

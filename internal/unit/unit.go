package unit

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Definition describes the supervised service to generate a unit for
type Definition struct {
	Name        string
	Description string
	User        string
	WorkDir     string
	// Exec is the full command line started by the unit (virtualenv
	// interpreter plus entry point).
	Exec string
	// EnvFile is an optional dotenv file whose entries become
	// Environment= lines. Missing file is tolerated.
	EnvFile string
}

// Render produces the systemd unit text. The unit restarts the service on
// any exit after a fixed 10s backoff; there is no crash-loop breaker.
// PYTHONUNBUFFERED keeps journal output live for an unsupervised tty-less
// process.
func Render(d Definition) (string, error) {
	if d.Name == "" {
		return "", fmt.Errorf("unit name is required")
	}
	if d.Exec == "" {
		return "", fmt.Errorf("unit exec command is required")
	}

	env := []string{"PYTHONUNBUFFERED=1"}
	extra, err := loadEnvFile(d.EnvFile)
	if err != nil {
		return "", err
	}
	env = append(env, extra...)

	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=" + d.Description + "\n")
	b.WriteString("After=network.target sound.target\n")
	b.WriteString("\n")
	b.WriteString("[Service]\n")
	b.WriteString("Type=simple\n")
	if d.User != "" {
		b.WriteString("User=" + d.User + "\n")
	}
	if d.WorkDir != "" {
		b.WriteString("WorkingDirectory=" + d.WorkDir + "\n")
	}
	b.WriteString("ExecStart=" + d.Exec + "\n")
	b.WriteString("Restart=always\n")
	b.WriteString("RestartSec=10\n")
	for _, e := range env {
		b.WriteString("Environment=" + quoteAssignment(e) + "\n")
	}
	b.WriteString("\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target\n")

	return b.String(), nil
}

// quoteAssignment wraps a KEY=VALUE pair in double quotes when the value
// contains whitespace. systemd splits an unquoted Environment= line on
// spaces into separate assignments.
func quoteAssignment(pair string) string {
	if strings.ContainsAny(pair, " \t") {
		return `"` + pair + `"`
	}
	return pair
}

// loadEnvFile reads the optional dotenv file into KEY=VALUE pairs in a
// stable order.
func loadEnvFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values[k])
	}
	return pairs, nil
}

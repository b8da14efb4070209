package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/azaanpi/azaanctl/internal/systemd"
)

// CheckResult is one line of doctor output
type CheckResult struct {
	Name     string
	Required bool
	OK       bool
	Detail   string
}

// Doctor inspects an install without changing anything
type Doctor struct {
	run     *Context
	systemd systemd.Manager
}

// NewDoctor creates a read-only diagnostic over the install described by run
func NewDoctor(run *Context, sd systemd.Manager) *Doctor {
	return &Doctor{run: run, systemd: sd}
}

// Run performs every check and writes the report to out. It returns the
// number of failed required checks.
func (d *Doctor) Run(ctx context.Context, out io.Writer) int {
	cfg := d.run.Cfg
	unitName := cfg.Service.Name + ".service"

	results := []CheckResult{
		d.checkFile("unit file", d.run.UnitPath, true),
		d.checkDir("working copy", d.run.WorkDir, true),
		d.checkDir("python environment", d.run.VenvDir, true),
		d.checkFile("system config", d.run.SystemConfig, false),
		d.checkFile("deploy key", filepath.Join(d.run.ID.Home, ".ssh", "id_ed25519"), true),
	}

	active := CheckResult{Name: "service active", Required: true, OK: false, Detail: unitName + " is not running"}
	if d.systemd.IsActive(ctx, unitName) {
		active.OK = true
		active.Detail = unitName + " is running"
	}
	results = append(results, active)

	if cfg.Install.BinLink != "" {
		link := CheckResult{Name: "management CLI", Required: false, OK: false, Detail: cfg.Install.BinLink + " missing"}
		if target, err := os.Readlink(cfg.Install.BinLink); err == nil {
			link.OK = true
			link.Detail = cfg.Install.BinLink + " -> " + target
		}
		results = append(results, link)
	}

	passed, warned, failed := 0, 0, 0
	for _, r := range results {
		mark := "PASS"
		switch {
		case r.OK:
			passed++
		case r.Required:
			mark = "FAIL"
			failed++
		default:
			mark = "WARN"
			warned++
		}
		fmt.Fprintf(out, "[%s] %-20s %s\n", mark, r.Name, r.Detail)
	}
	fmt.Fprintf(out, "\n%d passed, %d warnings, %d failures\n", passed, warned, failed)

	return failed
}

func (d *Doctor) checkFile(name, path string, required bool) CheckResult {
	r := CheckResult{Name: name, Required: required, OK: false, Detail: "missing at " + path}
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		r.OK = true
		r.Detail = path
	}
	return r
}

func (d *Doctor) checkDir(name, path string, required bool) CheckResult {
	r := CheckResult{Name: name, Required: required, OK: false, Detail: "missing at " + path}
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		r.OK = true
		r.Detail = path
	}
	return r
}

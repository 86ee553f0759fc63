// Package doctor reviews an execgw configuration for errors and for settings
// that are valid but likely to surprise an operator.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/execgw/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor inspects a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
	d.warnShutdown(r)
	d.warnTimeouts(r)
	d.warnListener(r)
	d.warnStorage(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) warnShutdown(r *Result) {
	srv := d.cfg.Server
	if srv.DrainTimeout == 0 {
		d.addWarning(r, "shutdown", "server.drain_timeout",
			"drain_timeout is 0; requests still queued at shutdown are dropped without a response")
	}
	if srv.DrainTimeout > 0 && srv.WriteTimeout > 0 && srv.DrainTimeout < srv.WriteTimeout {
		d.addWarning(r, "shutdown", "server.drain_timeout",
			fmt.Sprintf("drain_timeout %s is shorter than write_timeout %s", srv.DrainTimeout, srv.WriteTimeout))
	}
	if d.cfg.Dispatch.PoolSize > 256 {
		d.addWarning(r, "dispatch", "dispatch.pool_size",
			fmt.Sprintf("pool_size %d is unusually large", d.cfg.Dispatch.PoolSize))
	}
}

func (d *Doctor) warnTimeouts(r *Result) {
	srv := d.cfg.Server
	if srv.ReadTimeout == 0 {
		d.addWarning(r, "server", "server.read_timeout", "read_timeout is 0; slow clients can hold connections open")
	}
	if srv.WriteTimeout == 0 {
		d.addWarning(r, "server", "server.write_timeout", "write_timeout is 0; response writes never time out")
	}
	if srv.MaxBodySize == "" {
		d.addWarning(r, "server", "server.max_body_size", "max_body_size is empty; request bodies are unlimited")
	}
}

func (d *Doctor) warnListener(r *Result) {
	port := d.cfg.Server.Port
	switch {
	case port == 0:
		d.addWarning(r, "server", "server.port", "port 0 binds an ephemeral port")
	case port < 1024:
		d.addWarning(r, "server", "server.port",
			fmt.Sprintf("port %d is privileged and may require elevated permissions", port))
	}
}

func (d *Doctor) warnStorage(r *Result) {
	st := d.cfg.Storage
	if st.Backend == "memory" {
		d.addWarning(r, "storage", "storage.backend", "memory backend loses all entities on restart")
		return
	}
	if st.Path == "" {
		return
	}
	if !filepath.IsAbs(st.Path) {
		d.addWarning(r, "storage", "storage.path",
			fmt.Sprintf("path %q is relative to the working directory", st.Path))
	}
	if _, err := os.Stat(filepath.Dir(st.Path)); err != nil {
		d.addWarning(r, "storage", "storage.path",
			fmt.Sprintf("directory %q does not exist yet", filepath.Dir(st.Path)))
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	fields := map[string]string{
		"service.name": d.cfg.Service.Name,
		"server.host":  d.cfg.Server.Host,
	}
	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

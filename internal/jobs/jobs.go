// Package jobs compiles recurring-job requests into systemd user timer and
// service unit pairs. Each job gets four files in the user unit directory:
// the .service (a oneshot curl back into the router), the .timer, a
// .meta.json describing the job, and a .payload.json the service posts.
package jobs

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Prefix namespaces every generated unit file.
const Prefix = "ashley-job-"

// Runner executes systemctl. Abstracted so tests can fake unit state.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return strings.TrimSpace(string(out)), err
}

// Meta is the sidecar description of one scheduled job.
type Meta struct {
	JobID       string `json:"job_id"`
	Cron        string `json:"cron"`
	OnCalendar  string `json:"on_calendar"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	UnitName    string `json:"unit_name"`
}

// Compiler writes and manages job unit files.
type Compiler struct {
	dir        string // systemd user unit directory
	routerPort int
	home       string
	runner     Runner
	now        func() time.Time
}

func NewCompiler(dir string, routerPort int, runner Runner) *Compiler {
	home, _ := os.UserHomeDir()
	return &Compiler{
		dir:        dir,
		routerPort: routerPort,
		home:       home,
		runner:     runner,
		now:        time.Now,
	}
}

var cronFieldRe = regexp.MustCompile(`^[\d\*,/\-]+$`)

// cronBounds are the value ranges for minute, hour, day-of-month, month,
// and day-of-week (0 and 7 both mean Sunday).
var cronBounds = [5]struct{ min, max int }{
	{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 7},
}

// validCronField checks every numeric token of one field (lists, ranges,
// and steps) against the field's bounds.
func validCronField(field string, min, max int) bool {
	for _, item := range strings.Split(field, ",") {
		base, step, hasStep := strings.Cut(item, "/")
		if hasStep {
			n, err := strconv.Atoi(step)
			if err != nil || n < 1 {
				return false
			}
		}
		if base == "*" {
			continue
		}
		lo, hi, isRange := strings.Cut(base, "-")
		if !isRange {
			hi = lo
		}
		a, err := strconv.Atoi(lo)
		if err != nil || a < min || a > max {
			return false
		}
		b, err := strconv.Atoi(hi)
		if err != nil || b < min || b > max || b < a {
			return false
		}
	}
	return true
}

// CronToOnCalendar converts a 5-field cron expression to a systemd
// OnCalendar spec (DayOfWeek Year-Month-Day Hour:Minute:Second). Empty
// string when the expression is malformed or a value is out of range.
func CronToOnCalendar(cronExpr string) string {
	parts := strings.Fields(strings.TrimSpace(cronExpr))
	if len(parts) != 5 {
		return ""
	}
	for i, field := range parts {
		if !cronFieldRe.MatchString(field) {
			return ""
		}
		if !validCronField(field, cronBounds[i].min, cronBounds[i].max) {
			return ""
		}
	}
	minute, hour, dom, month, dow := parts[0], parts[1], parts[2], parts[3], parts[4]

	convert := func(field string) string {
		if field == "*" {
			return "*"
		}
		if base, step, ok := strings.Cut(field, "/"); ok {
			if base == "*" {
				base = "0"
			}
			return base + "/" + step
		}
		return field
	}

	datePart := fmt.Sprintf("*-%s-%s", convert(month), convert(dom))
	timePart := fmt.Sprintf("%s:%s:00", convert(hour), convert(minute))

	if dow != "*" {
		return fmt.Sprintf("%s %s %s", dow, datePart, timePart)
	}
	return fmt.Sprintf("%s %s", datePart, timePart)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// MakeJobID derives a short unique id from the description: a 40-char slug
// plus a 6-hex-digit hash salted with the creation time.
func MakeJobID(description string, now time.Time) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(description)), "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	slug = strings.Trim(slug, "-")
	sum := md5.Sum([]byte(slug + "-" + now.UTC().Format(time.RFC3339Nano)))
	return fmt.Sprintf("%s-%x", slug, sum[:3])
}

const invalidCronHelp = "Invalid cron expression. Use 5 fields: minute hour day-of-month month day-of-week\n" +
	"Examples:\n" +
	"  0 7 * * *     = daily at 7am\n" +
	"  */30 * * * *  = every 30 minutes\n" +
	"  0 9 * * 1     = every Monday at 9am\n" +
	"  0 8,17 * * *  = 8am and 5pm daily"

// Schedule compiles a cron expression and task description into an enabled
// timer. Returns the owner-facing reply text.
func (c *Compiler) Schedule(ctx context.Context, cronExpr, description string) (string, error) {
	onCalendar := CronToOnCalendar(cronExpr)
	if onCalendar == "" {
		return invalidCronHelp, nil
	}

	now := c.now()
	jobID := MakeJobID(description, now)
	unitName := Prefix + jobID

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("jobs: mkdir: %w", err)
	}

	payloadPath := filepath.Join(c.dir, unitName+".payload.json")
	payload, err := json.Marshal(map[string]string{"text": "/think " + description})
	if err != nil {
		return "", fmt.Errorf("jobs: marshal payload: %w", err)
	}
	if err := os.WriteFile(payloadPath, payload, 0o644); err != nil {
		return "", fmt.Errorf("jobs: write payload: %w", err)
	}

	shortDesc := description
	if len(shortDesc) > 80 {
		shortDesc = shortDesc[:80]
	}

	serviceContent := fmt.Sprintf(`[Unit]
Description=Ashley Scheduled: %s

[Service]
Type=oneshot
ExecStart=/usr/bin/curl -sS -X POST http://127.0.0.1:%d/route -H "Content-Type: application/json" -d @%s
Environment=HOME=%s
`, shortDesc, c.routerPort, payloadPath, c.home)

	timerContent := fmt.Sprintf(`[Unit]
Description=Ashley Schedule: %s

[Timer]
OnCalendar=%s
Persistent=true

[Install]
WantedBy=timers.target
`, shortDesc, onCalendar)

	meta := Meta{
		JobID:       jobID,
		Cron:        cronExpr,
		OnCalendar:  onCalendar,
		Description: description,
		CreatedAt:   now.UTC().Format(time.RFC3339),
		UnitName:    unitName,
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("jobs: marshal meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(c.dir, unitName+".service"), []byte(serviceContent), 0o644); err != nil {
		return "", fmt.Errorf("jobs: write service: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.dir, unitName+".timer"), []byte(timerContent), 0o644); err != nil {
		return "", fmt.Errorf("jobs: write timer: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.dir, unitName+".meta.json"), metaJSON, 0o644); err != nil {
		return "", fmt.Errorf("jobs: write meta: %w", err)
	}

	c.runner.Run(ctx, "systemctl", "--user", "daemon-reload")
	if _, err := c.runner.Run(ctx, "systemctl", "--user", "enable", "--now", unitName+".timer"); err != nil {
		return fmt.Sprintf("Failed to enable timer: %v", err), nil
	}

	stamp := now.UTC().Format("2006-01-02 15:04 UTC")
	return fmt.Sprintf("Scheduled job created.\nID: %s\nCron: %s\nSystemD: %s\nTask: %s\nCreated: %s",
		jobID, cronExpr, onCalendar, description, stamp), nil
}

// List renders all scheduled jobs with unit activity and next trigger time.
// Malformed meta files are skipped.
func (c *Compiler) List(ctx context.Context) (string, error) {
	metas, _, _, err := c.loadMetas()
	if err != nil {
		return "", err
	}
	if len(metas) == 0 {
		return "No scheduled jobs found.", nil
	}

	lines := []string{"Scheduled jobs:\n"}
	for _, meta := range metas {
		status, err := c.runner.Run(ctx, "systemctl", "--user", "is-active", meta.UnitName+".timer")
		if err != nil || status == "" {
			status = "inactive"
		}

		next, _ := c.runner.Run(ctx, "systemctl", "--user", "show", meta.UnitName+".timer",
			"--property=NextElapseUSecRealtime", "--value")
		if len(next) > 19 {
			next = next[:19]
		}
		if next == "" {
			next = "—"
		}

		desc := meta.Description
		if len(desc) > 100 {
			desc = desc[:100]
		}

		lines = append(lines,
			"ID: "+meta.JobID,
			fmt.Sprintf("  Cron: %s  |  Status: %s", meta.Cron, status),
			"  Next: "+next,
			"  Task: "+desc,
			"")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// Delete removes a job by id (partial match allowed) or all jobs with "all".
// All-deletion also unlinks meta files that no longer parse.
func (c *Compiler) Delete(ctx context.Context, jobID string) (string, error) {
	metas, paths, malformed, err := c.loadMetas()
	if err != nil {
		return "", err
	}

	if strings.EqualFold(jobID, "all") {
		for _, path := range malformed {
			os.Remove(path)
		}
		if len(metas) == 0 {
			return "No scheduled jobs to delete.", nil
		}
		for i, meta := range metas {
			c.removeJob(ctx, meta, paths[i])
		}
		c.runner.Run(ctx, "systemctl", "--user", "daemon-reload")
		return fmt.Sprintf("Deleted %d scheduled job(s).", len(metas)), nil
	}

	for i, meta := range metas {
		if meta.JobID == jobID || strings.Contains(meta.JobID, jobID) {
			c.removeJob(ctx, meta, paths[i])
			c.runner.Run(ctx, "systemctl", "--user", "daemon-reload")
			desc := meta.Description
			if len(desc) > 100 {
				desc = desc[:100]
			}
			return fmt.Sprintf("Deleted job: %s\nTask was: %s", meta.JobID, desc), nil
		}
	}
	return fmt.Sprintf("Job '%s' not found. Use /jobs to see all scheduled jobs.", jobID), nil
}

func (c *Compiler) removeJob(ctx context.Context, meta Meta, metaPath string) {
	if meta.UnitName != "" {
		c.runner.Run(ctx, "systemctl", "--user", "disable", "--now", meta.UnitName+".timer")
		os.Remove(filepath.Join(c.dir, meta.UnitName+".service"))
		os.Remove(filepath.Join(c.dir, meta.UnitName+".timer"))
		os.Remove(filepath.Join(c.dir, meta.UnitName+".payload.json"))
	}
	os.Remove(metaPath)
}

// loadMetas reads every job meta file in the unit directory, sorted by
// filename. Files that cannot be read or parsed come back in malformed.
func (c *Compiler) loadMetas() (metas []Meta, paths, malformed []string, err error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("jobs: mkdir: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, Prefix+"*.meta.json"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("jobs: glob: %w", err)
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			malformed = append(malformed, path)
			continue
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			malformed = append(malformed, path)
			continue
		}
		metas = append(metas, meta)
		paths = append(paths, path)
	}
	return metas, paths, malformed, nil
}

package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// CommandRunner executes a scheduler command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local machine.
type ExecRunner struct{}

// Run implements CommandRunner. On failure the error carries stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ShellConfig describes a scheduler's command-line interface.
//
// Each command is a list of HCL template strings, one per argument. The
// templates can refer to name, executable, argv, run_path, num_cpu,
// memory_mb and job_id. An argument that is exactly "${argv}" expands to the
// executable followed by its arguments.
type ShellConfig struct {
	SubmitCommand []string
	StatusCommand []string
	KillCommand   []string
	// JobIDPattern extracts the job id from the submit output with its first group.
	JobIDPattern string
	// StatusField is the whitespace-separated column holding the state in
	// the status output line that starts with the job id.
	StatusField int
	StatusMap   map[string]Status
	// TransientPatterns match submit errors worth retrying.
	TransientPatterns []string
	// NotFoundPatterns match the status command's complaint about a job the
	// scheduler has already forgotten. Such a failure counts as absence.
	NotFoundPatterns []string
	// MissingIsDone treats a job absent from the status output as finished.
	// A failing status command only counts as absence when it matches
	// NotFoundPatterns.
	MissingIsDone bool
}

// LSF returns the configuration for IBM Spectrum LSF.
func LSF() ShellConfig {
	return ShellConfig{
		SubmitCommand: []string{
			"bsub", "-J", "${name}", "-n", "${num_cpu}",
			"-o", "${run_path}/${name}.LSF-stdout", "-e", "${run_path}/${name}.LSF-stderr",
			"${argv}",
		},
		StatusCommand: []string{"bjobs", "-noheader", "${job_id}"},
		KillCommand:   []string{"bkill", "${job_id}"},
		JobIDPattern:  `Job <(\d+)>`,
		StatusField:   2,
		StatusMap: map[string]Status{
			"PEND":  StatusPending,
			"PSUSP": StatusRunning,
			"USUSP": StatusRunning,
			"SSUSP": StatusRunning,
			"RUN":   StatusRunning,
			"DONE":  StatusDone,
			"EXIT":  StatusFailed,
			"ZOMBI": StatusFailed,
			"UNKWN": StatusPending,
		},
		TransientPatterns: []string{
			`(?i)temporarily unavailable`,
			`(?i)try again`,
			`(?i)not responding`,
			`(?i)LSF is down`,
		},
		NotFoundPatterns: []string{`Job <\S+> is not found`},
		MissingIsDone:    true,
	}
}

// Torque returns the configuration for Torque/PBS.
func Torque() ShellConfig {
	return ShellConfig{
		SubmitCommand: []string{
			"qsub", "-N", "${name}", "-l", "nodes=1:ppn=${num_cpu}",
			"-d", "${run_path}", "--", "${argv}",
		},
		StatusCommand: []string{"qstat", "${job_id}"},
		KillCommand:   []string{"qdel", "${job_id}"},
		JobIDPattern:  `^\s*(\S+)`,
		StatusField:   4,
		StatusMap: map[string]Status{
			"Q": StatusPending,
			"H": StatusPending,
			"W": StatusPending,
			"T": StatusPending,
			"R": StatusRunning,
			"E": StatusRunning,
			"C": StatusDone,
		},
		TransientPatterns: []string{
			`(?i)temporarily unavailable`,
			`(?i)cannot connect to server`,
			`(?i)pbs_iff`,
		},
		NotFoundPatterns: []string{`(?i)Unknown Job Id`},
		MissingIsDone:    true,
	}
}

// Shell drives a cluster scheduler through its command-line tools.
type Shell struct {
	cfg       ShellConfig
	runner    CommandRunner
	jobID     *regexp.Regexp
	transient []*regexp.Regexp
	notFound  []*regexp.Regexp
	submit    []hclsyntax.Expression
	status    []hclsyntax.Expression
	kill      []hclsyntax.Expression

	mu     sync.Mutex
	jobs   map[Handle]JobSpec
	killed map[Handle]bool
	errs   map[Handle]string
}

// NewShell validates cfg and returns a driver using runner. A nil runner
// means ExecRunner.
func NewShell(cfg ShellConfig, runner CommandRunner) (*Shell, error) {
	if runner == nil {
		runner = ExecRunner{}
	}
	s := &Shell{
		cfg:    cfg,
		runner: runner,
		jobs:   make(map[Handle]JobSpec),
		killed: make(map[Handle]bool),
		errs:   make(map[Handle]string),
	}

	var err error
	if s.jobID, err = regexp.Compile(cfg.JobIDPattern); err != nil {
		return nil, fmt.Errorf("job id pattern: %w", err)
	}
	if s.jobID.NumSubexp() < 1 {
		return nil, fmt.Errorf("job id pattern %q needs a capture group", cfg.JobIDPattern)
	}
	if s.transient, err = compileAll("transient", cfg.TransientPatterns); err != nil {
		return nil, err
	}
	if s.notFound, err = compileAll("not found", cfg.NotFoundPatterns); err != nil {
		return nil, err
	}
	for _, c := range []struct {
		name string
		src  []string
		dst  *[]hclsyntax.Expression
	}{
		{"submit", cfg.SubmitCommand, &s.submit},
		{"status", cfg.StatusCommand, &s.status},
		{"kill", cfg.KillCommand, &s.kill},
	} {
		if len(c.src) == 0 {
			return nil, fmt.Errorf("%s command is empty", c.name)
		}
		exprs, err := parseTemplates(c.name, c.src)
		if err != nil {
			return nil, err
		}
		*c.dst = exprs
	}
	return s, nil
}

// Submit runs the submit command and parses the job id from its output.
func (s *Shell) Submit(ctx context.Context, spec JobSpec) (Handle, error) {
	argv, err := render(s.submit, specVars(spec, ""))
	if err != nil {
		return "", Permanent(err)
	}
	out, err := s.runner.Run(ctx, argv[0], argv[1:]...)
	if err != nil {
		if s.isTransient(out, err) {
			return "", Transient(err)
		}
		return "", Permanent(err)
	}
	m := s.jobID.FindSubmatch(out)
	if m == nil {
		return "", Permanent(fmt.Errorf("no job id in %s output: %q", argv[0], strings.TrimSpace(string(out))))
	}

	h := Handle(m[1])
	s.mu.Lock()
	s.jobs[h] = spec
	s.mu.Unlock()
	return h, nil
}

// Poll runs the status command and maps the scheduler's state.
func (s *Shell) Poll(ctx context.Context, h Handle) (Status, error) {
	spec, err := s.spec(h)
	if err != nil {
		return "", err
	}
	argv, err := render(s.status, specVars(spec, string(h)))
	if err != nil {
		return "", err
	}
	out, runErr := s.runner.Run(ctx, argv[0], argv[1:]...)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if raw, found := s.findState(out, string(h)); found {
		status, ok := s.cfg.StatusMap[raw]
		if !ok {
			return "", fmt.Errorf("job %s: unrecognised scheduler state %q", h, raw)
		}
		if status == StatusFailed {
			s.setErr(h, fmt.Sprintf("scheduler reported state %s", raw))
		}
		return status, nil
	}

	if runErr != nil && !matchAny(s.notFound, out, runErr) {
		return "", fmt.Errorf("polling job %s: %w", h, runErr)
	}
	if s.cfg.MissingIsDone {
		return StatusDone, nil
	}
	return "", fmt.Errorf("%w: %s is not in the status output", ErrUnknownHandle, h)
}

// Kill runs the kill command once per handle.
func (s *Shell) Kill(ctx context.Context, h Handle) error {
	spec, err := s.spec(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.killed[h] {
		s.mu.Unlock()
		return nil
	}
	s.killed[h] = true
	s.mu.Unlock()

	argv, err := render(s.kill, specVars(spec, string(h)))
	if err != nil {
		return err
	}
	if _, err := s.runner.Run(ctx, argv[0], argv[1:]...); err != nil {
		return fmt.Errorf("killing job %s: %w", h, err)
	}
	return nil
}

// Describe returns what is known about a failed job.
func (s *Shell) Describe(ctx context.Context, h Handle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[h]
}

func (s *Shell) spec(h Handle) (JobSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.jobs[h]
	if !ok {
		return JobSpec{}, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return spec, nil
}

func (s *Shell) setErr(h Handle, msg string) {
	s.mu.Lock()
	s.errs[h] = msg
	s.mu.Unlock()
}

func (s *Shell) isTransient(out []byte, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return matchAny(s.transient, out, err)
}

// matchAny reports whether any pattern matches the command's error or output.
func matchAny(patterns []*regexp.Regexp, out []byte, err error) bool {
	text := string(out)
	if err != nil {
		text = err.Error() + "\n" + text
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func compileAll(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s pattern: %w", kind, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// findState locates the line for id and returns its state column.
func (s *Shell) findState(out []byte, id string) (string, bool) {
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) <= s.cfg.StatusField {
			continue
		}
		if fields[0] == id || strings.HasPrefix(fields[0], id+".") || strings.HasPrefix(id, fields[0]+".") {
			return fields[s.cfg.StatusField], true
		}
	}
	return "", false
}

func specVars(spec JobSpec, jobID string) map[string]cty.Value {
	argv := []cty.Value{cty.StringVal(spec.Executable)}
	for _, a := range spec.Args {
		argv = append(argv, cty.StringVal(a))
	}
	cpus := spec.NumCPU
	if cpus <= 0 {
		cpus = 1
	}
	runPath := spec.RunPath
	if runPath == "" {
		runPath = "."
	}
	return map[string]cty.Value{
		"name":       cty.StringVal(spec.Name),
		"executable": cty.StringVal(spec.Executable),
		"argv":       cty.ListVal(argv),
		"run_path":   cty.StringVal(runPath),
		"num_cpu":    cty.NumberIntVal(int64(cpus)),
		"memory_mb":  cty.NumberIntVal(int64(spec.MemoryMB)),
		"job_id":     cty.StringVal(jobID),
	}
}

func parseTemplates(name string, src []string) ([]hclsyntax.Expression, error) {
	out := make([]hclsyntax.Expression, 0, len(src))
	for i, tmpl := range src {
		expr, diags := hclsyntax.ParseTemplate([]byte(tmpl), fmt.Sprintf("%s[%d]", name, i), hcl.InitialPos)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s command argument %d: %s", name, i, diags.Error())
		}
		out = append(out, expr)
	}
	return out, nil
}

// render evaluates argument templates. List values expand in place.
func render(exprs []hclsyntax.Expression, vars map[string]cty.Value) ([]string, error) {
	evalCtx := &hcl.EvalContext{Variables: vars}
	var argv []string
	for _, expr := range exprs {
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("rendering command: %s", diags.Error())
		}
		if val.Type().IsListType() || val.Type().IsTupleType() {
			for it := val.ElementIterator(); it.Next(); {
				_, elem := it.Element()
				s, err := convert.Convert(elem, cty.String)
				if err != nil {
					return nil, fmt.Errorf("rendering command: %w", err)
				}
				argv = append(argv, s.AsString())
			}
			continue
		}
		s, err := convert.Convert(val, cty.String)
		if err != nil {
			return nil, fmt.Errorf("rendering command: %w", err)
		}
		argv = append(argv, s.AsString())
	}
	if len(argv) == 0 {
		return nil, errors.New("rendering command: no arguments")
	}
	return argv, nil
}

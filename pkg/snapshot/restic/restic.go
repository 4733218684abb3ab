// Package restic implements snapshot.Repository on top of the restic command line client.
package restic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nais/hostops/pkg/snapshot"
)

const DefaultBinary = "restic"

var ErrRepositoryMissing = errors.New("restic repository is not initialized")

// Runner executes one restic invocation and returns its standard output.
type Runner interface {
	Run(ctx context.Context, env []string, args ...string) ([]byte, error)
}

// ExecRunner runs the restic binary. Standard error is forwarded to Stderr, or logged when nil.
type ExecRunner struct {
	Binary string
	Stderr io.Writer
}

func (r *ExecRunner) Run(ctx context.Context, env []string, args ...string) ([]byte, error) {
	binary := r.Binary
	if len(binary) == 0 {
		binary = DefaultBinary
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(stderr, r.Stderr)
	}

	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(msg) > 0 {
			return stdout.Bytes(), &CommandError{Args: args, ExitCode: exitErr.ExitCode(), Stderr: msg}
		}
		return stdout.Bytes(), fmt.Errorf("%s %s: %w", binary, args[0], err)
	}
	return stdout.Bytes(), nil
}

type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("restic %s: exit status %d: %s", e.Args[0], e.ExitCode, e.Stderr)
}

// Repository talks to one restic repository.
type Repository struct {
	Runner Runner

	// Location of the repository, e.g. "s3:https://s3.example.com/backups".
	URL          string
	Password     string
	PasswordFile string

	// Host recorded in new snapshots. Retention groups by host only, so snapshots
	// of per-run staging directories fall into the same group.
	Host string

	// Extra environment, typically backend credentials.
	Env []string
}

var _ snapshot.Repository = &Repository{}

func (r *Repository) env() []string {
	env := make([]string, 0, len(r.Env)+2)
	if len(r.URL) > 0 {
		env = append(env, "RESTIC_REPOSITORY="+r.URL)
	}
	switch {
	case len(r.PasswordFile) > 0:
		env = append(env, "RESTIC_PASSWORD_FILE="+r.PasswordFile)
	case len(r.Password) > 0:
		env = append(env, "RESTIC_PASSWORD="+r.Password)
	}
	return append(env, r.Env...)
}

func (r *Repository) run(ctx context.Context, args ...string) ([]byte, error) {
	log.Debugf("restic %s", strings.Join(args, " "))
	return r.Runner.Run(ctx, r.env(), args...)
}

// Check verifies that the repository exists and the password opens it.
func (r *Repository) Check(ctx context.Context) error {
	_, err := r.run(ctx, "cat", "config")
	var cmdErr *CommandError
	// restic exits with 10 when the repository does not exist.
	if errors.As(err, &cmdErr) && (cmdErr.ExitCode == 10 || strings.Contains(cmdErr.Stderr, "does not exist")) {
		return fmt.Errorf("%w: %s", ErrRepositoryMissing, cmdErr.Stderr)
	}
	return err
}

func (r *Repository) Init(ctx context.Context) error {
	_, err := r.run(ctx, "init")
	return err
}

type backupMessage struct {
	MessageType         string `json:"message_type"`
	SnapshotID          string `json:"snapshot_id"`
	TotalBytesProcessed uint64 `json:"total_bytes_processed"`
	Message             string `json:"message"`
}

func (r *Repository) Backup(ctx context.Context, sourceDir string, tags []string) (*snapshot.Snapshot, error) {
	args := []string{"backup", "--json"}
	if len(r.Host) > 0 {
		args = append(args, "--host", r.Host)
	}
	for _, tag := range tags {
		args = append(args, "--tag", tag)
	}
	args = append(args, sourceDir)

	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	summary, err := parseBackupSummary(out)
	if err != nil {
		return nil, err
	}

	return &snapshot.Snapshot{
		ID:       summary.SnapshotID,
		ShortID:  short(summary.SnapshotID),
		Time:     time.Now(),
		Tags:     append([]string(nil), tags...),
		Paths:    []string{sourceDir},
		Hostname: r.Host,
	}, nil
}

// restic backup --json emits one JSON object per line; the summary line carries the snapshot id.
func parseBackupSummary(out []byte) (*backupMessage, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		msg := &backupMessage{}
		if err := json.Unmarshal(line, msg); err != nil {
			continue
		}
		if msg.MessageType == "summary" && len(msg.SnapshotID) > 0 {
			return msg, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read backup output: %w", err)
	}
	return nil, errors.New("restic backup reported no snapshot id")
}

func (r *Repository) List(ctx context.Context, tag string) ([]snapshot.Snapshot, error) {
	args := []string{"snapshots", "--json"}
	if len(tag) > 0 {
		args = append(args, "--tag", tag)
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	snapshots := make([]snapshot.Snapshot, 0)
	if err := json.NewDecoder(bytes.NewReader(out)).Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("decode snapshot list: %w", err)
	}
	for i := range snapshots {
		if len(snapshots[i].ShortID) == 0 {
			snapshots[i].ShortID = short(snapshots[i].ID)
		}
	}
	snapshot.SortNewestFirst(snapshots)
	return snapshots, nil
}

func (r *Repository) Restore(ctx context.Context, id, targetDir, tag string) error {
	args := []string{"restore", id, "--target", targetDir}
	if len(tag) > 0 {
		args = append(args, "--tag", tag)
	}
	_, err := r.run(ctx, args...)
	return err
}

type forgetGroup struct {
	Tags   []string            `json:"tags"`
	Host   string              `json:"host"`
	Keep   []snapshot.Snapshot `json:"keep"`
	Remove []snapshot.Snapshot `json:"remove"`
}

func (r *Repository) Forget(ctx context.Context, policy snapshot.RetentionPolicy, tag string) ([]string, error) {
	if len(tag) == 0 {
		return nil, errors.New("refusing to apply retention without a tag")
	}
	if policy.Empty() {
		return nil, errors.New("refusing to apply an empty retention policy")
	}

	args := []string{
		"forget", "--json", "--prune",
		"--tag", tag,
		"--group-by", "host",
		"--keep-daily", strconv.Itoa(policy.KeepDaily),
		"--keep-weekly", strconv.Itoa(policy.KeepWeekly),
		"--keep-monthly", strconv.Itoa(policy.KeepMonthly),
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseForget(out)
}

// The JSON group list comes first; prune statistics may follow as plain text.
func parseForget(out []byte) ([]string, error) {
	start := bytes.IndexByte(out, '[')
	if start < 0 {
		return nil, nil
	}
	groups := make([]forgetGroup, 0)
	if err := json.NewDecoder(bytes.NewReader(out[start:])).Decode(&groups); err != nil {
		return nil, fmt.Errorf("decode forget output: %w", err)
	}
	removed := make([]string, 0)
	for _, g := range groups {
		for _, s := range g.Remove {
			removed = append(removed, s.ID)
		}
	}
	return removed, nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

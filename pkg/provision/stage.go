// Package provision prepares a freshly written boot partition for first boot.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/piflash/piflash/pkg/errors"
	"github.com/spf13/afero"
)

// Step names a provisioning step. The names are the files each step writes.
type Step string

const (
	StepSSH      Step = "ssh"
	StepUserconf Step = "userconf"
	StepTPM      Step = "tpm_setup.sh"
)

// TPMSetupScript enables the SPI bus and loads the TPM overlay on first boot.
// Each setting is appended only when absent, so the script can run twice.
const TPMSetupScript = `#!/bin/sh
set -e

CONFIG=/boot/firmware/config.txt
[ -f "$CONFIG" ] || CONFIG=/boot/config.txt

grep -q '^dtparam=spi=on' "$CONFIG" || echo 'dtparam=spi=on' >> "$CONFIG"
grep -q '^dtoverlay=tpm-slb9670' "$CONFIG" || echo 'dtoverlay=tpm-slb9670' >> "$CONFIG"
`

// Account is a first-boot login with an already hashed password.
type Account struct {
	Username     string
	PasswordHash string
}

// Request describes one provisioning run.
type Request struct {
	BootMount    string
	Account      *Account
	ProvisionTPM bool
}

// Report lists the steps that completed, in order.
type Report struct {
	Completed []Step
}

// Stage writes provisioning artifacts onto a boot partition.
type Stage struct {
	fs afero.Fs
}

// NewStage creates a stage over fs; production uses afero.NewOsFs().
func NewStage(fs afero.Fs) *Stage {
	return &Stage{fs: fs}
}

// Run executes the steps in fixed order: ssh marker, userconf, TPM script.
// A failing step stops the run; completed steps are not rolled back, and the
// returned error says which steps made it onto the device.
func (s *Stage) Run(ctx context.Context, req Request) (*Report, error) {
	report := &Report{}

	steps := []struct {
		step Step
		skip bool
		run  func(string) error
	}{
		{StepSSH, false, s.writeSSHMarker},
		{StepUserconf, req.Account == nil, func(p string) error { return s.writeUserconf(p, req.Account) }},
		{StepTPM, !req.ProvisionTPM, s.writeTPMScript},
	}

	for _, st := range steps {
		if st.skip {
			slog.Info("provision_step_skipped", "step", st.step)
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, incomplete(report, st.step, err)
		}

		path := filepath.Join(req.BootMount, string(st.step))
		if err := st.run(path); err != nil {
			slog.Error("provision_step_failed", "step", st.step, "path", path, "error", err)
			return report, incomplete(report, st.step, err)
		}

		report.Completed = append(report.Completed, st.step)
		slog.Info("provision_step_complete", "step", st.step, "path", path)
	}

	return report, nil
}

func (s *Stage) writeSSHMarker(path string) error {
	return afero.WriteFile(s.fs, path, nil, 0o644)
}

func (s *Stage) writeUserconf(path string, acct *Account) error {
	if acct.PasswordHash == "" {
		return fmt.Errorf("refusing to write userconf without a password hash")
	}
	return afero.WriteFile(s.fs, path, []byte(acct.Username+":"+acct.PasswordHash), 0o600)
}

func (s *Stage) writeTPMScript(path string) error {
	if err := afero.WriteFile(s.fs, path, []byte(TPMSetupScript), 0o755); err != nil {
		return err
	}
	// WriteFile is subject to the umask
	return s.fs.Chmod(path, os.FileMode(0o755))
}

func incomplete(report *Report, failed Step, err error) error {
	done := "nothing written"
	if len(report.Completed) > 0 {
		names := make([]string, len(report.Completed))
		for i, st := range report.Completed {
			names[i] = string(st)
		}
		done = "completed: " + strings.Join(names, ", ")
	}
	msg := fmt.Sprintf("Device written but provisioning incomplete (%s; writing %s failed)", done, failed)
	return errors.WithCause(errors.KindProvisionWriteFailed, msg, err)
}

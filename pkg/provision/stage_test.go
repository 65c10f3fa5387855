package provision

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/piflash/piflash/pkg/errors"
	"github.com/spf13/afero"
)

const bootMount = "/media/pi/bootfs"

// failingFs fails every open of a file whose name ends in suffix.
type failingFs struct {
	afero.Fs
	suffix string
}

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if strings.HasSuffix(name, f.suffix) {
		return nil, fmt.Errorf("open %s: no space left on device", name)
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func newBootFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll(bootMount, 0o755); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestStage_AllSteps(t *testing.T) {
	fs := newBootFs(t)
	stage := NewStage(fs)

	report, err := stage.Run(context.Background(), Request{
		BootMount:    bootMount,
		Account:      &Account{Username: "pi", PasswordHash: "$2a$04$abcdefghijklmnopqrstuu"},
		ProvisionTPM: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if want := []Step{StepSSH, StepUserconf, StepTPM}; !reflect.DeepEqual(report.Completed, want) {
		t.Errorf("completed %v, want %v", report.Completed, want)
	}

	marker, err := afero.ReadFile(fs, bootMount+"/ssh")
	if err != nil || len(marker) != 0 {
		t.Errorf("ssh marker should exist and be empty: %q, %v", marker, err)
	}

	userconf, err := afero.ReadFile(fs, bootMount+"/userconf")
	if err != nil {
		t.Fatal(err)
	}
	if string(userconf) != "pi:$2a$04$abcdefghijklmnopqrstuu" {
		t.Errorf("userconf = %q", userconf)
	}

	info, err := fs.Stat(bootMount + "/tpm_setup.sh")
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Errorf("tpm_setup.sh should be executable, mode %v", info.Mode())
	}
	script, _ := afero.ReadFile(fs, bootMount+"/tpm_setup.sh")
	if string(script) != TPMSetupScript {
		t.Error("tpm_setup.sh content mismatch")
	}
}

func TestStage_OptionalSteps(t *testing.T) {
	fs := newBootFs(t)

	report, err := NewStage(fs).Run(context.Background(), Request{BootMount: bootMount})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := []Step{StepSSH}; !reflect.DeepEqual(report.Completed, want) {
		t.Errorf("completed %v, want %v", report.Completed, want)
	}
	for _, name := range []string{"userconf", "tpm_setup.sh"} {
		if ok, _ := afero.Exists(fs, bootMount+"/"+name); ok {
			t.Errorf("%s should not be written", name)
		}
	}
}

func TestStage_PartialFailureIsNotRolledBack(t *testing.T) {
	base := newBootFs(t)
	stage := NewStage(&failingFs{Fs: base, suffix: "userconf"})

	report, err := stage.Run(context.Background(), Request{
		BootMount:    bootMount,
		Account:      &Account{Username: "pi", PasswordHash: "hash"},
		ProvisionTPM: true,
	})
	if !errors.Is(err, errors.KindProvisionWriteFailed) {
		t.Fatalf("expected ProvisionWriteFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "completed: ssh") || !strings.Contains(err.Error(), "writing userconf failed") {
		t.Errorf("error should say what made it onto the device: %v", err)
	}

	if want := []Step{StepSSH}; !reflect.DeepEqual(report.Completed, want) {
		t.Errorf("completed %v, want %v", report.Completed, want)
	}
	if ok, _ := afero.Exists(base, bootMount+"/ssh"); !ok {
		t.Error("ssh marker from the completed step must stay")
	}
	if ok, _ := afero.Exists(base, bootMount+"/tpm_setup.sh"); ok {
		t.Error("steps after the failure must not run")
	}
}

func TestStage_FirstStepFailure(t *testing.T) {
	stage := NewStage(afero.NewReadOnlyFs(newBootFs(t)))

	_, err := stage.Run(context.Background(), Request{BootMount: bootMount})
	if !errors.Is(err, errors.KindProvisionWriteFailed) {
		t.Fatalf("expected ProvisionWriteFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "nothing written") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestBcryptHasher(t *testing.T) {
	h, err := NewBcryptHasher(4)
	if err != nil {
		t.Fatal(err)
	}

	hash, err := h.Hash("raspberry")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "raspberry" || !strings.HasPrefix(hash, "$2a$04$") {
		t.Errorf("unexpected hash %q", hash)
	}

	again, _ := h.Hash("raspberry")
	if again == hash {
		t.Error("hashes should be salted")
	}

	if _, err := h.Hash(strings.Repeat("x", 100)); err == nil {
		t.Error("expected error for passwords longer than bcrypt accepts")
	}
}

func TestNewBcryptHasher_InvalidCost(t *testing.T) {
	for _, cost := range []int{0, 3, 32} {
		if _, err := NewBcryptHasher(cost); err == nil {
			t.Errorf("expected error for cost %d", cost)
		}
	}
}

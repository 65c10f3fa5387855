package fsm

import (
	"github.com/piflash/piflash/pkg/db"
	"github.com/piflash/piflash/pkg/drives"
)

// InstallRequest is the FSM input. The password is hashed before the run
// starts; only the hash travels through the state machine.
type InstallRequest struct {
	RunID        string
	OSLabel      string
	Storage      drives.Selection
	Username     string
	PasswordHash string
	ProvisionTPM bool
}

// InstallResponse is the FSM output (accumulated across transitions)
type InstallResponse struct {
	// From Validating
	ImagePath  string
	DeviceID   string
	DevicePath string

	// From Writing
	ExitCode int

	// From Provisioning
	BootMount string
	Completed []string

	// From Completed/Failed
	Status       string
	ErrorKind    string
	ErrorMessage string
}

// State names. They double as the install record status.
const (
	StateValidating   = db.StatusValidating
	StateWriting      = db.StatusWriting
	StateProvisioning = db.StatusProvisioning
	StateCompleted    = db.StatusCompleted
	StateFailed       = db.StatusFailed
)

// Request is an operator's install request as received from the HTTP or CLI surface.
type Request struct {
	OSLabel      string
	Storage      drives.Selection
	Username     string
	Password     string
	ProvisionTPM bool
}

// Result describes a completed install.
type Result struct {
	RunID     string   `json:"runId"`
	Message   string   `json:"message"`
	Device    string   `json:"device"`
	BootMount string   `json:"bootMount"`
	Completed []string `json:"completed"`
}

// SuccessMessage is returned to the operator when the device is ready to boot.
const SuccessMessage = "OS image installed successfully"

package db

// Schema defines the SQLite database schema for install runs.
// Each row is one pass through the install pipeline; rows are kept after the
// run ends so `piflash list` can show history until `piflash cleanup`.
const Schema = `
CREATE TABLE IF NOT EXISTS installs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    os_label TEXT NOT NULL,
    image_file TEXT,
    device_path TEXT,
    boot_mount TEXT,
    username TEXT,
    tpm_setup INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('validating', 'writing', 'provisioning', 'completed', 'failed')),
    error_kind TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_installs_run_id ON installs(run_id);
CREATE INDEX IF NOT EXISTS idx_installs_status ON installs(status);
CREATE INDEX IF NOT EXISTS idx_installs_created_at ON installs(created_at);
`

// Status constants
const (
	StatusValidating   = "validating"
	StatusWriting      = "writing"
	StatusProvisioning = "provisioning"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// KindInterrupted marks runs that were in flight when the process died.
const KindInterrupted = "Interrupted"

// Install represents one install run record
type Install struct {
	ID           int64
	RunID        string
	OSLabel      string
	ImageFile    string
	DevicePath   string
	BootMount    string
	Username     string
	TPMSetup     bool
	Status       string
	ErrorKind    string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Finished reports whether the run reached a terminal status.
func (i *Install) Finished() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed
}

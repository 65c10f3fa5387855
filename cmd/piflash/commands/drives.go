package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/piflash/piflash/pkg/drives"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/spf13/cobra"
)

var drivesJSON bool

var drivesCmd = &cobra.Command{
	Use:   "drives",
	Short: "List removable drives that can be flashed",
	RunE:  runDrives,
}

func init() {
	rootCmd.AddCommand(drivesCmd)
	drivesCmd.Flags().BoolVar(&drivesJSON, "json", false, "Print the drives as JSON")
}

func runDrives(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	enum, err := drives.NewEnumerator()
	if err != nil {
		return errors.Wrap(err, "drive enumerator init failed")
	}

	list, err := drives.ListExternal(context.Background(), enum)
	if err != nil {
		return errors.Wrap(err, "drive listing failed")
	}

	if drivesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Println("No removable drives found")
		return nil
	}

	fmt.Printf("%-16s %-10s %-6s %-30s %s\n", "DEVICE", "SIZE", "BUS", "DESCRIPTION", "MOUNTPOINTS")
	fmt.Println("------------------------------------------------------------------------------------------------")

	for _, d := range list {
		mounts := make([]string, 0, len(d.Mountpoints))
		for _, m := range d.Mountpoints {
			mounts = append(mounts, m.Path)
		}
		mountStr := strings.Join(mounts, ",")
		if mountStr == "" {
			mountStr = "-"
		}
		fmt.Printf("%-16s %-10s %-6s %-30s %s\n",
			d.Device, humanize.IBytes(uint64(d.Size)), d.BusType, d.Description, mountStr)
	}

	return nil
}

package commands

import (
	"context"
	"fmt"

	"github.com/piflash/piflash/pkg/errors"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List install runs and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	installs, err := repo.List(context.Background())
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(installs) == 0 {
		fmt.Println("No installs found")
		return nil
	}

	fmt.Printf("%-36s %-26s %-12s %-13s %-22s %s\n", "RUN ID", "OS", "DEVICE", "STATUS", "ERROR", "STARTED")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")

	for _, inst := range installs {
		device := inst.DevicePath
		if device == "" {
			device = "-"
		}
		errKind := inst.ErrorKind
		if errKind == "" {
			errKind = "-"
		}

		fmt.Printf("%-36s %-26s %-12s %-13s %-22s %s\n",
			inst.RunID, inst.OSLabel, device, inst.Status, errKind, inst.CreatedAt)
	}

	return nil
}

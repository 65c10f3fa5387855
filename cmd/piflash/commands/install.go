package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/piflash/piflash/pkg/broadcast"
	"github.com/piflash/piflash/pkg/drives"
	"github.com/piflash/piflash/pkg/errors"
	appfsm "github.com/piflash/piflash/pkg/fsm"
	"github.com/spf13/cobra"
)

var (
	installOS            string
	installDevice        string
	installUsername      string
	installPasswordStdin bool
	installTPM           bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Write an OS image to a drive and provision it for first boot",
	Example: `  echo "$PASSWORD" | piflash install --os "Raspberry Pi OS (64-bit)" \
      --device /dev/sdb --username pi --password-stdin --tpm`,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&installOS, "os", "", "OS label, as listed by 'piflash images list'")
	installCmd.Flags().StringVar(&installDevice, "device", "", "Target drive, as listed by 'piflash drives'")
	installCmd.Flags().StringVar(&installUsername, "username", "", "Initial account name (omit to skip userconf)")
	installCmd.Flags().BoolVar(&installPasswordStdin, "password-stdin", false, "Read the account password from stdin")
	installCmd.Flags().BoolVar(&installTPM, "tpm", false, "Install the TPM setup script")
	installCmd.MarkFlagRequired("os")
	installCmd.MarkFlagRequired("device")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var password string
	if installPasswordStdin {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return errors.Wrap(err, "failed to read password from stdin")
		}
		password = strings.TrimRight(line, "\r\n")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	events := broadcast.NewQueue(cfg.EventBuffer)
	unsubscribe := p.hub.Subscribe(events)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(events.Events())
	}()

	result, err := p.machine.Install(ctx, appfsm.Request{
		OSLabel:      installOS,
		Storage:      drives.Selection{Device: installDevice},
		Username:     installUsername,
		Password:     password,
		ProvisionTPM: installTPM,
	})

	unsubscribe()
	events.Close()
	<-printed

	if err != nil {
		return err
	}

	fmt.Printf("✅ %s\n", result.Message)
	fmt.Printf("   Device:     %s\n", result.Device)
	fmt.Printf("   Boot mount: %s\n", result.BootMount)
	fmt.Printf("   Written:    %s\n", strings.Join(result.Completed, ", "))
	fmt.Printf("   Run ID:     %s\n", result.RunID)
	return nil
}

func printEvents(ch <-chan broadcast.Event) {
	for ev := range ch {
		switch ev.Type {
		case broadcast.EventProgress:
			fmt.Printf("⏳ %3d%%\n", *ev.Progress)
		case broadcast.EventDone:
			fmt.Println("🎉 Done")
		case broadcast.EventError:
			fmt.Printf("❌ %s\n", ev.Message)
		}
	}
}

package commands

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/dustin/go-humanize"
	"github.com/piflash/piflash/pkg/errors"
	"github.com/piflash/piflash/pkg/osimage"
	"github.com/piflash/piflash/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Manage the local OS image catalog",
}

var imagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog images and whether they are present locally",
	RunE:  runImagesList,
}

var imagesPullCmd = &cobra.Command{
	Use:   "pull [image-file...]",
	Short: "Download catalog images from S3 into the images directory",
	Long: `Download images from the configured S3 bucket. With no arguments every
catalog image is pulled. A "<file>.sha256" object next to an image is used to
verify the download.`,
	RunE: runImagesPull,
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.AddCommand(imagesListCmd, imagesPullCmd)

	imagesPullCmd.Flags().String("s3-bucket", "", "S3 bucket holding the images")
	imagesPullCmd.Flags().String("s3-region", "us-east-1", "S3 region")
	imagesPullCmd.Flags().String("s3-prefix", "", "Key prefix of the images in the bucket")
	viper.BindPFlag("s3-bucket", imagesPullCmd.Flags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", imagesPullCmd.Flags().Lookup("s3-region"))
	viper.BindPFlag("s3-prefix", imagesPullCmd.Flags().Lookup("s3-prefix"))
}

func runImagesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	catalog := osimage.Default(cfg.ImagesDir)

	fmt.Printf("%-28s %-16s %-10s %s\n", "OS", "FILE", "64-BIT", "LOCAL")
	fmt.Println("----------------------------------------------------------------------")

	for _, spec := range catalog.Specs() {
		local := "missing"
		if info, err := os.Stat(catalog.Path(spec)); err == nil {
			local = humanize.IBytes(uint64(info.Size()))
		}
		only64 := "no"
		if !spec.AlwaysAvailable {
			only64 = "required"
		}
		fmt.Printf("%-28s %-16s %-10s %s\n", spec.Label, spec.File, only64, local)
	}

	return nil
}

func runImagesPull(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.S3Bucket == "" {
		return fmt.Errorf("s3-bucket must be set to pull images")
	}

	catalog := osimage.Default(cfg.ImagesDir)
	files := args
	if len(files) == 0 {
		for _, spec := range catalog.Specs() {
			files = append(files, spec.File)
		}
	}

	if err := os.MkdirAll(cfg.ImagesDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create images directory")
	}

	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	for _, file := range files {
		key := path.Join(cfg.S3Prefix, file)
		fmt.Printf("⬇️  Pulling %s...\n", key)

		res, err := client.Pull(ctx, key, cfg.ImagesDir)
		if err != nil {
			return errors.Wrap(err, "pull "+key+" failed")
		}

		verified := "unverified"
		if res.Verified {
			verified = "sha256 verified"
		}
		fmt.Printf("✅ %s (%s, %s)\n", res.LocalPath, humanize.IBytes(uint64(res.Size)), verified)
	}

	return nil
}

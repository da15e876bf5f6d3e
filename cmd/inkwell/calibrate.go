package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/inkwell/internal/config"
	"github.com/jackzampolin/inkwell/internal/crop"
	"github.com/jackzampolin/inkwell/internal/output"
)

var (
	calSlot    string
	calRegion  crop.Region
	calImage   string
	calPreview string
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Show or change the answer crop regions",
	Long: `Without region flags, print the crop region of each slot. Regions are
fractions of the page: left/top/right/bottom between 0 and 1.

With --slot and all four edges the region is validated and saved to the config
file. --image crops a sample page with the resulting region and writes the
result to --preview so it can be checked by eye.

Examples:
  inkwell calibrate
  inkwell calibrate --slot q1 --left 0.04 --top 0.2 --right 0.96 --bottom 0.95
  inkwell calibrate --slot q2 --image page-002.png --preview q2.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		flags := cmd.Flags()
		edges := []string{"left", "top", "right", "bottom"}
		set := 0
		for _, name := range edges {
			if flags.Changed(name) {
				set++
			}
		}

		cfg := s.Config.Get()
		if set == 0 && calImage == "" {
			return output.Print(map[string]any{"config": s.Config.Path(), "regions": cfg.Regions()})
		}

		slot := crop.Slot(calSlot)
		if !slot.Valid() {
			return fmt.Errorf("--slot must be q1 or q2, got %q", calSlot)
		}
		region := cfg.Regions()[slot]
		if set > 0 {
			if set != len(edges) {
				return fmt.Errorf("set all of --left --top --right --bottom")
			}
			region = calRegion
			if err := s.Config.SetCrop(slot, region); err != nil {
				if errors.Is(err, config.ErrNoConfigFile) {
					return fmt.Errorf("%w: run \"inkwell config init\" first", err)
				}
				return err
			}
		}

		if calImage != "" {
			if err := writePreview(calImage, calPreview, region, cfg.Crop.MaxDimension); err != nil {
				return err
			}
		}
		return output.Print(map[string]any{"slot": slot, "region": region, "preview": calPreview})
	},
}

func init() {
	f := calibrateCmd.Flags()
	f.StringVar(&calSlot, "slot", "", "slot to change: q1 or q2")
	f.Float64Var(&calRegion.Left, "left", 0, "left edge (fraction of width)")
	f.Float64Var(&calRegion.Top, "top", 0, "top edge (fraction of height)")
	f.Float64Var(&calRegion.Right, "right", 0, "right edge (fraction of width)")
	f.Float64Var(&calRegion.Bottom, "bottom", 0, "bottom edge (fraction of height)")
	f.StringVar(&calImage, "image", "", "sample page image to crop")
	f.StringVar(&calPreview, "preview", "crop-preview.png", "where to write the cropped sample")
}

func writePreview(image, preview string, r crop.Region, maxDim int) error {
	data, err := os.ReadFile(image)
	if err != nil {
		return err
	}
	out, err := crop.CropMax(data, r, maxDim)
	if err != nil {
		return err
	}
	return os.WriteFile(preview, out, 0o644)
}

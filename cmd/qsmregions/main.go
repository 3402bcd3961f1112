package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"github.com/astewartau/ukb-qsmxt/internal/logger"
	"github.com/astewartau/ukb-qsmxt/pkg/catalog"
	"github.com/astewartau/ukb-qsmxt/pkg/config"
	"github.com/astewartau/ukb-qsmxt/pkg/extraction"
	"github.com/astewartau/ukb-qsmxt/pkg/results"
	"github.com/astewartau/ukb-qsmxt/pkg/visualization"
)

// Example calls:
// ./qsmregions extract --id 1000001 --ses 2 --qsm_in_T1 qsm_T1.nii.gz \
//     --segmentation aseg.mgz --qsm_in_mni152 qsm_MNI.nii.gz \
//     --sn_mask_left SN_L.nii.gz --sn_mask_right SN_R.nii.gz \
//     --lesions_mask lesions.nii.gz --output_csv qsm_regions.csv
// ./qsmregions preview --anat "sub-*/anat/*_FLAIR.nii.gz" --seg "derivatives/sub-*/anat/*_dseg.nii.gz" --out previews

// state is filled by the Before hook and shared by the commands
type state struct {
	cfg *config.Config
	log zerolog.Logger
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	st := &state{log: zerolog.Nop()}

	app := cli.NewApp()
	app.Name = "qsmregions"
	app.Usage = "Extract regional QSM statistics and render segmentation previews"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Value: "qsmregions.yaml",
			Usage: "YAML or TOML configuration file, defaults are used when it does not exist",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level (debug, info, warn, error), overrides the configuration",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "Also write JSON logs to this rotating file",
		},
	}
	app.Before = func(c *cli.Context) error {
		cfg, err := config.LoadConfig(c.GlobalString("config"))
		if err != nil {
			return err
		}
		if c.GlobalIsSet("log-level") {
			cfg.Logging.Level = c.GlobalString("log-level")
		}
		if c.GlobalIsSet("log-file") {
			cfg.Logging.File = c.GlobalString("log-file")
		}

		log, err := logger.New(logger.Options{
			Level:   cfg.Logging.Level,
			File:    cfg.Logging.File,
			MaxSize: cfg.Logging.MaxSize,
			MaxAge:  cfg.Logging.MaxAge,
		})
		if err != nil {
			return err
		}
		st.cfg, st.log = cfg, log
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:  "extract",
			Usage: "Compute per-region QSM statistics for one subject/session and append them to a CSV table",
			Description: "Loads the QSM volumes and masks, computes the median (or mean) susceptibility of\n" +
				"   every region of the catalog and appends one row to --output_csv. The header is\n" +
				"   written when the table is new. Without --lesions_mask, or when that file does not\n" +
				"   exist, the white matter regions are left out of the row.",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "id", Usage: "Subject ID", Required: true},
				cli.IntFlag{Name: "ses", Usage: "Session ID", Required: true},
				cli.StringFlag{Name: "qsm_in_T1", Usage: "QSM volume registered to the subject T1", Required: true},
				cli.StringFlag{Name: "segmentation", Usage: "FreeSurfer label volume in T1 space (.mgz or NIfTI)", Required: true},
				cli.StringFlag{Name: "qsm_in_mni152", Usage: "QSM volume registered to the MNI152 template", Required: true},
				cli.StringFlag{Name: "sn_mask_left", Usage: "Left substantia nigra mask in template space", Required: true},
				cli.StringFlag{Name: "sn_mask_right", Usage: "Right substantia nigra mask in template space", Required: true},
				cli.StringFlag{Name: "lesions_mask", Usage: "White matter lesion mask in T1 space (optional)"},
				cli.StringFlag{Name: "output_csv", Usage: "Cumulative output table", Required: true},
				cli.StringFlag{Name: "catalog", Usage: "Catalog preset (ukb, legacy) or catalog file, overrides the configuration"},
				cli.BoolFlag{Name: "strict-header", Usage: "Refuse to append when the table header differs from the row"},
				cli.StringFlag{Name: "save-masks", Usage: "Write every final region mask to this directory"},
			},
			Action: func(c *cli.Context) error {
				return runExtract(c, st)
			},
		},
		{
			Name:  "preview",
			Usage: "Render PNG previews of segmentations over anatomical images",
			Description: "Matches the files of --anat and --seg by sorted order, picks a representative\n" +
				"   axial slice of every segmentation and writes <stem>_segmentation_preview.png.",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "anat", Usage: "Glob pattern for anatomical images", Required: true},
				cli.StringFlag{Name: "seg", Usage: "Glob pattern for segmentations", Required: true},
				cli.StringFlag{Name: "out", Value: ".", Usage: "Output directory"},
				cli.StringFlag{Name: "method", Usage: "Slice selection: median or random_above_median"},
				cli.Int64Flag{Name: "seed", Usage: "Seed for random_above_median"},
			},
			Action: func(c *cli.Context) error {
				return runPreview(c, st)
			},
		},
		{
			Name:      "catalog",
			Usage:     "Write a catalog preset to a YAML file as a starting point for custom catalogs",
			ArgsUsage: "<output.yaml>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "preset", Value: "ukb", Usage: "Preset to export"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("specify the output file")
				}
				cat, err := catalog.Preset(c.String("preset"))
				if err != nil {
					return err
				}
				return catalog.Save(cat, c.Args().First())
			},
		},
		{
			Name:      "init-config",
			Usage:     "Write the default configuration",
			ArgsUsage: "<config.yaml|config.toml>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("specify the output file")
				}
				return config.CreateDefaultConfigFile(c.Args().First())
			},
		},
	}
	return app
}

func runExtract(c *cli.Context, st *state) error {
	cfg := st.cfg
	if c.IsSet("catalog") {
		cfg.Extraction.Catalog = c.String("catalog")
	}
	cat, err := catalog.Resolve(cfg.Extraction.Catalog)
	if err != nil {
		return err
	}

	mode, err := results.ParseHeaderMode(cfg.Output.HeaderMode)
	if err != nil {
		return err
	}
	if c.Bool("strict-header") {
		mode = results.HeaderStrict
	}

	var maskDir string
	switch {
	case c.IsSet("save-masks"):
		maskDir = c.String("save-masks")
	case cfg.Output.SaveMasks:
		maskDir = cfg.Output.MaskDir
	}

	params := &extraction.Params{
		SubjectID: c.Int("id"),
		SessionID: c.Int("ses"),
		InputPaths: map[string]string{
			catalog.InputQSMNative:   c.String("qsm_in_T1"),
			catalog.InputLabels:      c.String("segmentation"),
			catalog.InputQSMTemplate: c.String("qsm_in_mni152"),
			catalog.InputSNLeft:      c.String("sn_mask_left"),
			catalog.InputSNRight:     c.String("sn_mask_right"),
			catalog.InputLesions:     c.String("lesions_mask"),
		},
		OutputCSV:  c.String("output_csv"),
		HeaderMode: mode,
		MaskDir:    maskDir,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := extraction.NewPipeline(params, cat, st.log)
	if err := pipeline.Process(ctx); err != nil {
		return err
	}

	fmt.Printf("Appended %d values for subject %d session %d to %s\n",
		pipeline.GetResult().Len(), params.SubjectID, params.SessionID, params.OutputCSV)
	return nil
}

func runPreview(c *cli.Context, st *state) error {
	cfg := st.cfg
	if c.IsSet("method") {
		cfg.Preview.Method = c.String("method")
	}
	method, err := visualization.ParseMethod(cfg.Preview.Method)
	if err != nil {
		return err
	}

	seed := time.Now().UnixNano()
	if c.IsSet("seed") {
		seed = c.Int64("seed")
	}

	viewer := visualization.NewViewer(visualization.Options{
		Method:       method,
		WindowLow:    cfg.Preview.WindowLow,
		WindowHigh:   cfg.Preview.WindowHigh,
		OverlayAlpha: cfg.Preview.OverlayAlpha,
		DPI:          cfg.Preview.DPI,
		Rand:         rand.New(rand.NewSource(seed)),
	}, st.log)

	summary, err := viewer.ProcessBatch(c.String("anat"), c.String("seg"), c.String("out"))
	if err != nil {
		return err
	}
	for _, path := range summary.Written {
		fmt.Printf("  -> Saved: %s\n", path)
	}
	fmt.Printf("Done! Successfully processed %d/%d pairs.\n", len(summary.Written), summary.Pairs)
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/nutiteq/mobile-sdk-scripts/internal/builder"
)

var buildFlags struct {
	packages                []string
	version                 int
	urlTemplate             string
	workers                 int
	clipBounds              string
	dataDir                 string
	importIDs               bool
	importPostcodes         bool
	importCategories        bool
	importGazetteerGeometry bool
}

var buildCmd = &cobra.Command{
	Use:   "build <template> <input-dir> <gazetteer> <output-dir>",
	Short: "Build geocoding databases for a package set",
	Long:  "Reads the packages template, builds one geocoding database per selected package and writes the packages.json manifest.",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		build := cfg.Build
		build.Template = args[0]
		build.InputDir = args[1]
		build.GazetteerPath = args[2]
		build.OutputDir = args[3]

		if cmd.Flags().Changed("packages") {
			build.Packages = buildFlags.packages
		}
		if cmd.Flags().Changed("version") {
			build.Version = buildFlags.version
		}
		if cmd.Flags().Changed("url-template") {
			build.URLTemplate = buildFlags.urlTemplate
		}
		if cmd.Flags().Changed("workers") {
			build.Workers = buildFlags.workers
		}
		if cmd.Flags().Changed("clip-bounds") {
			build.ClipBounds = buildFlags.clipBounds
		}
		if cmd.Flags().Changed("data-dir") {
			build.DataDir = buildFlags.dataDir
		}
		if cmd.Flags().Changed("import-ids") {
			build.ImportIDs = buildFlags.importIDs
		}
		if cmd.Flags().Changed("import-postcodes") {
			build.ImportPostcodes = buildFlags.importPostcodes
		}
		if cmd.Flags().Changed("import-categories") {
			build.ImportCategories = buildFlags.importCategories
		}
		if cmd.Flags().Changed("import-gazetteer-geometry") {
			build.ImportGazetteerGeometry = buildFlags.importGazetteerGeometry
		}

		return builder.New(build).Run(cmd.Context())
	},
}

func init() {
	flags := buildCmd.Flags()
	flags.StringSliceVar(&buildFlags.packages, "packages", nil, "package id filter")
	flags.IntVar(&buildFlags.version, "version", 1, "package version written to the manifest")
	flags.StringVar(&buildFlags.urlTemplate, "url-template", "", "package URL template with {version} and {id} placeholders")
	flags.IntVar(&buildFlags.workers, "workers", 4, "number of concurrent package builds")
	flags.StringVar(&buildFlags.clipBounds, "clip-bounds", "", "clip rectangle as minLon,minLat,maxLon,maxLat")
	flags.StringVar(&buildFlags.dataDir, "data-dir", "", "dictionary data directory")
	flags.BoolVar(&buildFlags.importIDs, "import-ids", true, "keep source feature ids")
	flags.BoolVar(&buildFlags.importPostcodes, "import-postcodes", true, "import postcodes")
	flags.BoolVar(&buildFlags.importCategories, "import-categories", true, "import POI categories")
	flags.BoolVar(&buildFlags.importGazetteerGeometry, "import-gazetteer-geometry", true, "add gazetteer place geometries as entities")

	rootCmd.AddCommand(buildCmd)
}

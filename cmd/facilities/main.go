package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/nz-facilities/internal/apply"
	"github.com/nz-facilities/internal/config"
	"github.com/nz-facilities/internal/db"
	"github.com/nz-facilities/internal/facility"
	"github.com/nz-facilities/internal/gpkg"
	"github.com/nz-facilities/internal/hospitals"
	"github.com/nz-facilities/internal/parcel"
	"github.com/nz-facilities/internal/schools"
	"github.com/nz-facilities/internal/web"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	rootCmd := &cobra.Command{
		Use:   "facilities",
		Short: "NZ Facilities Change Detection",
		Long:  `Detects changes between the NZ facilities register and external source datasets`,
	}

	rootCmd.AddCommand(createSchoolsCmd())
	rootCmd.AddCommand(createHospitalsCmd())
	rootCmd.AddCommand(createPolygoniseCmd())
	rootCmd.AddCommand(createApplyCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadRegister loads the facilities register from a GeoPackage file or, when
// no file is given, from the database.
func loadRegister(ctx context.Context, inputFile, use string) (map[int]*facility.Facility, error) {
	if inputFile != "" {
		log.Printf("Loading facilities from %s", inputFile)
		file, err := gpkg.Open(inputFile)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return file.ReadFacilities("nz_facilities", use)
	}

	log.Printf("Loading facilities from database")
	conn, err := db.NewConnection()
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	schema := config.GetEnv("FACILITIES_SCHEMA", "facilities_lds")
	table := config.GetEnv("FACILITIES_TABLE", "nz_facilities")
	return conn.LoadFacilities(ctx, schema, table, use)
}

func createSchoolsCmd() *cobra.Command {
	var (
		inputFile    string
		output       string
		moeAPIInput  string
		compareAttrs string
		threshold    float64
		changesFile  string
	)

	cmd := &cobra.Command{
		Use:   "schools",
		Short: "Compare the facilities register against the MOE schools directory",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			register, err := loadRegister(ctx, inputFile, "School")
			if err != nil {
				log.Fatalf("Failed to load facilities: %v", err)
			}
			log.Printf("Loaded %d register schools", len(register))

			var external map[int]facility.ExternalRecord
			if moeAPIInput != "" {
				log.Printf("Loading previous MOE API response from %s", moeAPIInput)
				external, err = schools.Load(moeAPIInput)
			} else {
				log.Printf("Accessing MOE API")
				savePath := apiResponseSavePath(output)
				external, err = schools.NewClient().Fetch(ctx, savePath)
			}
			if err != nil {
				log.Fatalf("Failed to load MOE schools: %v", err)
			}
			log.Printf("Loaded %d MOE schools", len(external))

			log.Printf("Filtering MOE schools")
			schools.Filter(external, schools.DefaultFilterConfig())

			opts := facility.DefaultSchoolOptions()
			opts.Threshold = threshold
			if compareAttrs != "" {
				opts.CompareAttrs = strings.Split(compareAttrs, ",")
			}

			log.Printf("Comparing MOE and facilities schools")
			result, err := facility.Classify(register, external, opts)
			if err != nil {
				log.Fatalf("Comparison failed: %v", err)
			}
			printCounts(result)

			writeComparisonOutput(output, result, func(file *gpkg.File) error {
				return file.WriteLayer("moe_schools", "POINT", gpkg.SchoolFields,
					gpkg.SchoolFeatures(external, result.ExternalActions))
			})
			saveChanges(changesFile, result, external, "schools")
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input-file", "i", "", "GeoPackage containing the NZ facilities dataset (database used when omitted)")
	cmd.Flags().StringVarP(&output, "output", "o", "facilities_change_detection.gpkg", "Output GeoPackage path")
	cmd.Flags().StringVar(&moeAPIInput, "moe-api-input", "", "Replay a saved MOE API response instead of querying the API")
	cmd.Flags().StringVar(&compareAttrs, "compare", "", "Comma separated attributes to compare (default: "+strings.Join(facility.DefaultComparableAttrs(), ",")+")")
	cmd.Flags().Float64Var(&threshold, "threshold", facility.DefaultSchoolOptions().Threshold, "Geometry distance threshold in metres")
	cmd.Flags().StringVar(&changesFile, "changes", "", "Also save the change set as JSON for the review server")
	return cmd
}

func createHospitalsCmd() *cobra.Command {
	var (
		inputFile    string
		output       string
		csvFile      string
		xlsxFile     string
		compareAttrs string
		threshold    float64
		changesFile  string
	)

	cmd := &cobra.Command{
		Use:   "hospitals",
		Short: "Compare the facilities register against the MoH hospitals datasets",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			register, err := loadRegister(ctx, inputFile, "Hospital")
			if err != nil {
				log.Fatalf("Failed to load facilities: %v", err)
			}
			log.Printf("Loaded %d register hospitals", len(register))

			external, unmatched, err := loadHospitals(ctx, csvFile, xlsxFile)
			if err != nil {
				log.Fatalf("Failed to load MoH hospitals: %v", err)
			}
			log.Printf("Loaded %d MoH hospitals", len(external))
			for _, name := range unmatched {
				log.Printf("No facility code found for %q", name)
			}

			hospitals.FilterProposed(external, "proposed")

			opts := facility.DefaultHospitalOptions()
			opts.Threshold = threshold
			if compareAttrs != "" {
				opts.CompareAttrs = strings.Split(compareAttrs, ",")
			}

			log.Printf("Comparing MoH and facilities hospitals")
			result, err := facility.Classify(register, external, opts)
			if err != nil {
				log.Fatalf("Comparison failed: %v", err)
			}
			printCounts(result)

			writeComparisonOutput(output, result, func(file *gpkg.File) error {
				return file.WriteLayer("moh_hospitals", "POINT", gpkg.HospitalFields,
					gpkg.HospitalFeatures(external, result.ExternalActions))
			})
			saveChanges(changesFile, result, external, "hospitals")
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input-file", "i", "", "GeoPackage containing the NZ facilities dataset (database used when omitted)")
	cmd.Flags().StringVarP(&output, "output", "o", "facilities_change_detection.gpkg", "Output GeoPackage path")
	cmd.Flags().StringVar(&csvFile, "public-hospitals-csv", "", "Local copy of the MoH public hospitals CSV (downloaded when omitted)")
	cmd.Flags().StringVar(&xlsxFile, "facility-code-xlsx", "", "Local copy of the MoH facility code table XLSX (downloaded when omitted)")
	cmd.Flags().StringVar(&compareAttrs, "compare", "", "Comma separated attributes to compare (default: "+strings.Join(facility.DefaultComparableAttrs(), ",")+")")
	cmd.Flags().Float64Var(&threshold, "threshold", facility.DefaultHospitalOptions().Threshold, "Geometry distance threshold in metres")
	cmd.Flags().StringVar(&changesFile, "changes", "", "Also save the change set as JSON for the review server")
	return cmd
}

func loadHospitals(ctx context.Context, csvFile, xlsxFile string) (map[int]facility.ExternalRecord, []string, error) {
	if csvFile == "" && xlsxFile == "" {
		return hospitals.NewClient().Fetch(ctx)
	}
	if csvFile == "" || xlsxFile == "" {
		return nil, nil, fmt.Errorf("pass both --public-hospitals-csv and --facility-code-xlsx, or neither")
	}

	csvBody, err := os.ReadFile(csvFile)
	if err != nil {
		return nil, nil, err
	}
	csvRows, err := hospitals.ParsePublicHospitalsCSV(string(csvBody))
	if err != nil {
		return nil, nil, err
	}
	xlsxBody, err := os.Open(xlsxFile)
	if err != nil {
		return nil, nil, err
	}
	defer xlsxBody.Close()
	codeRows, duplicates, err := hospitals.ParseFacilityCodeXLSX(xlsxBody)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range duplicates {
		log.Printf("Duplicate facility name in code table: %q", name)
	}
	return hospitals.Build(csvRows, codeRows)
}

func createPolygoniseCmd() *cobra.Command {
	var (
		inputFile      string
		inputLayer     string
		titlesFile     string
		titlesLayer    string
		ownersFile     string
		output         string
		outputLayer    string
		useStdNames    bool
		threshold      float64
		saveTitlesFile string
		workers        int
	)

	cmd := &cobra.Command{
		Use:   "polygonise",
		Short: "Assign merged title polygons to point locations",
		Long:  `Replaces each input point with the union of the land titles it intersects, grown by nearby titles with the same owners`,
		Run: func(cmd *cobra.Command, args []string) {
			log.Printf("Loading titles from %s", titlesFile)
			titles, err := loadTitles(titlesFile, titlesLayer)
			if err != nil {
				log.Fatalf("Failed to load titles: %v", err)
			}

			log.Printf("Loading owners from %s", ownersFile)
			ownersReader, err := os.Open(ownersFile)
			if err != nil {
				log.Fatalf("Failed to open owners file: %v", err)
			}
			owners, err := parcel.ReadOwnersCSV(ownersReader)
			ownersReader.Close()
			if err != nil {
				log.Fatalf("Failed to parse owners file: %v", err)
			}

			log.Printf("Merging owner names to title geometries")
			set := parcel.BuildTitlesWithOwners(titles, owners, useStdNames)

			if saveTitlesFile != "" {
				log.Printf("Saving combined titles with owners layer to %s", saveTitlesFile)
				if err := saveTitlesWithOwners(saveTitlesFile, set); err != nil {
					log.Fatalf("Failed to save titles layer: %v", err)
				}
			}

			log.Printf("Loading input points from %s", inputFile)
			input, err := gpkg.Open(inputFile)
			if err != nil {
				log.Fatalf("Failed to open input file: %v", err)
			}
			features, err := input.ReadLayer(inputLayer, nil)
			input.Close()
			if err != nil {
				log.Fatalf("Failed to read input layer: %v", err)
			}

			points := make([]orb.Geometry, len(features))
			for i, feature := range features {
				points[i] = feature.Geom
			}

			log.Printf("Finding polygon for each input point")
			results, err := set.AssignAll(points, useStdNames, threshold, workers)
			if err != nil {
				log.Fatalf("Polygon assignment failed: %v", err)
			}

			log.Printf("Saving output to %s", output)
			if err := savePolygonised(output, outputLayer, results); err != nil {
				log.Fatalf("Failed to save output: %v", err)
			}
		},
	}

	cmd.Flags().StringVarP(&inputFile, "input-file", "i", "", "Input GeoPackage to read points from")
	cmd.Flags().StringVar(&inputLayer, "input-layer", "nz_facilities", "Layer name in the input file")
	cmd.Flags().StringVar(&titlesFile, "input-titles-file", "", "NZ Property Titles GeoPackage")
	cmd.Flags().StringVar(&titlesLayer, "titles-layer", "nz_property_titles", "Layer name in the titles file")
	cmd.Flags().StringVar(&ownersFile, "input-owners-file", "", "NZ Property Titles Owners List CSV")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output GeoPackage to save the polygonised layer to")
	cmd.Flags().StringVar(&outputLayer, "output-layer", "polygonised", "Layer name in the output file")
	cmd.Flags().BoolVar(&useStdNames, "use-standardised-names", true, "Join nearby titles by standardised rather than raw owner names")
	cmd.Flags().Float64Var(&threshold, "distance-threshold", 50, "How close titles with a same owner must be to be merged, in metres")
	cmd.Flags().StringVar(&saveTitlesFile, "save-titles-file", "", "Optional path to save the combined titles with owners layer to")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker goroutines (default: number of CPUs)")
	cobra.CheckErr(cmd.MarkFlagRequired("input-file"))
	cobra.CheckErr(cmd.MarkFlagRequired("input-titles-file"))
	cobra.CheckErr(cmd.MarkFlagRequired("input-owners-file"))
	cobra.CheckErr(cmd.MarkFlagRequired("output"))
	return cmd
}

func loadTitles(path, layer string) ([]parcel.Title, error) {
	file, err := gpkg.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	features, err := file.ReadLayer(layer, []string{"id", "title_no"})
	if err != nil {
		return nil, err
	}
	titles := make([]parcel.Title, 0, len(features))
	for _, feature := range features {
		polygon, ok := feature.Geom.(orb.Polygon)
		if !ok {
			continue
		}
		titles = append(titles, parcel.Title{
			ID:      titleID(feature.Values[0]),
			TitleNo: titleNo(feature.Values[1]),
			Geom:    polygon,
		})
	}
	return titles, nil
}

func titleID(v any) int {
	if n, ok := v.(int64); ok {
		return int(n)
	}
	return 0
}

func titleNo(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case []byte:
		return string(value)
	}
	return ""
}

func saveTitlesWithOwners(path string, set *parcel.Set) error {
	file, err := gpkg.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	fields := []gpkg.Field{
		{Name: "title_no", Type: "TEXT"},
		{Name: "owner_name", Type: "TEXT"},
		{Name: "standardised_owner_name", Type: "TEXT"},
	}
	parcels := set.Parcels()
	features := make([]gpkg.Feature, 0, len(parcels))
	for _, p := range parcels {
		features = append(features, gpkg.Feature{
			Geom:   p.Geom,
			Values: []any{p.TitleNo, p.Owner, p.StdOwner},
		})
	}
	return file.WriteLayer("titles_with_owners", "POLYGON", fields, features)
}

func savePolygonised(path, layer string, results []*parcel.MergeResult) error {
	file, err := gpkg.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	fields := []gpkg.Field{
		{Name: "owner_names", Type: "TEXT"},
		{Name: "owner_count", Type: "INTEGER"},
	}
	features := make([]gpkg.Feature, 0, len(results))
	for _, result := range results {
		if result == nil {
			features = append(features, gpkg.Feature{Values: []any{nil, nil}})
			continue
		}
		features = append(features, gpkg.Feature{
			Geom:   result.Geom,
			Values: []any{result.OwnerNames, result.OwnerCount},
		})
	}
	return file.WriteLayer(layer, "MULTIPOLYGON", fields, features)
}

func createApplyCmd() *cobra.Command {
	var (
		schema    string
		table     string
		tempTable string
		logTable  string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a reviewed change set to the facilities table",
		Run: func(cmd *cobra.Command, args []string) {
			conn, err := db.NewConnection()
			if err != nil {
				log.Fatalf("Failed to connect to database: %v", err)
			}
			defer conn.Close()

			runner := apply.NewRunner(conn.DB)
			runner.Schema = schema
			runner.Table = table
			runner.TempTable = tempTable
			runner.LogTable = logTable
			runner.DryRun = dryRun

			summary, rows, err := runner.Run(context.Background())
			if err != nil {
				log.Fatalf("Apply run failed: %v", err)
			}
			summary.Print()

			for _, row := range rows {
				for _, description := range row.Errors {
					fmt.Printf("fid %d: %s\n", row.FID, description)
				}
			}
			switch {
			case dryRun:
				fmt.Println("dry run: all changes rolled back")
			case summary.Committed:
				fmt.Println("The facilities table has successfully been updated.")
			default:
				fmt.Println("The facilities table has not been updated.")
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&schema, "schema", "facilities", "Schema of the facilities table")
	cmd.Flags().StringVar(&table, "table", "facilities", "Facilities table name")
	cmd.Flags().StringVar(&tempTable, "temp-table", "facilities.temp_facilities", "Staging table holding reviewed changes")
	cmd.Flags().StringVar(&logTable, "log-table", "facilities.facilities_logging", "Run log table")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Run every check but roll back at the end")
	return cmd
}

func createServeCmd() *cobra.Command {
	var (
		listen      string
		changesFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a change set for review",
		Run: func(cmd *cobra.Command, args []string) {
			changes, err := web.LoadChangeSet(changesFile)
			if err != nil {
				log.Fatalf("Failed to load change set: %v", err)
			}
			server := web.NewServer(listen, changes)
			if err := server.Start(); err != nil {
				log.Fatalf("Server error: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "Listen address")
	cmd.Flags().StringVar(&changesFile, "changes", "", "Change set JSON saved by the schools or hospitals command")
	cobra.CheckErr(cmd.MarkFlagRequired("changes"))
	return cmd
}

// createPingCmd creates a command to test database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			conn, err := db.NewConnection()
			if err != nil {
				log.Fatalf("Failed to connect to database: %v", err)
			}
			defer conn.Close()
			fmt.Println("Database connection successful!")

			schema := config.GetEnv("FACILITIES_SCHEMA", "facilities_lds")
			table := config.GetEnv("FACILITIES_TABLE", "nz_facilities")
			var count int
			err = conn.DB.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q.%q`, schema, table)).Scan(&count)
			if err != nil {
				log.Printf("Error counting facilities records: %v", err)
			} else {
				fmt.Printf("Facilities loaded: %d\n", count)
			}
		},
	}
}

// apiResponseSavePath names the saved raw API response next to the output
// file, timestamped so reruns never clobber an earlier capture.
func apiResponseSavePath(output string) string {
	stem := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	name := fmt.Sprintf("%s__moe_api_response_%s.json", stem, time.Now().Format("2006-01-02_15-04-05"))
	return filepath.Join(filepath.Dir(output), name)
}

func writeComparisonOutput(output string, result *facility.Result, writeExternal func(*gpkg.File) error) {
	file, err := gpkg.Create(output)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer file.Close()

	log.Printf("Writing layer nz_facilities to %s", filepath.Base(output))
	err = file.WriteLayer("nz_facilities", "MULTIPOLYGON", gpkg.FacilityFields,
		gpkg.FacilityFeatures(result.Register))
	if err != nil {
		log.Fatalf("Failed to write facilities layer: %v", err)
	}
	if err := writeExternal(file); err != nil {
		log.Fatalf("Failed to write external layer: %v", err)
	}
}

func saveChanges(path string, result *facility.Result, external map[int]facility.ExternalRecord, domain string) {
	if path == "" {
		return
	}
	changes := web.BuildChangeSet(result, external, domain)
	if err := changes.Save(path); err != nil {
		log.Fatalf("Failed to save change set: %v", err)
	}
	log.Printf("Saved change set to %s", path)
}

func printCounts(result *facility.Result) {
	counts := result.Counts()
	fmt.Printf("\n%d facilities unchanged\n", counts[facility.ActionNone])
	fmt.Printf("%d facilities to add\n", counts[facility.ActionAdd])
	fmt.Printf("%d facilities to remove\n", counts[facility.ActionRemove])
	fmt.Printf("%d facilities with geometry changes\n", counts[facility.ActionUpdateGeom])
	fmt.Printf("%d facilities with attribute changes\n", counts[facility.ActionUpdateAttr])
	fmt.Printf("%d facilities with geometry and attribute changes\n\n", counts[facility.ActionUpdateGeomAttr])
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"mdr-docgen/internal/chromemdb"
	"mdr-docgen/internal/chunker"
	"mdr-docgen/internal/classifier"
	"mdr-docgen/internal/config"
	"mdr-docgen/internal/db"
	"mdr-docgen/internal/embedding"
	"mdr-docgen/internal/generator"
	"mdr-docgen/internal/helper"
	"mdr-docgen/internal/ingest"
	"mdr-docgen/internal/llmservice"
	"mdr-docgen/internal/models"
	"mdr-docgen/internal/rag"
	"mdr-docgen/internal/reports"
)

const configFilePath = "./configs/config.yaml"

type app struct {
	cfg      *config.Config
	index    *chromemdb.Index
	embedder embedding.Embedder
	client   *llmservice.Client
	llm      llmservice.TextGenerator
	store    *db.Store
}

func main() {
	configPath := flag.String("config", configFilePath, "Path to the yaml config file")
	project := flag.String("project", "", "Project id")
	ingestPaths := flag.String("ingest", "", "Comma-separated files to ingest; extra arguments are ingested too")
	category := flag.String("category", "", "Assign this category instead of classifying")
	query := flag.String("query", "", "Query to run against the project's index")
	reportType := flag.String("report", "", "Report to generate: CEP, CER, SSCP or LSR")
	devicePath := flag.String("device", "", "Yaml file with the device information")
	llmClassify := flag.Bool("llm-classify", false, "Classify documents with the language model")
	stream := flag.Bool("stream", false, "Stream report sections to stdout as they are generated")
	dryRun := flag.Bool("dry-run", false, "Dry run, do not save to the vector index or the database")
	deleteProject := flag.Bool("delete-project", false, "Delete the project's vectors and records")
	exportPath := flag.String("export", "", "Write the project's vector collection to this file")
	importPath := flag.String("import", "", "Replace the project's vector collection with this file")
	listModels := flag.Bool("models", false, "List the models available on the LLM server")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogger(cfg.Log)
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")

	ctx := context.Background()

	if *listModels {
		showModels(ctx, cfg)
		return
	}

	if *project == "" {
		log.Fatal().Msg("Please provide a project id with the -project flag")
	}

	paths := splitPaths(*ingestPaths)
	paths = append(paths, flag.Args()...)
	actions := 0
	for _, set := range []bool{len(paths) > 0, *query != "", *reportType != "", *deleteProject, *exportPath != "", *importPath != ""} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		log.Fatal().Msg("Please provide exactly one of -ingest, -query, -report, -delete-project, -export or -import")
	}

	device, err := loadDevice(*devicePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading device information")
	}

	a := newApp(ctx, cfg, *dryRun && len(paths) > 0)
	defer a.close()

	if a.store != nil && !*dryRun {
		if err := a.store.EnsureProject(ctx, *project, device); err != nil {
			log.Fatal().Err(err).Msg("Error saving project")
		}
	}

	switch {
	case len(paths) > 0:
		a.ingestFiles(ctx, *project, paths, models.Category(*category), *llmClassify, *dryRun)
	case *query != "":
		a.search(ctx, *project, *query)
	case *reportType != "":
		a.generateReport(ctx, *project, *reportType, device, *stream, *dryRun)
	case *deleteProject:
		a.deleteProject(ctx, *project)
	case *exportPath != "":
		if err := a.exportProject(*project, *exportPath); err != nil {
			log.Fatal().Err(err).Msg("Error exporting project")
		}
	case *importPath != "":
		if err := a.importProject(*project, *importPath); err != nil {
			log.Fatal().Err(err).Msg("Error importing project")
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// newApp wires the shared services. An in-memory index is used for dry runs
// so nothing is written to disk.
func newApp(ctx context.Context, cfg *config.Config, inMemory bool) *app {
	a := &app{cfg: cfg}

	var err error
	a.embedder, err = embedding.New(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	opts := []chromemdb.Option{chromemdb.WithCompression(cfg.RAG.Compress)}
	if dim := a.embedder.Dimension(); dim > 0 {
		opts = append(opts, chromemdb.WithDimension(dim))
	}
	if inMemory {
		a.index = chromemdb.NewInMemory(opts...)
	} else {
		if err := helper.EnsureDir(cfg.DataDir); err != nil {
			log.Fatal().Err(err).Msg("Error creating data directory")
		}
		a.index, err = chromemdb.Open(cfg.VectorDBPath(), opts...)
		if err != nil {
			log.Fatal().Err(err).Msg("Error opening vector index")
		}
	}

	if !cfg.LLM.Disabled {
		a.client, err = llmservice.New(&cfg.LLM)
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing LLM client")
		}
	}
	a.llm = llmservice.WithRetries(llmservice.NewGenerator(a.client, cfg.LLM.Disabled), cfg.LLM.Retries)

	if cfg.Database.DSN != "" {
		bunDB := db.NewDB(db.ConnectDB(cfg.Database.DSN, cfg.Database.Password), cfg.Database.Debug)
		if err := db.InitDB(ctx, bunDB); err != nil {
			log.Fatal().Err(err).Msg("Error initializing database")
		}
		a.store = &db.Store{DB: bunDB}
	}
	return a
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
	if err := a.index.Close(); err != nil {
		log.Warn().Err(err).Msg("Error releasing vector index lock")
	}
}

func (a *app) retriever() *rag.Retriever {
	return rag.New(a.index, a.embedder, a.cfg.RAG.MaxChunksForContext)
}

func (a *app) ingestFiles(ctx context.Context, projectID string, paths []string, category models.Category, useLLM, dryRun bool) {
	if category != "" && !classifier.ValidateCategory(string(category)) {
		log.Fatal().Str("category", string(category)).Msg("Unknown category")
	}

	ch := chunker.New(
		chunker.WithChunkSize(a.cfg.RAG.ChunkSize),
		chunker.WithOverlap(a.cfg.RAG.Overlap()),
	)
	opts := []ingest.Option{ingest.WithLLMClassification(useLLM)}
	if a.store != nil && !dryRun {
		opts = append(opts, ingest.WithFileStore(a.store))
	}
	pipeline := ingest.New(classifier.New(a.llm, a.cfg.PromptsDir), ch, a.embedder, a.index, opts...)

	inputs := make([]ingest.Input, len(paths))
	for i, p := range paths {
		inputs[i] = ingest.Input{Path: p, Filename: filepath.Base(p), Category: category}
	}
	results := pipeline.ProcessFiles(ctx, projectID, inputs, func(cur, total int, filename string) {
		log.Info().Msgf("Processing file %d/%d: %s", cur, total, filename)
	})

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	helper.PrettyPrint(os.Stdout, results)
	log.Info().Int("files", len(results)).Int("failed", failed).Msg("Ingestion finished")
}

func (a *app) search(ctx context.Context, projectID, query string) {
	r := a.retriever()
	chunks, err := r.Retrieve(ctx, projectID, query, 0, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", strings.Join(generator.SourceFiles(chunks), ", "))

	log.Info().Msg("Context: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", rag.BuildContextString(chunks, a.cfg.RAG.ContextMaxLength, true))
}

func (a *app) generateReport(ctx context.Context, projectID, name string, device models.DeviceInfo, stream, dryRun bool) {
	reportType, err := models.ParseReportType(name)
	if err != nil {
		log.Fatal().Err(err).Msg("Error parsing report type")
	}

	gen := generator.New(a.llm, a.retriever(), a.cfg.PromptsDir,
		generator.WithContextLength(a.cfg.RAG.ContextMaxLength),
		generator.WithSampling(a.cfg.LLM.SamplingTemperature(), a.cfg.LLM.MaxTokens),
	)

	var report *reports.Report
	if stream {
		report, err = streamReport(ctx, gen, projectID, reportType, device)
	} else {
		report, err = reports.Generate(ctx, gen, projectID, reportType, device, func(cur, total int) {
			log.Info().Msgf("Generating section %d/%d", cur, total)
		})
		if err == nil {
			fmt.Println(report.Markdown())
		}
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Error generating report")
	}

	if failed := report.Failed(); len(failed) > 0 {
		log.Warn().Int("failed", len(failed)).Msg("Some sections could not be generated")
	}
	if a.store == nil || dryRun {
		return
	}
	if err := a.store.SaveReport(ctx, report); err != nil {
		log.Error().Err(err).Msg("Error saving report")
	}
}

// streamReport prints each section as it is generated and collects the
// results into a report.
func streamReport(ctx context.Context, gen *generator.Generator, projectID string, reportType models.ReportType, device models.DeviceInfo) (*reports.Report, error) {
	plan, err := reports.Sections(reportType)
	if err != nil {
		return nil, err
	}
	report := &reports.Report{
		ProjectID:  projectID,
		ReportType: reportType,
		Title:      models.ReportTypeNames[reportType],
	}
	fmt.Printf("# %s\n\n", report.Title)
	for _, section := range plan {
		fmt.Printf("## %d. %s\n\n", section.Number, section.Title)
		res, _ := gen.GenerateSectionStream(ctx, generator.Request{
			ProjectID:  projectID,
			ReportType: reportType,
			Section:    section,
			Device:     device,
		}, func(fragment string) error {
			_, err := fmt.Print(fragment)
			return err
		})
		fmt.Print("\n\n")
		report.Sections = append(report.Sections, res)
	}
	report.GeneratedAt = time.Now().UTC()
	return report, nil
}

func (a *app) deleteProject(ctx context.Context, projectID string) {
	if err := a.index.DeleteProject(projectID); err != nil {
		log.Fatal().Err(err).Msg("Error deleting project vectors")
	}
	if a.store != nil {
		if err := db.DeleteProject(ctx, a.store.DB, projectID); err != nil {
			log.Fatal().Err(err).Msg("Error deleting project records")
		}
	}
	log.Info().Str("project_id", projectID).Msg("Project deleted")
}

// exportProject snapshots the project's collection, encrypted when
// rag.encryption_key is set.
func (a *app) exportProject(projectID, path string) error {
	if err := helper.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := a.index.Export(projectID, path, a.cfg.RAG.EncryptionKey); err != nil {
		return err
	}
	log.Info().Str("project_id", projectID).Str("path", path).Bool("encrypted", a.cfg.RAG.EncryptionKey != "").Msg("Project exported")
	return nil
}

func (a *app) importProject(projectID, path string) error {
	if err := a.index.Import(projectID, path, a.cfg.RAG.EncryptionKey); err != nil {
		return err
	}
	n, err := a.index.Count(projectID)
	if err != nil {
		return err
	}
	log.Info().Str("project_id", projectID).Int("chunks", n).Msg("Project imported")
	return nil
}

func showModels(ctx context.Context, cfg *config.Config) {
	client, err := llmservice.New(&cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing LLM client")
	}
	helper.PrettyPrint(os.Stdout, client.TestConnection(ctx))
}

func splitPaths(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadDevice(path string) (models.DeviceInfo, error) {
	if path == "" {
		return models.DeviceInfo{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var device models.DeviceInfo
	if err := yaml.Unmarshal(data, &device); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return device, nil
}

package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/godata/exporter/internal/docstore"
	"github.com/godata/exporter/internal/export/sink"
	"github.com/godata/exporter/internal/filter"
	"github.com/godata/exporter/internal/models"
)

// Request is one export invocation as the caller describes it.
type Request struct {
	Descriptor  Descriptor   `json:"descriptor"`
	Filter      filter.Query `json:"filter"`
	Format      string       `json:"format"`
	Anonymize   []string     `json:"anonymize,omitempty"`
	FieldGroups []string     `json:"field_groups,omitempty"`
	LanguageID  string       `json:"language_id,omitempty"`
	// Questionnaire overrides the descriptor's questionnaire definition.
	Questionnaire []Question `json:"questionnaire,omitempty"`
	// Passphrase is never persisted with the request; it travels sealed.
	Passphrase string `json:"-"`
}

// Limit is the per-sheet column ceiling and per-file row ceiling of a format.
type Limit struct {
	MaxColumns int
	MaxRows    int
}

// Config tunes the engine.
type Config struct {
	BatchSize            int
	TmpDir               string
	DefaultLanguage      string
	AnonymizePlaceholder string
	TokenPrefix          string
	LocationBatchSize    int
	RenderWorkers        int
	LocationCollection   string
	TokenCollection      string
	Limits               map[sink.Format]Limit
}

// JobStore persists the job record at every phase boundary.
type JobStore interface {
	Update(ctx context.Context, job *models.ExportJob) error
	CancelRequested(ctx context.Context, id uuid.UUID) (bool, error)
}

// Publisher moves a finished artifact to durable storage and records where
// it went on the job.
type Publisher interface {
	Publish(ctx context.Context, job *models.ExportJob, art Artifact) error
}

// Result summarizes a finished export.
type Result struct {
	Artifact Artifact
	Headers  []string
	// Dictionary is the number of translations the job cached.
	Dictionary int
}

// Plan is a validated request, ready to run.
type Plan struct {
	Request   Request
	Format    sink.Format
	Query     docstore.Query
	Questions []FlatQuestion
}

// Engine runs export jobs against one record source.
type Engine struct {
	backend   docstore.Backend
	jobs      JobStore
	publisher Publisher
	cfg       Config
	log       *zap.Logger
}

// NewEngine wires an engine. publisher may be nil, in which case artifacts
// stay in the job's temporary directory.
func NewEngine(backend docstore.Backend, jobs JobStore, publisher Publisher, cfg Config, log *zap.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	if cfg.AnonymizePlaceholder == "" {
		cfg.AnonymizePlaceholder = "***"
	}
	if cfg.LocationCollection == "" {
		cfg.LocationCollection = "location"
	}
	if cfg.TokenCollection == "" {
		cfg.TokenCollection = "languageToken"
	}
	return &Engine{backend: backend, jobs: jobs, publisher: publisher, cfg: cfg, log: log}
}

// Prepare validates req without touching the store. Every error it returns
// is a *ConfigError.
func (e *Engine) Prepare(req Request) (*Plan, error) {
	format, err := sink.ParseFormat(req.Format)
	if err != nil {
		return nil, &ConfigError{Field: "format", Reason: req.Format, Err: err}
	}
	d := &req.Descriptor
	if err := d.Validate(); err != nil {
		return nil, err
	}

	questionnaire := req.Questionnaire
	if len(questionnaire) == 0 {
		questionnaire = d.Questionnaire
	}
	if d.QuestionnaireField != "" && len(questionnaire) == 0 {
		return nil, configErr("questionnaire", "field %s is exported but no questionnaire is defined", d.QuestionnaireField)
	}
	questions, err := FlattenQuestionnaire(questionnaire)
	if err != nil {
		return nil, err
	}

	base := filter.True()
	if len(d.BaseScope) > 0 {
		if base, err = filter.ParseWhere(d.BaseScope); err != nil {
			return nil, &ConfigError{Field: "descriptor.base_scope", Reason: "malformed predicate", Err: err}
		}
	}
	n, err := filter.Normalize(req.Filter, base)
	if err != nil {
		return nil, &ConfigError{Field: "filter", Reason: "malformed predicate", Err: err}
	}
	if _, err := normalizeRules(req.Anonymize); err != nil {
		return nil, err
	}
	if _, err := d.selectFields(req.FieldGroups); err != nil {
		return nil, err
	}
	if req.LanguageID == "" {
		req.LanguageID = e.cfg.DefaultLanguage
	}
	return &Plan{
		Request:   req,
		Format:    format,
		Query:     docstore.Query{Where: n.Where, Sort: n.Sort},
		Questions: questions,
	}, nil
}

// run is the per-job scratch state released by cleanup.
type run struct {
	job     *models.ExportJob
	log     *zap.Logger
	view    string
	workDir string
	sink    sink.Sink
	refs    *Resolver
}

// Run executes the export for job, updating the job record at every phase
// boundary and writing its terminal state exactly once.
func (e *Engine) Run(ctx context.Context, job *models.ExportJob, req Request) (Result, error) {
	r := &run{
		job:     job,
		log:     e.log.With(zap.String("job_id", job.ID.String())),
		view:    "export_view_" + strings.ReplaceAll(job.ID.String(), "-", ""),
		workDir: filepath.Join(e.cfg.TmpDir, job.ID.String()),
	}
	plan, err := e.Prepare(req)
	if err != nil {
		return Result{}, e.fail(ctx, r, err)
	}
	res, err := e.execute(ctx, r, plan)
	if err != nil {
		return Result{}, e.fail(ctx, r, err)
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, r *run, plan *Plan) (Result, error) {
	job, req := r.job, plan.Request
	flat := plan.Format.Flat()
	job.Status = models.ExportStatusInProgress
	job.Format = string(plan.Format)
	job.Collection = req.Descriptor.Collection
	job.MimeType, job.Extension = plan.Format.MimeType(), plan.Format.Extension()
	if err := os.MkdirAll(r.workDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("export: work dir: %w", err)
	}

	// Language preparation: everything the headers can show.
	if err := e.step(ctx, r, models.StepLanguagePrep); err != nil {
		return Result{}, err
	}
	r.refs = NewResolver(e.backend, ResolverConfig{
		LocationCollection: e.cfg.LocationCollection,
		TokenCollection:    e.cfg.TokenCollection,
		Language:           req.LanguageID,
		DefaultLanguage:    e.cfg.DefaultLanguage,
		TokenPrefix:        e.cfg.TokenPrefix,
		BatchSize:          e.cfg.LocationBatchSize,
	})
	tokens := append(req.Descriptor.labelTokens(), questionTokens(plan.Questions)...)
	if err := r.refs.Backfill(ctx, tokens); err != nil {
		return Result{}, err
	}

	// Record preparation: projection pass into the job's view.
	if err := e.step(ctx, r, models.StepRecordPrep); err != nil {
		return Result{}, err
	}
	stats, err := BuildView(ctx, e.backend, r.view, req.Descriptor.Collection, plan.Query, e.cfg.BatchSize,
		NewProjector(&req.Descriptor, plan.Questions, flat))
	if err != nil {
		return Result{}, err
	}
	job.TotalRecords = stats.Rows
	r.log.Info("materialized view built", zap.String("view", r.view), zap.Int64("rows", stats.Rows))

	if err := e.step(ctx, r, models.StepLocationPrep); err != nil {
		return Result{}, err
	}
	if err := r.refs.ResolveLocations(ctx, stats.LocationIDs); err != nil {
		return Result{}, err
	}
	if missing, _ := r.refs.Unresolved(); missing > 0 {
		r.log.Warn("unresolved location references", zap.Int("count", missing))
	}

	if err := e.step(ctx, r, models.StepHeaderPrep); err != nil {
		return Result{}, err
	}
	cols, err := BuildColumns(ColumnPlan{
		Descriptor:  &req.Descriptor,
		Flat:        flat,
		FieldGroups: req.FieldGroups,
		Anonymize:   req.Anonymize,
		Questions:   plan.Questions,
		Maxima:      stats.Maxima,
		Refs:        r.refs,
		Placeholder: e.cfg.AnonymizePlaceholder,
	})
	if err != nil {
		return Result{}, err
	}
	headers := Headers(cols)

	if err := e.step(ctx, r, models.StepExporting); err != nil {
		return Result{}, err
	}
	files, err := e.stream(ctx, r, plan, cols, headers)
	if err != nil {
		return Result{}, err
	}
	if err := e.backend.DropView(ctx, r.view); err != nil {
		return Result{}, fmt.Errorf("export: drop view: %w", err)
	}

	art, err := Finalize(files, FinalizeOptions{
		Dir:        r.workDir,
		Base:       job.ID.String(),
		Format:     plan.Format,
		Passphrase: req.Passphrase,
		Step:       func(s models.ExportStep) error { return e.step(ctx, r, s) },
	})
	if err != nil {
		return Result{}, err
	}
	job.MimeType, job.Extension, job.Encrypted = art.MimeType, art.Extension, art.Encrypted

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, job, art); err != nil {
			return Result{}, fmt.Errorf("export: publish: %w", err)
		}
		_ = os.RemoveAll(r.workDir)
	} else {
		job.ArtifactKey, job.ArtifactProvider = art.Path, "local"
	}

	job.Status = models.ExportStatusSuccess
	if job.FailedRecords > 0 {
		job.Status = models.ExportStatusSuccessWithWarning
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := e.step(ctx, r, models.StepFinished); err != nil {
		return Result{}, err
	}
	missingLocs, missingTokens := r.refs.Unresolved()
	r.log.Info("export finished",
		zap.String("status", string(job.Status)),
		zap.Int64("records", job.ProcessedRecords),
		zap.Int64("failed", job.FailedRecords),
		zap.Int("files", art.Entries),
		zap.Int("unresolved_locations", missingLocs),
		zap.Int("untranslated_tokens", missingTokens),
	)
	return Result{Artifact: art, Headers: headers, Dictionary: r.refs.DictionarySize()}, nil
}

// stream drains the view batch by batch into the sink. Every batch is
// deleted from the view once written, so an empty view afterwards proves
// that no record was skipped.
func (e *Engine) stream(ctx context.Context, r *run, plan *Plan, cols []Column, headers []string) ([]string, error) {
	job := r.job
	limit := e.cfg.Limits[plan.Format]
	s, err := sink.New(plan.Format, sink.Options{
		Dir:        r.workDir,
		Base:       job.ID.String(),
		MaxColumns: limit.MaxColumns,
		MaxRows:    limit.MaxRows,
	})
	if err != nil {
		return nil, err
	}
	r.sink = s
	if err := s.Begin(headers); err != nil {
		return nil, err
	}
	rend := &renderer{cols: cols, refs: r.refs, placeholder: e.cfg.AnonymizePlaceholder, workers: e.cfg.RenderWorkers}
	collection := plan.Request.Descriptor.Collection

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		canceled, err := e.jobs.CancelRequested(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("export: cancel check: %w", err)
		}
		if canceled {
			return nil, ErrCanceled
		}

		batch, err := e.backend.NextViewBatch(ctx, r.view, e.cfg.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("export: read view: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		ids := make([]string, len(batch))
		for i, row := range batch {
			ids[i] = row.RecordID
		}
		found, err := e.backend.FindByIDs(ctx, collection, ids)
		if err != nil {
			return nil, fmt.Errorf("export: load records: %w", err)
		}
		byID := make(map[string]docstore.Document, len(found))
		for _, d := range found {
			id, _ := docstore.DocumentID(d)
			byID[id] = d
		}
		docs := make([]docstore.Document, 0, len(batch))
		docIDs := make([]string, 0, len(batch))
		for _, id := range ids {
			d, ok := byID[id]
			if !ok {
				job.ProcessedRecords++
				job.AddRowError(id, "record no longer available")
				continue
			}
			docs = append(docs, d)
			docIDs = append(docIDs, id)
		}

		rows, err := rend.renderBatch(ctx, docs)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			job.ProcessedRecords++
			if err := s.WriteRow(row); err != nil {
				if !errors.Is(err, sink.ErrUnserializable) {
					return nil, err
				}
				rowErr := &RowError{RecordID: docIDs[i], Err: err}
				r.log.Warn("row rejected", zap.Error(rowErr))
				job.AddRowError(docIDs[i], err.Error())
			}
		}

		if err := e.backend.ConsumeView(ctx, r.view, batch[len(batch)-1].Seq); err != nil {
			return nil, fmt.Errorf("export: consume view: %w", err)
		}
		if err := e.jobs.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("export: update progress: %w", err)
		}
	}

	left, err := e.backend.CountView(ctx, r.view)
	if err != nil {
		return nil, fmt.Errorf("export: count view: %w", err)
	}
	if left > 0 {
		return nil, fmt.Errorf("%w: %d rows left", ErrResidualView, left)
	}
	files, err := s.End()
	if err != nil {
		return nil, err
	}
	r.sink = nil
	return files, nil
}

func (e *Engine) step(ctx context.Context, r *run, step models.ExportStep) error {
	r.job.StatusStep = step
	if err := e.jobs.Update(ctx, r.job); err != nil {
		return fmt.Errorf("export: update job at %s: %w", step, err)
	}
	r.log.Debug("export step", zap.String("step", string(step)))
	return nil
}

// fail releases every resource of the job and writes the failed state,
// keeping the last step reached as a diagnostic.
func (e *Engine) fail(ctx context.Context, r *run, cause error) error {
	cleanup := context.WithoutCancel(ctx)
	if r.sink != nil {
		r.sink.Abort()
		r.sink = nil
	}
	if err := e.backend.DropView(cleanup, r.view); err != nil {
		r.log.Error("drop view failed", zap.String("view", r.view), zap.Error(err))
	}
	if err := os.RemoveAll(r.workDir); err != nil {
		r.log.Error("remove work dir failed", zap.String("dir", r.workDir), zap.Error(err))
	}

	job := r.job
	msg := cause.Error()
	stack := string(debug.Stack())
	now := time.Now().UTC()
	job.Status = models.ExportStatusFailed
	job.ErrorMsg = &msg
	job.ErrorStack = &stack
	job.CompletedAt = &now
	if err := e.jobs.Update(cleanup, job); err != nil {
		r.log.Error("persist failed state", zap.Error(err))
	}
	r.log.Error("export failed", zap.String("step", string(job.StatusStep)), zap.Error(cause))
	return cause
}

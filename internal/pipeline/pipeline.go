// Package pipeline sequences one enrichment run end to end: load the
// workbook, enrich every record through both providers, wait out the
// asynchronous phone callbacks, and export the merged workbook.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/config"
	"github.com/sells-group/lead-enrich/internal/enrich"
	"github.com/sells-group/lead-enrich/internal/excel"
	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/internal/webhook"
	"github.com/sells-group/lead-enrich/pkg/anthropic"
)

// detectSampleRows is how many data rows accompany the header row in the
// column-detection prompt.
const detectSampleRows = 5

// RunRequest describes one enrichment cycle.
type RunRequest struct {
	InputPath  string
	OutputPath string
	// Mapping skips column detection when set; nil means preview the
	// sheet and ask the model.
	Mapping *excel.ColumnMapping
}

// Pipeline drives runs through the phase sequence. All collaborators are
// injected at construction; Run owns phase ordering and listener binding.
type Pipeline struct {
	cfg      *config.Config
	store    store.Store
	lusha    enrich.Enricher
	apollo   enrich.Enricher
	ai       anthropic.Client
	listener *webhook.Listener
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	st store.Store,
	lushaEnricher enrich.Enricher,
	apolloEnricher enrich.Enricher,
	aiClient anthropic.Client,
	listener *webhook.Listener,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		lusha:    lushaEnricher,
		apollo:   apolloEnricher,
		ai:       aiClient,
		listener: listener,
	}
}

// Run registers a run, executes it synchronously, and returns the final
// registry row. The returned error is the first unrecovered phase failure.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*model.Run, error) {
	run, err := p.store.CreateRun(ctx, req.InputPath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	runErr := p.Execute(ctx, run, req)

	// Reload for the caller even when the run context was canceled.
	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := p.store.GetRun(loadCtx, run.ID)
	if err != nil {
		zap.L().Warn("pipeline: reload run", zap.String("run_id", run.ID), zap.Error(err))
		return run, runErr
	}
	return final, runErr
}

// Execute drives an already-registered run through every phase, writing
// each transition to the runs registry. On an unrecovered error the run is
// marked failed with the cause and the cause is returned. The listener is
// bound to the store for the whole run and unbound on every exit path.
func (p *Pipeline) Execute(ctx context.Context, run *model.Run, req RunRequest) error {
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("input", req.InputPath),
	)
	log.Info("pipeline: starting run")
	start := time.Now()

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status, ""); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}
	fail := func(cause error) error {
		// The failure write must survive the cancellation that may have
		// caused it.
		failCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if statusErr := p.store.UpdateRunStatus(failCtx, run.ID, model.RunStatusFailed, cause.Error()); statusErr != nil {
			log.Warn("pipeline: failed to record failure", zap.Error(statusErr))
		}
		log.Error("pipeline: run failed", zap.Error(cause))
		return cause
	}

	// Callbacks can arrive the moment the first apollo batch is submitted.
	p.listener.Bind(p.store)
	defer p.listener.Unbind()

	setStatus(model.RunStatusLoading)
	mapping, err := p.resolveMapping(ctx, req)
	if err != nil {
		return fail(err)
	}
	loaded, err := excel.Load(ctx, p.store, req.InputPath, mapping)
	if err != nil {
		return fail(err)
	}
	if loaded == 0 {
		return fail(eris.Errorf("pipeline: no loadable rows in %s", req.InputPath))
	}

	setStatus(model.RunStatusEnrichingLusha)
	if err := p.enrichPhase(ctx, p.lusha, p.cfg.Lusha.BatchSize); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusEnrichingApollo)
	if err := p.enrichPhase(ctx, p.apollo, p.cfg.Apollo.BatchSize); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusWaiting)
	if err := p.waitForCallbacks(ctx); err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusExporting)
	exported, err := excel.Export(ctx, p.store, req.InputPath, req.OutputPath)
	if err != nil {
		return fail(err)
	}
	if err := p.store.SetRunOutput(ctx, run.ID, req.OutputPath); err != nil {
		log.Warn("pipeline: failed to record output file", zap.Error(err))
	}

	setStatus(model.RunStatusCompleted)
	log.Info("pipeline: run complete",
		zap.Int64("loaded", loaded),
		zap.Int("exported", exported),
		zap.String("output", req.OutputPath),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// resolveMapping returns the caller-supplied column mapping, or previews
// the sheet and asks the model. A detection failure aborts the run before
// any record is written.
func (p *Pipeline) resolveMapping(ctx context.Context, req RunRequest) (excel.ColumnMapping, error) {
	if req.Mapping != nil {
		return *req.Mapping, nil
	}
	headers, samples, err := excel.Preview(req.InputPath, detectSampleRows)
	if err != nil {
		return excel.ColumnMapping{}, err
	}
	return excel.DetectColumns(ctx, p.ai, p.cfg.Anthropic.Model, headers, samples)
}

// enrichPhase partitions every pending record for one provider into
// fixed-size chunks and processes them sequentially. A chunk failure is
// logged and the loop moves on: the adapter already marked the chunk's
// members, and later chunks can still succeed. Only store access failures
// and context cancellation abort the phase.
func (p *Pipeline) enrichPhase(ctx context.Context, e enrich.Enricher, batchSize int) error {
	provider := e.Provider()
	log := zap.L().With(zap.String("provider", string(provider)))

	pending, err := p.store.RecordsByStatus(ctx, provider, model.StatusPending)
	if err != nil {
		return eris.Wrapf(err, "pipeline: pending records for %s", provider)
	}
	if len(pending) == 0 {
		log.Info("pipeline: nothing to enrich")
		return nil
	}
	if batchSize < 1 {
		batchSize = 1
	}

	people := make([]model.PersonInput, len(pending))
	for i, r := range pending {
		people[i] = model.PersonInput{
			RowID:     r.RowID,
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Company:   r.Company,
		}
	}

	matched := 0
	failedBatches := 0
	for s := 0; s < len(people); s += batchSize {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "pipeline: %s phase canceled", provider)
		}
		end := s + batchSize
		if end > len(people) {
			end = len(people)
		}
		n, err := e.EnrichAndSave(ctx, people[s:end], p.store)
		if err != nil {
			failedBatches++
			log.Warn("pipeline: batch failed, continuing",
				zap.Int("batch_start", s),
				zap.Int("batch_size", end-s),
				zap.Error(err))
			continue
		}
		matched += n
	}

	log.Info("pipeline: provider phase complete",
		zap.Int("records", len(people)),
		zap.Int("matched", matched),
		zap.Int("failed_batches", failedBatches),
	)
	return nil
}

// Package importer parses pasted tabular text into partial number records
// and merges them into the store keyed by number value.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/campus-numbers/backend/internal/access"
	"github.com/campus-numbers/backend/internal/models"
	"github.com/campus-numbers/backend/pkg/queue"
)

var importedLines = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campus_numbers_import_lines_total",
		Help: "Imported lines by outcome",
	},
	[]string{"outcome"},
)

// Store merges one record.
type Store interface {
	Upsert(ctx context.Context, rec models.NumberRecord, scope models.DataFilter) (models.UpsertOutcome, error)
}

// Archiver hands the raw batch to the archive worker.
type Archiver interface {
	EnqueueImportArchive(ctx context.Context, payload queue.ImportArchivePayload) error
}

// Request is one import batch.
type Request struct {
	Text         string
	Layout       Layout
	Columns      []Column
	SchoolID     *uuid.UUID
	DepartmentID *uuid.UUID
}

// Result is the partial-success report of a batch.
type Result struct {
	BatchID      uuid.UUID `json:"batch_id"`
	CreatedCount int       `json:"created_count"`
	UpdatedCount int       `json:"updated_count"`
	SkippedCount int       `json:"skipped_count"`
	Log          []string  `json:"log"`
}

// Service runs import batches.
type Service struct {
	store    Store
	archiver Archiver
	archives ArchiveStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates an import service. archiver may be nil.
func NewService(store Store, archiver Archiver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, archiver: archiver, now: time.Now, logger: logger}
}

// ImportBatch parses req.Text line by line and upserts every valid line.
// Bad lines are counted and logged; they never abort the batch.
func (s *Service) ImportBatch(ctx context.Context, ac *access.AuthContext, req Request) (*Result, error) {
	if !ac.Elevated() {
		return nil, fmt.Errorf("%w: admin role required", models.ErrForbidden)
	}
	cs, err := resolveLayout(req.Layout, req.Columns)
	if err != nil {
		return nil, err
	}
	school, dept, err := defaultOrg(ac, req.SchoolID, req.DepartmentID)
	if err != nil {
		return nil, err
	}

	scope := ac.WriteScope()
	res := &Result{BatchID: uuid.New(), Log: []string{}}
	logf := func(format string, args ...interface{}) {
		res.Log = append(res.Log, fmt.Sprintf(format, args...))
	}

	first := true
	for i, raw := range strings.Split(req.Text, "\n") {
		lineNo := i + 1
		tokens := Tokenize(raw)
		if nonEmpty(tokens) == 0 {
			continue
		}
		if first {
			first = false
			if IsHeader(tokens) {
				logf("line %d: header skipped", lineNo)
				continue
			}
		}

		rec, warnings, err := parseLine(tokens, cs)
		if err != nil {
			res.SkippedCount++
			importedLines.WithLabelValues("skipped").Inc()
			logf("line %d: skipped: %s", lineNo, err)
			continue
		}
		for _, w := range warnings {
			logf("line %d: %s", lineNo, w)
		}
		if rec.SchoolID == nil && rec.DepartmentID == nil {
			rec.SchoolID, rec.DepartmentID = school, dept
		}

		outcome, err := s.store.Upsert(ctx, rec, scope)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			res.SkippedCount++
			importedLines.WithLabelValues("error").Inc()
			s.logger.Warn("import upsert failed", zap.String("number", rec.NumberValue), zap.Error(err))
			logf("line %d: skipped: could not save %s", lineNo, rec.NumberValue)
			continue
		}
		switch outcome {
		case models.UpsertCreated:
			res.CreatedCount++
			importedLines.WithLabelValues("created").Inc()
		case models.UpsertUpdated:
			res.UpdatedCount++
			importedLines.WithLabelValues("updated").Inc()
		default:
			res.SkippedCount++
			importedLines.WithLabelValues("out_of_scope").Inc()
			logf("line %d: skipped: %s is outside your scope", lineNo, rec.NumberValue)
		}
	}

	s.logger.Info("import batch finished",
		zap.String("batch_id", res.BatchID.String()),
		zap.Int("created", res.CreatedCount),
		zap.Int("updated", res.UpdatedCount),
		zap.Int("skipped", res.SkippedCount),
		zap.String("by", ac.Identity.UserID.String()),
	)
	s.archive(ctx, ac, req, res)
	return res, nil
}

func (s *Service) archive(ctx context.Context, ac *access.AuthContext, req Request, res *Result) {
	if s.archiver == nil {
		return
	}
	layout := req.Layout
	if layout == "" {
		layout = LayoutInventory
	}
	err := s.archiver.EnqueueImportArchive(ctx, queue.ImportArchivePayload{
		BatchID:      res.BatchID,
		UploadedBy:   ac.Identity.UserID,
		Layout:       string(layout),
		Text:         req.Text,
		CreatedCount: res.CreatedCount,
		UpdatedCount: res.UpdatedCount,
		SkippedCount: res.SkippedCount,
		ImportedAt:   s.now(),
	})
	if err != nil {
		s.logger.Warn("enqueue import archive failed", zap.String("batch_id", res.BatchID.String()), zap.Error(err))
	}
}

// defaultOrg validates the organization new lines are assigned to. Restricted
// callers must name one inside their write scope so created numbers stay visible to
// them.
func defaultOrg(ac *access.AuthContext, schoolID, deptID *uuid.UUID) (*uuid.UUID, *uuid.UUID, error) {
	g := ac.Graph
	if deptID != nil {
		dept, ok := g.Get(*deptID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: department %s", models.ErrNotFound, *deptID)
		}
		if !dept.IsDepartment() {
			return nil, nil, fmt.Errorf("%w: %s is not a department", models.ErrValidation, dept.Name)
		}
		parent, _ := g.Parent(dept.ID)
		if schoolID != nil && *schoolID != parent.ID {
			return nil, nil, fmt.Errorf("%w: department %s does not belong to the given school", models.ErrValidation, dept.Name)
		}
		schoolID = &parent.ID
	}
	if schoolID != nil {
		school, ok := g.Get(*schoolID)
		if !ok {
			return nil, nil, fmt.Errorf("%w: school %s", models.ErrNotFound, *schoolID)
		}
		if !school.IsSchool() {
			return nil, nil, fmt.Errorf("%w: %s is not a school", models.ErrValidation, school.Name)
		}
	}
	scope := ac.WriteScope()
	if scope.Unrestricted {
		return schoolID, deptID, nil
	}
	if schoolID == nil {
		return nil, nil, fmt.Errorf("%w: school_id or department_id required", models.ErrValidation)
	}
	if !scope.CoversNumber(schoolID, deptID) {
		return nil, nil, fmt.Errorf("%w: target organization is outside your scope", models.ErrForbidden)
	}
	return schoolID, deptID, nil
}

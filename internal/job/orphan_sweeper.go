package job

import (
	"context"
	"time"

	goset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/docsearch/internal/blob"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/sirupsen/logrus"
)

// OrphanSweeper reconciles the two storage tiers. Ingestion writes blobs
// before the vector-store commit, so a crash mid-ingestion can leave blob
// prefixes with no document row. The sweep lists prefixes, diffs them
// against the rows and deletes the leftovers.
type OrphanSweeper struct {
	store store.Store
	blobs blob.Store

	// seen holds prefixes that were orphaned on the previous run. Only a
	// prefix orphaned across two consecutive runs is deleted, so an upload
	// between blob write and commit is never swept out from under itself.
	seen goset.Set[string]
}

func NewOrphanSweeper(store store.Store, blobs blob.Store) *OrphanSweeper {
	return &OrphanSweeper{
		store: store,
		blobs: blobs,
		seen:  goset.NewSet[string](),
	}
}

func (s *OrphanSweeper) Schedule() string {
	return "@every 10m"
}

func (s *OrphanSweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := s.Sweep(ctx); err != nil {
		logrus.Errorf("orphan sweep failed: %v", err)
	}
}

// Sweep performs one reconciliation pass and returns the first error that
// prevented it from completing. Individual prefix deletions are best
// effort.
func (s *OrphanSweeper) Sweep(ctx context.Context) error {
	prefixes, err := s.blobs.ListPrefixes(ctx)
	if err != nil {
		return err
	}

	uuids, err := s.store.ListDocumentUUIDs(ctx)
	if err != nil {
		return err
	}

	known := goset.NewSet(uuids...)
	orphans := goset.NewSet[string]()
	for _, prefix := range prefixes {
		if known.Contains(prefix) {
			continue
		}
		orphans.Add(prefix)
	}

	// Delete only prefixes that were already orphaned last run.
	stale := orphans.Intersect(s.seen)
	s.seen = orphans

	if stale.Cardinality() == 0 {
		logrus.Debugf("orphan sweep: %d prefixes, none stale", len(prefixes))
		return nil
	}

	logrus.Infof("orphan sweep: removing %d stale prefixes", stale.Cardinality())
	for prefix := range stale.Iter() {
		if err := s.blobs.DeletePrefix(ctx, prefix+"/"); err != nil {
			logrus.Warnf("failed to delete orphan prefix %s: %v", prefix, err)
		}
	}

	return nil
}

package reconcile

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/sorrel/internal/repositories/contact"
	"github.com/Ramsey-B/sorrel/pkg/events"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/redis"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Service reconciles incoming contacts against stored clusters
type Service struct {
	store    contact.ContactStore
	locker   *redis.Locker
	emitter  *events.Emitter
	logger   ectologger.Logger
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewService creates a reconciliation service. locker and emitter are
// optional; without a locker concurrent requests rely on the database
// transaction alone, and without an emitter no events are published.
func NewService(logger ectologger.Logger, store contact.ContactStore, locker *redis.Locker, emitter *events.Emitter, lockTTL, lockWait time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Service{
		store:    store,
		locker:   locker,
		emitter:  emitter,
		logger:   logger,
		lockTTL:  lockTTL,
		lockWait: lockWait,
	}
}

// identifyResult carries what happened inside the transaction so events and
// metrics can be published after commit
type identifyResult struct {
	view       *models.ClusterView
	created    *models.Contact
	demotedIDs []int64
	merged     bool
}

// Identify reconciles an (email, phoneNumber) pair against the stored
// contacts and returns the consolidated cluster view. All reads and writes
// after the initial match happen inside one transaction, so the returned
// view reflects exactly the state this request committed.
func (s *Service) Identify(ctx context.Context, req models.IdentifyRequest) (*models.ClusterView, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.Identify")
	defer span.End()

	start := time.Now()

	req.Normalize()
	if req.Email == nil && req.PhoneNumber == nil {
		metrics.IdentifyRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "email or phoneNumber is required")
	}

	matches, err := s.store.FindByEmailOrPhone(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		metrics.IdentifyRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	rootIDs := RootIDs(matches)
	release, err := s.lockClusters(ctx, rootIDs)
	if err != nil {
		metrics.IdentifyRequestsTotal.WithLabelValues("lock_timeout").Inc()
		return nil, err
	}
	defer release()

	var result identifyResult
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		return s.reconcile(ctx, req, rootIDs, &result)
	})
	if err != nil {
		metrics.IdentifyRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	s.publish(ctx, &result)

	metrics.IdentifyRequestsTotal.WithLabelValues(s.outcome(&result)).Inc()
	metrics.IdentifyDuration.Observe(time.Since(start).Seconds())

	return result.view, nil
}

// reconcile runs inside the transaction: re-read the touched clusters, apply
// the plan, and project the final cluster state.
func (s *Service) reconcile(ctx context.Context, req models.IdentifyRequest, rootIDs []int64, result *identifyResult) error {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Service.reconcile")
	defer span.End()

	// Fresh read inside the transaction; the pre-lock match may be stale
	candidates, err := s.store.GetClusters(ctx, rootIDs)
	if err != nil {
		return err
	}

	// A concurrent merge may have re-parented a matched cluster under a root
	// this request never saw. Links are one level deep, so re-reading against
	// the roots of the fresh rows lands on current cluster state.
	if fresh := RootIDs(candidates); !sameIDs(fresh, rootIDs) {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"matched_roots": rootIDs,
			"current_roots": fresh,
		}).Info("Cluster roots moved since match, re-reading")
		candidates, err = s.store.GetClusters(ctx, fresh)
		if err != nil {
			return err
		}
	}

	plan := BuildPlan(req.Email, req.PhoneNumber, candidates)

	if plan.CreatePrimary {
		created, err := s.store.Create(ctx, req.Email, req.PhoneNumber, nil, models.LinkPrecedencePrimary)
		if err != nil {
			return err
		}
		result.created = created
		view, err := BuildClusterView([]models.Contact{*created})
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "contact cluster is inconsistent")
		}
		result.view = view
		return nil
	}

	if len(plan.DemoteIDs) > 0 {
		demoted, err := s.store.Demote(ctx, plan.DemoteIDs, plan.RootID)
		if err != nil {
			return err
		}
		result.demotedIDs = plan.DemoteIDs
		result.merged = true
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"root_id": plan.RootID,
			"count":   demoted,
		}).Info("Merged contact clusters")
	}

	if plan.CreateSecondary {
		linkedID := plan.RootID
		created, err := s.store.Create(ctx, req.Email, req.PhoneNumber, &linkedID, models.LinkPrecedenceSecondary)
		if err != nil {
			return err
		}
		result.created = created
	}

	// Re-read and project inside the same transaction so the response
	// reflects the committed state
	cluster, err := s.store.GetCluster(ctx, plan.RootID)
	if err != nil {
		return err
	}

	view, err := BuildClusterView(cluster)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("root_id", plan.RootID).Error("Contact cluster failed consistency check")
		return httperror.NewHTTPError(http.StatusInternalServerError, "contact cluster is inconsistent")
	}
	result.view = view
	return nil
}

// lockClusters acquires the per-cluster locks in ascending root id order so
// concurrent merges of overlapping clusters cannot deadlock
func (s *Service) lockClusters(ctx context.Context, rootIDs []int64) (func(), error) {
	if s.locker == nil || len(rootIDs) == 0 {
		return func() {}, nil
	}

	locks := make([]*redis.Lock, 0, len(rootIDs))
	release := func() {
		for i := len(locks) - 1; i >= 0; i-- {
			if err := locks[i].Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to release cluster lock")
			}
		}
	}

	for _, id := range rootIDs {
		lock, err := s.locker.TryAcquire(ctx, "contact-cluster:"+strconv.FormatInt(id, 10), s.lockTTL, s.lockWait)
		if err != nil {
			release()
			metrics.LockAcquisitionFailuresTotal.Inc()
			s.logger.WithContext(ctx).WithError(err).WithField("root_id", id).Warn("Failed to acquire cluster lock")
			return nil, httperror.NewHTTPError(http.StatusConflict, "contact cluster is being updated, retry the request")
		}
		locks = append(locks, lock)
	}

	return release, nil
}

// publish emits events and counters for the committed changes
func (s *Service) publish(ctx context.Context, result *identifyResult) {
	if result.created != nil {
		metrics.ContactsCreatedTotal.WithLabelValues(string(result.created.LinkPrecedence)).Inc()
	}
	if result.merged {
		metrics.ClusterMergesTotal.Inc()
		metrics.ContactsDemotedTotal.Add(float64(len(result.demotedIDs)))
	}

	if s.emitter == nil {
		return
	}

	// Event publishing is best effort; the reconciliation already committed
	if result.created != nil {
		if result.created.IsPrimary() {
			if err := s.emitter.EmitContactCreated(ctx, result.created); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish contact.created event")
			}
		} else {
			if err := s.emitter.EmitContactLinked(ctx, result.created); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish contact.linked event")
			}
		}
	}
	if result.merged && result.view != nil {
		if err := s.emitter.EmitClusterMerged(ctx, result.view.PrimaryContactID, result.demotedIDs, result.view); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish cluster.merged event")
		}
	}
}

func (s *Service) outcome(result *identifyResult) string {
	switch {
	case result.merged:
		return "merged"
	case result.created != nil && result.created.IsPrimary():
		return "created_primary"
	case result.created != nil:
		return "created_secondary"
	default:
		return "noop"
	}
}

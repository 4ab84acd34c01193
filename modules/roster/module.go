package roster

import (
	"github.com/pkg/errors"

	"github.com/iota-uz/roster/modules/roster/domain/normalize"
	"github.com/iota-uz/roster/modules/roster/infrastructure/locking"
	"github.com/iota-uz/roster/modules/roster/infrastructure/persistence"
	"github.com/iota-uz/roster/modules/roster/presentation/controllers"
	"github.com/iota-uz/roster/modules/roster/services"
	"github.com/iota-uz/roster/pkg/application"
	"github.com/iota-uz/roster/pkg/authz"
	"github.com/iota-uz/roster/pkg/composables"
	"github.com/iota-uz/roster/pkg/configuration"
)

type ModuleOptions struct {
	Config *configuration.Configuration
	Policy *configuration.Policy
	// Authz may be nil; every route is then open and nobody is a full
	// administrator.
	Authz *authz.Service
	// Redis is required when the import lock backend is redis.
	Redis locking.Client
}

func NewModule(opts ModuleOptions) application.Module {
	return &Module{opts: opts}
}

type Module struct {
	opts ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	cfg := m.opts.Config
	if cfg == nil {
		return errors.New("roster module: configuration is required")
	}
	policy := m.opts.Policy
	if policy == nil {
		policy = &configuration.Policy{}
	}
	ladder, err := services.LadderFromPolicy(policy)
	if err != nil {
		return errors.Wrap(err, "roster module: scope ladder")
	}
	locker, err := m.importLocker(cfg)
	if err != nil {
		return err
	}

	var (
		tx          = composables.PoolTransactor{Pool: app.DB()}
		members     = persistence.NewMemberRepository()
		deltas      = persistence.NewDeltaRepository()
		adjustments = persistence.NewAdjustmentRepository()
		audit       = persistence.NewAuditRepository()
		notifier    = app.EventPublisher()
	)
	var admin services.Authorizer
	if m.opts.Authz != nil {
		admin = m.opts.Authz
	}

	matcher := services.NewStructureMatcher(persistence.NewStructureRepository(), normalize.New(policy.Abbreviations))
	app.RegisterServices(
		matcher,
		services.NewScopeService(ladder),
		services.NewImportService(services.ImportDeps{
			Tx:        tx,
			Locker:    locker,
			Members:   members,
			Snapshots: persistence.NewSnapshotRepository(),
			Deltas:    deltas,
			Matcher:   matcher,
			Notifier:  notifier,
		}, services.ImportOptions{
			RelationWindow: cfg.Roster.RelationWindow,
			MaxRows:        cfg.Roster.MaxImportRows,
			DefaultScope:   cfg.Roster.DefaultScope,
		}),
		services.NewDeltaService(services.DeltaDeps{
			Tx:          tx,
			Deltas:      deltas,
			Members:     members,
			Adjustments: adjustments,
			Audit:       audit,
			Authz:       admin,
			Notifier:    notifier,
		}, services.DeltaOptions{PreviewTTL: cfg.Roster.BulkPreviewTTL}),
		services.NewMemberService(tx, members, audit),
		services.NewApprovalService(services.ApprovalDeps{
			Tx:        tx,
			Approvals: persistence.NewApprovalRepository(),
			Members:   members,
			Audit:     audit,
			Notifier:  notifier,
		}),
		services.NewAdjustmentService(adjustments, admin, audit),
	)

	subscribeEventLog(app)

	var authorizer controllers.Authorizer
	if m.opts.Authz != nil {
		authorizer = m.opts.Authz
	}
	app.RegisterControllers(
		controllers.NewRosterAPIController(app, authorizer, cfg.Roster.APIPrefix),
	)
	return nil
}

func (m *Module) importLocker(cfg *configuration.Configuration) (services.ImportLocker, error) {
	switch cfg.Roster.ImportLock {
	case configuration.LockBackendRedis:
		if m.opts.Redis == nil {
			return nil, errors.New("roster module: redis lock backend selected but no redis client given")
		}
		return locking.NewRedisLocker(m.opts.Redis, cfg.Roster.ImportLockTTL), nil
	default:
		return persistence.NewAdvisoryLocker(), nil
	}
}

func (m *Module) Name() string {
	return "roster"
}

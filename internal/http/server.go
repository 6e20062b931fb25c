package httpapi

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/example/ride-coordination/internal/config"
	"github.com/example/ride-coordination/internal/eta"
	"github.com/example/ride-coordination/internal/fare"
	"github.com/example/ride-coordination/internal/geo"
	"github.com/example/ride-coordination/internal/ingest"
	"github.com/example/ride-coordination/internal/lifecycle"
	"github.com/example/ride-coordination/internal/match"
	"github.com/example/ride-coordination/internal/notify"
	"github.com/example/ride-coordination/internal/payments"
	"github.com/example/ride-coordination/internal/storage"
	"github.com/example/ride-coordination/internal/track"
)

// Server wires the coordination core behind the REST surface the dashboards
// consume.
type Server struct {
	cfg       config.ServerConfig
	logger    *slog.Logger
	validate  *validator.Validate
	geoIndex  geo.Index
	estimator *fare.Estimator
	matcher   *match.Engine
	life      *lifecycle.Service
	rides     storage.RideStore
	drivers   storage.DriverStore
	users     storage.UserStore
	kafka     *ingest.KafkaProducer
	hub       *track.Hub
	email     *notify.EmailChannel
	sms       *notify.SMSChannel
	mux       *mux.Router
}

// NewServer assembles the full service from config. Postgres and Kafka are
// optional: without them the server runs on in-memory stores, which is what
// local development and the tests use.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var (
		rides   storage.RideStore
		drivers storage.DriverStore
		users   storage.UserStore
	)
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		rides, drivers, users = pg, pg, pg
	} else {
		mem := storage.NewMemoryStore()
		rides, drivers, users = mem, mem, mem
	}

	// With a Redis address the match phase reads the GEO mirror the Kafka
	// consumer maintains; otherwise the in-process index serves everything.
	var geoIndex geo.Index
	if cfg.RedisAddr != "" {
		geoIndex = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		geoIndex = geo.NewMemIndex()
	}

	estimator := &fare.Estimator{BaseFare: cfg.BaseFare, PerKmRate: cfg.PerKmRate, MinFare: cfg.MinFare}

	hub := track.NewHub(logger)

	matcher := match.NewEngine(geoIndex, logger)
	matcher.Offers = hub
	matcher.DefaultSpeedMps = cfg.DefaultSpeedMps
	if cfg.OSRMEndpoint != "" {
		matcher.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		matcher.ETACache = eta.NewCache(cfg.ETACacheTTL)
	}

	var email *notify.EmailChannel
	var sms *notify.SMSChannel
	channels := []notify.Channel{}
	if cfg.EmailAPIKey != "" {
		email = notify.NewEmailChannel(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom)
		channels = append(channels, email)
	}
	if cfg.SMSAccountSID != "" {
		sms = notify.NewSMSChannel(cfg.SMSEndpoint, cfg.SMSAccountSID, cfg.SMSAuthToken, cfg.SMSFrom)
		channels = append(channels, sms)
	}

	life := lifecycle.New(rides, drivers, estimator, geoIndex, logger)
	life.Notifier = notify.NewDispatcher(logger, channels...)
	if cfg.StripeAPIKey != "" {
		life.Payments = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		validate:  validator.New(),
		geoIndex:  geoIndex,
		estimator: estimator,
		matcher:   matcher,
		life:      life,
		rides:     rides,
		drivers:   drivers,
		users:     users,
		kafka:     kp,
		hub:       hub,
		email:     email,
		sms:       sms,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

// Close flushes the Kafka writer and drains in-flight notifications.
func (s *Server) Close() error {
	if s.life.Notifier != nil {
		s.life.Notifier.Drain()
	}
	if s.kafka != nil {
		return s.kafka.Close()
	}
	return nil
}

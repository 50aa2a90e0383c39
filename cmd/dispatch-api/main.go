// README: Entry point; loads config, wires stores and the engine, starts HTTP and background schedules.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/lock"
	"dispatch/internal/maps"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/allocation"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/eta"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/planner"
	"dispatch/internal/modules/scheduler"
	"dispatch/internal/modules/traveltime"
	"dispatch/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	metrics.Register()
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Firebase backs auth, push notifications and the firestore store. Only the
	// memory store may run without it.
	var (
		app      *firebase.App
		verifier infra.TokenVerifier
		notifier allocation.Notifier
	)
	switch {
	case cfg.Firebase.ProjectID != "":
		app, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			log.Fatalf("firebase init: %v", err)
		}
		verifier, err = infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			log.Fatalf("firebase auth: %v", err)
		}
		messaging, err := infra.NewMessaging(ctx, app)
		if err != nil {
			log.Fatalf("firebase messaging: %v", err)
		}
		notifier = location.NewFCMNotifier(messaging)
	case cfg.Store == config.StoreMemory:
		log.Printf("main: WARNING no firebase project; trusting bearer tokens as uid[:role] and skipping push notifications")
		verifier = infra.LocalVerifier{}
	default:
		log.Fatal("DISPATCH_FIREBASE_PROJECT_ID is required unless DISPATCH_STORE=memory")
	}

	clock := types.SystemClock{}

	// Stores.
	var (
		driverRepo driver.Repository
		orderRepo  order.Repository
		committer  allocation.Committer
	)
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		ds, ostore := driver.NewStore(pool), order.NewStore(pool)
		driverRepo, orderRepo = ds, ostore
		committer = allocation.NewPostgresCommitter(pool, ds, ostore)
	case config.StoreFirestore:
		fs, err := infra.NewFirestore(ctx, app)
		if err != nil {
			log.Fatal(err)
		}
		defer fs.Close()
		driverRepo, orderRepo = driver.NewFirestoreStore(fs), order.NewFirestoreStore(fs)
		committer = allocation.NewCompensatingCommitter(driverRepo, orderRepo)
	case config.StoreMemory:
		log.Printf("main: using in-memory stores; data is lost on exit")
		driverRepo, orderRepo = driver.NewMemoryStore(), order.NewMemoryStore()
		committer = allocation.NewCompensatingCommitter(driverRepo, orderRepo)
	}

	// Redis-backed cache, locks and live positions, or process-local fallbacks.
	var (
		rdb           *redis.Client
		cache         traveltime.Cache = traveltime.NewMemoryCache()
		locker        lock.Locker      = lock.NewKeyedMutex()
		locationStore *location.Store
	)
	if cfg.Redis.Enabled {
		rdb = infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		cache = traveltime.NewRedisCache(rdb)
		locker = lock.NewRedisLocker(rdb, 0)
		locationStore = location.NewStore(rdb)
	}

	// Maps collaborators.
	var (
		provider traveltime.Provider = maps.StraightLineDistance{}
		geocoder order.Geocoder      = maps.CoordinateGeocoder{}
	)
	if cfg.Maps.APIKey != "" {
		distance, err := maps.NewDistanceService(cfg.Maps.APIKey, cfg.Maps.QPS, cfg.Maps.Timeout)
		if err != nil {
			log.Fatal(err)
		}
		geocode, err := maps.NewGeocodeService(cfg.Maps.APIKey, cfg.Maps.QPS, cfg.Maps.Timeout)
		if err != nil {
			log.Fatal(err)
		}
		provider, geocoder = distance, geocode
	} else {
		log.Printf("main: DISPATCH_MAPS_API_KEY not set; using straight-line travel times and lat,lng addresses")
	}

	oracle := traveltime.NewOracle(provider, cache, clock)
	pl := planner.New(oracle, clock, planner.Config{
		ServiceTime:   cfg.Planner.ServiceTime,
		RatingBonusMs: cfg.Planner.RatingBonusMs,
		Trace:         cfg.Planner.Trace,
	})

	driverSvc := driver.NewService(driverRepo, locker, clock)
	orderSvc := order.NewService(orderRepo, geocoder, driverSvc, clock)
	locationSvc := location.NewService(locationStore, driverRepo)
	allocSvc := allocation.NewService(allocation.Deps{
		Orders:    orderRepo,
		Drivers:   driverRepo,
		Planner:   pl,
		Committer: committer,
		Locker:    locker,
		Geocoder:  geocoder,
		Positions: locationSvc,
		Notifier:  notifier,
	}, allocation.Config{Concurrency: cfg.Planner.Concurrency, MaxAttempts: cfg.Planner.MaxAttempts})
	etaSvc := eta.NewService(driverRepo, orderRepo, pl, locker, locationSvc)

	jobs, err := scheduler.NewBackground(scheduler.Config{
		EtaIntervalSeconds:    cfg.Scheduler.EtaIntervalSeconds,
		RatingIntervalSeconds: cfg.Scheduler.RatingIntervalSeconds,
		RetryHourlyAligned:    cfg.Scheduler.RetryHourlyAligned,
	}, scheduler.Jobs{
		RetrySweep: func(ctx context.Context) error {
			_, err := allocSvc.RunRetrySweep(ctx)
			return err
		},
		ETARecalc: func(ctx context.Context) error {
			_, err := etaSvc.RunOnce(ctx)
			return err
		},
		RatingRefresh: func(ctx context.Context) error {
			_, err := driverSvc.RefreshRatings(ctx)
			return err
		},
	})
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Scheduler.Enabled {
		jobs.Start(ctx)
		defer jobs.Stop()
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:  verifier,
		Orders:    orderSvc,
		Allocator: allocSvc,
		ETA:       etaSvc,
		Drivers:   driverSvc,
		Location:  locationSvc,
		Jobs:      jobs,
	})
	if err := httptransport.NewServer(cfg.HTTP.Addr, router).Run(ctx); err != nil {
		log.Fatal(err)
	}
}

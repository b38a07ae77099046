package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/config"
	"github.com/chachabrian/bikeshare-backend/internal/database"
	"github.com/chachabrian/bikeshare-backend/internal/gateway"
	"github.com/chachabrian/bikeshare-backend/internal/handlers"
	"github.com/chachabrian/bikeshare-backend/internal/middleware"
	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/chachabrian/bikeshare-backend/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file to load if present")
	engineFile := flag.String("engine-config", "", "YAML file with booking engine settings")
	memory := flag.Bool("memory", false, "keep all state in memory instead of postgres")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(*envFile); err != nil {
		logger.WithField("file", *envFile).Debug("no env file loaded")
	}

	cfg, err := config.Load(*engineFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store database.Store
	if *memory {
		mem := database.NewMemoryStore()
		if err := seedDemo(ctx, mem, logger); err != nil {
			logger.WithError(err).Fatal("Failed to seed memory store")
		}
		store = mem
	} else {
		db, err := database.InitDB(cfg.Database)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize database")
		}
		store = database.NewGormStore(db)
	}

	var gw gateway.Gateway
	if cfg.Stripe.SecretKey != "" {
		gw, err = gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Stripe")
		}
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, card payments use the sandbox gateway")
		gw = gateway.NewSandbox(cfg.JWTSecret, cfg.BaseURL+"/sandbox/checkout")
	}

	events := services.NewEventHub(store, logger, cfg.Engine.EventBatchSize)
	ledger := services.NewInventoryLedger(store, logger)
	payments := services.NewPaymentCoordinator(store, gw, cfg.Engine, logger).WithContext(ctx)
	machine := services.NewBookingMachine(store, ledger, payments, events, cfg.Engine, logger)
	assessments := services.NewAssessmentModule(store, payments, events, logger)
	partners := services.NewPartnerApprovals(store, logger)

	var locker services.Locker
	if cfg.RedisURL != "" {
		client, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Redis")
		}
		defer client.Close()
		relay := services.NewRedisRelay(client, events, logger)
		events.AddSink(relay)
		locker = relay
		go relay.Listen(ctx)
	}

	var sender services.MessageSender
	fcm, err := services.NewMessagingClient(ctx, cfg.FirebasePath)
	if err != nil {
		logger.WithError(err).Warn("Firebase initialization failed, push notifications disabled")
	} else if fcm != nil {
		sender = fcm
	}
	push := services.NewPushNotifier(store, sender, logger)
	if sender != nil {
		events.AddSink(push)
	}

	storage, err := services.NewPhotoStorage(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}

	hub := services.NewHub(events, logger)
	go hub.Run(ctx)
	go services.NewSweeper(machine, cfg.Engine.SweepInterval, locker, logger).Run(ctx)

	r := gin.New()
	r.Use(middleware.RequestLogger(logger), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(corsConfig))

	r.Static("/uploads", cfg.UploadDir)

	handlers.Routes(r, handlers.Deps{
		Store:       store,
		Machine:     machine,
		Payments:    payments,
		Ledger:      ledger,
		Assessments: assessments,
		Partners:    partners,
		Events:      events,
		Hub:         hub,
		Storage:     storage,
		Push:        push,
		JWTSecret:   cfg.JWTSecret,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	payments.Wait()
}

// seedDemo gives an in-memory server an admin, a rider, two partners and a
// bike so the API can be exercised right away.
func seedDemo(ctx context.Context, store database.Store, logger *logrus.Logger) error {
	admin := &models.User{Username: "admin", Email: "admin@example.com", Role: models.RoleAdmin}
	rider := &models.User{Username: "rider", Email: "rider@example.com", Role: models.RoleRider}
	for _, u := range []*models.User{admin, rider} {
		if err := store.CreateUser(ctx, u); err != nil {
			return err
		}
	}

	var partnerIDs []uint
	for _, name := range []string{"Harbour Cycles", "Station Bikes"} {
		owner := &models.User{Username: name, Email: name + "@example.com", Role: models.RolePartner}
		if err := store.CreateUser(ctx, owner); err != nil {
			return err
		}
		partner := &models.Partner{OwnerUserID: owner.ID, BusinessName: name, Status: models.PartnerActive}
		if err := store.CreatePartner(ctx, partner); err != nil {
			return err
		}
		partnerIDs = append(partnerIDs, partner.ID)
		logger.WithFields(logrus.Fields{"userId": owner.ID, "partnerId": partner.ID}).Info("demo partner")
	}

	bike := &models.Bike{Name: "City Cruiser", CurrentPartnerID: partnerIDs[0], PricePerDay: 1500, DeliveryFee: 300}
	if err := store.CreateBike(ctx, bike); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"adminId": admin.ID,
		"riderId": rider.ID,
		"bikeId":  bike.ID,
	}).Info("demo data seeded")
	return nil
}

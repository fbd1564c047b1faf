package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/varad2005/healthnova-consult/internal/config"
	"github.com/varad2005/healthnova-consult/internal/dtos"
	"github.com/varad2005/healthnova-consult/internal/handlers"
	"github.com/varad2005/healthnova-consult/internal/models"
	"github.com/varad2005/healthnova-consult/internal/repositories"
	"github.com/varad2005/healthnova-consult/internal/routes"
	"github.com/varad2005/healthnova-consult/internal/services"
	"github.com/varad2005/healthnova-consult/internal/websocket"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// .env is optional; the environment wins over it either way
	_ = godotenv.Load()
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if err := dtos.RegisterValidators(); err != nil {
		log.Fatal().Err(err).Msg("registering validators failed")
	}

	var (
		db           *sql.DB
		meetings     repositories.MeetingRepository
		appointments repositories.AppointmentDirectory
		audit        repositories.AuditRepository
	)

	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("opening database failed")
		}

		pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancelPing()
		if err != nil {
			log.Fatal().Err(err).Msg("database unreachable")
		}

		if err := repositories.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}

		meetings = repositories.NewPostgresMeetingRepository(db)
		appointments = repositories.NewPostgresAppointmentDirectory(db)
		audit = repositories.NewPostgresAuditRepository(db)
		log.Info().Str("module", "boot").Msg("postgres store ready")
	} else {
		memAppts := repositories.NewMemoryAppointmentDirectory()
		seedDevAppointments(memAppts)

		meetings = repositories.NewMemoryMeetingRepository()
		appointments = memAppts
		audit = repositories.NewMemoryAuditRepository()
		log.Warn().Str("module", "boot").
			Msg("DATABASE_URL not set, using the in-memory store")
	}

	hub := websocket.NewHub()
	gate := services.NewAccessGate(meetings, audit)
	svc := services.NewMeetingService(meetings, appointments, gate, hub, cfg.RoomSecret, cfg.PatientGrace)
	hub.SetPresenceListener(svc)

	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	healthHandler := handlers.NewHealthHandler(db)
	meetingHandler := handlers.NewMeetingHandler(svc)
	wsHandler := handlers.NewWebSocketHandler(svc, hub, cfg.ReadWait, cfg.WriteWait)

	routes.RegisterPublicEndpoints(router, healthHandler, wsHandler, svc, cfg.JWTSecret)
	routes.RegisterProtectedEndpoints(router, meetingHandler, cfg.JWTSecret)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Info().Str("module", "boot").Str("addr", cfg.ListenAddr).Msg("consultation server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "boot").Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// live consultations get a farewell before the listener goes away
	svc.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}
	if db != nil {
		db.Close()
	}
	log.Info().Str("module", "boot").Msg("server exited")
}

// corsConfig mirrors the permissive-with-credentials development CORS:
// a lone "*" echoes any origin back, anything else is an allow list.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if len(origins) == 1 && origins[0] == "*" {
		c.AllowOriginFunc = func(string) bool { return true }
		return c
	}

	c.AllowOrigins = origins
	return c
}

// seedDevAppointments gives the in-memory store something to consult
// about, so a bare dev server is usable without a booking system.
func seedDevAppointments(appts *repositories.MemoryAppointmentDirectory) {
	now := time.Now()

	appts.Seed(&models.Appointment{
		ID:          1001,
		DoctorID:    1,
		PatientID:   2,
		ScheduledAt: now.Add(30 * time.Minute),
	})
	appts.Seed(&models.Appointment{
		ID:          1002,
		DoctorID:    1,
		PatientID:   3,
		ScheduledAt: now.Add(2 * time.Hour),
	})

	log.Info().Str("module", "boot").
		Msg("seeded development appointments 1001 and 1002")
}

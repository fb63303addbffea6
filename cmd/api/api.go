package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mindhaven/mindhaven-server/service/appointment"
	"github.com/mindhaven/mindhaven-server/service/articles"
	"github.com/mindhaven/mindhaven-server/service/availability"
	"github.com/mindhaven/mindhaven-server/service/chats"
	notification "github.com/mindhaven/mindhaven-server/service/notifications"
	"github.com/mindhaven/mindhaven-server/service/notify"
	"github.com/mindhaven/mindhaven-server/service/presence"
	"github.com/mindhaven/mindhaven-server/service/scheduler"
	"github.com/mindhaven/mindhaven-server/service/session"
	"github.com/mindhaven/mindhaven-server/service/user"
	"github.com/mindhaven/mindhaven-server/service/ws"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type APIServer struct {
	address   string
	db        *gorm.DB
	rdb       *redis.Client
	scheduler *scheduler.Scheduler
}

// NewApiServer wires the HTTP API. rdb may be nil; presence tracking and
// notification dedup then fall back to in-process stores.
func NewApiServer(address string, db *gorm.DB, rdb *redis.Client) *APIServer {
	return &APIServer{
		address:   address,
		db:        db,
		rdb:       rdb,
		scheduler: scheduler.New(),
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	var pres presence.Store
	var seen notify.SeenStore
	if s.rdb != nil {
		pres = presence.NewRedisStore(s.rdb)
		seen = notify.NewRedisSeen(s.rdb)
	} else {
		pres = presence.NewMemoryStore()
		seen = notify.NewMemorySeen()
	}

	hub := ws.NewHub(s.db, pres)
	fanout := notify.NewFanout(notify.NewGormStore(s.db), notify.NewExpoPusher(s.db), hub, seen)

	sessionStore := session.NewGormStore(s.db)
	coordinator := session.NewCoordinator(sessionStore, pres, hub, fanout)
	hub.SetCoordinator(coordinator)

	userHandler := user.NewHandler(s.db)
	userHandler.RegisterRoutes(subrouter)

	appointmentHandler := appointment.NewAppointmentHandler(s.db, fanout)
	appointmentHandler.RegisterRoutes(subrouter)

	availabilityHandler := availability.NewAvailabilityHandler(s.db, fanout)
	availabilityHandler.RegisterRoutes(subrouter)

	sessionHandler := session.NewHandler(coordinator, sessionStore, pres)
	sessionHandler.RegisterRoutes(subrouter)

	articleHandler := articles.NewArticleHandler(s.db)
	articleHandler.RegisterRoutes(subrouter)

	chatHandler := chats.NewHandler(s.db)
	chatHandler.RegisterRoutes(subrouter)

	notificationHandler := notification.NewNotificationHandler(s.db)
	notificationHandler.RegisterRoutes(subrouter)

	wsHandler := ws.NewHandler(hub)
	wsHandler.RegisterRoutes(router)

	reminders := notify.NewReminderScan(s.db, fanout)
	s.scheduler.Add("appointment-scan", 60*time.Second, reminders.Run)
	s.scheduler.Add("presence-sweep", 30*time.Second, func(ctx context.Context) {
		if err := pres.Sweep(ctx); err != nil {
			log.Printf("presence sweep: %v", err)
		}
	})
	s.scheduler.Start()

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	handler := handlers.RecoveryHandler()(cors(handlers.LoggingHandler(os.Stdout, router)))

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, handler)
}

// Stop shuts down the background jobs. The HTTP listener dies with the
// process.
func (s *APIServer) Stop() {
	s.scheduler.Stop()
}

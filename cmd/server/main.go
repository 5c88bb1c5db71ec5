package main

import (
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pulse-server/internal/access"
	"pulse-server/internal/auth"
	"pulse-server/internal/config"
	"pulse-server/internal/db"
	"pulse-server/internal/fanout"
	"pulse-server/internal/handlers"
	"pulse-server/internal/metrics"
	"pulse-server/internal/middleware"
	"pulse-server/internal/registry"
	"pulse-server/internal/store"
	"pulse-server/internal/ws"
)

func main() {
	configPath := os.Getenv("PULSE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	conf, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	gormDB, err := db.Open(conf.Database)
	if err != nil {
		log.Fatalf("database open failed: %v", err)
	}

	if err := gormDB.AutoMigrate(store.Models()...); err != nil {
		log.Fatalf("schema migration failed: %v", err)
	}

	st := store.New(gormDB)
	seedIfEmpty(gormDB)

	sessions := registry.New()
	resolver := access.NewResolver(st, conf.ClientSecret)
	engine := fanout.NewEngine(st, sessions, resolver)
	tokens := auth.NewTokens(conf.JWTSecret)
	api := handlers.NewAPI(st, sessions, engine, resolver)
	wsHandler := ws.NewHandler(tokens, st, sessions)

	globalLimit := middleware.NewRateLimitStore(120, 500*time.Millisecond)
	messageLimit := middleware.NewRateLimitStore(30, 2*time.Second)

	requireAuth := middleware.RequireAuth(tokens)
	requireSecret := middleware.RequireClientSecret(conf.ClientSecret)
	limited := middleware.RateLimit(globalLimit)
	messageLimited := middleware.RateLimit(messageLimit)

	r := mux.NewRouter()

	r.Handle("/ws", wsHandler)
	r.Handle("/metrics", metrics.Handler())

	// Message endpoints
	r.HandleFunc("/messages/send", messageLimited(requireAuth(api.SendMessage))).Methods(http.MethodPost)
	r.HandleFunc("/messages/edit", limited(requireAuth(api.EditMessage))).Methods(http.MethodPost)
	r.HandleFunc("/messages/delete", limited(requireAuth(api.DeleteMessage))).Methods(http.MethodPost)
	r.HandleFunc("/messages", limited(requireAuth(api.GetMessages))).Methods(http.MethodGet)
	r.HandleFunc("/messages/search", limited(requireAuth(api.SearchMessages))).Methods(http.MethodGet)
	r.HandleFunc("/messages/seen", limited(requireAuth(api.MarkSeen))).Methods(http.MethodPost)

	// Presence endpoints
	r.HandleFunc("/presence/connected", limited(requireAuth(api.GetConnected))).Methods(http.MethodGet)
	r.HandleFunc("/presence/typing", limited(requireAuth(api.Typing))).Methods(http.MethodPost)

	// Trusted-caller endpoints
	r.HandleFunc("/auth/token", limited(requireSecret(api.IssueToken(tokens)))).Methods(http.MethodPost)
	r.HandleFunc("/events/channel", requireSecret(api.NotifyChannel)).Methods(http.MethodPost)
	r.HandleFunc("/events/role", requireSecret(api.NotifyRoleChange)).Methods(http.MethodPost)
	r.HandleFunc("/events/organization", requireSecret(api.NotifyOrganization)).Methods(http.MethodPost)
	r.HandleFunc("/events/direct", requireSecret(api.NotifyDirect)).Methods(http.MethodPost)

	handler := middleware.CORS(middleware.Logging(r))

	log.WithField("port", conf.Port).Info("server listening")
	log.Fatal(http.ListenAndServe(conf.Port, handler))
}

// seedIfEmpty bootstraps a first organization with an administrator so a
// fresh database is usable without manual inserts.
func seedIfEmpty(gormDB *gorm.DB) {
	var count int64
	if err := gormDB.Model(&store.Organization{}).Count(&count).Error; err != nil {
		log.WithError(err).Warn("seed check failed")
		return
	}
	if count > 0 {
		return
	}

	org := &store.Organization{ID: uuid.New(), Name: "Default"}
	adminRole := &store.Role{
		ID:             uuid.New(),
		Name:           "administrator",
		Administrator:  true,
		OrganizationID: org.ID,
	}
	admin := &store.User{
		ID:             uuid.New(),
		Username:       "admin",
		DisplayName:    "Administrator",
		OrganizationID: org.ID,
	}
	grant := &store.UserRoleAccess{ID: uuid.New(), UserID: admin.ID, RoleID: adminRole.ID}
	general := &store.Channel{ID: uuid.New(), Name: "general", OrganizationID: org.ID}
	channelGrant := &store.ChannelRoleAccess{
		ID:        uuid.New(),
		ChannelID: general.ID,
		RoleID:    adminRole.ID,
		CanRead:   true,
		CanWrite:  true,
	}

	err := gormDB.Transaction(func(tx *gorm.DB) error {
		for _, record := range []interface{}{org, adminRole, admin, grant, general, channelGrant} {
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("seed failed")
		return
	}

	log.WithFields(log.Fields{
		"organization": org.ID,
		"admin_user":   admin.ID,
	}).Info("seeded default organization")
}

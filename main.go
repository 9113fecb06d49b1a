package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"whisperchat/internal/auth"
	"whisperchat/internal/config"
	"whisperchat/internal/files"
	"whisperchat/internal/handlers"
	"whisperchat/internal/middleware"
	"whisperchat/internal/session"
	"whisperchat/internal/store/sqlstore"
	"whisperchat/internal/summary"
	"whisperchat/internal/sweeper"
	"whisperchat/internal/ws"
)

var configPath = flag.String("config", "config.yaml", "path to config file")

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	st, err := sqlstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	storage, err := files.NewStorage(cfg.Files.RootDir)
	if err != nil {
		log.Fatal(err)
	}

	tokens := auth.NewTokens(cfg.Server.JWTSecret)
	registry := session.NewRegistry()
	router := ws.NewRouter(st, registry, storage)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := sweeper.New(st, storage, router, cfg.Burn.SweepInterval)
	go sw.Run(ctx)

	if cfg.Summary.Enabled {
		go summary.New(st, router, cfg.Summary.Time).Run(ctx)
	}

	authHandler := &handlers.AuthHandler{Store: st, Tokens: tokens}
	userHandler := &handlers.UserHandler{Store: st, Files: storage}
	fileHandler := &handlers.FileHandler{Store: st, Files: storage}

	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/users/{id:[0-9]+}/info", userHandler.GetInfo).Methods("GET")
	r.HandleFunc("/users/publicKey", userHandler.GetPublicKey).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.Auth(tokens))
	authed.HandleFunc("/users/search", authHandler.SearchUsers).Methods("GET")
	authed.HandleFunc("/users/signature", userHandler.SetSignature).Methods("POST")
	authed.HandleFunc("/users/donate", userHandler.Donate).Methods("POST")
	authed.HandleFunc("/users/avatar", userHandler.UploadAvatar).Methods("POST")
	authed.HandleFunc("/users/{id:[0-9]+}/avatar", userHandler.GetAvatar).Methods("GET")
	authed.HandleFunc("/chats/{id:[0-9]+}/avatar", fileHandler.UploadGroupAvatar).Methods("POST")
	authed.HandleFunc("/chats/{id:[0-9]+}/avatar", fileHandler.GetGroupAvatar).Methods("GET")
	authed.HandleFunc("/files/{messageId:[0-9]+}", fileHandler.Upload).Methods("POST")
	authed.HandleFunc("/files/{messageId:[0-9]+}", fileHandler.Download).Methods("GET")

	authed.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		user, err := st.GetUserByID(middleware.UserID(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ws.ServeWS(router, registry, w, r, user)
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Println("Starting server on", cfg.Server.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"diamonds-club/internal/config"
	"diamonds-club/internal/middleware"
	"diamonds-club/internal/relay"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := relay.NewStateStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer store.Close()

	tokens := relay.NewTokenService(cfg.RoomSecret, cfg.TokenTTL)
	manager := relay.NewManager(store, cfg.StartingBalance)
	handler := relay.NewHandler(manager, tokens, store)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(middleware.CORSMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.POST("/join", handler.Join)

	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))
	{
		protected.GET("/ws", handler.ServeWS)
		protected.GET("/events", handler.RecentEvents)
	}

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Relay starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start relay: %v", err)
	}
}

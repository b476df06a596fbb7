package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"formcollab/backend/internal/cache"
	"formcollab/backend/internal/collab"
	"formcollab/backend/internal/httpapi/middleware"
	"formcollab/backend/internal/store"
	"formcollab/backend/internal/ws"
)

type CollabConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"Auth"`
	Collab struct {
		SessionTTLSeconds          int    `mapstructure:"sessionTtlSeconds"`
		ReaperIntervalMinutes      int    `mapstructure:"reaperIntervalMinutes"`
		InactivityThresholdMinutes int    `mapstructure:"inactivityThresholdMinutes"`
		DefaultPolicy              string `mapstructure:"defaultPolicy"`
	} `mapstructure:"Collab"`
}

func initConfig() (*CollabConfig, error) {
	cfg := &CollabConfig{}
	v := viper.New()
	v.SetConfigName("formCollabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	log.Printf("config: %+v", cfg)

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	archive, err := store.NewChangeArchive(db)
	if err != nil {
		log.Fatalf("Failed to init change archive: %v", err)
	}

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	kafkaSem := collab.NewSemaphoreControl(0)
	wsSem := collab.NewSemaphoreControl(0)

	// Kafka 本地队列 + worker 重试发送
	dispatcher := collab.NewEventDispatcher(
		producer,
		cfg.Kafka.Topic,
		kafkaSem,
		collab.EventDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	sessionStore := cache.NewRedisSessionStore(rdb)
	hub := ws.NewHub()

	coord := collab.NewCoordinator(sessionStore, hub, archive, dispatcher, collab.CoordinatorOptions{
		SessionTTL:    time.Duration(cfg.Collab.SessionTTLSeconds) * time.Second,
		DefaultPolicy: collab.ConflictPolicy(cfg.Collab.DefaultPolicy),
	})

	reaper := collab.NewReaper(coord,
		time.Duration(cfg.Collab.ReaperIntervalMinutes)*time.Minute,
		time.Duration(cfg.Collab.InactivityThresholdMinutes)*time.Minute,
	)
	reaper.Start()
	defer reaper.Stop()

	manager := ws.NewManager(hub, coord, wsSem)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 路由
	group := r.Group("/collab")
	// 挂鉴权中间件（从 Authorization 或 ?token= 提取 token，调用 /v1/auth/verify，并写入 userId/displayContact）
	group.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	group.GET("/ws", manager.WebSocketConnect)
	group.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.GetStats())
	})
	group.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "ok",
		})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}

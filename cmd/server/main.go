package main

import (
	"whatsdown/internal/auth"
	"whatsdown/internal/config"
	"whatsdown/internal/db"
	clog "whatsdown/internal/log"
	"whatsdown/internal/server"
	"whatsdown/internal/storage"
	"whatsdown/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 负责加载配置、初始化日志、连接数据库、播种静态数据并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	if err := db.Seed(gdb); err != nil {
		log.Fatal().Err(err).Msg("db seed")
	}

	blobs, err := storage.NewFileStore(cfg.AttachmentDir)
	if err != nil {
		log.Fatal().Err(err).Msg("attachment store")
	}
	revoked := auth.NewRevokedStore(cfg.RedisAddr)

	hub := ws.NewHub()
	r := server.SetupRouter(cfg, gdb, hub, revoked, blobs)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}

// Package main provides the arena game server binary: the authoritative game
// loop behind a gRPC session service, a WebSocket endpoint and an optional
// admin endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/frontend/ws"
	"github.com/cory-johannsen/arena/internal/game/clock"
	"github.com/cory-johannsen/arena/internal/game/room"
	"github.com/cory-johannsen/arena/internal/gameserver"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/scripting"
	"github.com/cory-johannsen/arena/internal/server"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

const (
	loopQueue          = 1024
	healthCheckPeriod  = 30 * time.Second
	healthCheckTimeout = 5 * time.Second
	drainTimeout       = 5 * time.Second
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for admin.password_hash and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := gameserver.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("hashing password: %v", err)
		}
		fmt.Fprintln(os.Stdout, hash)
		return
	}

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("name", cfg.Server.Name),
		zap.String("grpc_addr", cfg.GameServer.Addr()),
		zap.String("ws_addr", cfg.WebSocket.Addr()),
	)

	metrics := observability.NewMetrics()
	sched := clock.NewScheduler(clock.SystemClock{})

	rooms := room.NewManager(sched, room.Defaults{
		MaxPlayers:       cfg.Rooms.DefaultMaxPlayers,
		GameMode:         cfg.Rooms.DefaultGameMode,
		StartCountdown:   cfg.Rooms.StartCountdown,
		CleanupInterval:  cfg.Rooms.CleanupInterval,
		EmptyGracePeriod: cfg.Rooms.EmptyGracePeriod,
	}, logger, room.WithOnRoomClosed(func(*room.Room) {
		metrics.Inc(observability.RoomsReaped)
	}))

	if cfg.Rooms.PresetsFile != "" {
		presets, err := room.LoadPresets(cfg.Rooms.PresetsFile)
		if err != nil {
			logger.Fatal("loading room presets", zap.Error(err))
		}
		for _, p := range presets {
			if _, err := rooms.CreateRoom(p); err != nil {
				logger.Fatal("creating preset room", zap.String("room_id", p.ID), zap.Error(err))
			}
			metrics.Inc(observability.RoomsCreated)
		}
		logger.Info("room presets loaded",
			zap.String("file", cfg.Rooms.PresetsFile),
			zap.Int("count", len(presets)),
		)
	}

	opts := []gameserver.Option{
		gameserver.WithMetrics(metrics),
		gameserver.WithRoomDefaults(cfg.Rooms),
	}

	if cfg.Rooms.ScriptsDir != "" {
		scriptStart := time.Now()
		scriptMgr := scripting.NewManager(logger)
		defer scriptMgr.Close()
		if err := scriptMgr.LoadDir(cfg.Rooms.ScriptsDir, scripting.DefaultInstructionLimit); err != nil {
			logger.Fatal("loading game mode scripts", zap.String("dir", cfg.Rooms.ScriptsDir), zap.Error(err))
		}
		opts = append(opts, gameserver.WithScripts(scriptMgr))
		logger.Info("scripting engine initialized",
			zap.Strings("modes", scriptMgr.Modes()),
			zap.Duration("elapsed", time.Since(scriptStart)),
		)
	}

	var (
		pool     *postgres.Pool
		adminOpt []gameserver.AdminOption
	)
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		results := postgres.NewResultRepository(pool.DB())
		opts = append(opts, gameserver.WithRecorder(results))
		adminOpt = append(adminOpt, gameserver.WithResults(results))
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
	}

	handler := gameserver.NewHandler(cfg.Rules, rooms, sched, logger, opts...)
	loop := gameserver.NewLoop(sched, loopQueue, logger)
	gateway := gameserver.NewGateway(loop, handler, cfg.GameServer.CallTimeout, metrics, logger)

	rate := cfg.Rooms.SimulationRate
	if rate <= 0 {
		rate = 60
	}
	ticker := gameserver.NewSimulationTicker(sched, rooms, rate)

	// Armed before the loop runs; from here on only the loop touches them.
	handler.Start()
	ticker.Start()

	lifecycle := server.NewLifecycle(logger)

	// The pool must stop after the game loop: its drain waits on result writes.
	if pool != nil {
		quit := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				t := time.NewTicker(healthCheckPeriod)
				defer t.Stop()
				for {
					select {
					case <-quit:
						return nil
					case <-t.C:
						if err := pool.Health(ctx, healthCheckTimeout); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				close(quit)
				pool.Close()
			},
		})
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	lifecycle.Add("game-loop", &server.FuncService{
		StartFn: func() error { return loop.Run(loopCtx) },
		StopFn: func() {
			drain, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			if err := loop.Do(drain, func() {
				ticker.Stop()
				handler.Stop()
				rooms.Destroy()
			}); err != nil {
				logger.Warn("draining game loop", zap.Error(err))
			}
			stopLoop()
			loop.Stop()
		},
	})

	if cfg.GameServer.Enabled {
		grpcServer := grpc.NewServer()
		gameserver.RegisterGameService(grpcServer, gameserver.NewGameService(gateway, cfg.GameServer.SendBuffer, logger))
		lifecycle.Add("grpc", &server.FuncService{
			StartFn: func() error {
				lis, err := net.Listen("tcp", cfg.GameServer.Addr())
				if err != nil {
					return fmt.Errorf("listening on %s: %w", cfg.GameServer.Addr(), err)
				}
				logger.Info("gRPC server listening",
					zap.String("addr", lis.Addr().String()),
				)
				return grpcServer.Serve(lis)
			},
			StopFn: func() {
				grpcServer.GracefulStop()
			},
		})
	}

	if cfg.WebSocket.Enabled {
		lifecycle.Add("websocket", ws.NewAcceptor(cfg.WebSocket, gateway, logger))
	}

	if cfg.Admin.Enabled {
		if cfg.Admin.PasswordHash == "" {
			logger.Warn("admin endpoint has no password_hash; it is unauthenticated")
		}
		lifecycle.Add("admin", gameserver.NewAdmin(cfg.Admin, loop, handler, rooms, metrics, logger, adminOpt...))
	}

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"assembly-line-sim/internal/api"
	"assembly-line-sim/internal/config"
	"assembly-line-sim/internal/engine"
	"assembly-line-sim/internal/event"
	"assembly-line-sim/internal/forward"
	"assembly-line-sim/internal/graph"
	"assembly-line-sim/internal/handlers"
	"assembly-line-sim/internal/journal"
	"assembly-line-sim/internal/rng"
	"assembly-line-sim/internal/supply"
	"assembly-line-sim/internal/telemetry"
	"assembly-line-sim/internal/tracking"
	"assembly-line-sim/internal/util"
	"assembly-line-sim/internal/web"
)

// vinPrefix 车架号前缀
const vinPrefix = "HMC"

// runFlags 命令行参数覆盖配置文件
type runFlags struct {
	seed         int64
	ticks        int64
	tickInterval int
	parallel     bool
	httpAddr     string
	journalPath  string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the assembly line simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, g, err := loadChecked(root.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := checkConfig(cfg); err != nil {
				return err
			}
			logger, err := newLogger(root.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, cfg, g, logger)
		},
	}
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Master random seed (overrides config)")
	cmd.Flags().Int64Var(&f.ticks, "ticks", 0, "Stop after this many ticks, 0 runs until interrupted")
	cmd.Flags().IntVar(&f.tickInterval, "tick-interval", 0, "Wall-clock milliseconds per tick, 0 runs as fast as possible")
	cmd.Flags().BoolVar(&f.parallel, "parallel", false, "Evaluate stations concurrently within a tick")
	cmd.Flags().StringVar(&f.httpAddr, "http-addr", "", "Listen address for the control API, empty disables it")
	cmd.Flags().StringVar(&f.journalPath, "journal", "", "Append completed and scrapped units to this JSONL file")
	return cmd
}

// apply 只覆盖用户显式给出的参数
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
	if flags.Changed("ticks") {
		cfg.MaxTicks = f.ticks
	}
	if flags.Changed("tick-interval") {
		cfg.TickIntervalMs = f.tickInterval
	}
	if flags.Changed("parallel") {
		cfg.ParallelEvaluate = f.parallel
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = f.httpAddr
	}
	if flags.Changed("journal") {
		cfg.JournalPath = f.journalPath
	}
}

// runSimulation 组装产线和所有协作者，直到达到最大 tick、收到停机信号或产线因不变量停止
func runSimulation(parent context.Context, cfg *config.Config, g *graph.Graph, logger *slog.Logger) error {
	runID := util.NewRunID()
	logger = logger.With("run_id", runID)

	// 1. 随机源：所有子系统在启动阶段派生
	randomness := rng.NewPartitioned(cfg.Seed)
	feed := tracking.NewFeed(vinPrefix, randomness.ForSubsystem(rng.SubsystemTracking))
	supplySrc := randomness.ForSubsystem(rng.SubsystemSupply)

	// 2. 产线与事件总线
	bus := event.NewBus()
	line, err := engine.NewLine(g, engine.Options{
		Policy: cfg.StationPolicy(),
		Production: engine.Production{
			DailyTarget:    cfg.Production.DailyTarget,
			ShiftSeconds:   cfg.Production.ShiftSeconds,
			ShiftsPerDay:   cfg.Production.ShiftsPerDay,
			SecondsPerTick: cfg.Production.SecondsPerTick,
		},
		Seed:       cfg.Seed,
		Randomness: randomness,
		Identity:   feed,
		OrderRules: cfg.WorkOrders,
		Parallel:   cfg.ParallelEvaluate,
		Bus:        bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// 3. 事件处理器
	hub := web.NewHub(logger)
	tracker := web.NewStateTracker(hub)
	deps := handlers.Deps{RunID: runID, Tracker: tracker, Logger: logger}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		deps.Journal = j
	}

	var mqttClient *telemetry.Client
	if cfg.MQTT.Enabled {
		mqttClient = telemetry.NewClient(telemetry.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
			Timeout:  time.Duration(cfg.MQTT.TimeoutMs) * time.Millisecond,
		}, logger)
		if err := mqttClient.Connect(); err != nil {
			return fmt.Errorf("连接 MQTT broker 失败: %w", err)
		}
		defer mqttClient.Close()

		topics := telemetry.Topics{Prefix: cfg.MQTT.TopicPrefix}
		deps.Reporter = telemetry.NewReporter(mqttClient, topics, logger)
		deps.PublishEvery = cfg.MQTT.PublishEvery
		if cfg.MQTT.SubscribeParts {
			listener := telemetry.NewPartsListener(topics, line, logger)
			if err := mqttClient.Subscribe(topics.PartsFilter(), listener.Callback); err != nil {
				return err
			}
		}
	}

	if cfg.Forward.Enabled {
		fc := forward.NewClient(forward.Options{
			BaseURL:    cfg.Forward.BaseURL,
			Timeout:    time.Duration(cfg.Forward.TimeoutMs) * time.Millisecond,
			MaxRetries: cfg.Forward.MaxRetries,
		}, logger)
		if err := fc.HealthCheck(parent); err != nil {
			logger.Warn("MES 健康检查失败，仍会按周期推送", "error", err)
		}
		deps.Forwarder = fc
		deps.ForwardEvery = cfg.Forward.EveryTicks
	}
	handlers.RegisterEventHandlers(bus, deps)

	// 4. 启动：仿真主循环结束时取消其余协作者
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	grp, gctx := errgroup.WithContext(ctx)

	runner := engine.NewRunner(line, cfg.TickInterval(), cfg.MaxTicks, logger)
	grp.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})
	grp.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	var sim *supply.Simulator
	if cfg.Supply.Enabled {
		sim = supply.NewSimulator(g.Order(), line, supply.Config{
			ShortageChance: cfg.Supply.ShortageChance,
			ResupplyRounds: cfg.Supply.ResupplyDuration,
			MaxShortages:   cfg.Supply.MaxShortages,
		}, supplySrc, logger)
		grp.Go(func() error {
			return sim.Run(gctx, time.Duration(cfg.Supply.IntervalMs)*time.Millisecond)
		})
	}

	if cfg.HTTPAddr != "" {
		apiServer := api.NewServer(line, tracker, hub, logger)
		if sim != nil {
			apiServer.WithShortages(sim)
		}
		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		grp.Go(func() error {
			logger.Info("API 服务器启动", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API 服务器启动失败: %w", err)
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("=== 总装线仿真启动 ===",
		"stations", g.Len(), "seed", cfg.Seed, "max_ticks", cfg.MaxTicks, "parallel", cfg.ParallelEvaluate)

	// 5. 等待结束并刷新事件处理器
	err = grp.Wait()
	bus.Wait()

	final := line.Snapshot()
	logger.Info("仿真结束",
		"tick", final.Tick,
		"production", final.CurrentProduction,
		"daily_target", final.DailyTarget,
		"achievement_rate", final.AchievementRate,
		"scrapped", final.Scrapped,
		"wip", final.TotalWIP)
	return err
}

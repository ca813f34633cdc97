package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/neurobridge-agent/internal/app"
	"github.com/yungbote/neurobridge-agent/internal/capture"
	"github.com/yungbote/neurobridge-agent/internal/clients/backend"
	"github.com/yungbote/neurobridge-agent/internal/encoder"
	"github.com/yungbote/neurobridge-agent/internal/platform/logger"
	"github.com/yungbote/neurobridge-agent/internal/tasksync"
	"github.com/yungbote/neurobridge-agent/internal/telemetry"
	"github.com/yungbote/neurobridge-agent/internal/types"
	"github.com/yungbote/neurobridge-agent/internal/view"
)

func main() {
	cfg, err := app.Load(os.Getenv("AGENT_CONFIG_PATH"))
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	classID, err := uuid.Parse(os.Getenv("AGENT_CLASS_ID"))
	if err != nil {
		log.Fatal("AGENT_CLASS_ID must be a valid uuid", "error", err)
	}
	learnerID, err := uuid.Parse(os.Getenv("AGENT_LEARNER_ID"))
	if err != nil {
		log.Fatal("AGENT_LEARNER_ID must be a valid uuid", "error", err)
	}

	client := backend.New(log, backend.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
	})
	provider := capture.NewSimProvider(cfg.CaptureWidth, cfg.CaptureHeight)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sync := tasksync.New(log, func(ctx context.Context) ([]types.Task, error) {
		return client.ListTasks(ctx, classID, &learnerID)
	}, cfg.PollPeriod)
	defer sync.Stop()
	sync.SetOnUpdate(func(tasks []types.Task) {
		log.Info("task list refreshed", "count", len(tasks), "polling", anyNonTerminal(tasks))
	})
	if err := sync.RefreshNow(ctx); err != nil {
		log.Warn("initial task fetch failed", "error", err)
	}

	viewCfg := view.Config{
		Telemetry: telemetry.Config{
			FramePeriod: cfg.FramePeriod,
			Capture: capture.Config{
				Width:  cfg.CaptureWidth,
				Height: cfg.CaptureHeight,
				Facing: capture.FacingFront,
			},
			Encode: encoder.Options{
				MaxWidth:  cfg.FrameMaxWidth,
				MaxHeight: cfg.FrameMaxHeight,
				Quality:   cfg.FrameQuality,
			},
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runFirstTask(gctx, log, client, provider, viewCfg, sync, learnerID)
	})
	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Error("agent run failed", "error", err)
	}
	log.Info("agent shutting down")
}

func anyNonTerminal(tasks []types.Task) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return true
		}
	}
	return false
}

// runFirstTask opens the first consumable task as the learner and, for a
// lesson, walks its slides. It exits on signal or when the view closes.
func runFirstTask(ctx context.Context, log *logger.Logger, client backend.Client, provider capture.Provider, cfg view.Config, sync *tasksync.Synchronizer, learnerID uuid.UUID) error {
	var task types.Task
	found := false
	for _, t := range sync.Tasks() {
		if t.Status == types.TaskStatusCompleted {
			task = t
			found = true
			break
		}
	}
	if !found {
		log.Info("no generated task available to open")
		<-ctx.Done()
		return nil
	}

	cfg.OnMetrics = func(m types.FrameMetrics) {
		log.Debug("frame metrics", "gaze", m.GazeDirection)
	}
	v := view.Open(ctx, log, client, provider, cfg, task, types.RoleLearner, learnerID)
	defer v.Teardown(context.Background())

	if task.Type == types.TaskTypeLesson {
		for i := range task.Slides {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
				v.ShowSlide(i)
				log.Info("slide shown", "index", i, "can_close", v.CanClose())
			}
		}
		if err := v.Close(ctx); err != nil {
			log.Warn("close refused", "reason", err)
		}
		return nil
	}

	// Quizzes are answered interactively; keep the view open until signal.
	<-ctx.Done()
	return nil
}

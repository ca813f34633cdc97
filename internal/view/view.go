// Package view composes the per-task subsystems. One TaskView exists per open
// task: it owns the completion gate and, for learners, the telemetry session,
// and guarantees both are torn down together exactly once.
package view

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-agent/internal/capture"
	"github.com/yungbote/neurobridge-agent/internal/clients/backend"
	"github.com/yungbote/neurobridge-agent/internal/completion"
	"github.com/yungbote/neurobridge-agent/internal/platform/logger"
	"github.com/yungbote/neurobridge-agent/internal/telemetry"
	"github.com/yungbote/neurobridge-agent/internal/types"
)

type Config struct {
	Telemetry telemetry.Config
	// OnMetrics observes per-frame backend metrics, when present.
	OnMetrics func(types.FrameMetrics)
}

type TaskView struct {
	log       *logger.Logger
	task      types.Task
	role      types.Role
	learnerID uuid.UUID
	tracker   *completion.Tracker
	session   *telemetry.Session

	mu         sync.Mutex
	slideIndex int
	variantID  *uuid.UUID
	torndown   bool
}

// Open constructs the view state for one task. For learner quizzes the
// backend completion flag is consulted first so re-entering an already
// submitted quiz is not gated again; a failed lookup is treated as not
// completed. Telemetry starts only for learners who still have work to do on
// a consumable task — a start failure downgrades to a view without telemetry.
func Open(ctx context.Context, log *logger.Logger, client backend.Client, provider capture.Provider, cfg Config, task types.Task, role types.Role, learnerID uuid.UUID) *TaskView {
	viewLog := log.With("view", task.ID.String())
	v := &TaskView{
		log:       viewLog,
		task:      task,
		role:      role,
		learnerID: learnerID,
	}
	v.tracker = completion.NewTracker(viewLog, task, role, learnerID, client)

	if role.Gated() && task.Type == types.TaskTypeQuiz {
		done, err := client.GetCompletion(ctx, task.ID, learnerID)
		if err != nil {
			viewLog.Warn("completion lookup failed, treating quiz as open", "error", err)
		} else if done {
			v.tracker.MarkCompleted()
		}
	}

	v.session = telemetry.NewSession(viewLog, client, provider, cfg.Telemetry)
	if cfg.OnMetrics != nil {
		v.session.SetOnMetrics(cfg.OnMetrics)
	}
	v.tracker.SetOnComplete(func() {
		// The capture session has served its purpose once the learner
		// reaches completion.
		v.session.Stop(context.Background())
	})

	if role.Gated() && !v.tracker.CanClose() && task.Status != types.TaskStatusFailed {
		if err := v.session.Start(ctx, learnerID, task.ID); err != nil {
			viewLog.Warn("continuing without telemetry", "error", err)
		}
	}
	return v
}

func (v *TaskView) Task() types.Task {
	return v.task
}

// Telemetry exposes the session for state inspection.
func (v *TaskView) Telemetry() *telemetry.Session {
	return v.session
}

// ShowSlide displays the slide at index i, clamped to the slide range, and
// feeds the completion gate.
func (v *TaskView) ShowSlide(i int) {
	n := len(v.task.Slides)
	if n == 0 {
		return
	}
	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}
	v.mu.Lock()
	v.slideIndex = i
	v.mu.Unlock()
	v.tracker.VisitSlide(i)
}

func (v *TaskView) SlideIndex() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.slideIndex
}

func (v *TaskView) SetAnswer(i int, value string) {
	v.tracker.SetAnswer(i, value)
}

func (v *TaskView) Answer(i int) (string, bool) {
	return v.tracker.Answer(i)
}

func (v *TaskView) Submit(ctx context.Context) error {
	return v.tracker.Submit(ctx)
}

func (v *TaskView) CanClose() bool {
	return v.tracker.CanClose()
}

// SelectVariant switches the view to an alternate generation of the task.
// Learners never see variants.
func (v *TaskView) SelectVariant(id uuid.UUID) error {
	if v.role.Gated() {
		return fmt.Errorf("variants are not selectable by learners")
	}
	for i := range v.task.Variants {
		if v.task.Variants[i].ID == id {
			v.mu.Lock()
			v.variantID = &id
			v.slideIndex = 0
			v.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("variant %s not found on task %s", id, v.task.ID)
}

// SelectedVariant returns the active variant, if one was selected.
func (v *TaskView) SelectedVariant() (*types.Variant, bool) {
	v.mu.Lock()
	id := v.variantID
	v.mu.Unlock()
	if id == nil {
		return nil, false
	}
	for i := range v.task.Variants {
		if v.task.Variants[i].ID == *id {
			return &v.task.Variants[i], true
		}
	}
	return nil, false
}

// Close dismisses the view. While the completion gate refuses, nothing is
// torn down and the refusal reason is returned for the UI to surface.
func (v *TaskView) Close(ctx context.Context) error {
	if err := v.tracker.RequestClose(); err != nil {
		return err
	}
	v.Teardown(ctx)
	return nil
}

// Teardown releases the view's resources unconditionally — the path for
// navigation away or application shutdown. Idempotent; the telemetry session
// makes the underlying release idempotent as well.
func (v *TaskView) Teardown(ctx context.Context) {
	v.mu.Lock()
	if v.torndown {
		v.mu.Unlock()
		return
	}
	v.torndown = true
	v.mu.Unlock()
	v.session.Stop(ctx)
}

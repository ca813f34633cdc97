// Package completion gates dismissal of an open task view. A learner must
// finish the lesson slides or submit the quiz before the view may close;
// every other role may close at any time.
package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/yungbote/neurobridge-agent/internal/pkg/errors"
	"github.com/yungbote/neurobridge-agent/internal/platform/logger"
	"github.com/yungbote/neurobridge-agent/internal/types"
)

type State string

const (
	StateOpen     State = "open"
	StateComplete State = "complete"
)

const (
	reasonFinishSlides    = "finish all slides"
	reasonAnswerAndSubmit = "answer and submit all questions"
)

// Submitter issues the quiz submit call.
type Submitter interface {
	SubmitQuiz(ctx context.Context, taskID, learnerID uuid.UUID, answers []types.QuizAnswer) error
}

// Tracker is the completion state machine for one open task view. Constructed
// on open and discarded on close; answers never survive across tasks.
type Tracker struct {
	log       *logger.Logger
	task      types.Task
	role      types.Role
	learnerID uuid.UUID
	submitter Submitter

	mu         sync.Mutex
	state      State
	answers    map[int]string
	inFlight   bool
	onComplete func()
}

func NewTracker(log *logger.Logger, task types.Task, role types.Role, learnerID uuid.UUID, submitter Submitter) *Tracker {
	t := &Tracker{
		log:       log.With("service", "CompletionTracker"),
		task:      task,
		role:      role,
		learnerID: learnerID,
		submitter: submitter,
		state:     StateOpen,
		answers:   make(map[int]string),
	}
	if !role.Gated() {
		t.state = StateComplete
	}
	// A lesson with nothing to show has nothing to finish.
	if task.Type == types.TaskTypeLesson && len(task.Slides) == 0 {
		t.state = StateComplete
	}
	return t
}

// SetOnComplete registers the single Open→Complete observer. Must be called
// before the tracker is shared; the callback runs outside the tracker lock.
func (t *Tracker) SetOnComplete(fn func()) {
	t.mu.Lock()
	t.onComplete = fn
	t.mu.Unlock()
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) CanClose() bool {
	return t.State() == StateComplete
}

// RequestClose succeeds silently when the completion criteria are met and
// otherwise refuses with a learner-facing reason, leaving state untouched.
func (t *Tracker) RequestClose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateComplete {
		return nil
	}
	reason := reasonFinishSlides
	if t.task.Type == types.TaskTypeQuiz {
		reason = reasonAnswerAndSubmit
	}
	return &apperrors.CloseRefusedError{Reason: reason}
}

// VisitSlide records that the slide at index i was displayed. Reaching the
// last slide completes a lesson; navigation order before or after that is
// irrelevant.
func (t *Tracker) VisitSlide(i int) {
	t.mu.Lock()
	if t.task.Type != types.TaskTypeLesson || t.state == StateComplete {
		t.mu.Unlock()
		return
	}
	if i < len(t.task.Slides)-1 {
		t.mu.Unlock()
		return
	}
	fn := t.markCompleteLocked()
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetAnswer stores the answer for question index i. Ignored once the quiz is
// complete or while a submission is in flight, which closes the double-submit
// race window.
func (t *Tracker) SetAnswer(i int, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.task.Type != types.TaskTypeQuiz {
		return
	}
	if t.state == StateComplete || t.inFlight {
		return
	}
	if i < 0 || i >= len(t.task.Questions) {
		return
	}
	t.answers[i] = value
}

func (t *Tracker) Answer(i int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.answers[i]
	return v, ok
}

// Submit sends the answer set to the backend. Every question must carry a
// non-empty answer or the submission is rejected locally without a backend
// call. At most one submission is in flight at a time; on backend failure the
// state stays Open and the learner may retry.
func (t *Tracker) Submit(ctx context.Context) error {
	t.mu.Lock()
	if t.task.Type != types.TaskTypeQuiz {
		t.mu.Unlock()
		return fmt.Errorf("submit: task %s is not a quiz", t.task.ID)
	}
	if t.state == StateComplete {
		t.mu.Unlock()
		return nil
	}
	if t.inFlight {
		t.mu.Unlock()
		return apperrors.ErrSubmitInFlight
	}
	if missing := t.missingLocked(); len(missing) > 0 {
		t.mu.Unlock()
		return &apperrors.MissingAnswersError{Indices: missing}
	}
	t.inFlight = true
	answers := make([]types.QuizAnswer, 0, len(t.task.Questions))
	for i := range t.task.Questions {
		answers = append(answers, types.QuizAnswer{QuestionNumber: i + 1, Answer: t.answers[i]})
	}
	t.mu.Unlock()

	err := t.submitter.SubmitQuiz(ctx, t.task.ID, t.learnerID, answers)

	t.mu.Lock()
	t.inFlight = false
	if err != nil {
		t.mu.Unlock()
		t.log.Warn("quiz submission failed", "task_id", t.task.ID, "error", err)
		return fmt.Errorf("submit quiz: %w", err)
	}
	fn := t.markCompleteLocked()
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// MarkCompleted forces Complete, used when the backend reports the task was
// already completed in an earlier view.
func (t *Tracker) MarkCompleted() {
	t.mu.Lock()
	fn := t.markCompleteLocked()
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Tracker) markCompleteLocked() func() {
	if t.state == StateComplete {
		return nil
	}
	t.state = StateComplete
	return t.onComplete
}

func (t *Tracker) missingLocked() []int {
	var missing []int
	for i := range t.task.Questions {
		if strings.TrimSpace(t.answers[i]) == "" {
			missing = append(missing, i)
		}
	}
	return missing
}

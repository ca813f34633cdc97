package types

import (
	"time"

	"github.com/google/uuid"
)

// TaskType distinguishes the two kinds of assigned content.
type TaskType string

const (
	TaskTypeLesson TaskType = "lesson"
	TaskTypeQuiz   TaskType = "quiz"
)

// TaskStatus tracks backend generation progress for a task. Content is
// produced out-of-band; a task is consumable only once generation finished.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status can no longer change on its own.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "mcq"
	QuestionTypeTrueFalse   QuestionType = "true_false"
	QuestionTypeShortAnswer QuestionType = "short_answer"
)

// Slide is one step of a lesson slideshow.
type Slide struct {
	Script   string `json:"script"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// Question is one quiz question. CorrectAnswer and Explanation are only
// populated on responses served to non-learner roles.
type Question struct {
	Text          string       `json:"text"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
}

// Variant is an alternate generation of the same task. Selectable by
// non-learner roles only.
type Variant struct {
	ID        uuid.UUID  `json:"id"`
	Label     string     `json:"label,omitempty"`
	Slides    []Slide    `json:"slides,omitempty"`
	Questions []Question `json:"questions,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Task struct {
	ID        uuid.UUID  `json:"id"`
	ClassID   uuid.UUID  `json:"class_id"`
	Title     string     `json:"title"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`
	Slides    []Slide    `json:"slides,omitempty"`
	Questions []Question `json:"questions,omitempty"`
	Variants  []Variant  `json:"variants,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Role of the person viewing a task. Only learners are subject to completion
// gating and telemetry capture.
type Role string

const (
	RoleLearner Role = "learner"
	RoleTeacher Role = "teacher"
)

// Gated reports whether the role must satisfy completion criteria before the
// task view may close.
func (r Role) Gated() bool {
	return r == RoleLearner
}

// QuizAnswer is one submitted answer on the quiz submit payload. Question
// numbers are 1-based on the wire.
type QuizAnswer struct {
	QuestionNumber int    `json:"questionNumber"`
	Answer         string `json:"answer"`
}

// FrameMetrics is the optional per-frame vitals payload returned by the
// backend. Informational only: the agent never acts on these values.
type FrameMetrics struct {
	HeartRate         *float64 `json:"heart_rate,omitempty"`
	BreathingRate     *float64 `json:"breathing_rate,omitempty"`
	FocusScore        *float64 `json:"focus_score,omitempty"`
	EngagementScore   *float64 `json:"engagement_score,omitempty"`
	ThinkingIntensity *float64 `json:"thinking_intensity,omitempty"`
	GazeDirection     string   `json:"gaze_direction,omitempty"`
}

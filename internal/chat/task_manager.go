package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/protocol"

	"github.com/google/uuid"
)

// ErrStopped is returned by a TaskRunner that observed cancellation and
// already emitted task_stopped. The manager treats it as a clean finish.
var ErrStopped = errors.New("task stopped")

// QueuedTask is one pending agent invocation for a chat.
type QueuedTask struct {
	TaskID   string
	ChatID   string
	Prompt   string
	Model    string
	QueuedAt time.Time
}

// TaskRunner executes one task end to end, producing protocol messages into
// the session queue. It must check ctx between agent-stream events.
type TaskRunner interface {
	RunTask(ctx context.Context, task *QueuedTask) error
}

// TaskLifecycleSink receives task state transitions for out-of-band
// consumers (audit bus). Implementations must not block.
type TaskLifecycleSink interface {
	TaskQueued(task *QueuedTask, position int)
	TaskStarted(task *QueuedTask)
	TaskFinished(task *QueuedTask, outcome string)
}

type runningTask struct {
	task   *QueuedTask
	cancel context.CancelFunc
}

// TaskManager enforces the per-chat single-flight invariant: at most one
// running task per chatId, FIFO for the rest. Draining happens after enqueue
// and after every completion, including failed ones.
type TaskManager struct {
	mu      sync.Mutex
	queues  map[string][]*QueuedTask
	running map[string]*runningTask

	sessions  *SessionManager
	runner    TaskRunner
	lifecycle TaskLifecycleSink
	logger    logger.ILogger
}

func NewTaskManager(sessions *SessionManager, runner TaskRunner, lifecycle TaskLifecycleSink, log logger.ILogger) *TaskManager {
	return &TaskManager{
		queues:    make(map[string][]*QueuedTask),
		running:   make(map[string]*runningTask),
		sessions:  sessions,
		runner:    runner,
		lifecycle: lifecycle,
		logger:    log,
	}
}

// QueueTask appends a task to the chat's queue, announces it, and attempts an
// immediate drain. The session must already exist.
func (tm *TaskManager) QueueTask(chatID, prompt, model string) (string, error) {
	if tm.sessions.Get(chatID) == nil {
		return "", errors.New("no session for chat")
	}

	task := &QueuedTask{
		TaskID:   uuid.New().String(),
		ChatID:   chatID,
		Prompt:   prompt,
		Model:    model,
		QueuedAt: time.Now(),
	}

	tm.mu.Lock()
	tm.queues[chatID] = append(tm.queues[chatID], task)
	position := len(tm.queues[chatID])
	queueLength := position
	tm.mu.Unlock()

	tm.sessions.Push(chatID, protocol.TaskQueuedMessage{
		ChatID:      chatID,
		TaskID:      task.TaskID,
		Position:    position,
		QueueLength: queueLength,
	})
	if tm.lifecycle != nil {
		tm.lifecycle.TaskQueued(task, position)
	}

	tm.tryDrain(chatID)
	return task.TaskID, nil
}

// tryDrain starts the head of the queue unless a task is already running.
func (tm *TaskManager) tryDrain(chatID string) {
	tm.mu.Lock()
	if _, busy := tm.running[chatID]; busy {
		tm.mu.Unlock()
		return
	}
	pending := tm.queues[chatID]
	if len(pending) == 0 {
		tm.mu.Unlock()
		return
	}
	task := pending[0]
	tm.queues[chatID] = pending[1:]

	ctx, cancel := context.WithCancel(context.Background())
	tm.running[chatID] = &runningTask{task: task, cancel: cancel}
	tm.mu.Unlock()

	tm.sessions.SetProcessing(chatID, true)
	tm.sessions.Push(chatID, protocol.TaskStartedMessage{
		ChatID:    chatID,
		TaskID:    task.TaskID,
		SessionID: tm.sessions.ResumeToken(chatID),
	})
	if tm.lifecycle != nil {
		tm.lifecycle.TaskStarted(task)
	}

	go tm.run(ctx, task)
}

// run executes one task. The completion block always clears the running slot
// and drains onward, no matter how the task ended.
func (tm *TaskManager) run(ctx context.Context, task *QueuedTask) {
	outcome := "done"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			tm.logger.Error("TaskManager", "Task panicked", map[string]interface{}{
				"chat_id": task.ChatID, "task_id": task.TaskID, "panic": r,
			})
			tm.reportFailure(task, "internal error while running task")
		}
		tm.mu.Lock()
		delete(tm.running, task.ChatID)
		tm.mu.Unlock()
		tm.sessions.SetProcessing(task.ChatID, false)
		if tm.lifecycle != nil {
			tm.lifecycle.TaskFinished(task, outcome)
		}
		tm.tryDrain(task.ChatID)
	}()

	err := tm.runner.RunTask(ctx, task)
	switch {
	case err == nil:
	case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
		outcome = "stopped"
	default:
		outcome = "error"
		tm.logger.Error("TaskManager", "Task failed", map[string]interface{}{
			"chat_id": task.ChatID, "task_id": task.TaskID, "error": err.Error(),
		})
		tm.reportFailure(task, err.Error())
	}
}

// reportFailure surfaces a task error to subscribers as error + task_done so
// client placeholders always get a terminal event.
func (tm *TaskManager) reportFailure(task *QueuedTask, content string) {
	tm.sessions.Push(task.ChatID, protocol.ErrorMessage{ChatID: task.ChatID, Content: content})
	tm.sessions.Push(task.ChatID, protocol.TaskDoneMessage{
		ChatID:    task.ChatID,
		TaskID:    task.TaskID,
		MessageID: uuid.New().String(),
	})
}

// StopCurrent signals cancellation to the running task. Cancellation is
// cooperative; the runner stops at its next checkpoint. Returns false when
// nothing is running.
func (tm *TaskManager) StopCurrent(chatID string) bool {
	tm.mu.Lock()
	rt, ok := tm.running[chatID]
	tm.mu.Unlock()
	if !ok {
		return false
	}
	rt.cancel()
	return true
}

// StopTask stops the running task if taskID matches it, or removes a
// still-queued task without ever starting it. Queued tasks still get a
// terminal task_stopped so clients can retire their placeholders.
func (tm *TaskManager) StopTask(chatID, taskID string) bool {
	tm.mu.Lock()
	if rt, ok := tm.running[chatID]; ok && rt.task.TaskID == taskID {
		// Cancel the matched task directly. Going through StopCurrent would
		// re-read the running slot, which may already hold a drained
		// successor by then.
		tm.mu.Unlock()
		rt.cancel()
		return true
	}
	pending := tm.queues[chatID]
	for i, t := range pending {
		if t.TaskID == taskID {
			tm.queues[chatID] = append(pending[:i], pending[i+1:]...)
			tm.mu.Unlock()
			tm.sessions.Push(chatID, protocol.TaskStoppedMessage{ChatID: chatID, TaskID: taskID})
			if tm.lifecycle != nil {
				tm.lifecycle.TaskFinished(t, "stopped")
			}
			return true
		}
	}
	tm.mu.Unlock()
	return false
}

// GetStatus reports the running task id ("" when idle) and queued ids in
// order.
func (tm *TaskManager) GetStatus(chatID string) (string, []string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	runningID := ""
	if rt, ok := tm.running[chatID]; ok {
		runningID = rt.task.TaskID
	}
	queued := make([]string, 0, len(tm.queues[chatID]))
	for _, t := range tm.queues[chatID] {
		queued = append(queued, t.TaskID)
	}
	return runningID, queued
}

// Cleanup stops whatever is running and discards all task state for the
// chat, then removes the session (closing its queue). Used when the last
// subscriber disconnects.
func (tm *TaskManager) Cleanup(chatID string) {
	tm.mu.Lock()
	rt, wasRunning := tm.running[chatID]
	delete(tm.queues, chatID)
	tm.mu.Unlock()
	if wasRunning {
		rt.cancel()
	}
	tm.sessions.RemoveSession(chatID)
}

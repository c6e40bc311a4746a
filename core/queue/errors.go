package queue

import "errors"

var (
	ErrRepositoryNil          = errors.New("queue: repository is nil")
	ErrNoTaskToClaim          = errors.New("queue: no task to claim")
	ErrTaskNotFound           = errors.New("queue: task not found")
	ErrDuplicateTask          = errors.New("queue: active task already exists for order and action")
	ErrHandlerNotFound        = errors.New("queue: handler not found")
	ErrNoHandlers             = errors.New("queue: no handlers registered")
	ErrInvalidAction          = errors.New("queue: action is required")
	ErrInvalidPriority        = errors.New("queue: priority must be between 0 and 100")
	ErrTaskAlreadyRegistered  = errors.New("queue: task already registered")
	ErrHealthcheckFailed      = errors.New("queue: healthcheck failed")
	ErrWorkerNotRunning       = errors.New("queue: worker is not running")
	ErrWorkerAlreadyStarted   = errors.New("queue: worker already started")
	ErrWorkerOverloaded       = errors.New("queue: worker is overloaded")
	ErrSchedulerNotConfigured = errors.New("queue: scheduler has no tasks")
	ErrSchedulerNotRunning    = errors.New("queue: scheduler is not running")
	ErrShutdownTimeout        = errors.New("queue: shutdown timeout exceeded")
)

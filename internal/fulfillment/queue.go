package fulfillment

import (
	"context"
	"errors"
)

// ErrQueueFull возвращается, если в очереди нет места для нового задания.
var ErrQueueFull = errors.New("fulfillment queue is full")

// ErrQueueEmpty возвращается, если за время ожидания задание не появилось.
var ErrQueueEmpty = errors.New("fulfillment queue is empty")

// Queue передаёт задания исполнения от сверки платежей к обработчикам.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// DefaultMemoryQueueSize задаёт ёмкость очереди в памяти по умолчанию.
const DefaultMemoryQueueSize = 256

// MemoryQueue — очередь заданий в памяти процесса. Задания теряются при перезапуске.
type MemoryQueue struct {
	jobs chan Job
}

// NewMemoryQueue создаёт очередь ёмкостью size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = DefaultMemoryQueueSize
	}
	return &MemoryQueue{jobs: make(chan Job, size)}
}

// Enqueue добавляет задание, не блокируясь при заполненной очереди.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue ожидает следующее задание до отмены контекста.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Len возвращает число заданий в очереди.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

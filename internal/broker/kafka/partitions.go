package kafka

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// lookupPartitions возвращает номера разделов топика у первого доступного брокера.
func lookupPartitions(brokers []string, topic string) func(ctx context.Context) ([]int, error) {
	return func(ctx context.Context) ([]int, error) {
		var lastErr error
		for _, b := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", b)
			if err != nil {
				lastErr = err
				continue
			}
			parts, err := conn.ReadPartitions(topic)
			_ = conn.Close()
			if err != nil {
				lastErr = err
				continue
			}
			ids := make([]int, 0, len(parts))
			for _, p := range parts {
				ids = append(ids, p.ID)
			}
			return ids, nil
		}
		if lastErr == nil {
			lastErr = errors.New("no brokers")
		}
		return nil, errors.Wrapf(lastErr, "read partitions of %s", topic)
	}
}

type fetched struct {
	msg kafka.Message
	err error
}

// fanInReader читает все разделы топика без группы потребителей и сливает их в один поток.
// Список разделов запрашивается при первом чтении.
type fanInReader struct {
	partitions func(ctx context.Context) ([]int, error)
	open       func(partition int) messageReader

	mu       sync.Mutex
	started  bool
	startErr error
	closed   bool
	readers  []messageReader
	out      chan fetched
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newFanInReader(brokers []string, topic string) *fanInReader {
	return &fanInReader{
		partitions: lookupPartitions(brokers, topic),
		open: func(partition int) messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: partition,
			})
		},
	}
}

func (r *fanInReader) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("reader closed")
	}
	if r.started {
		return r.startErr
	}
	r.started = true

	ids, err := r.partitions(ctx)
	if err == nil && len(ids) == 0 {
		err = errors.New("topic has no partitions")
	}
	if err != nil {
		r.startErr = err
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.out = make(chan fetched)

	for _, id := range ids {
		pr := r.open(id)
		if s, ok := pr.(interface{ SetOffset(int64) error }); ok {
			// как и у общего reader, читаются только новые сообщения
			if err := s.SetOffset(kafka.LastOffset); err != nil {
				cancel()
				r.startErr = errors.Wrapf(err, "set offset of partition %d", id)
				return r.startErr
			}
		}
		r.readers = append(r.readers, pr)

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				msg, err := pr.FetchMessage(runCtx)
				select {
				case r.out <- fetched{msg: msg, err: err}:
				case <-runCtx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (r *fanInReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := r.start(ctx); err != nil {
		return kafka.Message{}, err
	}
	select {
	case f := <-r.out:
		return f.msg, f.err
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

// CommitMessages ничего не делает: без группы смещения не хранятся.
func (r *fanInReader) CommitMessages(context.Context, ...kafka.Message) error {
	return nil
}

func (r *fanInReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	readers := r.readers
	r.mu.Unlock()

	var firstErr error
	for _, pr := range readers {
		if err := pr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.wg.Wait()
	return firstErr
}

package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"ephemeral-chat/internal/apperr"
	"ephemeral-chat/internal/config"
	"ephemeral-chat/internal/models"
	"ephemeral-chat/internal/observability"
	"ephemeral-chat/internal/repositories"
)

const (
	excerptLen = 64
	// lookupBatch bounds the ids resolved by one recipient query.
	lookupBatch = 500
)

type job struct {
	senderID   int64
	recipients []int64
	text       string
	inbox      bool
}

// Dispatcher delivers push notifications off the request path. Delivery failures are logged
// and never reach the caller.
type Dispatcher struct {
	users       repositories.UserRepository
	inbox       repositories.NotificationRepository
	sender      Sender
	logger      *zap.Logger
	jobs        chan job
	workers     int
	sendTimeout time.Duration
	newBackOff  func() backoff.BackOff
	wg          sync.WaitGroup
}

func NewDispatcher(users repositories.UserRepository, inbox repositories.NotificationRepository, sender Sender, cfg config.Notify, logger *zap.Logger) *Dispatcher {
	maxElapsed := cfg.MaxElapsedTime
	return &Dispatcher{
		users:       users,
		inbox:       inbox,
		sender:      sender,
		logger:      logger,
		jobs:        make(chan job, cfg.QueueSize),
		workers:     cfg.Workers,
		sendTimeout: cfg.SendTimeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; Wait blocks until they have.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-d.jobs:
					observability.SetNotifyQueueDepth(len(d.jobs))
					d.run(ctx, j)
				}
			}
		}()
	}
	d.logger.Info("notification dispatcher started", zap.Int("workers", d.workers), zap.Int("queue_size", cap(d.jobs)))
}

func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// NotifyOthers queues a push to every member of chat except the sender. It never blocks:
// when the queue is full the job is dropped.
func (d *Dispatcher) NotifyOthers(chat models.Chat, senderID int64, text string) bool {
	return d.enqueue(job{senderID: senderID, recipients: chat.Others(senderID), text: text})
}

// Announce queues an inbox entry plus a push for each recipient without blocking.
func (d *Dispatcher) Announce(senderID int64, recipients []int64, text string) bool {
	return d.enqueue(job{senderID: senderID, recipients: recipients, text: text, inbox: true})
}

func (d *Dispatcher) enqueue(j job) bool {
	if len(j.recipients) == 0 {
		return true
	}
	select {
	case d.jobs <- j:
		observability.SetNotifyQueueDepth(len(d.jobs))
		return true
	default:
		observability.IncNotification("dropped")
		d.logger.Warn("notification queue full, dropping job", zap.Int64s("recipients", j.recipients), zap.String("text", excerpt(j.text)))
		return false
	}
}

// NotifyUsers sends synchronously and returns how many recipients were reached. It returns
// once every send has finished or ctx is done.
func (d *Dispatcher) NotifyUsers(ctx context.Context, userIDs []int64, text string) int {
	return d.deliver(ctx, userIDs, text)
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	if j.inbox && d.inbox != nil {
		sctx, cancel := context.WithTimeout(ctx, d.storeTimeout())
		_, err := d.inbox.CreateMany(sctx, j.senderID, j.recipients, j.text)
		cancel()
		if err != nil {
			d.logger.Error("inbox write failed", zap.Int64s("recipients", j.recipients), zap.String("text", excerpt(j.text)), zap.Error(err))
		}
	}
	d.deliver(ctx, j.recipients, j.text)
}

func (d *Dispatcher) storeTimeout() time.Duration {
	if d.sendTimeout > 0 {
		return d.sendTimeout
	}
	return 10 * time.Second
}

func (d *Dispatcher) deliver(ctx context.Context, userIDs []int64, text string) int {
	var sent int64
	for start := 0; start < len(userIDs) && ctx.Err() == nil; start += lookupBatch {
		end := start + lookupBatch
		if end > len(userIDs) {
			end = len(userIDs)
		}
		sent += d.deliverBatch(ctx, userIDs[start:end], text)
	}
	return int(sent)
}

// deliverBatch pushes to one chunk of recipients, at most d.workers at a time, so one
// unreachable recipient does not hold back the others.
func (d *Dispatcher) deliverBatch(ctx context.Context, userIDs []int64, text string) int64 {
	users, err := d.users.GetMany(ctx, userIDs)
	if err != nil {
		observability.IncNotification("failed")
		d.logger.Error("notification recipients lookup failed", zap.Int64s("user_ids", userIDs), zap.Error(err))
		return 0
	}

	parallel := d.workers
	if parallel < 1 {
		parallel = 1
	}
	sem := make(chan struct{}, parallel)
	var (
		wg   sync.WaitGroup
		sent atomic.Int64
	)
	for _, user := range users {
		if len(user.PushTokens) == 0 {
			observability.IncNotification("skipped")
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return sent.Load()
		}
		wg.Add(1)
		go func(user models.User) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.send(ctx, user, text); err != nil {
				observability.IncNotification("failed")
				d.logger.Warn("push delivery failed",
					zap.Int64("user_id", user.ID),
					zap.String("text", excerpt(text)),
					zap.Error(err),
				)
				return
			}
			observability.IncNotification("sent")
			sent.Add(1)
		}(user)
	}
	wg.Wait()
	return sent.Load()
}

func (d *Dispatcher) send(ctx context.Context, user models.User, text string) error {
	op := func() error {
		sendCtx := ctx
		if d.sendTimeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
		}
		return d.sender.SendPush(sendCtx, user.PushTokens, user.Phone, text)
	}
	if err := backoff.Retry(op, backoff.WithContext(d.newBackOff(), ctx)); err != nil {
		return apperr.NotificationDelivery("push to user failed", err)
	}
	return nil
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptLen {
		return text
	}
	return string(r[:excerptLen]) + "..."
}

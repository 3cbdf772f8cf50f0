package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/domain"
	"golang.org/x/sync/errgroup"
)

// Transport posts one signed activity to one inbox.
type Transport interface {
	Deliver(ctx context.Context, from *domain.Account, inbox string, body []byte) error
}

// HTTPTransport signs requests with the sender's key and posts them. It does
// not retry; a failure feeds the recipient's backoff instead.
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

func NewHTTPTransport(userAgent string) *HTTPTransport {
	return &HTTPTransport{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: userAgent,
	}
}

func (t *HTTPTransport) Deliver(ctx context.Context, from *domain.Account, inbox string, body []byte) error {
	privateKey, err := ParsePrivateKey(from.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := SignRequest(req, privateKey, from.ActorURI+"#main-key", body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}

// Recipient is a single account or the sender's followers.
type Recipient struct {
	account   *domain.Account
	followers bool
}

func ToAccount(acc *domain.Account) Recipient {
	return Recipient{account: acc}
}

var ToFollowers = Recipient{followers: true}

type SendOptions struct {
	// PreferSharedInbox collapses recipients behind one shared inbox into a
	// single delivery.
	PreferSharedInbox bool
}

// DeliveryReport counts inboxes, not accounts.
type DeliveryReport struct {
	Delivered int
	Failed    int
	Skipped   int
}

// Sender fans an activity out to its recipients and keeps the per-account
// delivery backoff.
type Sender struct {
	store       *db.DB
	transport   Transport
	concurrency int
	now         func() time.Time
	log         *log.Logger
}

func NewSender(store *db.DB, transport Transport, concurrency int, logger *log.Logger) *Sender {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &Sender{
		store:       store,
		transport:   transport,
		concurrency: concurrency,
		now:         time.Now,
		log:         logger.WithPrefix("Delivery"),
	}
}

// Send delivers activity from an internal account. Recipients in an active
// backoff window are skipped. A failed inbox does not stop the others.
func (s *Sender) Send(ctx context.Context, from *domain.Account, to Recipient, activity map[string]any, opts SendOptions) (DeliveryReport, error) {
	var report DeliveryReport
	body, err := json.Marshal(activity)
	if err != nil {
		return report, fmt.Errorf("failed to marshal activity: %w", err)
	}

	var recipients []domain.Account
	if to.followers {
		recipients, err = s.store.ReadFollowers(ctx, from.Id)
		if err != nil {
			return report, fmt.Errorf("failed to read followers: %w", err)
		}
	} else if to.account != nil {
		recipients = []domain.Account{*to.account}
	}

	ids := make([]int64, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.Id)
	}
	now := s.now()
	backoffs, err := s.store.ReadActiveBackoffs(ctx, ids, now)
	if err != nil {
		return report, fmt.Errorf("failed to read backoffs: %w", err)
	}

	groups := map[string][]int64{}
	var order []string
	for _, r := range recipients {
		inbox := r.DeliveryInbox(opts.PreferSharedInbox)
		if r.Id == from.Id || inbox == "" {
			continue
		}
		if _, active := backoffs[r.Id]; active {
			report.Skipped++
			deliveries.WithLabelValues("skipped").Inc()
			s.log.Debug("Skipping recipient in backoff", "account", r.ActorURI, "until", backoffs[r.Id].BackoffUntil)
			continue
		}
		if _, ok := groups[inbox]; !ok {
			order = append(order, inbox)
		}
		groups[inbox] = append(groups[inbox], r.Id)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, inbox := range order {
		accountIds := groups[inbox]
		g.Go(func() error {
			err := s.transport.Deliver(gctx, from, inbox, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				deliveries.WithLabelValues("failed").Inc()
				s.log.Warn("Delivery failed", "inbox", inbox, "activity", activity["id"], "err", err)
				for _, id := range accountIds {
					if _, berr := s.store.RecordDeliveryFailure(ctx, id, err.Error(), now); berr != nil {
						s.log.Error("Failed to record backoff", "account", id, "err", berr)
					}
				}
				return nil
			}
			report.Delivered++
			deliveries.WithLabelValues("ok").Inc()
			if cerr := s.store.ClearBackoffs(ctx, accountIds); cerr != nil {
				s.log.Error("Failed to clear backoff", "inbox", inbox, "err", cerr)
			}
			return nil
		})
	}
	// sends never return errors, so Wait only waits
	_ = g.Wait()

	s.log.Debug("Delivered activity", "activity", activity["id"], "delivered", report.Delivered, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// Dispatcher runs sends in the background so actions return once the
// activity is persisted.
type Dispatcher struct {
	sender *Sender
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	log    *log.Logger
}

func NewDispatcher(sender *Sender, logger *log.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		sender: sender,
		ctx:    ctx,
		cancel: cancel,
		log:    logger.WithPrefix("Delivery"),
	}
}

// Dispatch queues a send and returns immediately. It is a no-op after Close.
func (d *Dispatcher) Dispatch(from *domain.Account, to Recipient, activity map[string]any, opts SendOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("Dispatcher closed, dropping activity", "activity", activity["id"])
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.sender.Send(d.ctx, from, to, activity, opts); err != nil {
			d.log.Error("Send failed", "activity", activity["id"], "err", err)
		}
	}()
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting sends and waits for running ones up to ctx's
// deadline, after which they are cancelled.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

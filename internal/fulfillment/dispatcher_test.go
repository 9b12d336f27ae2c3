package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/subscription-storefront/internal/metrics"
	"github.com/mmeshcher/subscription-storefront/internal/model"
)

type grantCall struct {
	guildID, userID, roleID string
}

type stubBot struct {
	mu       sync.Mutex
	messages map[string][]string
	grants   []grantCall
	dmCalls  int
	dmErrs   []error
	roleErrs []error
	notify   chan struct{}
}

func newStubBot() *stubBot {
	return &stubBot{messages: make(map[string][]string)}
}

func (b *stubBot) SendDirectMessage(_ context.Context, userID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dmCalls++
	if len(b.dmErrs) > 0 {
		err := b.dmErrs[0]
		b.dmErrs = b.dmErrs[1:]
		return err
	}
	b.messages[userID] = append(b.messages[userID], text)
	if b.notify != nil {
		b.notify <- struct{}{}
	}
	return nil
}

func (b *stubBot) GrantRole(_ context.Context, guildID, userID, roleID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.roleErrs) > 0 {
		err := b.roleErrs[0]
		b.roleErrs = b.roleErrs[1:]
		return err
	}
	b.grants = append(b.grants, grantCall{guildID, userID, roleID})
	return nil
}

func newTestDispatcher(bot Bot, guildID string) *Dispatcher {
	d := NewDispatcher(bot, guildID, zap.NewNop())
	d.backoff = time.Millisecond
	d.idleDelay = time.Millisecond
	return d
}

func testJob() Job {
	return Job{
		OrderID:       "3f1c9a7e-5b2d-4c11-9e0f-6a8b7c6d5e4f",
		UserID:        1,
		UserName:      "Ana",
		DestinationID: "discord-42",
		PlanName:      "Gold",
		Tier:          model.PriceTierMonthly,
		RoleID:        "role-gold",
	}
}

func TestConfirmationMessage(t *testing.T) {
	job := testJob()
	assert.Equal(t, `Hello Ana! Your payment for the plan "Gold (Monthly)" has been confirmed. Thank you!`, ConfirmationMessage(job))

	job.UserName = ""
	job.Tier = model.PriceTierAnnually
	assert.Equal(t, `Hello user! Your payment for the plan "Gold (Annual)" has been confirmed. Thank you!`, ConfirmationMessage(job))
}

func TestFulfill_SendsMessageAndGrantsRole(t *testing.T) {
	bot := newStubBot()
	d := newTestDispatcher(bot, "guild-1")

	d.Fulfill(context.Background(), testJob())

	require.Len(t, bot.messages["discord-42"], 1)
	assert.Contains(t, bot.messages["discord-42"][0], `"Gold (Monthly)"`)
	assert.Equal(t, []grantCall{{"guild-1", "discord-42", "role-gold"}}, bot.grants)
}

func TestFulfill_NoDestinationSkipsEverything(t *testing.T) {
	bot := newStubBot()
	d := newTestDispatcher(bot, "guild-1")

	job := testJob()
	job.DestinationID = ""
	d.Fulfill(context.Background(), job)

	assert.Zero(t, bot.dmCalls)
	assert.Empty(t, bot.grants)
}

func TestFulfill_NilBot(t *testing.T) {
	d := newTestDispatcher(nil, "guild-1")

	assert.NotPanics(t, func() {
		d.Fulfill(context.Background(), testJob())
	})
}

func TestFulfill_RoleSkippedWithoutGuildOrRole(t *testing.T) {
	bot := newStubBot()
	d := newTestDispatcher(bot, "")

	d.Fulfill(context.Background(), testJob())

	assert.Len(t, bot.messages["discord-42"], 1)
	assert.Empty(t, bot.grants)

	bot = newStubBot()
	d = newTestDispatcher(bot, "guild-1")
	job := testJob()
	job.RoleID = ""
	d.Fulfill(context.Background(), job)

	assert.Len(t, bot.messages["discord-42"], 1)
	assert.Empty(t, bot.grants)
}

func TestFulfill_RetriesTransientErrors(t *testing.T) {
	bot := newStubBot()
	bot.dmErrs = []error{errors.New("503"), errors.New("timeout")}
	d := newTestDispatcher(bot, "guild-1")

	before := testutil.ToFloat64(metrics.FulfillmentActions.WithLabelValues(ActionDirectMessage, resultSuccess))

	d.Fulfill(context.Background(), testJob())

	assert.Equal(t, 3, bot.dmCalls)
	assert.Len(t, bot.messages["discord-42"], 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FulfillmentActions.WithLabelValues(ActionDirectMessage, resultSuccess)))
}

func TestFulfill_PermanentErrorIsNotRetried(t *testing.T) {
	bot := newStubBot()
	bot.dmErrs = []error{fmtPermanent("cannot send messages to this user")}
	d := newTestDispatcher(bot, "guild-1")

	before := testutil.ToFloat64(metrics.FulfillmentActions.WithLabelValues(ActionDirectMessage, resultFailure))

	d.Fulfill(context.Background(), testJob())

	assert.Equal(t, 1, bot.dmCalls)
	assert.Empty(t, bot.messages["discord-42"])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FulfillmentActions.WithLabelValues(ActionDirectMessage, resultFailure)))

	// Сбой личного сообщения не мешает выдаче роли.
	assert.Len(t, bot.grants, 1)
}

func TestFulfill_GivesUpAfterMaxRetries(t *testing.T) {
	bot := newStubBot()
	for i := 0; i < 10; i++ {
		bot.roleErrs = append(bot.roleErrs, errors.New("unavailable"))
	}
	d := newTestDispatcher(bot, "guild-1")
	d.maxRetries = 2

	d.Fulfill(context.Background(), testJob())

	assert.Empty(t, bot.grants)
	assert.Len(t, bot.roleErrs, 7)
	assert.Len(t, bot.messages["discord-42"], 1)
}

func TestRun_ConsumesQueue(t *testing.T) {
	bot := newStubBot()
	bot.notify = make(chan struct{}, 2)
	d := newTestDispatcher(bot, "")

	q := NewMemoryQueue(4)
	require.NoError(t, q.Enqueue(context.Background(), testJob()))

	second := testJob()
	second.OrderID = "second"
	second.DestinationID = "discord-43"
	require.NoError(t, q.Enqueue(context.Background(), second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx, q, 2)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-bot.notify:
		case <-time.After(2 * time.Second):
			t.Fatal("job was not fulfilled")
		}
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	bot.mu.Lock()
	defer bot.mu.Unlock()
	assert.Len(t, bot.messages["discord-42"], 1)
	assert.Len(t, bot.messages["discord-43"], 1)
}

func fmtPermanent(msg string) error {
	return errors.Join(ErrPermanent, errors.New(msg))
}

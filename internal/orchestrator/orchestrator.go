// Package orchestrator runs a message send as a saga of three store writes:
// the peer's conversation index, the sender's conversation index and the
// shared message log. Each step's result is recorded on the Attempt so a
// failed send can be resumed without repeating the steps that succeeded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatsync/internal/conversations"
	"github.com/eldtechnologies/chatsync/internal/directory"
	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/events"
	"github.com/eldtechnologies/chatsync/internal/identity"
	"github.com/eldtechnologies/chatsync/internal/ids"
	"github.com/eldtechnologies/chatsync/internal/metrics"
	"github.com/eldtechnologies/chatsync/internal/models"
)

// State is the position of an Attempt in the send lifecycle.
type State string

const (
	StateComposing         State = "composing"
	StateValidating        State = "validating"
	StateResolving         State = "resolving"
	StateUpdatingPeerIndex State = "updating_peer_index"
	StateUpdatingOwnIndex  State = "updating_own_index"
	StateAppendingMessage  State = "appending_message"
	StateAcknowledged      State = "acknowledged"
	StateFailed            State = "failed"
)

// Step names one write of a send.
type Step string

const (
	StepPeerIndex Step = "peer_index"
	StepOwnIndex  Step = "own_index"
	StepAppend    Step = "append"
)

// steps is the fixed order writes are issued in.
var steps = []Step{StepPeerIndex, StepOwnIndex, StepAppend}

func stateFor(s Step) State {
	switch s {
	case StepPeerIndex:
		return StateUpdatingPeerIndex
	case StepOwnIndex:
		return StateUpdatingOwnIndex
	default:
		return StateAppendingMessage
	}
}

// StepResult records the outcome of one step.
type StepResult struct {
	Step     Step  `json:"step"`
	Done     bool  `json:"done"`
	Err      error `json:"-"`
	Attempts int   `json:"attempts"`
}

// Peer is the recipient of a send. DisplayName is resolved through the
// directory when empty.
type Peer struct {
	Email       string
	DisplayName string
}

// Attempt is one send and everything needed to resume it.
type Attempt struct {
	ID             string
	State          State
	ConversationID string
	Sender         identity.Session
	Peer           Peer
	Message        models.Message
	// PeerSummary is stored in the peer's index and names the sender.
	PeerSummary models.ConversationSummary
	// OwnSummary is stored in the sender's index and names the peer.
	OwnSummary models.ConversationSummary
	Steps      []StepResult
}

// Acknowledged reports whether every step succeeded.
func (a *Attempt) Acknowledged() bool {
	return a.State == StateAcknowledged
}

// FailedStep returns the first step that has not succeeded, if any.
func (a *Attempt) FailedStep() (Step, bool) {
	for _, r := range a.Steps {
		if !r.Done {
			return r.Step, true
		}
	}
	return "", false
}

// SendError reports which step of an attempt failed.
type SendError struct {
	AttemptID string
	Step      Step
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s failed at %s: %v", e.AttemptID, e.Step, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Index is the conversation index the orchestrator writes summaries to.
type Index interface {
	Upsert(ctx context.Context, ownerEmail string, summary models.ConversationSummary, opts conversations.UpsertOptions) error
}

// MessageLog is the log the orchestrator appends messages to.
type MessageLog interface {
	Append(ctx context.Context, conversationID string, message models.Message) error
}

// NameResolver looks up display names.
type NameResolver interface {
	FindDisplayName(ctx context.Context, email string) (string, bool, error)
}

// Orchestrator sends messages.
type Orchestrator struct {
	index     Index
	log       MessageLog
	names     NameResolver
	publisher events.Publisher
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates an Orchestrator. A nil publisher disables events.
func New(index Index, log MessageLog, names NameResolver, publisher events.Publisher, logger zerolog.Logger) *Orchestrator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Orchestrator{
		index:     index,
		log:       log,
		names:     names,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Send delivers text from the session user to peer. Text that is only
// whitespace is rejected; other text is stored as given. Validation failures
// return an errs.ErrValidation error before any write. A failed write
// returns the attempt together with a *SendError; steps that already
// succeeded are not rolled back, and the attempt can be passed to Resume.
func (o *Orchestrator) Send(ctx context.Context, session identity.Session, peer Peer, text string) (*Attempt, error) {
	a := &Attempt{ID: ids.NewUUIDv7().String(), State: StateComposing, Sender: session, Peer: peer}

	a.State = StateValidating
	peer.Email = strings.TrimSpace(peer.Email)
	switch {
	case !session.Valid():
		return o.reject(a, identity.ErrNoSession)
	case strings.TrimSpace(text) == "":
		return o.reject(a, errs.Invalid("message text is empty"))
	case !directory.IsValidEmail(peer.Email):
		return o.reject(a, errs.Invalid("invalid recipient %q", peer.Email))
	}

	// Writes are not cancellable once issued.
	ctx = context.WithoutCancel(ctx)

	a.State = StateResolving
	peer.DisplayName = strings.TrimSpace(peer.DisplayName)
	if peer.DisplayName == "" {
		peer.DisplayName = o.resolveName(ctx, peer.Email)
	}
	a.Peer = peer
	if a.Sender.DisplayName == "" {
		a.Sender.DisplayName = o.resolveName(ctx, a.Sender.Email)
	}
	o.prepare(a, text)

	return a, o.run(ctx, a)
}

// Resume retries the steps of a that have not succeeded.
func (o *Orchestrator) Resume(ctx context.Context, a *Attempt) error {
	if a == nil || len(a.Steps) == 0 {
		return errs.Invalid("attempt was never prepared")
	}
	if a.Acknowledged() {
		return nil
	}
	return o.run(context.WithoutCancel(ctx), a)
}

func (o *Orchestrator) reject(a *Attempt, err error) (*Attempt, error) {
	a.State = StateFailed
	metrics.Sends.WithLabelValues("rejected").Inc()
	return a, err
}

func (o *Orchestrator) resolveName(ctx context.Context, email string) string {
	name, ok, err := o.names.FindDisplayName(ctx, email)
	if err != nil {
		o.logger.Warn().Err(err).Str("email", email).Msg("could not resolve display name, using email")
		return email
	}
	if !ok || name == "" {
		return email
	}
	return name
}

func (o *Orchestrator) prepare(a *Attempt, text string) {
	sender := a.Sender
	a.ConversationID = identity.ConversationID(sender.Email, a.Peer.Email)
	a.Message = models.Message{
		ConversationID:    a.ConversationID,
		MessageID:         ids.NewMessageID(),
		SenderEmail:       sender.Email,
		SenderDisplayName: sender.DisplayName,
		SentAt:            o.now(),
		Body:              text,
	}
	latest := a.Message.Snapshot()
	a.PeerSummary = models.ConversationSummary{
		ConversationID:  a.ConversationID,
		PeerEmail:       sender.Email,
		PeerDisplayName: sender.DisplayName,
		LatestMessage:   latest,
	}
	a.OwnSummary = models.ConversationSummary{
		ConversationID:  a.ConversationID,
		PeerEmail:       a.Peer.Email,
		PeerDisplayName: a.Peer.DisplayName,
		LatestMessage:   latest,
	}
	a.Steps = make([]StepResult, len(steps))
	for i, s := range steps {
		a.Steps[i] = StepResult{Step: s}
	}
}

func (o *Orchestrator) run(ctx context.Context, a *Attempt) error {
	for i := range a.Steps {
		r := &a.Steps[i]
		if r.Done {
			continue
		}
		a.State = stateFor(r.Step)
		r.Attempts++

		if err := o.exec(ctx, a, r.Step); err != nil {
			r.Err = err
			a.State = StateFailed
			metrics.SendStepFailures.WithLabelValues(string(r.Step)).Inc()
			metrics.Sends.WithLabelValues("failed").Inc()
			o.logger.Error().Err(err).
				Str("attempt", a.ID).
				Str("step", string(r.Step)).
				Str("conversation", a.ConversationID).
				Msg("send step failed")
			return &SendError{AttemptID: a.ID, Step: r.Step, Err: err}
		}
		r.Done = true
		r.Err = nil
	}

	a.State = StateAcknowledged
	metrics.Sends.WithLabelValues("acknowledged").Inc()
	o.logger.Info().
		Str("attempt", a.ID).
		Str("conversation", a.ConversationID).
		Str("message", a.Message.MessageID).
		Msg("message sent")
	o.publish(ctx, a)
	return nil
}

func (o *Orchestrator) exec(ctx context.Context, a *Attempt, step Step) error {
	switch step {
	case StepPeerIndex:
		return o.index.Upsert(ctx, a.Peer.Email, a.PeerSummary, conversations.UpsertOptions{})
	case StepOwnIndex:
		return o.index.Upsert(ctx, a.Sender.Email, a.OwnSummary, conversations.UpsertOptions{RequireOwner: true})
	case StepAppend:
		return o.log.Append(ctx, a.ConversationID, a.Message)
	}
	return errors.New("unknown step " + string(step))
}

func (o *Orchestrator) publish(ctx context.Context, a *Attempt) {
	err := o.publisher.PublishMessageSent(ctx, events.MessageSent{
		ConversationID: a.ConversationID,
		MessageID:      a.Message.MessageID,
		SenderEmail:    a.Sender.Email,
		PeerEmail:      a.Peer.Email,
		Body:           a.Message.Body,
		SentAt:         a.Message.SentAt,
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		o.logger.Warn().Err(err).Str("attempt", a.ID).Msg("failed to publish message event")
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}

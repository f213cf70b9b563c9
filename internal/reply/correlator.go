package reply

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/carebook/clinic-scheduler/internal/gateway"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

const (
	// DefaultLookback bounds how many recent messages are inspected.
	DefaultLookback = 5
	// DefaultMaxProposalAge expires proposals that waited too long for an
	// answer; a new proposal must be issued instead.
	DefaultMaxProposalAge = 72 * time.Hour
)

var (
	// ErrAmbiguous means the reply cannot be confidently tied to the
	// outstanding proposal. Surfaced as a needs-attention notification.
	ErrAmbiguous = errors.New("reply: cannot correlate reply to an outstanding proposal")
	// ErrNoInbound means the lookback window holds no patient message.
	ErrNoInbound = errors.New("reply: no inbound message in lookback window")
	// ErrProposalExpired means the proposal aged out of eligibility.
	ErrProposalExpired = errors.New("reply: proposal expired")
)

// Proposal identifies the outstanding offer a reply may settle.
type Proposal struct {
	MessageRef string    // outbound gateway message id, when known
	Body       string    // text that was sent, for content-equality fallback
	CreatedAt  time.Time // proposal issue time, for expiry
}

// Correlation is a classified reply bound to its proposal message.
type Correlation struct {
	Decision schedule.Decision
	Inbound  gateway.ConversationMessage
	Outbound gateway.ConversationMessage
	// AlreadyResolved is set when the proposal message carries a resolvedBy
	// ref, i.e. this delivery is a gateway replay.
	AlreadyResolved bool
}

// Correlator inspects a conversation's tail and decides which proposal the
// latest patient reply resolves.
type Correlator struct {
	reader     gateway.Reader
	classifier Classifier
	lookback   int
	maxAge     time.Duration
	logger     *logging.Logger
}

func NewCorrelator(reader gateway.Reader, classifier Classifier, logger *logging.Logger) *Correlator {
	if classifier == nil {
		classifier = NewKeywordClassifier(DefaultKeywordSets())
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Correlator{
		reader:     reader,
		classifier: classifier,
		lookback:   DefaultLookback,
		maxAge:     DefaultMaxProposalAge,
		logger:     logger,
	}
}

func (c *Correlator) WithLookback(n int) *Correlator {
	if n > 0 {
		c.lookback = n
	}
	return c
}

func (c *Correlator) WithMaxProposalAge(d time.Duration) *Correlator {
	if d > 0 {
		c.maxAge = d
	}
	return c
}

// Correlate classifies the newest inbound message and verifies that the
// outbound message immediately before it is the given proposal, either by
// explicit reference or by content equality after normalization.
func (c *Correlator) Correlate(ctx context.Context, conversationRef string, proposal Proposal, now time.Time) (Correlation, error) {
	if !proposal.CreatedAt.IsZero() && now.Sub(proposal.CreatedAt) > c.maxAge {
		return Correlation{}, fmt.Errorf("%w: issued %s", ErrProposalExpired, proposal.CreatedAt.Format(time.RFC3339))
	}

	msgs, err := c.reader.ListRecentMessages(ctx, conversationRef, c.lookback)
	if err != nil {
		return Correlation{}, fmt.Errorf("reply: list recent messages: %w", err)
	}
	// Newest first regardless of the provider's ordering.
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Index > msgs[j].Index })

	var inbound *gateway.ConversationMessage
	inboundPos := -1
	for i := range msgs {
		if msgs[i].Direction == gateway.DirectionInbound {
			inbound = &msgs[i]
			inboundPos = i
			break
		}
	}
	if inbound == nil {
		return Correlation{}, ErrNoInbound
	}

	// The proposal must be the outbound message immediately preceding the
	// reply in the conversation.
	var outbound *gateway.ConversationMessage
	for i := inboundPos + 1; i < len(msgs); i++ {
		if msgs[i].Direction == gateway.DirectionOutbound {
			outbound = &msgs[i]
			break
		}
	}
	if outbound == nil {
		return Correlation{}, fmt.Errorf("%w: no outbound message precedes the reply", ErrAmbiguous)
	}

	if !c.matchesProposal(*outbound, *inbound, proposal) {
		return Correlation{}, fmt.Errorf("%w: preceding outbound %s is not the outstanding proposal", ErrAmbiguous, outbound.ID)
	}

	corr := Correlation{
		Decision: c.classifier.Classify(inbound.Body),
		Inbound:  *inbound,
		Outbound: *outbound,
	}
	if outbound.ResolvedByRef != "" {
		corr.AlreadyResolved = true
	}
	return corr, nil
}

func (c *Correlator) matchesProposal(outbound, inbound gateway.ConversationMessage, proposal Proposal) bool {
	if inbound.RespondsToRef != "" && proposal.MessageRef != "" && inbound.RespondsToRef == proposal.MessageRef {
		return true
	}
	if proposal.MessageRef != "" && outbound.ID == proposal.MessageRef {
		return true
	}
	if proposal.Body != "" && Normalize(outbound.Body) == Normalize(proposal.Body) {
		return true
	}
	return false
}

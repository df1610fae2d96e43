package redeem

import (
	"bytes"
	"context"
	"fmt"

	"github.com/nhle/redeemer/internal/extract"
	"github.com/nhle/redeemer/internal/model"
	"github.com/nhle/redeemer/internal/transport"
)

// Classification is the outcome of inspecting one message.
type Classification struct {
	// Actionable is true when the message carries a redemption link.
	Actionable bool

	// URL is the first link found in part traversal order.
	URL string
}

// Classify decides whether msg is actionable. A link found in any readable
// part makes it actionable even if other parts failed to decode. When no
// link was found and some part could not be read, the message is
// non-actionable and the error is returned; such a message must not be
// pruned.
func Classify(msg model.Message, visit extract.Visitor) (Classification, error) {
	url, ok, err := extract.FirstLink(bytes.NewReader(msg.Raw), visit)
	if ok {
		return Classification{Actionable: true, URL: url}, nil
	}
	if err != nil {
		return Classification{}, fmt.Errorf("parsing message %d: %w", msg.ID, err)
	}
	return Classification{}, nil
}

// DeletionPolicy marks messages for removal and later removes them. Marking
// never removes anything by itself; Finalize must run once per section
// after all marks are applied.
type DeletionPolicy interface {
	// Kind returns the provider the policy was built for.
	Kind() model.ProviderKind

	// Mark flags or labels a message in the selected mailbox.
	Mark(ctx context.Context, sess transport.Session, id model.MessageID) error

	// Finalize physically removes every marked message.
	Finalize(ctx context.Context, sess transport.Session) error
}

// DeletionPolicyFor selects the deletion mechanism for a provider.
// trashMailbox is only used by Gmail.
func DeletionPolicyFor(kind model.ProviderKind, trashMailbox string) DeletionPolicy {
	if kind == model.ProviderGmail {
		return gmailPolicy{trashMailbox: trashMailbox}
	}
	return standardPolicy{}
}

// standardPolicy flags messages \Deleted and expunges.
type standardPolicy struct{}

func (standardPolicy) Kind() model.ProviderKind { return model.ProviderStandard }

func (standardPolicy) Mark(
	ctx context.Context, sess transport.Session, id model.MessageID,
) error {
	return sess.MarkFlag(ctx, id, transport.FlagDeleted)
}

func (standardPolicy) Finalize(ctx context.Context, sess transport.Session) error {
	return sess.Expunge(ctx)
}

// gmailPolicy labels messages \Trash. Gmail only drops a message that is
// in the Trash view and flagged \Deleted there, so Finalize switches to
// the trash mailbox and flags everything in it before expunging.
type gmailPolicy struct {
	trashMailbox string
}

func (gmailPolicy) Kind() model.ProviderKind { return model.ProviderGmail }

func (gmailPolicy) Mark(
	ctx context.Context, sess transport.Session, id model.MessageID,
) error {
	return sess.MarkLabel(ctx, id, transport.LabelTrash)
}

func (p gmailPolicy) Finalize(ctx context.Context, sess transport.Session) error {
	count, err := sess.Select(ctx, p.trashMailbox)
	if err != nil {
		return err
	}
	// STORE on an empty mailbox is rejected by the server.
	if count > 0 {
		if err := sess.BulkMarkFlag(ctx, transport.AllMessages, transport.FlagDeleted); err != nil {
			return err
		}
	}
	return sess.Expunge(ctx)
}

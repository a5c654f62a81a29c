// Package ack resolves acknowledgment state for portal viewers, issues email
// confirmation codes, and computes portal coverage reports.
package ack

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"policyhub/api/internal/store"
)

// Identity is who is looking at the portal: an authenticated user, a verified
// email address, or nobody. Exactly one of the fields is set.
type Identity struct {
	UserID string
	Email  string
}

func UserIdentity(userID string) Identity { return Identity{UserID: userID} }

func EmailIdentity(email string) Identity { return Identity{Email: email} }

func (id Identity) IsAnonymous() bool { return id.UserID == "" && id.Email == "" }

// Reader is the slice of the store the resolver needs.
type Reader interface {
	GetAcknowledgment(ctx context.Context, policyID, userID string) (store.Acknowledgment, error)
	GetEmailAcknowledgment(ctx context.Context, portalID, policyID, email string) (store.EmailAcknowledgment, error)
}

type Resolver struct {
	reader Reader
}

func NewResolver(reader Reader) *Resolver {
	return &Resolver{reader: reader}
}

// Resolve annotates each policy with whether the portal demands an
// acknowledgment from this viewer and whether one is already on record. User
// identities resolve against user acknowledgment rows, email identities
// against email acknowledgment rows; an anonymous viewer is never
// acknowledged.
func (r *Resolver) Resolve(ctx context.Context, portal store.Portal, policies []store.Policy, identity Identity) ([]store.PolicyAckState, error) {
	states := make([]store.PolicyAckState, 0, len(policies))
	for _, policy := range policies {
		state := store.PolicyAckState{
			Policy:      policy,
			RequiresAck: portal.RequiresAcknowledgment && policy.Status == store.StatusPublished,
		}
		if state.RequiresAck && !identity.IsAnonymous() {
			acknowledgedAt, err := r.lookup(ctx, portal.ID, policy.ID, identity)
			if err != nil {
				return nil, fmt.Errorf("resolve acknowledgment for policy %s: %w", policy.ID, err)
			}
			if acknowledgedAt != nil {
				state.IsAcknowledged = true
				state.AcknowledgedAt = acknowledgedAt
			}
		}
		states = append(states, state)
	}
	return states, nil
}

func (r *Resolver) lookup(ctx context.Context, portalID, policyID string, identity Identity) (*time.Time, error) {
	if identity.UserID != "" {
		row, err := r.reader.GetAcknowledgment(ctx, policyID, identity.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &row.AcknowledgedAt, nil
	}
	row, err := r.reader.GetEmailAcknowledgment(ctx, portalID, policyID, identity.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.AcknowledgedAt, nil
}

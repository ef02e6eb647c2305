package coordinator

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/store"
)

// GenerateShareSlug returns the owner's public share slug, creating it on
// first use.
//
// Calls for the same owner are single-flighted: while one request is
// persisting a slug, every other caller waits for it and gets the same
// value. The remote only stores a slug when none exists and always answers
// with the stored one, so even callers in other processes converge.
func (c *Coordinator) GenerateShareSlug(ctx context.Context) (string, *Operation, error) {
	op, s, err := c.begin(KindShareSlug, "")
	if err != nil {
		return "", op, err
	}

	v, err, _ := c.slugs.Do(s.OwnerID, func() (any, error) {
		var profile model.PortfolioProfile
		found := false
		c.Apply(op.Epoch, func(st *store.Store) {
			profile, found = st.Profiles.First()
		})
		if found && profile.ShareSlug != "" {
			op.EntityID = profile.ID
			op.markNoOp()
			return profile.ShareSlug, nil
		}

		op.EntityID = profile.ID
		op.to(StateOptimistic)
		slug := makeSlug(s.OwnerID, profile.DisplayName, c.now().UnixMilli())

		stored, err := c.remote.SetShareSlug(ctx, s.OwnerID, slug)
		if err != nil {
			return "", c.rollback(op, err, func(*store.Store) {})
		}
		op.EntityID = stored.ID
		c.confirm(op, func(st *store.Store) { st.Profiles.Upsert(*stored) })
		return stored.ShareSlug, nil
	})
	if err != nil {
		if op.Err() == nil {
			// A shared call failed; this caller only waited on it.
			op.to(StateRolledBack)
			return "", op, op.fail(apperror.Classify(err))
		}
		return "", op, op.Err()
	}
	if !op.State().Terminal() {
		// This caller joined another caller's flight.
		op.markNoOp()
	}
	return v.(string), op, nil
}

// makeSlug builds "<owner token>-<base36 millis>". The token is the display
// name reduced to [a-z0-9-], falling back to the start of the owner id.
func makeSlug(ownerID, displayName string, millis int64) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(displayName) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 24 {
			break
		}
	}
	token := strings.Trim(b.String(), "-")
	if token == "" {
		token = ownerID
		if len(token) > 8 {
			token = token[:8]
		}
	}
	return token + "-" + strconv.FormatInt(millis, 36)
}

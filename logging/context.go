package logging

import (
	"context"

	"go.viam.com/utils"
)

type debugTagKey struct{}

// WithDebugTag marks ctx so that CDebugw lines are written whatever the logger level. The tag
// is added to those lines so one request can be followed; an empty tag gets a random one.
func WithDebugTag(ctx context.Context, tag string) context.Context {
	if tag == "" {
		tag = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, debugTagKey{}, tag)
}

// DebugTag returns the tag set by WithDebugTag, or "" when ctx is not marked.
func DebugTag(ctx context.Context) string {
	tag, _ := ctx.Value(debugTagKey{}).(string)
	return tag
}
